package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "BUZZNOTES"

	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = "sqlite"
	defaultDatabaseDSN    = "buzznotes.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultTokenIssuer    = "buzznotes-auth"
	defaultTokenAudience  = "buzznotes-api"
	defaultTokenTTL       = 24 * time.Hour
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	defaultS3Region       = "auto"
	defaultMaxAudioBytes  = 25 << 20

	defaultAPIURL      = "http://localhost:8080"
	defaultLocalPath   = "buzznotes-local.db"
	defaultLanguage    = "hr"
	defaultSyncTimeout = 30 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabaseDSN    string
	SigningSecret  string
	TokenIssuer    string
	TokenAudience  string
	TokenTTL       time.Duration
	GoogleClientID string
	GoogleJWKSURL  string
	RedisURL       string
	AllowedOrigins []string
	Storage        StorageConfig
	LogLevel       string
	LogFormat      string
}

// StorageConfig describes the optional S3-compatible audio bucket.
type StorageConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	MaxSizeBytes    int64
}

// Enabled reports whether a bucket is configured.
func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// ClientConfig captures runtime configuration for the command-line client.
type ClientConfig struct {
	APIURL      string
	LocalPath   string
	Language    string
	SyncTimeout time.Duration
	LogLevel    string
	LogFormat   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("token.issuer", defaultTokenIssuer)
	configViper.SetDefault("token.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("storage.region", defaultS3Region)
	configViper.SetDefault("storage.max_size_bytes", defaultMaxAudioBytes)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("api.url", defaultAPIURL)
	configViper.SetDefault("local.path", defaultLocalPath)
	configViper.SetDefault("language", defaultLanguage)
	configViper.SetDefault("sync.timeout", defaultSyncTimeout)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenIssuer:    configViper.GetString("token.issuer"),
		TokenAudience:  configViper.GetString("token.audience"),
		TokenTTL:       configViper.GetDuration("token.ttl"),
		GoogleClientID: strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),
		RedisURL:       strings.TrimSpace(configViper.GetString("redis.url")),
		AllowedOrigins: splitList(configViper.GetStringSlice("http.allowed_origins")),
		Storage: StorageConfig{
			Bucket:          configViper.GetString("storage.bucket"),
			Endpoint:        configViper.GetString("storage.endpoint"),
			Region:          configViper.GetString("storage.region"),
			AccessKeyID:     configViper.GetString("storage.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.secret_access_key"),
			PublicBaseURL:   configViper.GetString("storage.public_base_url"),
			MaxSizeBytes:    configViper.GetInt64("storage.max_size_bytes"),
		},
		LogLevel:  configViper.GetString("log.level"),
		LogFormat: configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "mysql" {
		return fmt.Errorf("database.driver must be sqlite or mysql, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if c.Storage.Enabled() {
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			return fmt.Errorf("storage.endpoint is required when storage.bucket is set")
		}
		if c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "" {
			return fmt.Errorf("storage credentials are required when storage.bucket is set")
		}
	}
	return nil
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIURL:      strings.TrimSpace(configViper.GetString("api.url")),
		LocalPath:   strings.TrimSpace(configViper.GetString("local.path")),
		Language:    strings.ToLower(strings.TrimSpace(configViper.GetString("language"))),
		SyncTimeout: configViper.GetDuration("sync.timeout"),
		LogLevel:    configViper.GetString("log.level"),
		LogFormat:   configViper.GetString("log.format"),
	}
	if cfg.APIURL == "" {
		return ClientConfig{}, fmt.Errorf("api.url is required")
	}
	if cfg.LocalPath == "" {
		return ClientConfig{}, fmt.Errorf("local.path is required")
	}
	if cfg.SyncTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("sync.timeout must be positive")
	}
	return cfg, nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
