package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/auth"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/config"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/database"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/logging"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/server"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/session"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "buzznotes-api",
		Short: "BuzzNotes remote store",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API (all when empty)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("google-client-id", "", "Google OAuth client ID (Google sign-in disabled when empty)")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("token.ttl"), "Access token lifetime")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for token revocations (in-memory when empty)")
	cmd.PersistentFlags().String("storage-bucket", "", "S3 bucket for recording audio (uploads disabled when empty)")
	cmd.PersistentFlags().String("storage-endpoint", "", "S3-compatible endpoint")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "token.ttl", "token-ttl")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		return err
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	revocations, closeRevocations, err := newRevocationStore(appConfig.RedisURL, logger)
	if err != nil {
		return err
	}
	defer closeRevocations()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{Issuer: tokenIssuer, Revocations: revocations})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	recordsService, err := records.NewService(records.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return err
	}

	deps := server.Dependencies{
		Users:          userService,
		Tokens:         tokenIssuer,
		Sessions:       validator,
		Revocations:    revocations,
		Records:        recordsService,
		Realtime:       server.NewRealtimeDispatcher(),
		Metrics:        metrics,
		Gatherer:       registry,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}

	if appConfig.GoogleClientID != "" {
		googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			Audience:       appConfig.GoogleClientID,
			JWKSURL:        appConfig.GoogleJWKSURL,
			AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		deps.GoogleVerifier = googleVerifier
	} else {
		logger.Info("google sign-in disabled")
	}

	if appConfig.Storage.Enabled() {
		blobStore, err := audio.NewS3BlobStore(audio.BlobStoreConfig{
			Bucket:          appConfig.Storage.Bucket,
			AccessKeyID:     appConfig.Storage.AccessKeyID,
			SecretAccessKey: appConfig.Storage.SecretAccessKey,
			Endpoint:        appConfig.Storage.Endpoint,
			Region:          appConfig.Storage.Region,
			PublicBaseURL:   appConfig.Storage.PublicBaseURL,
			MaxSizeBytes:    appConfig.Storage.MaxSizeBytes,
		})
		if err != nil {
			return err
		}
		deps.Blobs = blobStore
	} else {
		logger.Info("audio storage disabled")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newRevocationStore(redisURL string, logger *zap.Logger) (session.RevocationStore, func(), error) {
	if redisURL == "" {
		logger.Info("token revocations kept in memory")
		return session.NewMemoryStore(), func() {}, nil
	}
	store, err := session.NewRedisStore(redisURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
