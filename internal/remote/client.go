// Package remote is the HTTP client for buzznotes-api. It implements the sync routine's
// remote tables, the account backend, remote deletes and audio upload.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 20 * time.Second
	maxErrorBodyBytes     = 4 << 10
)

var (
	// ErrMissingBaseURL indicates a client constructed without an API address.
	ErrMissingBaseURL = errors.New("remote: base url is required")
	// ErrNotAuthenticated indicates a table call made without an access token.
	ErrNotAuthenticated = errors.New("remote: not authenticated")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote: status %d: %s (%s)", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Code)
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// TransportError is a request that never produced a response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable is always true; the server was not reached.
func (e *TransportError) Retryable() bool {
	return true
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// TokenSource yields the bearer token for table calls.
type TokenSource interface {
	AccessToken() string
}

// Config describes a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *zap.Logger
}

// Client talks to buzznotes-api.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient validates the base URL and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingBaseURL, raw)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: parsed, httpClient: httpClient, tokens: cfg.Tokens, logger: logger}, nil
}

// SetTokenSource replaces the source of bearer tokens for table calls.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

func (c *Client) accessToken() (string, error) {
	if c.tokens == nil {
		return "", ErrNotAuthenticated
	}
	token := c.tokens.AccessToken()
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

type request struct {
	method      string
	path        string
	token       string
	body        any
	rawBody     []byte
	contentType string
}

// do sends req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var body io.Reader
	contentType := req.contentType
	switch {
	case req.rawBody != nil:
		body = bytes.NewReader(req.rawBody)
	case req.body != nil:
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	endpoint := c.baseURL.JoinPath(req.path)
	httpRequest, err := http.NewRequestWithContext(ctx, req.method, endpoint.String(), body)
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if req.token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+req.token)
	}

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := decodeAPIError(response)
		c.logger.Debug("remote request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", apiErr.Status),
			zap.String("code", apiErr.Code))
		return apiErr
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", req.method, req.path, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) *APIError {
	apiErr := &APIError{Status: response.StatusCode, Code: http.StatusText(response.StatusCode)}
	data, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Detail = payload.Code
	}
	return apiErr
}
