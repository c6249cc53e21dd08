package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/auth"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/database"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/session"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var databaseSequence atomic.Int64

type stubVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s stubVerifier) Verify(_ context.Context, _ string) (auth.GoogleClaims, error) {
	return s.claims, s.err
}

type uploadedBlob struct {
	userID      string
	recordingID string
	payload     audio.Payload
}

type fakeBlobStore struct {
	mu      sync.Mutex
	uploads []uploadedBlob
}

func (f *fakeBlobStore) Upload(_ context.Context, userID string, recordingID string, payload audio.Payload) (string, error) {
	if len(payload.Data) == 0 {
		return "", audio.ErrEmptyPayload
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, uploadedBlob{userID: userID, recordingID: recordingID, payload: payload})
	return fmt.Sprintf("https://cdn.example.com/%s/%s%s", userID, recordingID, audio.ExtensionFor(payload.ContentType)), nil
}

type testServer struct {
	url         string
	handler     http.Handler
	issuer      *auth.TokenIssuer
	revocations *session.MemoryStore
	blobs       *fakeBlobStore
	realtime    *RealtimeDispatcher
}

type testServerOption func(*Dependencies)

func withoutBlobStore() testServerOption {
	return func(deps *Dependencies) {
		deps.Blobs = nil
	}
}

func withoutGoogle() testServerOption {
	return func(deps *Dependencies) {
		deps.GoogleVerifier = nil
	}
}

func mustTestServer(t *testing.T, options ...testServerOption) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databaseName := fmt.Sprintf("%s_%d", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()), databaseSequence.Add(1))
	db, err := database.Open(database.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", databaseName), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	recordsService, err := records.NewService(records.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct records service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "buzznotes-auth",
		Audience:      "buzznotes-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	revocations := session.NewMemoryStore()
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{Issuer: issuer, Revocations: revocations})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(registry); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}

	blobs := &fakeBlobStore{}
	dispatcher := NewRealtimeDispatcher()
	deps := Dependencies{
		GoogleVerifier: stubVerifier{claims: auth.GoogleClaims{Subject: "google-sub-1", Email: "keeper@example.com", Name: "Keeper"}},
		Users:          userService,
		Tokens:         issuer,
		Sessions:       validator,
		Revocations:    revocations,
		Records:        recordsService,
		Blobs:          blobs,
		Realtime:       dispatcher,
		Metrics:        metrics,
		Gatherer:       registry,
		Logger:         zap.NewNop(),
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return testServer{url: server.URL, handler: handler, issuer: issuer, revocations: revocations, blobs: blobs, realtime: dispatcher}
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(t *testing.T, target any) {
	t.Helper()
	if err := json.Unmarshal(r.body, target); err != nil {
		t.Fatalf("failed to decode response %q: %v", r.body, err)
	}
}

func (r response) errorCode(t *testing.T) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	r.decode(t, &payload)
	return payload.Error
}

func doRequest(t *testing.T, method string, url string, token string, contentType string, body []byte) response {
	t.Helper()
	request, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return response{status: resp.StatusCode, body: data}
}

func doJSON(t *testing.T, method string, url string, token string, payload any) response {
	t.Helper()
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = encoded
	}
	return doRequest(t, method, url, token, "application/json", body)
}

func mustSignUp(t *testing.T, server testServer, email string) authResponsePayload {
	t.Helper()
	resp := doJSON(t, http.MethodPost, server.url+"/auth/signup", "", credentialsRequestPayload{Email: email, Password: "secret-pass"})
	if resp.status != http.StatusCreated {
		t.Fatalf("sign up failed: %d %s", resp.status, resp.body)
	}
	var payload authResponsePayload
	resp.decode(t, &payload)
	return payload
}
