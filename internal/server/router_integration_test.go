package server

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/google/go-cmp/cmp"
)

func TestAccountLifecycle(t *testing.T) {
	server := mustTestServer(t)

	signedUp := mustSignUp(t, server, "Keeper@Example.com")
	if signedUp.TokenType != tokenTypeBearer || signedUp.AccessToken == "" || signedUp.ExpiresIn <= 0 {
		t.Fatalf("unexpected sign up response %#v", signedUp)
	}
	if signedUp.User.Email != "keeper@example.com" {
		t.Fatalf("expected normalized email, got %q", signedUp.User.Email)
	}

	duplicate := doJSON(t, http.MethodPost, server.url+"/auth/signup", "", credentialsRequestPayload{Email: "keeper@example.com", Password: "secret-pass"})
	if duplicate.status != http.StatusConflict || duplicate.errorCode(t) != "email_taken" {
		t.Fatalf("expected email_taken conflict, got %d %s", duplicate.status, duplicate.body)
	}
	weak := doJSON(t, http.MethodPost, server.url+"/auth/signup", "", credentialsRequestPayload{Email: "other@example.com", Password: "123"})
	if weak.status != http.StatusBadRequest || weak.errorCode(t) != "weak_password" {
		t.Fatalf("expected weak_password, got %d %s", weak.status, weak.body)
	}

	wrong := doJSON(t, http.MethodPost, server.url+"/auth/signin", "", credentialsRequestPayload{Email: "keeper@example.com", Password: "wrong-pass"})
	if wrong.status != http.StatusUnauthorized || wrong.errorCode(t) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", wrong.status, wrong.body)
	}
	signIn := doJSON(t, http.MethodPost, server.url+"/auth/signin", "", credentialsRequestPayload{Email: "keeper@example.com", Password: "secret-pass"})
	if signIn.status != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", signIn.status, signIn.body)
	}
	var signedIn authResponsePayload
	signIn.decode(t, &signedIn)
	if signedIn.User.UserID != signedUp.User.UserID {
		t.Fatalf("expected the same user id, got %q and %q", signedIn.User.UserID, signedUp.User.UserID)
	}

	current := doJSON(t, http.MethodGet, server.url+"/auth/session", signedIn.AccessToken, nil)
	if current.status != http.StatusOK {
		t.Fatalf("session lookup failed: %d %s", current.status, current.body)
	}
	var sessionPayload sessionResponsePayload
	current.decode(t, &sessionPayload)
	if sessionPayload.User.UserID != signedUp.User.UserID || sessionPayload.ExpiresAt != signedIn.ExpiresAt {
		t.Fatalf("unexpected session %#v", sessionPayload)
	}

	signOut := doJSON(t, http.MethodPost, server.url+"/auth/signout", signedIn.AccessToken, nil)
	if signOut.status != http.StatusNoContent {
		t.Fatalf("sign out failed: %d %s", signOut.status, signOut.body)
	}
	revoked := doJSON(t, http.MethodGet, server.url+"/auth/session", signedIn.AccessToken, nil)
	if revoked.status != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", revoked.status)
	}
	stillValid := doJSON(t, http.MethodGet, server.url+"/auth/session", signedUp.AccessToken, nil)
	if stillValid.status != http.StatusOK {
		t.Fatalf("expected other sessions to stay valid, got %d", stillValid.status)
	}
}

func TestGoogleSignIn(t *testing.T) {
	server := mustTestServer(t)
	resp := doJSON(t, http.MethodPost, server.url+"/auth/google", "", googleAuthRequestPayload{IDToken: "google-id-token"})
	if resp.status != http.StatusOK {
		t.Fatalf("google sign in failed: %d %s", resp.status, resp.body)
	}
	var payload authResponsePayload
	resp.decode(t, &payload)
	if payload.User.Email != "keeper@example.com" || payload.User.DisplayName != "Keeper" {
		t.Fatalf("unexpected account %#v", payload.User)
	}

	missing := doJSON(t, http.MethodPost, server.url+"/auth/google", "", googleAuthRequestPayload{})
	if missing.status != http.StatusBadRequest {
		t.Fatalf("expected bad request for empty token, got %d", missing.status)
	}

	disabled := mustTestServer(t, withoutGoogle())
	notImplemented := doJSON(t, http.MethodPost, disabled.url+"/auth/google", "", googleAuthRequestPayload{IDToken: "google-id-token"})
	if notImplemented.status != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a verifier, got %d", notImplemented.status)
	}
}

func TestRecordEndpointsScopeRowsByUser(t *testing.T) {
	server := mustTestServer(t)
	owner := mustSignUp(t, server, "owner@example.com")
	other := mustSignUp(t, server, "other@example.com")

	if resp := doJSON(t, http.MethodGet, server.url+"/v1/locations", "", nil); resp.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.status)
	}

	insert := doJSON(t, http.MethodPost, server.url+"/v1/locations", owner.AccessToken, records.LocationRow{ID: "loc-1", UserID: other.User.UserID, Name: "Meadow"})
	if insert.status != http.StatusCreated {
		t.Fatalf("insert failed: %d %s", insert.status, insert.body)
	}
	var inserted struct {
		Row records.LocationRow `json:"row"`
	}
	insert.decode(t, &inserted)
	if inserted.Row.UserID != owner.User.UserID {
		t.Fatalf("expected row owned by the token subject, got %q", inserted.Row.UserID)
	}

	collision := doJSON(t, http.MethodPost, server.url+"/v1/locations", other.AccessToken, records.LocationRow{ID: "loc-1", Name: "Orchard"})
	if collision.status != http.StatusConflict || collision.errorCode(t) != "duplicate_id" {
		t.Fatalf("expected duplicate_id conflict, got %d %s", collision.status, collision.body)
	}

	exists := doJSON(t, http.MethodGet, server.url+"/v1/locations/loc-1/exists", other.AccessToken, nil)
	var existsPayload existsResponsePayload
	exists.decode(t, &existsPayload)
	if exists.status != http.StatusOK || !existsPayload.Exists {
		t.Fatalf("expected existence across owners, got %d %s", exists.status, exists.body)
	}

	otherList := doJSON(t, http.MethodGet, server.url+"/v1/locations", other.AccessToken, nil)
	var otherRows struct {
		Rows []records.LocationRow `json:"rows"`
	}
	otherList.decode(t, &otherRows)
	if len(otherRows.Rows) != 0 {
		t.Fatalf("expected other user to see no rows, got %#v", otherRows.Rows)
	}

	foreignUpdate := doJSON(t, http.MethodPatch, server.url+"/v1/locations/loc-1", other.AccessToken, updateRequestPayload{Fields: map[string]any{"name": "Stolen"}})
	if foreignUpdate.status != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign update, got %d %s", foreignUpdate.status, foreignUpdate.body)
	}
	badColumn := doJSON(t, http.MethodPatch, server.url+"/v1/locations/loc-1", owner.AccessToken, updateRequestPayload{Fields: map[string]any{"user_id": other.User.UserID}})
	if badColumn.status != http.StatusBadRequest || badColumn.errorCode(t) != "invalid_update" {
		t.Fatalf("expected invalid_update, got %d %s", badColumn.status, badColumn.body)
	}
	update := doJSON(t, http.MethodPatch, server.url+"/v1/locations/loc-1", owner.AccessToken, updateRequestPayload{Fields: map[string]any{"name": "Upper Meadow"}})
	if update.status != http.StatusOK {
		t.Fatalf("update failed: %d %s", update.status, update.body)
	}

	ownerList := doJSON(t, http.MethodGet, server.url+"/v1/locations", owner.AccessToken, nil)
	var ownerRows struct {
		Rows []records.LocationRow `json:"rows"`
	}
	ownerList.decode(t, &ownerRows)
	expected := []records.LocationRow{{ID: "loc-1", UserID: owner.User.UserID, Name: "Upper Meadow"}}
	if diff := cmp.Diff(expected, ownerRows.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	if resp := doJSON(t, http.MethodGet, server.url+"/v1/hives", owner.AccessToken, nil); resp.status != http.StatusNotFound || resp.errorCode(t) != "unknown_table" {
		t.Fatalf("expected unknown_table, got %d %s", resp.status, resp.body)
	}
}

func TestDeleteEndpointCascades(t *testing.T) {
	server := mustTestServer(t)
	owner := mustSignUp(t, server, "owner@example.com")

	steps := []struct {
		table string
		row   any
	}{
		{table: "locations", row: records.LocationRow{ID: "loc-1", Name: "Meadow"}},
		{table: "beehives", row: records.BeehiveRow{ID: "hive-1", Name: "Queen Bee", LocationID: "loc-1"}},
		{table: "recordings", row: records.RecordingRow{ID: "rec-1", Date: "01.05.2024", AudioURL: "https://cdn.example.com/a.webm", Priority: "high", BeehiveID: "hive-1", LocationID: "loc-1", CreatedAt: 1700000000000}},
	}
	for _, step := range steps {
		if resp := doJSON(t, http.MethodPost, server.url+"/v1/"+step.table, owner.AccessToken, step.row); resp.status != http.StatusCreated {
			t.Fatalf("insert into %s failed: %d %s", step.table, resp.status, resp.body)
		}
	}

	deleted := doJSON(t, http.MethodDelete, server.url+"/v1/locations/loc-1", owner.AccessToken, nil)
	if deleted.status != http.StatusOK {
		t.Fatalf("delete failed: %d %s", deleted.status, deleted.body)
	}
	var payload deleteResponsePayload
	deleted.decode(t, &payload)
	expected := map[string][]string{"locations": {"loc-1"}, "beehives": {"hive-1"}, "recordings": {"rec-1"}}
	if diff := cmp.Diff(expected, payload.Deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}

	again := doJSON(t, http.MethodDelete, server.url+"/v1/locations/loc-1", owner.AccessToken, nil)
	if again.status != http.StatusNotFound {
		t.Fatalf("expected 404 for repeated delete, got %d", again.status)
	}
}

func TestAudioUpload(t *testing.T) {
	server := mustTestServer(t)
	owner := mustSignUp(t, server, "owner@example.com")

	resp := doRequest(t, http.MethodPut, server.url+"/v1/audio/rec-1", owner.AccessToken, "audio/webm;codecs=opus", []byte("buzz"))
	if resp.status != http.StatusOK {
		t.Fatalf("upload failed: %d %s", resp.status, resp.body)
	}
	var payload audioUploadResponsePayload
	resp.decode(t, &payload)
	if !strings.HasSuffix(payload.URL, "/"+owner.User.UserID+"/rec-1.webm") {
		t.Fatalf("unexpected url %q", payload.URL)
	}
	if len(server.blobs.uploads) != 1 || server.blobs.uploads[0].payload.ContentType != "audio/webm" {
		t.Fatalf("unexpected uploads %#v", server.blobs.uploads)
	}

	empty := doRequest(t, http.MethodPut, server.url+"/v1/audio/rec-2", owner.AccessToken, "audio/webm", nil)
	if empty.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty audio, got %d", empty.status)
	}

	disabled := mustTestServer(t, withoutBlobStore())
	disabledOwner := mustSignUp(t, disabled, "owner@example.com")
	notImplemented := doRequest(t, http.MethodPut, disabled.url+"/v1/audio/rec-1", disabledOwner.AccessToken, "audio/webm", []byte("buzz"))
	if notImplemented.status != http.StatusNotImplemented {
		t.Fatalf("expected 501 without blob storage, got %d", notImplemented.status)
	}
}

func TestRecordingRowsWithInlineAudio(t *testing.T) {
	server := mustTestServer(t, withoutBlobStore())
	owner := mustSignUp(t, server, "owner@example.com")

	serve := func(method string, target string, body []byte) *httptest.ResponseRecorder {
		request := httptest.NewRequest(method, target, bytes.NewReader(body))
		request.Header.Set("Authorization", "Bearer "+owner.AccessToken)
		request.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()
		server.handler.ServeHTTP(recorder, request)
		return recorder
	}

	clip := bytes.Repeat([]byte{0x1a, 0x45, 0xdf, 0xa3}, 64<<10)
	row, err := json.Marshal(records.RecordingRow{
		ID:        "rec-inline",
		Date:      "12.04.2025",
		AudioURL:  "data:audio/webm;base64," + base64.StdEncoding.EncodeToString(clip),
		Priority:  "high",
		BeehiveID: "hive-1",
		CreatedAt: 1744441800000,
	})
	if err != nil {
		t.Fatalf("failed to encode row: %v", err)
	}
	if created := serve(http.MethodPost, "/v1/recordings", row); created.Code != http.StatusCreated {
		t.Fatalf("expected inline audio row to be stored, got %d %s", created.Code, created.Body.String())
	}

	oversized := append([]byte(`{"fields":{"audio_url":"`), bytes.Repeat([]byte("a"), maxRowBodyBytes)...)
	if rejected := serve(http.MethodPost, "/v1/recordings", oversized); rejected.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized insert, got %d", rejected.Code)
	}
	if rejected := serve(http.MethodPatch, "/v1/recordings/rec-inline", oversized); rejected.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized update, got %d", rejected.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	server := mustTestServer(t)
	if resp := doJSON(t, http.MethodGet, server.url+"/healthz", "", nil); resp.status != http.StatusOK {
		t.Fatalf("health check failed: %d", resp.status)
	}
	metrics := doRequest(t, http.MethodGet, server.url+"/metrics", "", "", nil)
	if metrics.status != http.StatusOK {
		t.Fatalf("metrics failed: %d", metrics.status)
	}
	if !strings.Contains(string(metrics.body), MetricHTTPRequestsTotal+`{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", metrics.body)
	}
}

func TestEventsStreamEmitsRecordChanges(t *testing.T) {
	server := mustTestServer(t)
	owner := mustSignUp(t, server, "owner@example.com")

	streamRequest, err := http.NewRequest(http.MethodGet, server.url+"/events?access_token="+owner.AccessToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	streamReader := bufio.NewReader(streamResp.Body)

	deadline := time.Now().Add(2 * time.Second)
	for server.realtime.SubscriberCount(owner.User.UserID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	insert := doJSON(t, http.MethodPost, server.url+"/v1/locations", owner.AccessToken, records.LocationRow{ID: "loc-1", Name: "Meadow"})
	if insert.status != http.StatusCreated {
		t.Fatalf("insert failed: %d %s", insert.status, insert.body)
	}

	type readResult struct {
		line string
		err  error
	}
	currentEventType := ""
	timeout := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != RealtimeEventRecordsChanged {
				continue
			}
			var payload realtimeEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.Table != "locations" || payload.Operation != writeInsert || len(payload.RecordIDs) != 1 || payload.RecordIDs[0] != "loc-1" {
				t.Fatalf("unexpected event payload %#v", payload)
			}
			return
		}
	}
}
