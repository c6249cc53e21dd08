package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/syncer"
)

// ErrMissingUser indicates a table call without a user id. The server scopes rows to
// the token's subject, so the id only guards against calls made before sign-in.
var ErrMissingUser = errors.New("remote: missing user id")

// Table is one remote table, scoped to the token's user by the server.
type Table[R any] struct {
	client *Client
	kind   apiary.EntityKind
}

type rowsPayload[R any] struct {
	Rows []R `json:"rows"`
}

type existsPayload struct {
	Exists bool `json:"exists"`
}

type updatePayload struct {
	Fields map[string]any `json:"fields"`
}

func newTable[R any](client *Client, kind apiary.EntityKind) *Table[R] {
	return &Table[R]{client: client, kind: kind}
}

func (t *Table[R]) path(parts ...string) string {
	return "/" + strings.Join(append([]string{"v1", t.kind.Table()}, parts...), "/")
}

// List returns the rows owned by userID.
func (t *Table[R]) List(ctx context.Context, userID string) ([]R, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	token, err := t.client.accessToken()
	if err != nil {
		return nil, err
	}
	var payload rowsPayload[R]
	if err := t.client.do(ctx, request{method: http.MethodGet, path: t.path(), token: token}, &payload); err != nil {
		return nil, err
	}
	if payload.Rows == nil {
		payload.Rows = make([]R, 0)
	}
	return payload.Rows, nil
}

// Exists reports whether any user owns a row with id.
func (t *Table[R]) Exists(ctx context.Context, id string) (bool, error) {
	token, err := t.client.accessToken()
	if err != nil {
		return false, err
	}
	var payload existsPayload
	if err := t.client.do(ctx, request{method: http.MethodGet, path: t.path(id, "exists"), token: token}, &payload); err != nil {
		return false, err
	}
	return payload.Exists, nil
}

// Insert stores row for the token's user.
func (t *Table[R]) Insert(ctx context.Context, userID string, row R) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	token, err := t.client.accessToken()
	if err != nil {
		return err
	}
	return t.client.do(ctx, request{method: http.MethodPost, path: t.path(), token: token, body: row}, nil)
}

// Update changes the listed columns of the row.
func (t *Table[R]) Update(ctx context.Context, userID string, id string, fields map[string]any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	token, err := t.client.accessToken()
	if err != nil {
		return err
	}
	return t.client.do(ctx, request{method: http.MethodPatch, path: t.path(id), token: token, body: updatePayload{Fields: fields}}, nil)
}

// Locations returns the locations table.
func (c *Client) Locations() *Table[records.LocationRow] {
	return newTable[records.LocationRow](c, apiary.KindLocation)
}

// Beehives returns the beehives table.
func (c *Client) Beehives() *Table[records.BeehiveRow] {
	return newTable[records.BeehiveRow](c, apiary.KindBeehive)
}

// Recordings returns the recordings table.
func (c *Client) Recordings() *Table[records.RecordingRow] {
	return newTable[records.RecordingRow](c, apiary.KindRecording)
}

// Remote groups the three tables for the sync routine.
func (c *Client) Remote() syncer.Remote {
	return syncer.Remote{
		Locations:  c.Locations(),
		Beehives:   c.Beehives(),
		Recordings: c.Recordings(),
	}
}

// Delete removes an entity and its dependents. A row the server no longer has is not an error.
func (c *Client) Delete(ctx context.Context, kind apiary.EntityKind, userID string, id string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	err = c.do(ctx, request{method: http.MethodDelete, path: "/v1/" + kind.Table() + "/" + id, token: token}, nil)
	if StatusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}

type uploadPayload struct {
	URL string `json:"url"`
}

// UploadAudio stores the recording's audio and returns its public URL.
func (c *Client) UploadAudio(ctx context.Context, userID string, recordingID string, payload audio.Payload) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUser
	}
	if len(payload.Data) == 0 {
		return "", audio.ErrEmptyPayload
	}
	token, err := c.accessToken()
	if err != nil {
		return "", err
	}
	contentType := payload.ContentType
	if contentType == "" {
		contentType = audio.ContentTypeWebM
	}
	var response uploadPayload
	err = c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/v1/audio/" + recordingID,
		token:       token,
		rawBody:     payload.Data,
		contentType: contentType,
	}, &response)
	if err != nil {
		return "", err
	}
	return response.URL, nil
}
