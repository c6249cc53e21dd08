package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/gin-gonic/gin"
)

const (
	writeInsert = "insert"
	writeUpdate = "update"
	writeDelete = "delete"
)

type rowsResponsePayload struct {
	Rows any `json:"rows"`
}

type rowResponsePayload struct {
	Row any `json:"row"`
}

type existsResponsePayload struct {
	Exists bool `json:"exists"`
}

type updateRequestPayload struct {
	Fields map[string]any `json:"fields"`
}

type deleteResponsePayload struct {
	Deleted map[string][]string `json:"deleted"`
}

// tableEndpoint adapts one generic records table to untyped request bodies.
type tableEndpoint interface {
	list(ctx context.Context, userID records.UserID) (any, error)
	exists(ctx context.Context, id records.RecordID) (bool, error)
	insert(ctx context.Context, userID records.UserID, body []byte) (any, string, error)
	update(ctx context.Context, userID records.UserID, id records.RecordID, fields map[string]any) (any, error)
}

type recordEndpoint[R records.Row[R]] struct {
	table *records.Table[R]
}

func (e recordEndpoint[R]) list(ctx context.Context, userID records.UserID) (any, error) {
	return e.table.List(ctx, userID)
}

func (e recordEndpoint[R]) exists(ctx context.Context, id records.RecordID) (bool, error) {
	return e.table.Exists(ctx, id)
}

func (e recordEndpoint[R]) insert(ctx context.Context, userID records.UserID, body []byte) (any, string, error) {
	var row R
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, "", errInvalidRequestBody
	}
	stored, err := e.table.Insert(ctx, userID, row)
	if err != nil {
		return nil, "", err
	}
	return stored, stored.RowID(), nil
}

func (e recordEndpoint[R]) update(ctx context.Context, userID records.UserID, id records.RecordID, fields map[string]any) (any, error) {
	return e.table.Update(ctx, userID, id, fields)
}

var errInvalidRequestBody = errors.New("invalid request body")

func (h *httpHandler) endpointFor(c *gin.Context) (tableEndpoint, apiary.EntityKind, bool) {
	kind, ok := apiary.KindForTable(c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_table"})
		return nil, "", false
	}
	switch kind {
	case apiary.KindLocation:
		return recordEndpoint[records.LocationRow]{table: h.records.Locations()}, kind, true
	case apiary.KindBeehive:
		return recordEndpoint[records.BeehiveRow]{table: h.records.Beehives()}, kind, true
	default:
		return recordEndpoint[records.RecordingRow]{table: h.records.Recordings()}, kind, true
	}
}

func requestUserID(c *gin.Context) (records.UserID, bool) {
	userID, err := records.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func requestRecordID(c *gin.Context) (records.RecordID, bool) {
	id, err := records.NewRecordID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return "", false
	}
	return id, true
}

func (h *httpHandler) handleListRows(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	endpoint, _, ok := h.endpointFor(c)
	if !ok {
		return
	}
	rows, err := endpoint.list(c.Request.Context(), userID)
	if err != nil {
		respondRecordsError(c, err)
		return
	}
	c.JSON(http.StatusOK, rowsResponsePayload{Rows: rows})
}

func (h *httpHandler) handleRowExists(c *gin.Context) {
	if _, ok := requestUserID(c); !ok {
		return
	}
	endpoint, _, ok := h.endpointFor(c)
	if !ok {
		return
	}
	id, ok := requestRecordID(c)
	if !ok {
		return
	}
	exists, err := endpoint.exists(c.Request.Context(), id)
	if err != nil {
		respondRecordsError(c, err)
		return
	}
	c.JSON(http.StatusOK, existsResponsePayload{Exists: exists})
}

func (h *httpHandler) handleInsertRow(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	endpoint, kind, ok := h.endpointFor(c)
	if !ok {
		return
	}
	body, ok := readLimitedBody(c, maxRowBodyBytes)
	if !ok {
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, id, err := endpoint.insert(c.Request.Context(), userID, body)
	if err != nil {
		if errors.Is(err, errInvalidRequestBody) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		respondRecordsError(c, err)
		return
	}
	h.recordWrite(userID, kind, writeInsert, []string{id})
	c.JSON(http.StatusCreated, rowResponsePayload{Row: row})
}

func (h *httpHandler) handleUpdateRow(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	endpoint, kind, ok := h.endpointFor(c)
	if !ok {
		return
	}
	id, ok := requestRecordID(c)
	if !ok {
		return
	}
	var request updateRequestPayload
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRowBodyBytes)
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBodyError(c, err)
		return
	}
	if len(request.Fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := endpoint.update(c.Request.Context(), userID, id, request.Fields)
	if err != nil {
		respondRecordsError(c, err)
		return
	}
	h.recordWrite(userID, kind, writeUpdate, []string{id.String()})
	c.JSON(http.StatusOK, rowResponsePayload{Row: row})
}

func (h *httpHandler) handleDeleteRow(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	_, kind, ok := h.endpointFor(c)
	if !ok {
		return
	}
	id, ok := requestRecordID(c)
	if !ok {
		return
	}
	set, err := h.records.Delete(c.Request.Context(), kind, userID, id)
	if err != nil {
		respondRecordsError(c, err)
		return
	}
	deleted := make(map[string][]string, len(set))
	for deletedKind, ids := range set {
		deleted[deletedKind.Table()] = ids
		h.recordWrite(userID, deletedKind, writeDelete, ids)
	}
	c.JSON(http.StatusOK, deleteResponsePayload{Deleted: deleted})
}

func (h *httpHandler) recordWrite(userID records.UserID, kind apiary.EntityKind, operation string, ids []string) {
	h.metrics.IncRecordWrite(kind.Table(), operation)
	if h.realtime == nil {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID.String(),
		EventType: RealtimeEventRecordsChanged,
		Table:     kind.Table(),
		Operation: operation,
		RecordIDs: ids,
		Timestamp: time.Now().UTC(),
	})
}

func respondRecordsError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, records.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, records.ErrRowNotFound):
		status = http.StatusNotFound
	case errors.Is(err, records.ErrInvalidUpdate),
		errors.Is(err, records.ErrInvalidRow),
		errors.Is(err, records.ErrInvalidRecordID),
		errors.Is(err, records.ErrInvalidUserID):
		status = http.StatusBadRequest
	}
	reason := records.Reason(err)
	if reason == "" {
		reason = "request_failed"
	}
	body := gin.H{"error": reason}
	var serviceErr *records.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}
