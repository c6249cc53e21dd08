package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type realtimeEventPayload struct {
	Table     string   `json:"table"`
	Operation string   `json:"operation"`
	RecordIDs []string `json:"recordIds"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

// handleEvents streams record changes of the authenticated user as server-sent events.
func (h *httpHandler) handleEvents(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "realtime_disabled"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()
	h.metrics.streamOpened()
	defer h.metrics.streamClosed()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: {\"source\":%q}\n\n", realtimeEventHeartbeat, realtimeSourceBackend); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			if message.EventType == RealtimeEventResync {
				h.metrics.streamResynced()
			}
			data, err := json.Marshal(realtimeEventPayload{
				Table:     message.Table,
				Operation: message.Operation,
				RecordIDs: message.RecordIDs,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			if err != nil {
				h.logger.Warn("failed to encode realtime event", zap.String("user_id", userID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.EventType, data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", realtimeEventHeartbeat); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
