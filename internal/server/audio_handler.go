package server

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxAudioUploadBytes = 32 << 20
	// maxRowBodyBytes admits a recording row whose audio_url inlines a full-size upload
	// as base64, plus room for the remaining columns.
	maxRowBodyBytes = maxAudioUploadBytes/3*4 + 1<<20
)

type audioUploadResponsePayload struct {
	URL string `json:"url"`
}

func (h *httpHandler) handleAudioUpload(c *gin.Context) {
	if h.blobs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audio_storage_disabled"})
		return
	}
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	recordingID, ok := requestRecordID(c)
	if !ok {
		return
	}

	data, ok := readLimitedBody(c, maxAudioUploadBytes)
	if !ok {
		return
	}

	payload := audio.Payload{ContentType: uploadContentType(c.GetHeader("Content-Type")), Data: data}
	url, err := h.blobs.Upload(c.Request.Context(), userID.String(), recordingID.String(), payload)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrEmptyPayload), errors.Is(err, audio.ErrInvalidObjectKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_audio"})
		case errors.Is(err, audio.ErrPayloadTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		default:
			h.logger.Error("audio upload failed",
				zap.String("operation", "server.audio_upload"),
				zap.String("reason", "upload_failed"),
				zap.String("user_id", userID.String()),
				zap.String("record_id", recordingID.String()),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "upload_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, audioUploadResponsePayload{URL: url})
}

func uploadContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return audio.ContentTypeWebM
	}
	return mediaType
}

// readLimitedBody reads at most limit bytes of the request body. It answers 413 for a
// larger body and 400 for a read failure.
func readLimitedBody(c *gin.Context, limit int64) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		respondBodyError(c, err)
		return nil, false
	}
	return data, true
}

func respondBodyError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}
