// Package audio handles recording payloads: inline data URLs, transient in-memory
// references and remote blob storage.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	dataScheme      = "data:"
	transientScheme = "blob:"

	ContentTypeWebM = "audio/webm"
	ContentTypeWAV  = "audio/wav"
	ContentTypeMPEG = "audio/mpeg"
	ContentTypeOGG  = "audio/ogg"
	ContentTypeMP4  = "audio/mp4"
)

var (
	// ErrInvalidDataURL indicates a malformed or non-base64 data URL.
	ErrInvalidDataURL = errors.New("audio: invalid data url")
	// ErrUnknownReference indicates a transient reference that was released or never issued.
	ErrUnknownReference = errors.New("audio: unknown transient reference")
	// ErrEmptyPayload indicates a payload without audio bytes.
	ErrEmptyPayload = errors.New("audio: empty payload")
)

// extensions maps supported content types to object key extensions.
var extensions = map[string]string{
	ContentTypeWebM: ".webm",
	ContentTypeWAV:  ".wav",
	ContentTypeMPEG: ".mp3",
	ContentTypeOGG:  ".ogg",
	ContentTypeMP4:  ".m4a",
}

// Kind classifies the form of a recording's audioUrl.
type Kind int

const (
	KindEmpty Kind = iota
	KindDataURL
	KindTransient
	KindRemote
	KindBareBase64
)

// Payload is decoded audio.
type Payload struct {
	ContentType string
	Data        []byte
}

// Classify reports which form an audioUrl value takes.
func Classify(audioURL string) Kind {
	trimmed := strings.TrimSpace(audioURL)
	switch {
	case trimmed == "":
		return KindEmpty
	case strings.HasPrefix(trimmed, dataScheme):
		return KindDataURL
	case strings.HasPrefix(trimmed, transientScheme):
		return KindTransient
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		return KindRemote
	default:
		return KindBareBase64
	}
}

// IsInline reports whether the audio bytes are carried inside the URL itself.
func IsInline(audioURL string) bool {
	kind := Classify(audioURL)
	return kind == KindDataURL || kind == KindBareBase64
}

// EncodeDataURL renders a payload as a base64 data URL.
func EncodeDataURL(payload Payload) (string, error) {
	if len(payload.Data) == 0 {
		return "", ErrEmptyPayload
	}
	contentType := strings.TrimSpace(payload.ContentType)
	if contentType == "" {
		contentType = ContentTypeWebM
	}
	return dataScheme + contentType + ";base64," + base64.StdEncoding.EncodeToString(payload.Data), nil
}

// DecodeInline decodes a data URL, or a bare base64 string which is treated as WAV audio.
func DecodeInline(audioURL string) (Payload, error) {
	trimmed := strings.TrimSpace(audioURL)
	switch Classify(trimmed) {
	case KindDataURL:
		return decodeDataURL(trimmed)
	case KindBareBase64:
		data, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
		}
		return Payload{ContentType: ContentTypeWAV, Data: data}, nil
	default:
		return Payload{}, fmt.Errorf("%w: not inline", ErrInvalidDataURL)
	}
}

func decodeDataURL(value string) (Payload, error) {
	header, encoded, found := strings.Cut(strings.TrimPrefix(value, dataScheme), ",")
	if !found {
		return Payload{}, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return Payload{}, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	if index := strings.Index(mediaType, ";"); index >= 0 {
		mediaType = mediaType[:index]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return Payload{}, ErrEmptyPayload
	}
	if mediaType == "" {
		mediaType = ContentTypeWebM
	}
	return Payload{ContentType: mediaType, Data: data}, nil
}

// ExtensionFor returns the object key extension for a content type, defaulting to .webm.
func ExtensionFor(contentType string) string {
	if extension, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]; ok {
		return extension
	}
	return extensions[ContentTypeWebM]
}

// ContentTypeForExtension is the inverse of ExtensionFor, used when importing files.
func ContentTypeForExtension(extension string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(extension))
	if !strings.HasPrefix(normalized, ".") {
		normalized = "." + normalized
	}
	for contentType, candidate := range extensions {
		if candidate == normalized {
			return contentType, true
		}
	}
	return "", false
}
