package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxRemotePayloadBytes = 32 << 20

// Resolver turns any audioUrl form into playable bytes.
type Resolver struct {
	Transient  *TransientStore
	HTTPClient *http.Client
}

// Resolve decodes inline payloads, looks up transient references and downloads remote ones.
func (r *Resolver) Resolve(ctx context.Context, audioURL string) (Payload, error) {
	switch Classify(audioURL) {
	case KindEmpty:
		return Payload{}, ErrEmptyPayload
	case KindDataURL, KindBareBase64:
		return DecodeInline(audioURL)
	case KindTransient:
		if r.Transient == nil {
			return Payload{}, ErrUnknownReference
		}
		return r.Transient.Resolve(audioURL)
	default:
		return r.download(ctx, strings.TrimSpace(audioURL))
	}
}

func (r *Resolver) download(ctx context.Context, url string) (Payload, error) {
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, err
	}
	response, err := client.Do(request)
	if err != nil {
		return Payload{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Payload{}, fmt.Errorf("audio: download returned status %d", response.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, maxRemotePayloadBytes))
	if err != nil {
		return Payload{}, err
	}
	if len(data) == 0 {
		return Payload{}, ErrEmptyPayload
	}
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = ContentTypeWebM
	}
	return Payload{ContentType: contentType, Data: data}, nil
}
