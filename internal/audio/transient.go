package audio

import (
	"strings"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// TransientStore holds freshly captured recordings in memory under blob: references.
// Entries never expire: a saved recording may point at one until sync uploads it or
// the recording is deleted, and both paths call Release.
type TransientStore struct {
	entries *gocache.Cache
}

// NewTransientStore constructs an empty store.
func NewTransientStore() *TransientStore {
	return &TransientStore{entries: gocache.New(gocache.NoExpiration, 0)}
}

// Put stores the payload and returns its blob: reference.
func (s *TransientStore) Put(payload Payload) (string, error) {
	if len(payload.Data) == 0 {
		return "", ErrEmptyPayload
	}
	identifier, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	reference := transientScheme + identifier.String()
	stored := Payload{
		ContentType: payload.ContentType,
		Data:        append([]byte(nil), payload.Data...),
	}
	s.entries.Set(reference, stored, gocache.NoExpiration)
	return reference, nil
}

// Resolve returns the payload held under reference.
func (s *TransientStore) Resolve(reference string) (Payload, error) {
	cached, found := s.entries.Get(strings.TrimSpace(reference))
	if !found {
		return Payload{}, ErrUnknownReference
	}
	payload, ok := cached.(Payload)
	if !ok {
		return Payload{}, ErrUnknownReference
	}
	return payload, nil
}

// Release frees the payload held under reference. Unknown references are ignored.
func (s *TransientStore) Release(reference string) {
	if Classify(reference) != KindTransient {
		return
	}
	s.entries.Delete(strings.TrimSpace(reference))
}

// Len reports how many payloads are held.
func (s *TransientStore) Len() int {
	return s.entries.ItemCount()
}
