package apiary

import "github.com/google/uuid"

// IDGenerator issues identifiers that are unique across every user's dataset.
type IDGenerator interface {
	NewID() (string, error)
}

type uuidGenerator struct{}

// NewUUIDGenerator constructs an IDGenerator that issues UUIDv7 identifiers.
func NewUUIDGenerator() IDGenerator {
	return &uuidGenerator{}
}

func (g *uuidGenerator) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
