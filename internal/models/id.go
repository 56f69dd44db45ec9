package models

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string, so ids sort by creation time.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("models: generate id: %w", err)
	}
	return id.String(), nil
}

func assignID(dst *string) error {
	if *dst != "" {
		return nil
	}
	id, err := NewID()
	if err != nil {
		return err
	}
	*dst = id
	return nil
}
