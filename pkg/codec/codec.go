// Package codec serializes bar payloads for the distributed cache tiers.
package codec

import (
	"fmt"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Codec encodes values to bytes and back.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case JSONType, "":
		return JSON{}, nil
	case GobType:
		return Gob{}, nil
	default:
		return nil, fmt.Errorf("unsupported serialization type: %s", name)
	}
}
