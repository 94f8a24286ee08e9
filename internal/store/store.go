// Package store persists the controller state between sleep cycles.
package store

import (
	"errors"
	"fmt"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// ErrNotFound means no usable snapshot exists. Callers fall back to defaults.
var ErrNotFound = errors.New("store: no valid snapshot")

// Store loads and saves whole controller states.
type Store interface {
	Load() (*logic.State, error)
	Save(s *logic.State) error
	Close() error
}

// Medium holds one opaque snapshot. Read returns ErrNotFound when empty.
// Write must replace the previous snapshot atomically.
type Medium interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Gateway encodes states onto a Medium.
type Gateway struct {
	medium Medium
}

// NewGateway wraps m.
func NewGateway(m Medium) *Gateway {
	return &Gateway{medium: m}
}

// Load returns the persisted state, or ErrNotFound when nothing valid is stored.
func (g *Gateway) Load() (*logic.State, error) {
	data, err := g.medium.Read()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Save persists a snapshot of s.
func (g *Gateway) Save(s *logic.State) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := g.medium.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Close releases the medium.
func (g *Gateway) Close() error {
	return g.medium.Close()
}
