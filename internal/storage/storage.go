// Package storage is the persistence port for per-client dashboard state.
// Each slot is owned by exactly one state holder; values are JSON documents.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Slot identifies one persisted document.
type Slot string

const (
	SlotFilters Slot = "filters"
	SlotLayout  Slot = "layout"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrCorrupt       = errors.New("corrupt slot value")
)

// Backend is a raw key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Port loads and saves slots. Callers pass the slot explicitly.
type Port interface {
	Load(ctx context.Context, slot Slot, v any) (bool, error)
	Save(ctx context.Context, slot Slot, v any) error
}

// Scoped is a Port namespacing every slot under one client scope.
type Scoped struct {
	backend Backend
	scope   string
}

// NewScoped binds backend to scope. An empty scope maps to "default".
func NewScoped(backend Backend, scope string) *Scoped {
	if scope == "" {
		scope = "default"
	}
	return &Scoped{backend: backend, scope: scope}
}

func (s *Scoped) key(slot Slot) string {
	return s.scope + ":" + string(slot)
}

// Load decodes the slot into v. A missing slot yields (false, nil); an
// unreadable or undecodable one yields (false, err). v may be partially
// written on error, so callers decode into a scratch value.
func (s *Scoped) Load(ctx context.Context, slot Slot, v any) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, s.key(slot))
	if err != nil {
		return false, fmt.Errorf("load %s: %w", slot, err)
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("load %s: %w: %v", slot, ErrCorrupt, err)
	}
	return true, nil
}

// Save encodes v and writes it to the slot.
func (s *Scoped) Save(ctx context.Context, slot Slot, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}
	if err := s.backend.Put(ctx, s.key(slot), raw); err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}
	return nil
}

// Config selects and configures a backend driver.
type Config struct {
	Driver     string
	SQLitePath string
	RedisURL   string
}

// Open builds the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath)
	case "redis":
		return NewRedisBackend(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
