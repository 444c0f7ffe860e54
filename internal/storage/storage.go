// Package storage provides the key/value store that stands in for browser
// local storage. Each browser context reads and writes through a Scoped view.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/codr1/LeagueConsole/internal/config"
)

var ErrEmptyKey = errors.New("storage key is required")

// Storage mirrors the local storage surface: string keys, string values,
// no expiry, last write wins.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Closer is implemented by drivers holding connections.
type Closer interface {
	Close() error
}

// Open builds the storage driver named in cfg. A redis server that does not
// answer a ping within ctx is reported as an error.
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Storage.Filename)
	case "redis":
		r, err := NewRedis(RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

type scoped struct {
	base   Storage
	prefix string
}

// Scoped returns a view of base whose keys live under namespace.
func Scoped(base Storage, namespace string) Storage {
	return &scoped{base: base, prefix: namespace + ":"}
}

func (s *scoped) GetItem(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	return s.base.GetItem(ctx, s.prefix+key)
}

func (s *scoped) SetItem(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.base.SetItem(ctx, s.prefix+key, value)
}

func (s *scoped) RemoveItem(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.base.RemoveItem(ctx, s.prefix+key)
}
