// Package storage provides the small key/value area the companion persists
// session tokens and local preferences in.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is a string key/value area. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetMany writes all entries atomically.
	SetMany(ctx context.Context, entries map[string]string) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string
	FilePath  string
	KeyPrefix string
	Redis     RedisConfig
	// SlowOp is the latency above which a file or Redis operation is logged.
	SlowOp time.Duration
}

// Open builds the Store selected by cfg.Backend. File and Redis stores are
// traced. Every backend keeps its keys under cfg.KeyPrefix; Redis applies it
// natively.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return Prefixed(NewMemoryStore(), cfg.KeyPrefix), nil
	case BackendFile:
		fs, err := NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return Prefixed(Traced(fs, BackendFile, cfg.SlowOp), cfg.KeyPrefix), nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return Traced(NewRedisStore(client, cfg.KeyPrefix), BackendRedis, cfg.SlowOp), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
