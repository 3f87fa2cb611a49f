// Package cache stores rendered moderation responses keyed by request content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// KeyPrefix namespaces moderation cache keys.
const KeyPrefix = "mcache:"

// Cache is a byte-value store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Key derives the cache key for one moderation input. Any field that can
// change the verdict takes part in the hash.
func Key(tenant, policyVersion, lang, text string, signals map[string]any) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range []string{tenant, policyVersion, lang, text} {
		// Length-prefixed so no part can spill into the next one.
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	if len(signals) > 0 {
		// encoding/json sorts map keys, so equal maps hash equally.
		b, err := json.Marshal(signals)
		if err != nil {
			b = []byte(fmt.Sprint(signals))
		}
		h.Write(b)
	}
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// New builds the cache selected by cfg.Type.
func New(cfg config.CacheConfig) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return Noop{}, nil
	case "memory":
		return NewMemory(cfg.MaxEntries), nil
	case "redis":
		password := ""
		if cfg.PasswordEnv != "" {
			password = os.Getenv(cfg.PasswordEnv)
		}
		return NewRedis(cfg.Addr, password, cfg.DB), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Ping(context.Context) error                               { return nil }
func (Noop) Close() error                                             { return nil }
