package adoauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares cached tokens across multiple server processes
// fronting the same ADO organization, avoiding redundant refreshes against
// the identity provider. Grounded in registry/service.go's use of a
// *redis.Client for shared, TTL-bounded state.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend wraps rdb. prefix namespaces keys (e.g. "adomcp:token:").
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "adomcp:token:"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

type wireToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, key string) (Token, bool, error) {
	raw, err := b.rdb.Get(ctx, b.prefix+key).Bytes()
	if err == redis.Nil {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	var wt wireToken
	if err := json.Unmarshal(raw, &wt); err != nil {
		return Token{}, false, err
	}
	return Token{Value: wt.Value, ExpiresAt: wt.ExpiresAt}, true, nil
}

// Store implements Backend. The redis key is set to expire alongside the
// token itself so stale entries never linger past their useful life.
func (b *RedisBackend) Store(ctx context.Context, key string, tok Token) error {
	raw, err := json.Marshal(wireToken{Value: tok.Value, ExpiresAt: tok.ExpiresAt})
	if err != nil {
		return err
	}
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, b.prefix+key, raw, ttl).Err()
}
