package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// commitLua raises the stored nonce to ARGV[1] and never lowers it. A late
// commit from a slower process therefore cannot roll the counter back.
const commitLua = `
local cur = redis.call('GET', KEYS[1])
if cur == false or tonumber(ARGV[1]) > tonumber(cur) then
    redis.call('SET', KEYS[1], ARGV[1])
    return 1
end
return 0
`

// NonceStore implements domain.NonceStore. Each account's last committed
// nonce lives in a plain string key.
type NonceStore struct {
	rdb      *redis.Client
	commitSc *redis.Script
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{
		rdb:      c.Underlying(),
		commitSc: redis.NewScript(commitLua),
	}
}

func nonceKey(account string) string {
	return key("nonce", account)
}

// Load returns the last committed nonce for account. ok is false when the
// account has never committed one.
func (s *NonceStore) Load(ctx context.Context, account string) (uint64, bool, error) {
	v, err := s.rdb.Get(ctx, nonceKey(account)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: load nonce %s: %w", account, err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse nonce %s=%q: %w", account, v, err)
	}
	return n, true, nil
}

// Commit records nonce as used if it is greater than the stored value.
func (s *NonceStore) Commit(ctx context.Context, account string, nonce uint64) error {
	err := s.commitSc.Run(ctx, s.rdb, []string{nonceKey(account)},
		strconv.FormatUint(nonce, 10)).Err()
	if err != nil {
		return fmt.Errorf("redis: commit nonce %s=%d: %w", account, nonce, err)
	}
	return nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
