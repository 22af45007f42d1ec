package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "auth:2fa:challenge:"

// RedisChallengeStore is a ChallengeStore backed by Redis, for deployments
// with more than one server process. Expiry is delegated to Redis TTLs, so
// no sweep is needed.
type RedisChallengeStore struct {
	client *redis.Client
}

// NewRedisChallengeStore creates a new RedisChallengeStore.
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

// Put stores a code under the key with the given TTL.
func (s *RedisChallengeStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, challengeKeyPrefix+key, code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge code: %w", err)
	}
	return nil
}

// TakeIfMatch atomically compares and deletes the stored code. The
// compare-and-delete runs as a Lua script so two concurrent verifications
// cannot both consume the same code.
var takeIfMatchScript = redis.NewScript(`
local stored = redis.call("GET", KEYS[1])
if stored == false then
  return 0
end
if stored == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

func (s *RedisChallengeStore) TakeIfMatch(ctx context.Context, key, code string) (bool, error) {
	res, err := takeIfMatchScript.Run(ctx, s.client, []string{challengeKeyPrefix + key}, code).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to check challenge code: %w", err)
	}
	return res == 1, nil
}
