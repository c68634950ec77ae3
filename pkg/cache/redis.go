package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vorion:dc:"

// errCorrupt marks a shared-store entry that failed to parse or validate.
// The entry is deleted and the read counts as a miss.
var errCorrupt = errors.New("cache: corrupt shared entry")

// compareSetScript writes an entry only if the stored one is absent or
// expires earlier, so a set never overwrites a newer entry.
// KEYS[1] = entry key
// ARGV[1] = entry JSON
// ARGV[2] = new entry expires_at (unix ms)
// ARGV[3] = ttl (ms)
var compareSetScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
    local ok, cur = pcall(cjson.decode, existing)
    if ok and cur["expires_at_unix_ms"] and tonumber(cur["expires_at_unix_ms"]) > tonumber(ARGV[2]) then
        return 0
    end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[3]))
return 1
`)

// sharedTier is the distributed cache tier over Redis.
type sharedTier struct {
	client *redis.Client
	clock  func() time.Time
}

func newSharedTier(client *redis.Client) *sharedTier {
	return &sharedTier{client: client, clock: time.Now}
}

func entryKey(tenantID, fingerprint string) string {
	return keyPrefix + tenantID + ":" + fingerprint
}

// get fetches and validates an entry. Corrupt or expired entries are
// deleted in place and reported as errCorrupt / nil respectively.
func (s *sharedTier) get(ctx context.Context, tenantID, fingerprint string) (*Entry, error) {
	key := entryKey(tenantID, fingerprint)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: shared get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		_ = s.client.Del(ctx, key).Err()
		return nil, errCorrupt
	}
	if !validEntry(&entry) {
		_ = s.client.Del(ctx, key).Err()
		return nil, errCorrupt
	}
	if entry.expired(s.clock()) {
		_ = s.client.Del(ctx, key).Err()
		return nil, nil
	}
	return &entry, nil
}

// set writes the entry with compare-before-write semantics.
func (s *sharedTier) set(ctx context.Context, tenantID, fingerprint string, entry *Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	key := entryKey(tenantID, fingerprint)
	err = compareSetScript.Run(ctx, s.client,
		[]string{key},
		string(payload),
		entry.ExpiresAtUnix,
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("cache: shared set: %w", err)
	}
	return nil
}

// deleteByIntent scans the whole keyspace in bounded batches, deleting
// entries whose decision references the intent id.
func (s *sharedTier) deleteByIntent(ctx context.Context, intentID string) (int, error) {
	return s.scanDelete(ctx, keyPrefix+"*", func(e *Entry) bool {
		return e.Decision != nil && e.Decision.IntentID == intentID
	})
}

// deleteTenant removes every entry for a tenant with cursor iteration.
func (s *sharedTier) deleteTenant(ctx context.Context, tenantID string) (int, error) {
	return s.scanDelete(ctx, keyPrefix+tenantID+":*", func(*Entry) bool { return true })
}

func (s *sharedTier) scanDelete(ctx context.Context, pattern string, match func(*Entry) bool) (int, error) {
	const batchSize = 100
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache: scan: %w", err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return deleted, fmt.Errorf("cache: scan get: %w", err)
			}
			var entry Entry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				// Corrupt entries go too.
				_ = s.client.Del(ctx, key).Err()
				deleted++
				continue
			}
			if match(&entry) {
				_ = s.client.Del(ctx, key).Err()
				deleted++
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// validEntry is the schema check applied to entries read from the shared
// store.
func validEntry(e *Entry) bool {
	if e.Decision == nil {
		return false
	}
	if !e.Decision.FinalAction.Valid() {
		return false
	}
	if e.Decision.ID == "" || e.Decision.IntentID == "" || e.Decision.TenantID == "" {
		return false
	}
	return !e.ExpiresAt.IsZero()
}
