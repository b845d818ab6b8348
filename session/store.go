package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when a Redis command fails.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when no live record exists for a ref.
var ErrNotFound = errors.New("session not found")

// ErrRefExists is returned by Create when the ref is already stored.
var ErrRefExists = errors.New("session ref already exists")

const minTTL = time.Millisecond

// createSessionScript writes the record only if the ref is free, then indexes
// it under the user and stretches the index TTL to cover the new session.
const createSessionScript = `
local ok = redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
if not ok then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
local current = redis.call("PTTL", KEYS[2])
if current < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store. It is safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) key(ref string) string {
	return s.prefix + ":s:" + ref
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create persists rec with a TTL that ends at its expiry as seen from now.
// It returns ErrRefExists if the ref is taken, so callers can retry with a
// fresh token.
func (s *Store) Create(ctx context.Context, rec *Record, now time.Time) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	ttl := rec.ExpiresAtTime().Sub(now)
	if ttl < minTTL {
		ttl = minTTL
	}

	created, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.Ref), s.userKey(rec.UserID)},
		data,
		ttl.Milliseconds(),
		rec.Ref,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if created == 0 {
		return ErrRefExists
	}
	return nil
}

// Get returns the live record for ref. A record past its expiry at now is
// removed and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, ref string, now time.Time) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.Ref = ref

	if rec.Expired(now) {
		if _, err := s.deleteIndexed(ctx, ref, rec.UserID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return rec, nil
}

// Delete removes the session stored under ref. It reports whether a record
// existed.
func (s *Store) Delete(ctx context.Context, ref string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		// Unreadable blob: drop the key, the index entry is pruned on read.
		if err := s.redis.Del(ctx, s.key(ref)).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return true, nil
	}

	return s.deleteIndexed(ctx, ref, rec.UserID)
}

func (s *Store) deleteIndexed(ctx context.Context, ref, userID string) (bool, error) {
	existed, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(ref), s.userKey(userID)},
		ref,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// ListForUser returns the user's live sessions at now. Index entries whose
// record is missing, unreadable or expired are pruned.
func (s *Store) ListForUser(ctx context.Context, userID string, now time.Time) ([]*Record, error) {
	userKey := s.userKey(userID)

	refs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(refs) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(refs))
	for i, ref := range refs {
		cmds[i] = pipe.Get(ctx, s.key(ref))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(refs))
	var stale []string
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, refs[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		rec, decErr := Decode(data)
		if decErr != nil || rec.UserID != userID || rec.Expired(now) {
			stale = append(stale, refs[i])
			continue
		}
		rec.Ref = refs[i]
		records = append(records, rec)
	}

	if len(stale) > 0 {
		if err := s.prune(ctx, userKey, stale); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// CountForUser returns the number of live sessions for userID at now.
func (s *Store) CountForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	records, err := s.ListForUser(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Store) prune(ctx context.Context, userKey string, refs []string) error {
	keys := make([]string, len(refs))
	members := make([]interface{}, len(refs))
	for i, ref := range refs {
		keys[i] = s.key(ref)
		members[i] = ref
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session indexed under userID and returns how
// many records existed.
//
// ATOMICITY NOTE: the index is read before the delete transaction, so a
// session created in between survives. It is removed by the next call or
// expires on its own.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	refs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, s.key(ref))
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			delCmd = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if delCmd == nil {
		return 0, nil
	}
	return int(delCmd.Val()), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
