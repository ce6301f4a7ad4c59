package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists for the ID.
	ErrNotFound = errors.New("session: not found")
	// ErrBackend wraps Redis failures.
	ErrBackend = errors.New("session: backend unavailable")
)

// Config controls session storage behaviour.
type Config struct {
	// KeyPrefix namespaces all keys, default "as".
	KeyPrefix string
	// TTL is the session lifetime.
	TTL time.Duration
	// Sliding extends the TTL on every Get.
	Sliding bool
	// SlidingJitter randomizes each extension by up to this much, so a
	// burst of reads does not hammer EXPIRE with identical deadlines.
	SlidingJitter time.Duration
}

// Store persists sessions in Redis.
type Store struct {
	rdb redis.UniversalClient
	cfg Config
}

// NewStore returns a Store using the given client. Zero-value config
// fields get defaults of prefix "as" and a 24h TTL.
func NewStore(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "as"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Store{rdb: rdb, cfg: cfg}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.cfg.KeyPrefix + ":" + sessionID
}

func (s *Store) principalKey(principalID string) string {
	return s.cfg.KeyPrefix + "u:" + principalID
}

func (s *Store) countKey(principalID string) string {
	return s.cfg.KeyPrefix + "c:" + principalID
}

// deleteSessionScript removes a session, its index entry and decrements
// the per-principal counter in one atomic step.
var deleteSessionScript = redis.NewScript(`
local removed = redis.call('DEL', KEYS[1])
if removed == 1 then
  redis.call('SREM', KEYS[2], ARGV[1])
  local c = redis.call('DECR', KEYS[3])
  if c < 0 then redis.call('SET', KEYS[3], 0) end
end
return removed
`)

// Save writes the session record and registers it in the principal's
// index. The index and counter share the session TTL so they cannot
// outlive the last session by much.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := encode(sess)
	if err != nil {
		return err
	}
	ttl := s.cfg.TTL
	if sess.ExpiresAt > 0 {
		if until := time.Until(time.Unix(sess.ExpiresAt, 0)); until > 0 {
			ttl = until
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.SessionID), raw, ttl)
		pipe.SAdd(ctx, s.principalKey(sess.PrincipalID), sess.SessionID)
		pipe.Expire(ctx, s.principalKey(sess.PrincipalID), ttl)
		pipe.Incr(ctx, s.countKey(sess.PrincipalID))
		pipe.Expire(ctx, s.countKey(sess.PrincipalID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get loads a session by ID, sliding its TTL when configured.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sess, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		_ = s.Delete(ctx, sessionID, sess.PrincipalID)
		return nil, ErrNotFound
	}

	if s.cfg.Sliding {
		// Extension failures are ignored: the session stays valid for
		// its remaining TTL.
		_ = s.rdb.Expire(ctx, s.sessionKey(sessionID), s.slidingTTL()).Err()
	}
	return sess, nil
}

// Delete removes one session. It reports ErrNotFound when the session
// was already gone.
func (s *Store) Delete(ctx context.Context, sessionID, principalID string) error {
	removed, err := deleteSessionScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID), s.principalKey(principalID), s.countKey(principalID)},
		sessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllForPrincipal removes every session in the principal's index
// and returns how many were deleted.
func (s *Store) DeleteAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, s.principalKey(principalID), s.countKey(principalID))

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return len(ids), nil
}

// ActiveSessionIDs lists the session IDs currently indexed for a
// principal. Entries for already-expired sessions may linger until the
// index TTL fires; callers that need certainty should Get each ID.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ids, nil
}

// Ping verifies backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) slidingTTL() time.Duration {
	ttl := s.cfg.TTL
	if s.cfg.SlidingJitter <= 0 {
		return ttl
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return ttl
	}
	jitter := time.Duration(binary.BigEndian.Uint64(raw[:]) % uint64(s.cfg.SlidingJitter))
	return ttl + jitter
}
