package authkit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/expressthat/authkit/internal"
)

// trustedDeviceStore remembers device fingerprints that completed a
// second factor, so later sign-ins from them skip it. Fingerprints are
// hashed before use as key material.
type trustedDeviceStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func newTrustedDeviceStore(rdb redis.UniversalClient, ttl time.Duration) *trustedDeviceStore {
	return &trustedDeviceStore{rdb: rdb, ttl: ttl}
}

func deviceKey(principalID, fingerprint string) string {
	h := internal.HashString(fingerprint)
	return "akt:" + principalID + ":" + hex.EncodeToString(h[:])
}

func deviceIndexKey(principalID string) string {
	return "akti:" + principalID
}

// Trust records the fingerprint for the configured lifetime.
func (s *trustedDeviceStore) Trust(ctx context.Context, principalID, fingerprint string) error {
	if fingerprint == "" {
		return nil
	}
	key := deviceKey(principalID, fingerprint)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, time.Now().Unix(), s.ttl)
		pipe.SAdd(ctx, deviceIndexKey(principalID), key)
		pipe.Expire(ctx, deviceIndexKey(principalID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return nil
}

// IsTrusted reports whether the fingerprint is currently trusted.
func (s *trustedDeviceStore) IsTrusted(ctx context.Context, principalID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, deviceKey(principalID, fingerprint)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return n > 0, nil
}

// RevokeAll forgets every trusted device for the principal. Called when
// the second factor is disabled or the account deleted.
func (s *trustedDeviceStore) RevokeAll(ctx context.Context, principalID string) (int, error) {
	keys, err := s.rdb.SMembers(ctx, deviceIndexKey(principalID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	keys = append(keys, deviceIndexKey(principalID))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return len(keys) - 1, nil
}
