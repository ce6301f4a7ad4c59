package authkit

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingSignIn is a first-factor success waiting on a second factor.
type pendingSignIn struct {
	PrincipalID string
	Email       string
	Redirect    string
	ExpiresAt   int64
	Attempts    uint16
}

// pendingSignInStore holds pending sign-ins in Redis. Completion
// deletes the record, so each pending sign-in can finish at most once;
// failed codes bump a counter that cancels the record when spent.
type pendingSignInStore struct {
	rdb         redis.UniversalClient
	maxAttempts int
}

func newPendingSignInStore(rdb redis.UniversalClient, maxAttempts int) *pendingSignInStore {
	return &pendingSignInStore{rdb: rdb, maxAttempts: maxAttempts}
}

func pendingKey(id string) string { return "akp:" + id }

func (s *pendingSignInStore) Save(ctx context.Context, id string, rec *pendingSignIn, ttl time.Duration) error {
	raw, err := encodePendingSignIn(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, pendingKey(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return nil
}

func (s *pendingSignInStore) Get(ctx context.Context, id string) (*pendingSignIn, error) {
	raw, err := s.rdb.Get(ctx, pendingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	rec, err := decodePendingSignIn(raw)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= rec.ExpiresAt {
		_ = s.rdb.Del(ctx, pendingKey(id)).Err()
		return nil, ErrChallengeExpired
	}
	return rec, nil
}

// Delete removes the pending sign-in and reports whether this call did
// the removing. Concurrent completions race on this: only the caller
// that sees true may establish a session.
func (s *pendingSignInStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, pendingKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter under WATCH. It returns
// ErrTooManyAttempts when the allowance is spent, after deleting the
// record.
func (s *pendingSignInStore) RecordFailure(ctx context.Context, id string) error {
	key := pendingKey(id)
	var finalErr error

	txf := func(tx *redis.Tx) error {
		finalErr = nil

		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			finalErr = ErrChallengeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodePendingSignIn(raw)
		if err != nil {
			return err
		}

		rec.Attempts++
		if int(rec.Attempts) >= s.maxAttempts {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			finalErr = ErrTooManyAttempts
			return nil
		}

		remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
		if remaining <= 0 {
			finalErr = ErrChallengeExpired
			return nil
		}
		updated, err := encodePendingSignIn(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, remaining)
			return nil
		})
		return err
	}

	for i := 0; i < challengeMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errBackendUnavailable, err)
		}
		return finalErr
	}
	return fmt.Errorf("%w: pending sign-in transaction contention", errBackendUnavailable)
}

const pendingRecordVersion = 1

func encodePendingSignIn(rec *pendingSignIn) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingRecordVersion)

	for _, field := range []string{rec.PrincipalID, rec.Email, rec.Redirect} {
		if len(field) > math.MaxUint16 {
			return nil, fmt.Errorf("authkit: pending sign-in field too long (%d bytes)", len(field))
		}
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(field)))
		buf.Write(n[:])
		buf.WriteString(field)
	}

	var tail [10]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(rec.ExpiresAt))
	binary.BigEndian.PutUint16(tail[8:], rec.Attempts)
	buf.Write(tail[:])
	return buf.Bytes(), nil
}

func decodePendingSignIn(raw []byte) (*pendingSignIn, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil || version != pendingRecordVersion {
		return nil, errors.New("authkit: malformed pending sign-in record")
	}

	rec := &pendingSignIn{}
	for _, dst := range []*string{&rec.PrincipalID, &rec.Email, &rec.Redirect} {
		var n [2]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, errors.New("authkit: malformed pending sign-in record")
		}
		field := make([]byte, binary.BigEndian.Uint16(n[:]))
		if _, err := io.ReadFull(r, field); err != nil {
			return nil, errors.New("authkit: malformed pending sign-in record")
		}
		*dst = string(field)
	}

	var tail [10]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, errors.New("authkit: malformed pending sign-in record")
	}
	rec.ExpiresAt = int64(binary.BigEndian.Uint64(tail[:8]))
	rec.Attempts = binary.BigEndian.Uint16(tail[8:])

	if r.Len() != 0 {
		return nil, errors.New("authkit: malformed pending sign-in record")
	}
	return rec, nil
}
