package authkit

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengePurpose tags a challenge with the flow that issued it, so a
// token minted for one flow can never redeem in another.
type challengePurpose byte

const (
	purposeVerifyEmail challengePurpose = iota + 1
	purposeResetPassword
	purposeMagicLink
	purposeEmailOTP
)

func (p challengePurpose) String() string {
	switch p {
	case purposeVerifyEmail:
		return "verify_email"
	case purposeResetPassword:
		return "reset_password"
	case purposeMagicLink:
		return "magic_link"
	case purposeEmailOTP:
		return "email_otp"
	default:
		return "unknown"
	}
}

// challengeRecord is the server-side half of a single-use challenge.
// Only the hash of the secret is stored.
type challengeRecord struct {
	PrincipalID string
	Email       string
	SecretHash  [32]byte
	ExpiresAt   int64
	Attempts    uint16
}

// challengeStore persists single-use challenges in Redis. Redemption is
// a compare-and-swap under WATCH: of any number of concurrent attempts
// with the correct secret, exactly one succeeds. A consumed challenge
// leaves a tombstone for the rest of its original lifetime so a second
// redemption is reported as already-used rather than unknown.
type challengeStore struct {
	rdb         redis.UniversalClient
	maxAttempts int
}

const challengeMaxRetries = 4

func newChallengeStore(rdb redis.UniversalClient, maxAttempts int) *challengeStore {
	return &challengeStore{rdb: rdb, maxAttempts: maxAttempts}
}

func challengeKey(p challengePurpose, id string) string {
	return fmt.Sprintf("akc:%d:%s", p, id)
}

func challengeTombstoneKey(p challengePurpose, id string) string {
	return fmt.Sprintf("akcu:%d:%s", p, id)
}

// Create stores a fresh challenge under its purpose-scoped key.
func (s *challengeStore) Create(ctx context.Context, p challengePurpose, id string, rec *challengeRecord, ttl time.Duration) error {
	raw, err := encodeChallengeRecord(p, rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, challengeKey(p, id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return nil
}

// Consume redeems a challenge. On a correct secret the record is
// deleted and a tombstone written in the same transaction; on a wrong
// secret the attempt counter is bumped and the challenge removed once
// the allowance is spent.
func (s *challengeStore) Consume(ctx context.Context, p challengePurpose, id string, secretHash [32]byte) (*challengeRecord, error) {
	key := challengeKey(p, id)
	tombstone := challengeTombstoneKey(p, id)

	var (
		result   *challengeRecord
		finalErr error
	)

	txf := func(tx *redis.Tx) error {
		result, finalErr = nil, nil

		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// The tombstone is written in the same transaction that
			// deletes the record, so it must be read after the missing
			// key: a racing winner's delete would otherwise turn an
			// already-used challenge into an unknown one.
			used, err := tx.Exists(ctx, tombstone).Result()
			if err != nil {
				return err
			}
			if used > 0 {
				finalErr = ErrChallengeConsumed
			} else {
				finalErr = ErrChallengeNotFound
			}
			return nil
		}
		if err != nil {
			return err
		}

		rec, err := decodeChallengeRecord(p, raw)
		if err != nil {
			return err
		}

		now := time.Now()
		if now.Unix() >= rec.ExpiresAt {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			finalErr = ErrChallengeExpired
			return nil
		}
		remaining := time.Until(time.Unix(rec.ExpiresAt, 0))

		if subtle.ConstantTimeCompare(rec.SecretHash[:], secretHash[:]) != 1 {
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
			updated, err := encodeChallengeRecord(p, rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			if err != nil {
				return err
			}
			finalErr = ErrInvalidCode
			return nil
		}

		// Correct secret: delete and tombstone atomically so a racing
		// redeem sees the challenge as consumed, not missing.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.Set(ctx, tombstone, "1", remaining)
			return nil
		})
		if err != nil {
			return err
		}
		result = rec
		return nil
	}

	for i := 0; i < challengeMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key, tombstone)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBackendUnavailable, err)
		}
		return result, finalErr
	}
	return nil, fmt.Errorf("%w: challenge transaction contention", errBackendUnavailable)
}

// Delete removes a challenge without redeeming it.
func (s *challengeStore) Delete(ctx context.Context, p challengePurpose, id string) error {
	if err := s.rdb.Del(ctx, challengeKey(p, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return nil
}

const challengeRecordVersion = 1

func encodeChallengeRecord(p challengePurpose, rec *challengeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion)
	buf.WriteByte(byte(p))

	for _, field := range []string{rec.PrincipalID, rec.Email} {
		if len(field) > math.MaxUint16 {
			return nil, fmt.Errorf("authkit: challenge field too long (%d bytes)", len(field))
		}
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(field)))
		buf.Write(n[:])
		buf.WriteString(field)
	}

	buf.Write(rec.SecretHash[:])

	var tail [10]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(rec.ExpiresAt))
	binary.BigEndian.PutUint16(tail[8:], rec.Attempts)
	buf.Write(tail[:])

	return buf.Bytes(), nil
}

func decodeChallengeRecord(p challengePurpose, raw []byte) (*challengeRecord, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil || version != challengeRecordVersion {
		return nil, errors.New("authkit: malformed challenge record")
	}
	storedPurpose, err := r.ReadByte()
	if err != nil {
		return nil, errors.New("authkit: malformed challenge record")
	}
	if challengePurpose(storedPurpose) != p {
		return nil, fmt.Errorf("authkit: challenge purpose mismatch: stored %d, key %d", storedPurpose, p)
	}

	rec := &challengeRecord{}
	for _, dst := range []*string{&rec.PrincipalID, &rec.Email} {
		var n [2]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, errors.New("authkit: malformed challenge record")
		}
		field := make([]byte, binary.BigEndian.Uint16(n[:]))
		if _, err := io.ReadFull(r, field); err != nil {
			return nil, errors.New("authkit: malformed challenge record")
		}
		*dst = string(field)
	}

	if _, err := io.ReadFull(r, rec.SecretHash[:]); err != nil {
		return nil, errors.New("authkit: malformed challenge record")
	}
	var tail [10]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, errors.New("authkit: malformed challenge record")
	}
	rec.ExpiresAt = int64(binary.BigEndian.Uint64(tail[:8]))
	rec.Attempts = binary.BigEndian.Uint16(tail[8:])

	if r.Len() != 0 {
		return nil, errors.New("authkit: malformed challenge record")
	}
	return rec, nil
}
