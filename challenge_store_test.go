package authkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/expressthat/authkit/internal"
)

func newTestChallengeStore(t *testing.T) (*challengeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newChallengeStore(rdb, 5), mr
}

func seedChallenge(t *testing.T, store *challengeStore, p challengePurpose, ttl time.Duration) (string, [32]byte) {
	t.Helper()
	id, err := internal.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	secret, err := internal.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	hash := internal.HashSecret(secret)
	rec := &challengeRecord{
		PrincipalID: "p-1",
		Email:       "a@x.com",
		SecretHash:  hash,
		ExpiresAt:   time.Now().Add(ttl).Unix(),
	}
	if err := store.Create(context.Background(), p, id.String(), rec, ttl); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id.String(), hash
}

func TestChallengeConsumeOnce(t *testing.T) {
	store, _ := newTestChallengeStore(t)
	ctx := context.Background()
	id, hash := seedChallenge(t, store, purposeResetPassword, time.Hour)

	rec, err := store.Consume(ctx, purposeResetPassword, id, hash)
	if err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if rec.PrincipalID != "p-1" || rec.Email != "a@x.com" {
		t.Fatalf("record mismatch: %+v", rec)
	}

	// Second redemption is reported as consumed, not missing.
	if _, err := store.Consume(ctx, purposeResetPassword, id, hash); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("second Consume: got %v, want ErrChallengeConsumed", err)
	}
}

func TestChallengeConcurrentConsumeExactlyOneSuccess(t *testing.T) {
	store, _ := newTestChallengeStore(t)
	ctx := context.Background()
	id, hash := seedChallenge(t, store, purposeMagicLink, time.Hour)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, purposeMagicLink, id, hash)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	successes, consumed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrChallengeConsumed):
			consumed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("got %d successful redemptions, want exactly 1", successes)
	}
	// Every loser sees already-used, never not-found: the winner's
	// delete and tombstone land in one transaction.
	if consumed != workers-1 {
		t.Fatalf("got %d consumed results, want %d", consumed, workers-1)
	}
}

func TestChallengeNotFound(t *testing.T) {
	store, _ := newTestChallengeStore(t)
	var hash [32]byte
	if _, err := store.Consume(context.Background(), purposeVerifyEmail, "missing", hash); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got %v, want ErrChallengeNotFound", err)
	}
}

func TestChallengeExpired(t *testing.T) {
	store, _ := newTestChallengeStore(t)
	ctx := context.Background()

	id, err := internal.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	secret, err := internal.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	hash := internal.HashSecret(secret)
	rec := &challengeRecord{
		PrincipalID: "p-1",
		SecretHash:  hash,
		ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
	}
	// Redis TTL longer than the record's own expiry.
	if err := store.Create(ctx, purposeResetPassword, id.String(), rec, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := store.Consume(ctx, purposeResetPassword, id.String(), hash); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("got %v, want ErrChallengeExpired", err)
	}
	// The expired record was removed; a retry is now a miss.
	if _, err := store.Consume(ctx, purposeResetPassword, id.String(), hash); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("after expiry cleanup: got %v, want ErrChallengeNotFound", err)
	}
}

func TestChallengeWrongSecretCountsAttempts(t *testing.T) {
	store, _ := newTestChallengeStore(t)
	ctx := context.Background()
	id, hash := seedChallenge(t, store, purposeEmailOTP, time.Hour)

	var wrong [32]byte
	for i := 0; i < 4; i++ {
		if _, err := store.Consume(ctx, purposeEmailOTP, id, wrong); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCode", i, err)
		}
	}
	// Fifth wrong attempt burns the challenge.
	if _, err := store.Consume(ctx, purposeEmailOTP, id, wrong); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("got %v, want ErrTooManyAttempts", err)
	}
	// Even the right secret is now useless.
	if _, err := store.Consume(ctx, purposeEmailOTP, id, hash); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got %v, want ErrChallengeNotFound", err)
	}
}

func TestChallengePurposeIsolation(t *testing.T) {
	store, _ := newTestChallengeStore(t)
	ctx := context.Background()
	id, hash := seedChallenge(t, store, purposeVerifyEmail, time.Hour)

	// A verification token cannot redeem as a password reset.
	if _, err := store.Consume(ctx, purposeResetPassword, id, hash); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("cross purpose: got %v, want ErrChallengeNotFound", err)
	}
	// The original purpose still works.
	if _, err := store.Consume(ctx, purposeVerifyEmail, id, hash); err != nil {
		t.Fatalf("original purpose: %v", err)
	}
}

func TestChallengeRecordRoundTrip(t *testing.T) {
	rec := &challengeRecord{
		PrincipalID: "p-1",
		Email:       "a@x.com",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		Attempts:    3,
	}
	rec.SecretHash = internal.HashString("secret")

	raw, err := encodeChallengeRecord(purposeMagicLink, rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeChallengeRecord(purposeMagicLink, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}

	if _, err := decodeChallengeRecord(purposeEmailOTP, raw); err == nil {
		t.Fatal("decode accepted a purpose mismatch")
	}
}
