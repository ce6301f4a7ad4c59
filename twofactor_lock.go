package authkit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// twoFactorLock serializes enrollment, disable and backup code
// regeneration per principal with a Redis SET NX lease, so two racing
// enrollments cannot interleave their writes to the credential store.
type twoFactorLock struct {
	rdb   redis.UniversalClient
	lease time.Duration
}

func newTwoFactorLock(rdb redis.UniversalClient) *twoFactorLock {
	return &twoFactorLock{rdb: rdb, lease: 10 * time.Second}
}

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Acquire takes the lock and returns a release func. It returns
// ErrSecondFactorBusy when another operation holds it.
func (l *twoFactorLock) Acquire(ctx context.Context, principalID string) (func(), error) {
	key := "ak2l:" + principalID
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	if !ok {
		return nil, ErrSecondFactorBusy
	}

	release := func() {
		// Only the holder's token releases, so an expired lease taken
		// over by another caller is never stolen back.
		_ = releaseLockScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
	}
	return release, nil
}
