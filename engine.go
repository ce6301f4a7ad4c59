package authkit

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/expressthat/authkit/internal"
	"github.com/expressthat/authkit/jwt"
	"github.com/expressthat/authkit/password"
	"github.com/expressthat/authkit/session"
)

// Engine is the authentication engine. Construct it with New and the
// builder; the zero value is not usable.
type Engine struct {
	cfg Config

	store   CredentialStore
	mailer  Mailer
	captcha CaptchaVerifier

	hasher   *password.Hasher
	tokens   *jwt.Manager
	sessions *session.Store
	totp     *totpManager

	challenges *challengeStore
	pending    *pendingSignInStore
	devices    *trustedDeviceStore

	signinLimiter *attemptLimiter
	codeLimiter   *attemptLimiter
	requests      *requestLimiter
	lock          *twoFactorLock

	methods *methodRegistry
	audit   *auditDispatcher
	metrics *Metrics

	closed atomic.Bool
}

// Close stops the audit dispatcher after draining buffered events. The
// engine rejects all operations afterwards.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.audit != nil {
		e.audit.close()
	}
	return nil
}

func (e *Engine) checkClosed() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// AuditDropped reports how many audit events were shed because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.droppedCount()
}

// MetricsSnapshot copies all counters. Index by MetricID.
func (e *Engine) MetricsSnapshot() [NumMetrics]uint64 {
	return e.metrics.Snapshot()
}

// HistogramSnapshot copies one latency histogram's buckets.
func (e *Engine) HistogramSnapshot(id HistogramID) [8]uint64 {
	return e.metrics.HistogramSnapshot(id)
}

func (e *Engine) metricInc(id MetricID) { e.metrics.Inc(id) }

func (e *Engine) observeLatency(id HistogramID, start time.Time) {
	e.metrics.Observe(id, time.Since(start))
}

// issueSession establishes a server-side session and signs its access
// token.
func (e *Engine) issueSession(ctx context.Context, p *Principal, trusted bool) (*SignInResult, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &session.Session{
		SessionID:     id.String(),
		PrincipalID:   p.ID,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		TwoFactor:     p.TwoFactorEnabled,
		TrustedDevice: trusted,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.cfg.Session.TTL).Unix(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	token, err := e.tokens.CreateAccess(p.ID, sess.SessionID, p.EmailVerified, p.TwoFactorEnabled)
	if err != nil {
		_ = e.sessions.Delete(ctx, sess.SessionID, p.ID)
		return nil, err
	}

	e.metricInc(MetricSessionIssued)
	return &SignInResult{
		Status:      StatusSignedIn,
		PrincipalID: p.ID,
		Email:       p.Email,
		SessionID:   sess.SessionID,
		AccessToken: token,
	}, nil
}

// Validate checks an access token and, in strict mode, its server-side
// session. It is the entry point used by the route guard.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeLatency(HistValidate, start)

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	result := &AuthResult{
		PrincipalID:   claims.UID,
		SessionID:     claims.SID,
		EmailVerified: claims.EmailVerified,
		TwoFactor:     claims.TwoFactor,
	}

	if e.cfg.ValidationMode == ModeStrict {
		sess, err := e.sessions.Get(ctx, claims.SID)
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricValidateFailure)
			return nil, ErrSessionNotFound
		}
		if err != nil {
			e.metricInc(MetricValidateFailure)
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if sess.PrincipalID != claims.UID {
			e.metricInc(MetricValidateFailure)
			return nil, ErrTokenInvalid
		}
		result.Email = sess.Email
		result.EmailVerified = sess.EmailVerified
		result.TwoFactor = sess.TwoFactor
		result.TrustedDevice = sess.TrustedDevice
	}

	e.metricInc(MetricValidateSuccess)
	return result, nil
}

// SignOut revokes one session.
func (e *Engine) SignOut(ctx context.Context, sessionID, principalID string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	err := e.sessions.Delete(ctx, sessionID, principalID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSignOut, err == nil, principalID, sessionID, err, nil)
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	return nil
}

// SignOutAll revokes every session for the principal and returns how
// many were removed.
func (e *Engine) SignOutAll(ctx context.Context, principalID string) (int, error) {
	if err := e.checkClosed(); err != nil {
		return 0, err
	}
	n, err := e.sessions.DeleteAllForPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSignOutAll, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprintf("%d", n)}
	})
	return n, nil
}

// RevokeTrustedDevices forgets every trusted device for the principal,
// so the next sign-in goes through the second factor again. Returns how
// many records were removed.
func (e *Engine) RevokeTrustedDevices(ctx context.Context, principalID string) (int, error) {
	if err := e.checkClosed(); err != nil {
		return 0, err
	}
	n, err := e.devices.RevokeAll(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n > 0 {
		e.emitAudit(ctx, auditEventDevicesRevoked, true, principalID, "", nil, nil)
	}
	return n, nil
}

// ActiveSessionIDs lists a principal's live session IDs.
func (e *Engine) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	ids, err := e.sessions.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// sleepEnumerationDelay pauses for a random interval before answering
// requests about unknown emails, so response timing does not separate
// known from unknown addresses.
func (e *Engine) sleepEnumerationDelay(ctx context.Context) {
	min, max := e.cfg.SignIn.EnumerationDelayMin, e.cfg.SignIn.EnumerationDelayMax
	if max <= 0 {
		return
	}
	d := min
	if span := max - min; span > 0 {
		var raw [8]byte
		if _, err := rand.Read(raw[:]); err == nil {
			d += time.Duration(binary.BigEndian.Uint64(raw[:]) % uint64(span))
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// loadPrincipal fetches by ID, mapping store misses to
// ErrAccountNotFound.
func (e *Engine) loadPrincipal(ctx context.Context, id string) (*Principal, error) {
	p, err := e.store.GetPrincipalByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if p == nil {
		return nil, ErrAccountNotFound
	}
	return p, nil
}

// sendMail delivers through the configured mailer and records failures
// in the audit stream. Request flows treat delivery as best effort.
func (e *Engine) sendMail(ctx context.Context, principalID string, mail Mail) error {
	if err := e.mailer.Send(ctx, mail); err != nil {
		e.emitAudit(ctx, auditEventMailFailed, false, principalID, "", fmt.Errorf("%w: %v", ErrMailUnavailable, err), func() map[string]string {
			return map[string]string{"subject": mail.Subject}
		})
		return fmt.Errorf("%w: %v", ErrMailUnavailable, err)
	}
	return nil
}
