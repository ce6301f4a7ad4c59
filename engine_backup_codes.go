package authkit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/expressthat/authkit/internal"
)

// backupCodeAlphabet omits 0/O/1/I so codes survive being read aloud
// or copied by hand.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newBackupCode(length int) (string, error) {
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("authkit: generate backup code: %w", err)
		}
		buf[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// formatBackupCode splits a code into two halves for readability. The
// canonical form strips the separator again.
func formatBackupCode(code string) string {
	half := len(code) / 2
	return code[:half] + "-" + code[half:]
}

func canonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// newBackupCodeSet generates the configured number of codes, returning
// the display forms and the hash records to persist.
func (e *Engine) newBackupCodeSet() ([]string, []BackupCodeRecord, error) {
	count := e.cfg.SecondFactor.BackupCodeCount
	plaintext := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode(e.cfg.SecondFactor.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		plaintext = append(plaintext, formatBackupCode(code))
		records = append(records, BackupCodeRecord{Hash: internal.HashString(code)})
	}
	return plaintext, records, nil
}

// consumeBackupCode spends one code. The credential store's
// ConsumeBackupCode is the atomicity point: each code succeeds at most
// once.
func (e *Engine) consumeBackupCode(ctx context.Context, principalID, code string) error {
	canonical := canonicalizeBackupCode(code)
	if canonical == "" {
		return ErrBackupCodeInvalid
	}
	ok, err := e.store.ConsumeBackupCode(ctx, principalID, internal.HashString(canonical))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventBackupCodeUsed, false, principalID, "", ErrBackupCodeInvalid, nil)
		return ErrBackupCodeInvalid
	}
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, principalID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the full code set after re-proving the
// account password. Codes from the previous set stop working
// immediately; the new plaintext codes are shown exactly once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, currentPassword string) ([]string, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	release, err := e.lock.Acquire(ctx, principalID)
	if err != nil {
		return nil, err
	}
	defer release()

	principal, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := e.verifyCurrentPassword(principal, currentPassword); err != nil {
		e.emitAudit(ctx, auditEventBackupCodesRenewed, false, principalID, "", err, nil)
		return nil, err
	}
	if !principal.TwoFactorEnabled {
		return nil, ErrSecondFactorNotEnabled
	}

	plaintext, records, err := e.newBackupCodeSet()
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceBackupCodes(ctx, principalID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRenewed, true, principalID, "", nil, nil)
	return plaintext, nil
}

// RemainingBackupCodes reports how many unspent codes the principal has
// left.
func (e *Engine) RemainingBackupCodes(ctx context.Context, principalID string) (int, error) {
	if err := e.checkClosed(); err != nil {
		return 0, err
	}
	n, err := e.store.CountBackupCodes(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
