package goIdentity

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MrEthical07/goIdentity/internal"
)

// EnableTwoFactor enrolls userID in TOTP and issues a batch of recovery
// codes. The returned secret and codes are shown exactly once; only hashes
// of the codes are stored. A second enrollment is ErrTwoFactorAlreadyEnabled.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID string) (*TwoFactorEnrollment, error) {
	const op = "EnableTwoFactor"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	state, err := e.users.GetTwoFactor(ctx, user.ID)
	if err != nil {
		return nil, e.storeError(ctx, op, err)
	}
	if _, enrolled := state.(TwoFactorEnabled); enrolled {
		return nil, newError(op, ErrTwoFactorAlreadyEnabled)
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, &Error{Kind: KindDependency, Op: op, Err: err}
	}
	codes, hashes, err := e.newRecoveryCodes(user.ID)
	if err != nil {
		return nil, &Error{Kind: KindDependency, Op: op, Err: err}
	}

	if err := e.users.CreateTwoFactor(ctx, user.ID, secret, hashes); err != nil {
		return nil, e.storeError(ctx, op, err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, user.ID, "", nil, nil)

	return &TwoFactorEnrollment{
		Secret:          secret,
		ProvisioningURI: e.totp.ProvisionURI(secret, user.Email),
		RecoveryCodes:   codes,
	}, nil
}

// VerifySecondFactor checks code against userID's second factor. A user
// without one is SecondFactorAccepted. Otherwise the TOTP is tried within
// the configured skew, then the recovery codes; a matching recovery code is
// removed atomically and reported as SecondFactorRecoveryCodeConsumed.
func (e *Engine) VerifySecondFactor(ctx context.Context, userID, code string) (SecondFactorOutcome, error) {
	const op = "VerifySecondFactor"
	if err := e.ready(op); err != nil {
		return SecondFactorRejected, err
	}
	if userID == "" {
		return SecondFactorRejected, validationError(op, "user_id", "user id is required")
	}

	state, err := e.users.GetTwoFactor(ctx, userID)
	if err != nil {
		return SecondFactorRejected, e.storeError(ctx, op, err)
	}
	return e.verifySecondFactor(ctx, op, userID, state, code)
}

func (e *Engine) verifySecondFactor(ctx context.Context, op, userID string, state TwoFactorState, code string) (SecondFactorOutcome, error) {
	outcome, pending, err := e.matchSecondFactor(ctx, op, userID, state, code)
	if err != nil || pending == nil {
		return outcome, err
	}
	return e.redeemRecoveryCode(ctx, op, userID, pending)
}

// pendingRecoveryCode is a recovery code found in the stored set that has
// not been removed yet.
type pendingRecoveryCode struct {
	hash      [32]byte
	remaining int
}

// matchSecondFactor checks code without changing any state. A matching TOTP
// is SecondFactorAccepted; a recovery code in the stored set is returned as
// pending and must go through redeemRecoveryCode before it counts.
func (e *Engine) matchSecondFactor(ctx context.Context, op, userID string, state TwoFactorState, code string) (SecondFactorOutcome, *pendingRecoveryCode, error) {
	enabled, ok := state.(TwoFactorEnabled)
	if !ok {
		return SecondFactorAccepted, nil, nil
	}

	code = strings.TrimSpace(code)
	if code == "" {
		e.recordSecondFactorFailure(ctx, userID)
		return SecondFactorRejected, nil, nil
	}

	if len(code) == e.config.TOTP.Digits && isNumericString(code) {
		matched, err := e.totp.Verify(enabled.Secret, code, e.now())
		if err != nil {
			e.logger.ErrorContext(ctx, "stored totp secret unusable", slog.String("user_id", userID), slog.Any("error", err))
			return SecondFactorRejected, nil, &Error{Kind: KindDependency, Op: op, Err: err}
		}
		if matched {
			e.metricInc(MetricSecondFactorSuccess)
			return SecondFactorAccepted, nil, nil
		}
	}

	canonical := internal.CanonicalRecoveryCode(code)
	if len(canonical) != e.config.TwoFactor.RecoveryCodeLength {
		e.recordSecondFactorFailure(ctx, userID)
		return SecondFactorRejected, nil, nil
	}
	hash := internal.RecoveryCodeHash(userID, canonical)
	if !containsHash(enabled.RecoveryCodeHashes, hash) {
		e.recordSecondFactorFailure(ctx, userID)
		return SecondFactorRejected, nil, nil
	}
	return SecondFactorRecoveryCodeConsumed, &pendingRecoveryCode{
		hash:      hash,
		remaining: len(enabled.RecoveryCodeHashes) - 1,
	}, nil
}

// redeemRecoveryCode removes a pending recovery code. It is rejected when a
// concurrent caller removed it first.
func (e *Engine) redeemRecoveryCode(ctx context.Context, op, userID string, pending *pendingRecoveryCode) (SecondFactorOutcome, error) {
	consumed, err := e.users.ConsumeRecoveryCode(ctx, userID, pending.hash)
	if err != nil {
		return SecondFactorRejected, e.storeError(ctx, op, err)
	}
	if !consumed {
		e.recordSecondFactorFailure(ctx, userID)
		return SecondFactorRejected, nil
	}

	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, userID, "", nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(pending.remaining)}
	})
	return SecondFactorRecoveryCodeConsumed, nil
}

func (e *Engine) recordSecondFactorFailure(ctx context.Context, userID string) {
	e.metricInc(MetricSecondFactorFailure)
	e.emitAudit(ctx, auditEventSecondFactorFailure, false, userID, "", ErrTwoFactorInvalid, nil)
}

// DisableTwoFactor removes userID's second factor after re-verifying the
// account password. It fails with ErrTwoFactorNotEnabled when there is
// nothing to remove and ErrInvalidPassword on a mismatch.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password string) error {
	const op = "DisableTwoFactor"
	if err := e.ready(op); err != nil {
		return err
	}
	if password == "" {
		return validationError(op, "password", "password is required")
	}

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}

	state, err := e.users.GetTwoFactor(ctx, user.ID)
	if err != nil {
		return e.storeError(ctx, op, err)
	}
	if _, enrolled := state.(TwoFactorEnabled); !enrolled {
		return newError(op, ErrTwoFactorNotEnabled)
	}

	ok, err := e.verifyPassword(password, user.PasswordHash)
	if err != nil {
		return &Error{Kind: KindDependency, Op: op, Err: err}
	}
	if !ok {
		e.emitAudit(ctx, auditEventTwoFactorDisableFailure, false, user.ID, "", ErrInvalidPassword, nil)
		return &Error{Kind: KindUnauthorized, Op: op, Field: "password", Err: ErrInvalidPassword}
	}

	deleted, err := e.users.DeleteTwoFactor(ctx, user.ID)
	if err != nil {
		return e.storeError(ctx, op, err)
	}
	if !deleted {
		return newError(op, ErrTwoFactorNotEnabled)
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, user.ID, "", nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces the whole recovery code set and returns
// the new plaintext codes. The TOTP secret is untouched.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	const op = "RegenerateRecoveryCodes"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError(op, "user_id", "user id is required")
	}

	state, err := e.users.GetTwoFactor(ctx, userID)
	if err != nil {
		return nil, e.storeError(ctx, op, err)
	}
	if _, enrolled := state.(TwoFactorEnabled); !enrolled {
		return nil, newError(op, ErrTwoFactorNotEnabled)
	}

	codes, hashes, err := e.newRecoveryCodes(userID)
	if err != nil {
		return nil, &Error{Kind: KindDependency, Op: op, Err: err}
	}
	if err := e.users.ReplaceRecoveryCodes(ctx, userID, hashes); err != nil {
		if errors.Is(err, ErrTwoFactorNotEnabled) {
			return nil, newError(op, ErrTwoFactorNotEnabled)
		}
		return nil, e.storeError(ctx, op, err)
	}

	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesRegenerated, true, userID, "", nil, nil)
	return codes, nil
}

// newRecoveryCodes returns a fresh batch of distinct codes and their
// owner-bound hashes, in matching order.
func (e *Engine) newRecoveryCodes(userID string) ([]string, [][32]byte, error) {
	count := e.config.TwoFactor.RecoveryCodeCount
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	seen := make(map[string]struct{}, count)

	for len(codes) < count {
		code, err := internal.RandomString(internal.RecoveryCodeAlphabet, e.config.TwoFactor.RecoveryCodeLength)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, internal.RecoveryCodeHash(userID, code))
	}
	return codes, hashes, nil
}

// containsHash scans every entry so the time taken does not depend on the
// position of a match.
func containsHash(hashes [][32]byte, target [32]byte) bool {
	found := 0
	for i := range hashes {
		found |= subtle.ConstantTimeCompare(hashes[i][:], target[:])
	}
	return found == 1
}
