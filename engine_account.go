package goIdentity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
)

// ConfirmEmailVerification redeems a PurposeVerifyEmail code and marks the
// user's email as verified.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, userID, code string) (*User, error) {
	const op = "ConfirmEmailVerification"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	redeemed, err := e.redeemTempCode(ctx, op, PurposeVerifyEmail, user.ID, code)
	if err != nil {
		return nil, err
	}

	user.IsEmailVerified = true
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		e.restoreTempCode(ctx, op, redeemed)
		return nil, e.storeError(ctx, op, err)
	}

	e.emitAudit(ctx, auditEventEmailVerified, true, user.ID, "", nil, nil)
	return user, nil
}

// ResetPassword redeems a PurposeChangePassword code, stores a new password
// hash and signs the user out everywhere. The new password is validated and
// scored before the code is redeemed, so a rejected password leaves the code
// usable.
func (e *Engine) ResetPassword(ctx context.Context, userID, code, newPassword string) error {
	const op = "ResetPassword"
	if err := e.ready(op); err != nil {
		return err
	}

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}
	if err := e.validateNewPassword(op, newPassword); err != nil {
		return err
	}
	if err := e.checkStrength(op, newPassword, user.Email, user.Username); err != nil {
		return err
	}
	hash, err := e.hashPassword(op, newPassword)
	if err != nil {
		return err
	}

	redeemed, err := e.redeemTempCode(ctx, op, PurposeChangePassword, user.ID, code)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		e.restoreTempCode(ctx, op, redeemed)
		return e.storeError(ctx, op, err)
	}

	revoked := e.revokeAllBestEffort(ctx, op, user.ID)
	e.emitAudit(ctx, auditEventPasswordReset, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one. Every session is revoked; the caller signs in again.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	const op = "ChangePassword"
	if err := e.ready(op); err != nil {
		return err
	}
	if currentPassword == "" {
		return validationError(op, "current_password", "current password is required")
	}

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}
	if err := e.validateNewPassword(op, newPassword); err != nil {
		return err
	}

	ok, err := e.verifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return &Error{Kind: KindDependency, Op: op, Err: err}
	}
	if !ok {
		return &Error{Kind: KindUnauthorized, Op: op, Field: "current_password", Err: ErrInvalidPassword}
	}
	if err := e.checkStrength(op, newPassword, user.Email, user.Username); err != nil {
		return err
	}
	hash, err := e.hashPassword(op, newPassword)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		return e.storeError(ctx, op, err)
	}

	e.revokeAllBestEffort(ctx, op, user.ID)
	e.emitAudit(ctx, auditEventPasswordReset, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"method": "current_password"}
	})
	return nil
}

// ChangeEmail redeems a PurposeChangeEmail code and replaces the account
// email. The new address starts unverified.
func (e *Engine) ChangeEmail(ctx context.Context, userID, code, newEmail string) (*User, error) {
	const op = "ChangeEmail"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(op, newEmail)
	if err != nil {
		return nil, err
	}
	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if email == user.Email {
		return nil, validationError(op, "email", "new email matches the current one")
	}

	taken, err := e.users.EmailExists(ctx, email)
	if err != nil {
		return nil, e.storeError(ctx, op, err)
	}
	if taken {
		return nil, &Error{Kind: KindConflict, Op: op, Field: "email", Err: ErrEmailTaken}
	}

	redeemed, err := e.redeemTempCode(ctx, op, PurposeChangeEmail, user.ID, code)
	if err != nil {
		return nil, err
	}

	previous := user.Email
	user.Email = email
	user.IsEmailVerified = false
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		e.restoreTempCode(ctx, op, redeemed)
		return nil, e.storeError(ctx, op, err)
	}

	e.emitAudit(ctx, auditEventEmailChanged, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"previous_domain": emailDomain(previous)}
	})
	return user, nil
}

// DeleteAccount redeems a PurposeDeleteAccount code, deletes the user with
// its settings and second factor, then deletes its sessions and any other
// outstanding codes.
func (e *Engine) DeleteAccount(ctx context.Context, userID, code string) error {
	const op = "DeleteAccount"
	if err := e.ready(op); err != nil {
		return err
	}

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}
	redeemed, err := e.redeemTempCode(ctx, op, PurposeDeleteAccount, user.ID, code)
	if err != nil {
		return err
	}

	if err := e.users.DeleteUser(ctx, user.ID); err != nil {
		e.restoreTempCode(ctx, op, redeemed)
		return e.storeError(ctx, op, err)
	}

	// Sessions left behind resolve to ErrSessionNotFound once the user is gone.
	e.revokeAllBestEffort(ctx, op, user.ID)
	for _, p := range AllPurposes() {
		if err := e.tempCodes.Delete(ctx, uint8(p), user.ID); err != nil {
			e.logger.WarnContext(ctx, "temp code not deleted with account",
				slog.String("purpose", p.String()),
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		}
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, user.ID, "", nil, nil)
	return nil
}

// UpdateBio replaces the user's bio. It is trimmed and bounded like the bio
// given at sign-up; an empty bio clears it.
func (e *Engine) UpdateBio(ctx context.Context, userID, bio string) (*User, error) {
	const op = "UpdateBio"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	normalized, err := e.normalizeBio(op, bio)
	if err != nil {
		return nil, err
	}
	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if user.Bio == normalized {
		return user, nil
	}

	user.Bio = normalized
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		return nil, e.storeError(ctx, op, err)
	}
	return user, nil
}

func (e *Engine) revokeAllBestEffort(ctx context.Context, op, userID string) int {
	n, err := e.sessionStore.DeleteAllForUser(ctx, userID)
	if err != nil {
		e.logger.ErrorContext(ctx, "sessions not revoked",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return 0
	}
	if n > 0 {
		e.metricInc(MetricSignOutAll)
	}
	return n
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}

// RequestPasswordReset mails a PurposeChangePassword code to the account
// registered under email. It is meant for signed-out callers, so an unknown
// email, an already outstanding code and a failed delivery all return nil.
// Delivery failures are logged and counted by RequestTempCode.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "RequestPasswordReset"
	if err := e.ready(op); err != nil {
		return err
	}

	normalized, err := normalizeEmail(op, email)
	if err != nil {
		return err
	}
	user, err := e.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.logger.DebugContext(ctx, "password reset for unknown email", slog.String("op", op))
			return nil
		}
		return e.storeError(ctx, op, err)
	}
	if user == nil {
		return nil
	}

	err = e.RequestTempCode(ctx, PurposeChangePassword, user.ID)
	switch {
	case err == nil, errors.Is(err, ErrTempCodeExists):
		return nil
	case errors.Is(err, ErrMailerUnavailable):
		e.logger.WarnContext(ctx, "password reset mail not delivered", slog.String("op", op), slog.String("user_id", user.ID))
		return nil
	}
	return err
}
