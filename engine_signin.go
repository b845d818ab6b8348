package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/rate"
)

// SignIn authenticates a user and creates a session. Checks run in order:
// input validation, failed-attempt limiter, user lookup, password, second factor when enrolled,
// expiry window, session cap, then session creation.
//
// An unknown email is reported as ErrInvalidCredentials and costs one
// password verification, unless Config.SignIn.DistinguishUnknownUser is set,
// in which case it is ErrUserNotFound. An enrolled user who omits
// TwoFactorCode gets ErrTwoFactorRequired; a wrong code gets
// ErrTwoFactorInvalid. A recovery code is only removed once the expiry
// window and session cap checks have passed.
func (e *Engine) SignIn(ctx context.Context, req SignInRequest) (*Session, error) {
	const op = "SignIn"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	start := time.Now()
	sess, userID, err := e.signIn(ctx, op, req)
	e.metricObserve(MetricSignInLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, userID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, sess.UserID, sess.Ref, nil, nil)
	return sess, nil
}

func (e *Engine) signIn(ctx context.Context, op string, req SignInRequest) (*Session, string, error) {
	email, err := normalizeEmail(op, req.Email)
	if err != nil {
		return nil, "", err
	}
	if req.Password == "" {
		return nil, "", validationError(op, "password", "password is required")
	}
	if len(req.Password) > e.config.Password.MaxBytes {
		return nil, "", validationError(op, "password", "password is too long")
	}
	if req.ExpiresAt.IsZero() {
		return nil, "", validationError(op, "expires_at", "expiration is required")
	}

	ip := clientIPFromContext(ctx)
	if err := e.limiter.Check(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricSignInThrottled)
			return nil, "", newError(op, ErrTooManyAttempts)
		}
		return nil, "", e.limiterError(ctx, op, err)
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, "", e.storeError(ctx, op, err)
	}
	if user == nil {
		e.burnPasswordCheck(req.Password)
		e.recordSignInFailure(ctx, email, ip)
		if e.config.SignIn.DistinguishUnknownUser {
			return nil, "", newError(op, ErrUserNotFound)
		}
		return nil, "", newError(op, ErrInvalidCredentials)
	}

	ok, err := e.verifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		return nil, user.ID, &Error{Kind: KindDependency, Op: op, Err: err}
	}
	if !ok {
		e.recordSignInFailure(ctx, email, ip)
		return nil, user.ID, newError(op, ErrInvalidCredentials)
	}

	state, err := e.users.GetTwoFactor(ctx, user.ID)
	if err != nil {
		return nil, user.ID, e.storeError(ctx, op, err)
	}
	var recovery *pendingRecoveryCode
	if _, enrolled := state.(TwoFactorEnabled); enrolled {
		code := strings.TrimSpace(req.TwoFactorCode)
		if code == "" {
			e.metricInc(MetricSecondFactorRequired)
			e.emitAudit(ctx, auditEventSecondFactorRequired, false, user.ID, "", ErrTwoFactorRequired, nil)
			return nil, user.ID, &Error{Kind: KindUnauthorized, Op: op, Field: "two_factor_code", Err: ErrTwoFactorRequired}
		}
		outcome, pending, err := e.matchSecondFactor(ctx, op, user.ID, state, code)
		if err != nil {
			return nil, user.ID, err
		}
		if outcome == SecondFactorRejected {
			e.recordSignInFailure(ctx, email, ip)
			return nil, user.ID, &Error{Kind: KindUnauthorized, Op: op, Field: "two_factor_code", Err: ErrTwoFactorInvalid}
		}
		recovery = pending
	}

	now := e.now()
	if err := e.admitSession(ctx, op, user.ID, req.ExpiresAt, now); err != nil {
		return nil, user.ID, err
	}
	if recovery != nil {
		outcome, err := e.redeemRecoveryCode(ctx, op, user.ID, recovery)
		if err != nil {
			return nil, user.ID, err
		}
		if outcome == SecondFactorRejected {
			e.recordSignInFailure(ctx, email, ip)
			return nil, user.ID, &Error{Kind: KindUnauthorized, Op: op, Field: "two_factor_code", Err: ErrTwoFactorInvalid}
		}
	}

	sess, err := e.storeSession(ctx, op, user.ID, req.ExpiresAt, now)
	if err != nil {
		return nil, user.ID, err
	}

	if err := e.limiter.Reset(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "sign-in limiter reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	e.maybeRehash(ctx, user, req.Password)
	return sess, user.ID, nil
}

// recordSignInFailure counts a failure. Limiter outages are logged and do
// not change the outcome of the failed attempt.
func (e *Engine) recordSignInFailure(ctx context.Context, email, ip string) {
	if err := e.limiter.RecordFailure(ctx, email, ip); err != nil {
		e.logger.WarnContext(ctx, "sign-in failure not recorded", slog.Any("error", err))
	}
}

func (e *Engine) limiterError(ctx context.Context, op string, err error) error {
	e.logger.ErrorContext(ctx, "sign-in limiter unavailable", slog.String("op", op), slog.Any("error", err))
	return &Error{Kind: KindDependency, Op: op, Err: fmt.Errorf("%w: %v", ErrSignInLimiterUnavailable, err)}
}
