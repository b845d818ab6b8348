package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
)

// Engine runs the identity and session lifecycle: sign-up, sign-in, sessions,
// two-factor authentication and temporary codes. It holds no mutable state
// of its own beyond its stores and is safe for concurrent use.
type Engine struct {
	config       Config
	users        UserStore
	mailer       Mailer
	scorer       StrengthScorer
	clock        Clock
	ids          IDGenerator
	logger       *slog.Logger
	sessionStore *session.Store
	tempCodes    *stores.TempCodeStore
	limiter      *rate.Limiter
	passwordHash *password.Argon2
	totp         *totpManager
	audit        *auditDispatcher
	metrics      *Metrics
	mailBody     *template.Template

	dummyOnce sync.Once
	dummyHash string
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis connection behind the session store.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessionStore.Ping(ctx)
}

// ProvisioningURI returns the otpauth:// URI an authenticator app scans to
// enroll secret for account.
func (e *Engine) ProvisioningURI(secret, account string) string {
	if e == nil || e.totp == nil {
		return ""
	}
	return e.totp.ProvisionURI(secret, account)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now().UTC()
}

func (e *Engine) ready(op string) error {
	if e == nil || e.users == nil || e.sessionStore == nil || e.tempCodes == nil || e.passwordHash == nil {
		return &Error{Kind: KindDependency, Op: op, Err: ErrEngineNotReady}
	}
	return nil
}

/*
====================================
CREDENTIAL STORE
====================================
*/

func (e *Engine) hashPassword(op, plaintext string) (string, error) {
	hash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrEmptyPassword):
			return "", validationError(op, "password", "password must not be empty")
		case errors.Is(err, password.ErrPasswordTooLong):
			return "", validationError(op, "password", "password is too long")
		}
		return "", &Error{Kind: KindDependency, Op: op, Err: err}
	}
	return hash, nil
}

// verifyPassword reports a mismatch as (false, nil). A malformed stored hash
// is an error, never a match.
func (e *Engine) verifyPassword(plaintext, hash string) (bool, error) {
	ok, err := e.passwordHash.Verify(plaintext, hash)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// burnPasswordCheck runs one verification against a fixed hash so an unknown
// email costs the same as a wrong password.
func (e *Engine) burnPasswordCheck(plaintext string) {
	e.dummyOnce.Do(func() {
		e.dummyHash, _ = e.passwordHash.Hash("goidentity-unknown-user-placeholder")
	})
	if e.dummyHash == "" {
		return
	}
	_, _ = e.passwordHash.Verify(plaintext, e.dummyHash)
}

// maybeRehash upgrades a stored hash produced with older Argon2 parameters.
// Failures are logged and never fail the caller.
func (e *Engine) maybeRehash(ctx context.Context, user *User, plaintext string) {
	if !e.config.Password.UpgradeOnSignIn {
		return
	}
	needs, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		return
	}

	updated := *user
	updated.PasswordHash = hash
	updated.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, &updated); err != nil {
		e.logger.WarnContext(ctx, "password rehash not saved",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return
	}
	*user = updated
	e.metricInc(MetricPasswordRehashed)
	e.emitAudit(ctx, auditEventPasswordRehashed, true, user.ID, "", nil, nil)
}

/*
====================================
ERROR MAPPING
====================================
*/

// storeError maps a UserStore failure. Sentinels the store is contracted to
// return keep their Kind; anything else is a dependency failure.
func (e *Engine) storeError(ctx context.Context, op string, err error) error {
	if classify(err) != KindUnknown {
		return newError(op, err)
	}
	e.logger.ErrorContext(ctx, "user store failure", slog.String("op", op), slog.Any("error", err))
	return &Error{Kind: KindDependency, Op: op, Err: fmt.Errorf("%w: %v", ErrStoreUnavailable, err)}
}

func (e *Engine) sessionStoreError(ctx context.Context, op string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return newError(op, ErrSessionNotFound)
	}
	e.logger.ErrorContext(ctx, "session store failure", slog.String("op", op), slog.Any("error", err))
	return &Error{Kind: KindDependency, Op: op, Err: fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)}
}

func (e *Engine) tempCodeStoreError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, stores.ErrTempCodeExists):
		return newError(op, ErrTempCodeExists)
	case errors.Is(err, stores.ErrTempCodeNotFound):
		return newError(op, ErrTempCodeNotFound)
	}
	e.logger.ErrorContext(ctx, "temp code store failure", slog.String("op", op), slog.Any("error", err))
	return &Error{Kind: KindDependency, Op: op, Err: fmt.Errorf("%w: %v", ErrTempCodeStoreUnavailable, err)}
}

func (e *Engine) loadUser(ctx context.Context, op, userID string) (*User, error) {
	if userID == "" {
		return nil, validationError(op, "user_id", "user id is required")
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, e.storeError(ctx, op, err)
	}
	if user == nil {
		return nil, newError(op, ErrUserNotFound)
	}
	return user, nil
}

/*
====================================
ID GENERATION
====================================
*/

type randomIDGenerator struct {
	length int
}

func newRandomIDGenerator(length int) *randomIDGenerator {
	return &randomIDGenerator{length: length}
}

// NewID draws length characters from the lowercase alphanumeric ID alphabet.
func (g *randomIDGenerator) NewID() (string, error) {
	return internal.RandomString(internal.UserIDAlphabet, g.length)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
