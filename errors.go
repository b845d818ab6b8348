package goIdentity

import (
	"errors"
	"strings"
)

// Kind classifies an error for the transport layer. A Kind is itself an
// error, so callers can match a whole class with errors.Is(err, KindConflict).
type Kind uint8

const (
	// KindUnknown is reported for errors that did not originate in the engine.
	KindUnknown Kind = iota
	// KindValidation marks structural input errors. Always recoverable client-side.
	KindValidation
	// KindConflict marks uniqueness violations (email, username, outstanding code, 2FA already on).
	KindConflict
	// KindNotFound marks absent users, sessions and codes.
	KindNotFound
	// KindUnauthorized marks password or second-factor mismatches.
	KindUnauthorized
	// KindPolicy marks weak passwords, session caps and expiration-window violations.
	KindPolicy
	// KindDependency marks store, cache or mailer failures.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindPolicy:
		return "policy_violation"
	case KindDependency:
		return "dependency_failure"
	default:
		return "unknown"
	}
}

func (k Kind) Error() string {
	return k.String()
}

var (
	// ErrInvalidInput is wrapped by every structural validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrUserIDTaken is returned by a UserStore when a generated user ID collides.
	ErrUserIDTaken = errors.New("user id already exists")
	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned by SignIn on a password mismatch, and
	// on an unknown email unless unknown users are distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPassword is returned when a password re-verification fails.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrWeakPassword is returned when the strength scorer rates a password below the minimum.
	ErrWeakPassword = errors.New("password too weak")
	// ErrSessionLimitExceeded is returned when the user already holds the maximum number of sessions.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrExpirationOutOfRange is returned when a requested session expiry falls outside the allowed window.
	ErrExpirationOutOfRange = errors.New("session expiration out of range")
	// ErrSessionNotFound is returned when a session ID is unknown, deleted or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTwoFactorAlreadyEnabled is returned when enrolling a user who is already enrolled.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorNotEnabled is returned when an operation needs an active enrollment.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrTwoFactorRequired is returned by SignIn when the user is enrolled and no code was supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrTwoFactorInvalid is returned by SignIn when the second factor is rejected.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTooManyAttempts is returned by SignIn while the failed-attempt budget is used up.
	ErrTooManyAttempts = errors.New("too many failed sign-in attempts")
	// ErrTempCodeExists is returned while an unexpired code is outstanding for the same purpose and subject.
	ErrTempCodeExists = errors.New("temporary code already issued")
	// ErrTempCodeNotFound is returned when no code is outstanding for the purpose and subject.
	ErrTempCodeNotFound = errors.New("temporary code not found")
	// ErrTempCodeInvalid is returned when a submitted code does not match.
	ErrTempCodeInvalid = errors.New("invalid temporary code")
	// ErrUnknownPurpose is returned for a Purpose value outside the declared set.
	ErrUnknownPurpose = errors.New("unknown temporary code purpose")
	// ErrIDGenerationExhausted is returned when every generated user ID collided.
	ErrIDGenerationExhausted = errors.New("user id generation exhausted")
	// ErrStoreUnavailable wraps user store failures.
	ErrStoreUnavailable = errors.New("user store unavailable")
	// ErrSessionStoreUnavailable wraps session store failures.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	// ErrSignInLimiterUnavailable wraps failed sign-in limiter failures.
	ErrSignInLimiterUnavailable = errors.New("sign-in limiter unavailable")
	// ErrTempCodeStoreUnavailable wraps temporary code store failures.
	ErrTempCodeStoreUnavailable = errors.New("temporary code store unavailable")
	// ErrMailerUnavailable wraps mail delivery failures.
	ErrMailerUnavailable = errors.New("mailer unavailable")
	// ErrEngineNotReady is returned when an Engine was not produced by Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var sentinelKinds = map[error]Kind{
	ErrInvalidInput:             KindValidation,
	ErrUnknownPurpose:           KindValidation,
	ErrEmailTaken:               KindConflict,
	ErrUsernameTaken:            KindConflict,
	ErrUserIDTaken:              KindConflict,
	ErrTwoFactorAlreadyEnabled:  KindConflict,
	ErrTempCodeExists:           KindConflict,
	ErrUserNotFound:             KindNotFound,
	ErrSessionNotFound:          KindNotFound,
	ErrTempCodeNotFound:         KindNotFound,
	ErrTwoFactorNotEnabled:      KindNotFound,
	ErrInvalidCredentials:       KindUnauthorized,
	ErrInvalidPassword:          KindUnauthorized,
	ErrTwoFactorRequired:        KindUnauthorized,
	ErrTwoFactorInvalid:         KindUnauthorized,
	ErrTempCodeInvalid:          KindUnauthorized,
	ErrWeakPassword:             KindPolicy,
	ErrSessionLimitExceeded:     KindPolicy,
	ErrExpirationOutOfRange:     KindPolicy,
	ErrTooManyAttempts:          KindPolicy,
	ErrIDGenerationExhausted:    KindDependency,
	ErrStoreUnavailable:         KindDependency,
	ErrSessionStoreUnavailable:  KindDependency,
	ErrSignInLimiterUnavailable: KindDependency,
	ErrTempCodeStoreUnavailable: KindDependency,
	ErrMailerUnavailable:        KindDependency,
	ErrEngineNotReady:           KindDependency,
}

// Error is the structured error returned by every Engine operation. It
// carries the Kind, the operation name, an optional offending field and
// client-facing detail lines, and wraps both the sentinel and the Kind.
type Error struct {
	Kind    Kind
	Op      string
	Field   string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, "; "))
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Err, e.Kind}
}

// KindOf reports the Kind of err. Errors not produced by the engine report
// KindUnknown, except bare sentinels which report their registered Kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

func newError(op string, err error) *Error {
	kind := classify(err)
	if kind == KindUnknown {
		kind = KindDependency
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func validationError(op, field, detail string) *Error {
	e := &Error{Kind: KindValidation, Op: op, Field: field, Err: ErrInvalidInput}
	if detail != "" {
		e.Details = []string{detail}
	}
	return e
}
