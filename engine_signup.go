package goIdentity

import (
	"context"
	"errors"
)

// SignUp registers a new user. Checks run in a fixed order and the first
// failure wins:
//
//  1. input validation (KindValidation)
//  2. email uniqueness (ErrEmailTaken)
//  3. username uniqueness when usernames are enabled (ErrUsernameTaken)
//  4. password strength (ErrWeakPassword)
//  5. user ID generation, retried against the store on collision
//  6. persistence of the user with DefaultUserSettings
//
// The pre-checks in steps 2 and 3 are advisory. Concurrent sign-ups are
// resolved by the UserStore's unique constraints, which surface the same
// sentinels.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	const op = "SignUp"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	user, err := e.signUp(ctx, op, req)
	if err != nil {
		if errors.Is(err, KindConflict) {
			e.metricInc(MetricSignUpConflict)
		}
		e.emitAudit(ctx, auditEventSignUpFailure, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUpSuccess, true, user.ID, "", nil, nil)
	return user, nil
}

func (e *Engine) signUp(ctx context.Context, op string, req SignUpRequest) (*User, error) {
	email, err := normalizeEmail(op, req.Email)
	if err != nil {
		return nil, err
	}
	var username string
	if req.Username != "" {
		if !e.config.SignUp.UsernamesEnabled {
			return nil, validationError(op, "username", "usernames are not enabled")
		}
		if username, err = normalizeUsername(op, req.Username); err != nil {
			return nil, err
		}
	}
	bio, err := e.normalizeBio(op, req.Bio)
	if err != nil {
		return nil, err
	}
	if err := e.validateNewPassword(op, req.Password); err != nil {
		return nil, err
	}

	taken, err := e.users.EmailExists(ctx, email)
	if err != nil {
		return nil, e.storeError(ctx, op, err)
	}
	if taken {
		return nil, &Error{Kind: KindConflict, Op: op, Field: "email", Err: ErrEmailTaken}
	}

	if username != "" {
		taken, err := e.users.UsernameExists(ctx, username)
		if err != nil {
			return nil, e.storeError(ctx, op, err)
		}
		if taken {
			return nil, &Error{Kind: KindConflict, Op: op, Field: "username", Err: ErrUsernameTaken}
		}
	}

	if err := e.checkStrength(op, req.Password, email, username); err != nil {
		return nil, err
	}

	hash, err := e.hashPassword(op, req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	user := &User{
		Email:        email,
		Username:     username,
		Bio:          bio,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for attempt := 0; attempt < e.config.SignUp.MaxIDAttempts; attempt++ {
		id, err := e.ids.NewID()
		if err != nil {
			return nil, &Error{Kind: KindDependency, Op: op, Err: err}
		}
		exists, err := e.users.UserIDExists(ctx, id)
		if err != nil {
			return nil, e.storeError(ctx, op, err)
		}
		if exists {
			continue
		}

		user.ID = id
		err = e.users.CreateUser(ctx, user, DefaultUserSettings())
		if err == nil {
			return user, nil
		}
		if errors.Is(err, ErrUserIDTaken) {
			continue
		}
		mapped := e.storeError(ctx, op, err)
		var ie *Error
		if errors.As(mapped, &ie) && ie.Kind == KindConflict {
			switch {
			case errors.Is(err, ErrEmailTaken):
				ie.Field = "email"
			case errors.Is(err, ErrUsernameTaken):
				ie.Field = "username"
			}
		}
		return nil, mapped
	}

	return nil, newError(op, ErrIDGenerationExhausted)
}
