package goIdentity

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/session"
)

// maxSessionIDAttempts bounds retries when a fresh token's ref is already
// stored. With 128 random characters a retry is not expected in practice.
const maxSessionIDAttempts = 3

// CreateSession issues a session for an existing user. expiresAt must lie
// within [now+MinLifetime, now+MaxLifetime], both ends inclusive. A user
// holding Session.MaxPerUser live sessions is refused with
// ErrSessionLimitExceeded until one is deleted or expires.
//
// The cap is check-then-act: concurrent creations for one user can exceed
// it by the number of racing callers.
func (e *Engine) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*Session, error) {
	const op = "CreateSession"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	if _, err := e.loadUser(ctx, op, userID); err != nil {
		return nil, err
	}
	return e.createSession(ctx, op, userID, expiresAt)
}

func (e *Engine) createSession(ctx context.Context, op, userID string, expiresAt time.Time) (*Session, error) {
	now := e.now()
	if err := e.admitSession(ctx, op, userID, expiresAt, now); err != nil {
		return nil, err
	}
	return e.storeSession(ctx, op, userID, expiresAt, now)
}

// admitSession runs the expiry window and cap checks without writing
// anything.
func (e *Engine) admitSession(ctx context.Context, op, userID string, expiresAt, now time.Time) error {
	expiresAt = expiresAt.UTC()
	if expiresAt.Before(now.Add(e.config.Session.MinLifetime)) || expiresAt.After(now.Add(e.config.Session.MaxLifetime)) {
		return &Error{
			Kind:  KindPolicy,
			Op:    op,
			Field: "expires_at",
			Details: []string{
				"expiration must be between " + e.config.Session.MinLifetime.String() + " and " + e.config.Session.MaxLifetime.String() + " from now",
			},
			Err: ErrExpirationOutOfRange,
		}
	}

	count, err := e.sessionStore.CountForUser(ctx, userID, now)
	if err != nil {
		return e.sessionStoreError(ctx, op, err)
	}
	if count >= e.config.Session.MaxPerUser {
		e.metricInc(MetricSessionLimitExceeded)
		e.emitAudit(ctx, auditEventSessionLimitExceeded, false, userID, "", ErrSessionLimitExceeded, nil)
		return newError(op, ErrSessionLimitExceeded)
	}
	return nil
}

func (e *Engine) storeSession(ctx context.Context, op, userID string, expiresAt, now time.Time) (*Session, error) {
	for attempt := 0; attempt < maxSessionIDAttempts; attempt++ {
		token, err := internal.NewSessionToken(e.config.Session.TokenLength)
		if err != nil {
			return nil, &Error{Kind: KindDependency, Op: op, Err: err}
		}

		rec := &session.Record{
			Ref:       internal.SessionRef(token),
			UserID:    userID,
			CreatedAt: now.UnixMilli(),
			ExpiresAt: expiresAt.UnixMilli(),
		}
		err = e.sessionStore.Create(ctx, rec, now)
		if errors.Is(err, session.ErrRefExists) {
			continue
		}
		if err != nil {
			return nil, e.sessionStoreError(ctx, op, err)
		}

		e.metricInc(MetricSessionCreated)
		e.emitAudit(ctx, auditEventSessionCreated, true, userID, rec.Ref, nil, nil)

		sess := sessionFromRecord(rec)
		sess.ID = token
		return sess, nil
	}

	return nil, &Error{Kind: KindDependency, Op: op, Err: errors.New("session id collision retries exhausted")}
}

// DeleteSession deletes the session identified by its bearer ID. An unknown,
// already deleted or expired ID is ErrSessionNotFound. Ownership checks are
// the caller's concern.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	const op = "DeleteSession"
	if err := e.ready(op); err != nil {
		return err
	}
	if err := validateSessionID(op, sessionID); err != nil {
		return err
	}

	ref := internal.SessionRef(sessionID)
	rec, err := e.sessionStore.Get(ctx, ref, e.now())
	if err != nil {
		return e.sessionStoreError(ctx, op, err)
	}
	return e.deleteSessionRef(ctx, op, rec.UserID, ref)
}

// RevokeSession deletes one of userID's sessions by the Ref shown in
// ListSessions. A ref owned by another user is ErrSessionNotFound.
func (e *Engine) RevokeSession(ctx context.Context, userID, ref string) error {
	const op = "RevokeSession"
	if err := e.ready(op); err != nil {
		return err
	}
	if userID == "" {
		return validationError(op, "user_id", "user id is required")
	}
	if ref == "" {
		return validationError(op, "ref", "session ref is required")
	}

	rec, err := e.sessionStore.Get(ctx, ref, e.now())
	if err != nil {
		return e.sessionStoreError(ctx, op, err)
	}
	if rec.UserID != userID {
		return newError(op, ErrSessionNotFound)
	}
	return e.deleteSessionRef(ctx, op, userID, ref)
}

func (e *Engine) deleteSessionRef(ctx context.Context, op, userID, ref string) error {
	existed, err := e.sessionStore.Delete(ctx, ref)
	if err != nil {
		return e.sessionStoreError(ctx, op, err)
	}
	if !existed {
		return newError(op, ErrSessionNotFound)
	}

	e.metricInc(MetricSessionDeleted)
	e.emitAudit(ctx, auditEventSessionDeleted, true, userID, ref, nil, nil)
	return nil
}

// FindUserBySession resolves the user behind a bearer session ID. Every
// authenticated operation goes through here; ErrSessionNotFound means the
// caller is unauthenticated.
func (e *Engine) FindUserBySession(ctx context.Context, sessionID string) (*User, error) {
	user, _, err := e.Authenticate(ctx, sessionID)
	return user, err
}

// Authenticate is FindUserBySession that also returns the session. A session
// whose user no longer exists is deleted and reported as ErrSessionNotFound.
func (e *Engine) Authenticate(ctx context.Context, sessionID string) (*User, *Session, error) {
	const op = "FindUserBySession"
	if err := e.ready(op); err != nil {
		return nil, nil, err
	}
	if err := validateSessionID(op, sessionID); err != nil {
		return nil, nil, err
	}

	ref := internal.SessionRef(sessionID)
	rec, err := e.sessionStore.Get(ctx, ref, e.now())
	if err != nil {
		return nil, nil, e.sessionStoreError(ctx, op, err)
	}

	user, err := e.users.GetUserByID(ctx, rec.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, nil, e.storeError(ctx, op, err)
	}
	if user == nil {
		if _, err := e.sessionStore.Delete(ctx, ref); err != nil {
			e.logger.WarnContext(ctx, "orphan session not deleted", slog.String("session_ref", ref), slog.Any("error", err))
		}
		return nil, nil, newError(op, ErrSessionNotFound)
	}

	sess := sessionFromRecord(rec)
	sess.ID = sessionID
	return user, sess, nil
}

// ListSessions returns userID's live sessions, oldest first. Bearer IDs are
// not recoverable from storage, so only Ref is populated.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	const op = "ListSessions"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError(op, "user_id", "user id is required")
	}

	records, err := e.sessionStore.ListForUser(ctx, userID, e.now())
	if err != nil {
		return nil, e.sessionStoreError(ctx, op, err)
	}

	out := make([]Session, 0, len(records))
	for _, rec := range records {
		out = append(out, *sessionFromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Ref < out[j].Ref
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SignOutAll deletes every session of userID and returns how many existed.
func (e *Engine) SignOutAll(ctx context.Context, userID string) (int, error) {
	const op = "SignOutAll"
	if err := e.ready(op); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, validationError(op, "user_id", "user id is required")
	}

	n, err := e.sessionStore.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, e.sessionStoreError(ctx, op, err)
	}

	e.metricInc(MetricSignOutAll)
	e.emitAudit(ctx, auditEventSignOutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(n)}
	})
	return n, nil
}

func sessionFromRecord(rec *session.Record) *Session {
	return &Session{
		Ref:       rec.Ref,
		UserID:    rec.UserID,
		CreatedAt: rec.CreatedAtTime(),
		ExpiresAt: rec.ExpiresAtTime(),
	}
}
