package goIdentity

import (
	"context"
	"testing"
	"time"
)

func TestCreateSessionCapBoundary(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()
	expires := env.clock.Now().Add(2 * time.Hour)

	var first *Session
	for i := 0; i < 3; i++ {
		sess, err := env.engine.CreateSession(ctx, user.ID, expires)
		if err != nil {
			t.Fatalf("session %d: %v", i+1, err)
		}
		if first == nil {
			first = sess
		}
	}

	_, err := env.engine.CreateSession(ctx, user.ID, expires)
	assertKind(t, err, KindPolicy, ErrSessionLimitExceeded)

	if err := env.engine.DeleteSession(ctx, first.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := env.engine.CreateSession(ctx, user.ID, expires); err != nil {
		t.Fatalf("expected a free slot after delete: %v", err)
	}
}

func TestCreateSessionCapIgnoresExpiredSessions(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.engine.CreateSession(ctx, user.ID, env.clock.Now().Add(time.Hour)); err != nil {
			t.Fatalf("session %d: %v", i+1, err)
		}
	}
	env.clock.Advance(time.Hour + time.Second)

	if _, err := env.engine.CreateSession(ctx, user.ID, env.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("expired sessions must not count toward the cap: %v", err)
	}
}

func TestCreateSessionExpiryWindow(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.Session.MaxPerUser = 10
	}))
	user := env.signUp(t, "alice@example.com")
	now := env.clock.Now()

	cases := []struct {
		name    string
		expires time.Time
		ok      bool
	}{
		{name: "exact minimum", expires: now.Add(time.Hour), ok: true},
		{name: "exact maximum", expires: now.Add(24 * time.Hour), ok: true},
		{name: "below minimum", expires: now.Add(time.Hour - time.Second), ok: false},
		{name: "above maximum", expires: now.Add(24*time.Hour + time.Second), ok: false},
		{name: "in the past", expires: now.Add(-time.Minute), ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess, err := env.engine.CreateSession(context.Background(), user.ID, tc.expires)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if !sess.ExpiresAt.Equal(tc.expires) {
					t.Fatalf("expected expiry %v, got %v", tc.expires, sess.ExpiresAt)
				}
				return
			}
			assertKind(t, err, KindPolicy, ErrExpirationOutOfRange)
		})
	}
}

func TestCreateSessionUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.CreateSession(context.Background(), "missing", env.clock.Now().Add(2*time.Hour))
	assertKind(t, err, KindNotFound, ErrUserNotFound)
}

func TestSessionExpiresWithClock(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	sess, err := env.engine.CreateSession(ctx, user.ID, env.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	env.clock.Advance(time.Hour)
	if _, err := env.engine.FindUserBySession(ctx, sess.ID); err != nil {
		t.Fatalf("session must be live at its expiry instant: %v", err)
	}

	env.clock.Advance(time.Second)
	_, err = env.engine.FindUserBySession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)

	err = env.engine.DeleteSession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
}

func TestDeleteSessionTwice(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "alice@example.com")
	sess := env.signIn(t, "alice@example.com")
	ctx := context.Background()

	if err := env.engine.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	err := env.engine.DeleteSession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)

	_, err = env.engine.FindUserBySession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
}

func TestFindUserBySessionRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.FindUserBySession(ctx, "")
	assertKind(t, err, KindValidation, ErrInvalidInput)

	_, err = env.engine.FindUserBySession(ctx, "not-a-real-session")
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
}

func TestListSessionsOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	var created []*Session
	for i := 0; i < 3; i++ {
		sess, err := env.engine.CreateSession(ctx, user.ID, env.clock.Now().Add(2*time.Hour))
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		created = append(created, sess)
		env.clock.Advance(time.Minute)
	}

	listed, err := env.engine.ListSessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(listed))
	}
	for i, sess := range listed {
		if sess.Ref != created[i].Ref {
			t.Fatalf("position %d: expected ref %s, got %s", i, created[i].Ref, sess.Ref)
		}
		if sess.ID != "" {
			t.Fatal("listings must not expose bearer ids")
		}
	}
}

func TestRevokeSessionOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signUp(t, "alice@example.com")
	bob := env.signUp(t, "bob@example.com")
	sess := env.signIn(t, "alice@example.com")
	ctx := context.Background()

	err := env.engine.RevokeSession(ctx, bob.ID, sess.Ref)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
	if _, err := env.engine.FindUserBySession(ctx, sess.ID); err != nil {
		t.Fatalf("foreign revoke must not delete the session: %v", err)
	}

	if err := env.engine.RevokeSession(ctx, alice.ID, sess.Ref); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	_, err = env.engine.FindUserBySession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
}

func TestSignOutAll(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signUp(t, "alice@example.com")
	env.signUp(t, "bob@example.com")
	a1 := env.signIn(t, "alice@example.com")
	env.signIn(t, "alice@example.com")
	b1 := env.signIn(t, "bob@example.com")
	ctx := context.Background()

	n, err := env.engine.SignOutAll(ctx, alice.ID)
	if err != nil {
		t.Fatalf("SignOutAll failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", n)
	}
	if _, err := env.engine.FindUserBySession(ctx, a1.ID); err == nil {
		t.Fatal("expected alice's session to be gone")
	}
	if _, err := env.engine.FindUserBySession(ctx, b1.ID); err != nil {
		t.Fatalf("bob's session must survive: %v", err)
	}

	n, err = env.engine.SignOutAll(ctx, alice.ID)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing left to revoke, got %d, %v", n, err)
	}
}

func TestOrphanSessionIsRemoved(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	sess := env.signIn(t, "alice@example.com")
	ctx := context.Background()

	delete(env.users.users, user.ID)

	_, err := env.engine.FindUserBySession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
	if env.mr.Exists("ids:s:" + sess.Ref) {
		t.Fatal("expected the orphan session record to be deleted")
	}
}

func TestSessionStoreDownIsDependency(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	env.mr.Close()

	_, err := env.engine.CreateSession(context.Background(), user.ID, env.clock.Now().Add(2*time.Hour))
	assertKind(t, err, KindDependency, ErrSessionStoreUnavailable)
}
