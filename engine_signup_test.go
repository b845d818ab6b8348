package goIdentity

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSignUpCreatesUnverifiedUser(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.engine.SignUp(context.Background(), SignUpRequest{
		Email:    "  Alice@Example.COM ",
		Password: testPassword,
		Username: "Alice_01",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected generated user id")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Username != "alice_01" {
		t.Fatalf("expected normalized username, got %q", user.Username)
	}
	if user.IsEmailVerified {
		t.Fatal("new users must start unverified")
	}
	if user.PasswordHash == "" || strings.Contains(user.PasswordHash, testPassword) {
		t.Fatal("expected an opaque password hash")
	}
	if !user.CreatedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected CreatedAt from the clock, got %v", user.CreatedAt)
	}
	if env.users.settings[user.ID] != DefaultUserSettings() {
		t.Fatal("expected default settings to be persisted with the user")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSignUpSuccess]; got != 1 {
		t.Fatalf("expected one signup success, got %d", got)
	}
}

func TestSignUpDuplicateEmailIgnoresCase(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "bob@example.com")

	_, err := env.engine.SignUp(context.Background(), SignUpRequest{Email: "BOB@example.com", Password: testPassword})
	assertKind(t, err, KindConflict, ErrEmailTaken)

	var ie *Error
	if !errors.As(err, &ie) || ie.Field != "email" {
		t.Fatalf("expected email field on conflict, got %v", err)
	}
}

func TestSignUpDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: testPassword, Username: "carol"}); err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}
	_, err := env.engine.SignUp(ctx, SignUpRequest{Email: "b@example.com", Password: testPassword, Username: "CAROL"})
	assertKind(t, err, KindConflict, ErrUsernameTaken)
}

func TestSignUpUsernameRejectedWhenDisabled(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.SignUp.UsernamesEnabled = false
	}))

	_, err := env.engine.SignUp(context.Background(), SignUpRequest{Email: "d@example.com", Password: testPassword, Username: "dave"})
	assertKind(t, err, KindValidation, ErrInvalidInput)
}

func TestSignUpValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name  string
		req   SignUpRequest
		field string
	}{
		{name: "missing email", req: SignUpRequest{Password: testPassword}, field: "email"},
		{name: "malformed email", req: SignUpRequest{Email: "not-an-email", Password: testPassword}, field: "email"},
		{name: "display name", req: SignUpRequest{Email: "Eve <eve@example.com>", Password: testPassword}, field: "email"},
		{name: "short password", req: SignUpRequest{Email: "eve@example.com", Password: "short"}, field: "password"},
		{name: "bad username", req: SignUpRequest{Email: "eve@example.com", Password: testPassword, Username: "e!"}, field: "username"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.SignUp(context.Background(), tc.req)
			assertKind(t, err, KindValidation, ErrInvalidInput)
			var ie *Error
			if !errors.As(err, &ie) || ie.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestSignUpWeakPasswordCarriesFeedback(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SignUp(context.Background(), SignUpRequest{Email: "f@example.com", Password: "weakpassword"})
	assertKind(t, err, KindPolicy, ErrWeakPassword)

	var ie *Error
	if !errors.As(err, &ie) || len(ie.Details) == 0 {
		t.Fatalf("expected scorer feedback in details, got %v", err)
	}
	if len(env.users.users) != 0 {
		t.Fatal("weak password must not persist a user")
	}
}

func TestSignUpRetriesCollidingIDs(t *testing.T) {
	ids := &sequenceIDs{ids: []string{"taken", "taken", "fresh"}}
	env := newTestEnv(t, withIDs(ids))
	env.users.users["taken"] = User{ID: "taken", Email: "old@example.com"}

	user := env.signUp(t, "g@example.com")
	if user.ID != "fresh" {
		t.Fatalf("expected the first free id, got %q", user.ID)
	}
}

func TestSignUpIDGenerationExhausted(t *testing.T) {
	ids := &sequenceIDs{ids: []string{"taken", "taken", "taken", "taken", "taken"}}
	env := newTestEnv(t, withIDs(ids))
	env.users.users["taken"] = User{ID: "taken", Email: "old@example.com"}

	_, err := env.engine.SignUp(context.Background(), SignUpRequest{Email: "h@example.com", Password: testPassword})
	assertKind(t, err, KindDependency, ErrIDGenerationExhausted)
}

func TestSignUpStoreFailureIsDependency(t *testing.T) {
	env := newTestEnv(t)
	env.users.setFailure(errors.New("connection refused"))

	_, err := env.engine.SignUp(context.Background(), SignUpRequest{Email: "i@example.com", Password: testPassword})
	assertKind(t, err, KindDependency, ErrStoreUnavailable)
}

func TestSignUpBoundsBio(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) { cfg.SignUp.MaxBioLength = 5 }))
	ctx := context.Background()

	_, err := env.engine.SignUp(ctx, SignUpRequest{Email: "long@example.com", Password: testPassword, Bio: "too long"})
	assertKind(t, err, KindValidation, ErrInvalidInput)
	var typed *Error
	if !errors.As(err, &typed) || typed.Field != "bio" {
		t.Fatalf("expected a bio field error, got %v", err)
	}

	// Length counts characters, not bytes.
	user, err := env.engine.SignUp(ctx, SignUpRequest{Email: "ok@example.com", Password: testPassword, Bio: " héllo "})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.Bio != "héllo" || env.users.users[user.ID].Bio != "héllo" {
		t.Fatalf("expected trimmed bio to be stored, got %q", user.Bio)
	}
}
