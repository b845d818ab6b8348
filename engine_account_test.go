package goIdentity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func requestCode(t *testing.T, env *testEnv, purpose Purpose, userID string) string {
	t.Helper()
	if err := env.engine.RequestTempCode(context.Background(), purpose, userID); err != nil {
		t.Fatalf("RequestTempCode(%s) failed: %v", purpose, err)
	}
	return env.mailer.lastCode(t)
}

func TestConfirmEmailVerification(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	_, err := env.engine.ConfirmEmailVerification(ctx, user.ID, "wrong")
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)

	code := requestCode(t, env, PurposeVerifyEmail, user.ID)
	verified, err := env.engine.ConfirmEmailVerification(ctx, user.ID, code)
	if err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	if !verified.IsEmailVerified || !env.users.users[user.ID].IsEmailVerified {
		t.Fatal("expected the email to be verified")
	}

	_, err = env.engine.ConfirmEmailVerification(ctx, user.ID, code)
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	sess := env.signIn(t, "alice@example.com")
	ctx := context.Background()

	code := requestCode(t, env, PurposeChangePassword, user.ID)

	err := env.engine.ResetPassword(ctx, user.ID, code, "weak-replacement")
	assertKind(t, err, KindPolicy, ErrWeakPassword)

	const next = "another-long-passphrase"
	if err := env.engine.ResetPassword(ctx, user.ID, code, next); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	_, err = env.engine.FindUserBySession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)

	_, err = env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", testPassword))
	assertKind(t, err, KindUnauthorized, ErrInvalidCredentials)
	if _, err := env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", next)); err != nil {
		t.Fatalf("SignIn with new password failed: %v", err)
	}

	err = env.engine.ResetPassword(ctx, user.ID, code, "yet-another-passphrase")
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	sess := env.signIn(t, "alice@example.com")
	ctx := context.Background()

	err := env.engine.ChangePassword(ctx, user.ID, "wrong-password-123", "another-long-passphrase")
	assertKind(t, err, KindUnauthorized, ErrInvalidPassword)

	if err := env.engine.ChangePassword(ctx, user.ID, testPassword, "another-long-passphrase"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := env.engine.FindUserBySession(ctx, sess.ID); err == nil {
		t.Fatal("expected sessions to be revoked")
	}
}

func TestChangeEmail(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signUp(t, "alice@example.com")
	env.signUp(t, "bob@example.com")
	ctx := context.Background()

	verify := requestCode(t, env, PurposeVerifyEmail, alice.ID)
	if _, err := env.engine.ConfirmEmailVerification(ctx, alice.ID, verify); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}

	code := requestCode(t, env, PurposeChangeEmail, alice.ID)

	_, err := env.engine.ChangeEmail(ctx, alice.ID, code, "Bob@Example.com")
	assertKind(t, err, KindConflict, ErrEmailTaken)

	_, err = env.engine.ChangeEmail(ctx, alice.ID, code, "alice@example.com")
	assertKind(t, err, KindValidation, ErrInvalidInput)

	updated, err := env.engine.ChangeEmail(ctx, alice.ID, code, "alice@new.example.com")
	if err != nil {
		t.Fatalf("ChangeEmail failed: %v", err)
	}
	if updated.Email != "alice@new.example.com" || updated.IsEmailVerified {
		t.Fatalf("expected new unverified email, got %+v", updated)
	}

	env.signIn(t, "alice@new.example.com")
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	sess := env.signIn(t, "alice@example.com")
	ctx := context.Background()

	if _, err := env.engine.EnableTwoFactor(ctx, user.ID); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	if _, _, err := env.engine.IssueTempCode(ctx, PurposeChangeEmail, user.ID); err != nil {
		t.Fatalf("IssueTempCode failed: %v", err)
	}

	code := requestCode(t, env, PurposeDeleteAccount, user.ID)
	if err := env.engine.DeleteAccount(ctx, user.ID, code); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	_, err := env.engine.FindUserBySession(ctx, sess.ID)
	assertKind(t, err, KindNotFound, ErrSessionNotFound)
	if _, ok := env.users.twoFactor[user.ID]; ok {
		t.Fatal("expected the second factor to be deleted")
	}
	if len(env.mr.Keys()) != 0 {
		t.Fatalf("expected no redis keys left, got %v", env.mr.Keys())
	}

	err = env.engine.DeleteAccount(ctx, user.ID, code)
	assertKind(t, err, KindNotFound, ErrUserNotFound)

	// The address can be registered again.
	env.signUp(t, "alice@example.com")
}

func TestRequestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must not be reported: %v", err)
	}
	if env.mailer.count() != 0 {
		t.Fatal("no mail expected for an unknown email")
	}

	if err := env.engine.RequestPasswordReset(ctx, "Alice@Example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("outstanding code must not be reported: %v", err)
	}
	if env.mailer.count() != 1 {
		t.Fatalf("expected exactly one mail, got %d", env.mailer.count())
	}

	code := env.mailer.lastCode(t)
	if err := env.engine.ResetPassword(ctx, user.ID, code, "another-long-passphrase"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	err := env.engine.RequestPasswordReset(ctx, "not an email")
	assertKind(t, err, KindValidation, ErrInvalidInput)
}

func TestRedeemedCodeSurvivesFailedAccountChange(t *testing.T) {
	cases := []struct {
		name    string
		purpose Purpose
		run     func(env *testEnv, userID, code string) error
		check   func(t *testing.T, env *testEnv, userID string)
	}{
		{
			name:    "confirm email",
			purpose: PurposeVerifyEmail,
			run: func(env *testEnv, userID, code string) error {
				_, err := env.engine.ConfirmEmailVerification(context.Background(), userID, code)
				return err
			},
			check: func(t *testing.T, env *testEnv, userID string) {
				if !env.users.users[userID].IsEmailVerified {
					t.Fatal("expected the email to be verified")
				}
			},
		},
		{
			name:    "reset password",
			purpose: PurposeChangePassword,
			run: func(env *testEnv, userID, code string) error {
				return env.engine.ResetPassword(context.Background(), userID, code, "another-long-passphrase")
			},
			check: func(t *testing.T, env *testEnv, _ string) {
				if _, err := env.engine.SignIn(context.Background(), signInRequest(env, "alice@example.com", "another-long-passphrase")); err != nil {
					t.Fatalf("SignIn with new password failed: %v", err)
				}
			},
		},
		{
			name:    "change email",
			purpose: PurposeChangeEmail,
			run: func(env *testEnv, userID, code string) error {
				_, err := env.engine.ChangeEmail(context.Background(), userID, code, "alice@new.example.com")
				return err
			},
			check: func(t *testing.T, env *testEnv, userID string) {
				if got := env.users.users[userID].Email; got != "alice@new.example.com" {
					t.Fatalf("expected the new email, got %q", got)
				}
			},
		},
		{
			name:    "delete account",
			purpose: PurposeDeleteAccount,
			run: func(env *testEnv, userID, code string) error {
				return env.engine.DeleteAccount(context.Background(), userID, code)
			},
			check: func(t *testing.T, env *testEnv, userID string) {
				if _, ok := env.users.users[userID]; ok {
					t.Fatal("expected the user to be deleted")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := env.signUp(t, "alice@example.com")
			code := requestCode(t, env, tc.purpose, user.ID)

			env.users.failNextWrites(1, errors.New("connection reset"))
			err := tc.run(env, user.ID, code)
			assertKind(t, err, KindDependency, ErrStoreUnavailable)
			if got := env.engine.MetricsSnapshot().Counters[MetricTempCodeRestored]; got != 1 {
				t.Fatalf("expected one restored code, got %d", got)
			}

			if err := tc.run(env, user.ID, code); err != nil {
				t.Fatalf("retry with the same code failed: %v", err)
			}
			tc.check(t, env, user.ID)

			if err := tc.run(env, user.ID, code); err == nil {
				t.Fatal("code must not be usable after the change succeeded")
			}
		})
	}
}

func TestRestoredCodeKeepsOriginalExpiry(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	code := requestCode(t, env, PurposeVerifyEmail, user.ID)
	env.clock.Advance(9 * time.Minute)

	env.users.failNextWrites(1, errors.New("connection reset"))
	_, err := env.engine.ConfirmEmailVerification(ctx, user.ID, code)
	assertKind(t, err, KindDependency, ErrStoreUnavailable)

	env.clock.Advance(time.Minute)
	_, err = env.engine.ConfirmEmailVerification(ctx, user.ID, code)
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)
}

func TestRequestPasswordResetHidesMailFailure(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	env.mailer.setFailure(errors.New("smtp down"))
	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("known email with failed delivery must look like an unknown one: %v", err)
	}
	if err := env.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must not be reported: %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricMailFailure]; got != 1 {
		t.Fatalf("expected one mail failure, got %d", got)
	}

	env.mailer.setFailure(nil)
	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, user.ID, env.mailer.lastCode(t), "another-long-passphrase"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
}

func TestUpdateBio(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) { cfg.SignUp.MaxBioLength = 10 }))
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	updated, err := env.engine.UpdateBio(ctx, user.ID, "  gardener ")
	if err != nil {
		t.Fatalf("UpdateBio failed: %v", err)
	}
	if updated.Bio != "gardener" || env.users.users[user.ID].Bio != "gardener" {
		t.Fatalf("expected stored bio, got %q", env.users.users[user.ID].Bio)
	}

	_, err = env.engine.UpdateBio(ctx, user.ID, "professional gardener")
	assertKind(t, err, KindValidation, ErrInvalidInput)
	if env.users.users[user.ID].Bio != "gardener" {
		t.Fatal("rejected bio must not be stored")
	}

	if _, err := env.engine.UpdateBio(ctx, user.ID, ""); err != nil {
		t.Fatalf("clearing the bio failed: %v", err)
	}
	if env.users.users[user.ID].Bio != "" {
		t.Fatal("expected the bio to be cleared")
	}

	_, err = env.engine.UpdateBio(ctx, "missing", "hi")
	assertKind(t, err, KindNotFound, ErrUserNotFound)
}
