package goIdentity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/password"
)

func signInRequest(env *testEnv, email, pw string) SignInRequest {
	return SignInRequest{
		Email:     email,
		Password:  pw,
		ExpiresAt: env.clock.Now().Add(2 * time.Hour),
	}
}

func TestSignInSuccess(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")

	sess, err := env.engine.SignIn(context.Background(), signInRequest(env, "ALICE@example.com", testPassword))
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if sess.UserID != user.ID {
		t.Fatalf("expected session for %s, got %s", user.ID, sess.UserID)
	}
	if len(sess.ID) != 128 {
		t.Fatalf("expected 128-char session id, got %d", len(sess.ID))
	}
	if sess.Ref == "" || sess.Ref == sess.ID {
		t.Fatal("expected a ref distinct from the bearer id")
	}

	found, err := env.engine.FindUserBySession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("FindUserBySession failed: %v", err)
	}
	if found.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, found.ID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "alice@example.com")

	_, err := env.engine.SignIn(context.Background(), signInRequest(env, "alice@example.com", "wrong-password-123"))
	assertKind(t, err, KindUnauthorized, ErrInvalidCredentials)
}

func TestSignInUnknownUserLooksLikeWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SignIn(context.Background(), signInRequest(env, "nobody@example.com", testPassword))
	assertKind(t, err, KindUnauthorized, ErrInvalidCredentials)
}

func TestSignInDistinguishUnknownUser(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.SignIn.DistinguishUnknownUser = true
	}))

	_, err := env.engine.SignIn(context.Background(), signInRequest(env, "nobody@example.com", testPassword))
	assertKind(t, err, KindNotFound, ErrUserNotFound)
}

func TestSignInRequiresExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "alice@example.com")

	_, err := env.engine.SignIn(context.Background(), SignInRequest{Email: "alice@example.com", Password: testPassword})
	assertKind(t, err, KindValidation, ErrInvalidInput)
}

func TestSignInTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	enrollment, err := env.engine.EnableTwoFactor(ctx, user.ID)
	if err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}

	_, err = env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", testPassword))
	assertKind(t, err, KindUnauthorized, ErrTwoFactorRequired)

	bad := signInRequest(env, "alice@example.com", testPassword)
	bad.TwoFactorCode = "000000"
	if code, _ := env.engine.totp.Code(enrollment.Secret, env.clock.Now()); code == bad.TwoFactorCode {
		bad.TwoFactorCode = "111111"
	}
	_, err = env.engine.SignIn(ctx, bad)
	assertKind(t, err, KindUnauthorized, ErrTwoFactorInvalid)

	code, err := env.engine.totp.Code(enrollment.Secret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	good := signInRequest(env, "alice@example.com", testPassword)
	good.TwoFactorCode = code
	if _, err := env.engine.SignIn(ctx, good); err != nil {
		t.Fatalf("SignIn with totp failed: %v", err)
	}

	recovery := signInRequest(env, "alice@example.com", testPassword)
	recovery.TwoFactorCode = enrollment.RecoveryCodes[0]
	if _, err := env.engine.SignIn(ctx, recovery); err != nil {
		t.Fatalf("SignIn with recovery code failed: %v", err)
	}
	_, err = env.engine.SignIn(ctx, recovery)
	assertKind(t, err, KindUnauthorized, ErrTwoFactorInvalid)
}

func TestSignInKeepsRecoveryCodeWhenSessionRefused(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	enrollment, err := env.engine.EnableTwoFactor(ctx, user.ID)
	if err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	total := len(enrollment.RecoveryCodes)

	// A wrong code is still reported before the expiry window.
	wrong := signInRequest(env, "alice@example.com", testPassword)
	wrong.TwoFactorCode = "zzzzzzzzzz"
	wrong.ExpiresAt = env.clock.Now().Add(10 * time.Minute)
	_, err = env.engine.SignIn(ctx, wrong)
	assertKind(t, err, KindUnauthorized, ErrTwoFactorInvalid)

	req := signInRequest(env, "alice@example.com", testPassword)
	req.TwoFactorCode = enrollment.RecoveryCodes[0]
	req.ExpiresAt = env.clock.Now().Add(10 * time.Minute)
	_, err = env.engine.SignIn(ctx, req)
	assertKind(t, err, KindPolicy, ErrExpirationOutOfRange)
	if got := env.users.recoveryCodeCount(user.ID); got != total {
		t.Fatalf("expected %d recovery codes after a refused expiry, got %d", total, got)
	}

	var last *Session
	for i := 0; i < 3; i++ {
		last, err = env.engine.CreateSession(ctx, user.ID, env.clock.Now().Add(2*time.Hour))
		if err != nil {
			t.Fatalf("CreateSession %d failed: %v", i, err)
		}
	}
	req.ExpiresAt = env.clock.Now().Add(2 * time.Hour)
	_, err = env.engine.SignIn(ctx, req)
	assertKind(t, err, KindPolicy, ErrSessionLimitExceeded)
	if got := env.users.recoveryCodeCount(user.ID); got != total {
		t.Fatalf("expected %d recovery codes at the session cap, got %d", total, got)
	}

	if err := env.engine.DeleteSession(ctx, last.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := env.engine.SignIn(ctx, req); err != nil {
		t.Fatalf("SignIn with the kept recovery code failed: %v", err)
	}
	if got := env.users.recoveryCodeCount(user.ID); got != total-1 {
		t.Fatalf("expected %d recovery codes after sign-in, got %d", total-1, got)
	}
}

func TestSignInThrottlesRepeatedFailures(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.SignIn.MaxFailedAttempts = 3
		cfg.SignIn.FailureWindow = time.Minute
	}))
	env.signUp(t, "alice@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", "wrong-password-123"))
		assertKind(t, err, KindUnauthorized, ErrInvalidCredentials)
	}

	_, err := env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", testPassword))
	assertKind(t, err, KindPolicy, ErrTooManyAttempts)
	if got := env.engine.MetricsSnapshot().Counters[MetricSignInThrottled]; got != 1 {
		t.Fatalf("expected one throttled sign-in, got %d", got)
	}

	env.mr.FastForward(time.Minute + time.Second)
	if _, err := env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", testPassword)); err != nil {
		t.Fatalf("SignIn after window failed: %v", err)
	}
}

func TestSignInSuccessResetsFailures(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.SignIn.MaxFailedAttempts = 2
	}))
	env.signUp(t, "alice@example.com")
	ctx := context.Background()

	if _, err := env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", "wrong-password-123")); err == nil {
		t.Fatal("expected failure")
	}
	env.signIn(t, "alice@example.com")
	if _, err := env.engine.SignIn(ctx, signInRequest(env, "alice@example.com", "wrong-password-123")); err == nil {
		t.Fatal("expected failure")
	}
	env.signIn(t, "alice@example.com")
}

func TestSignInLimiterDownFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "alice@example.com")
	env.mr.Close()

	_, err := env.engine.SignIn(context.Background(), signInRequest(env, "alice@example.com", testPassword))
	assertKind(t, err, KindDependency, ErrSignInLimiterUnavailable)
	if errors.Is(err, ErrSessionStoreUnavailable) {
		t.Fatalf("limiter outage must not be reported as a session store failure: %v", err)
	}
}

func TestSignInRehashesLegacyHash(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.Password.Time = 2
	}))
	user := env.signUp(t, "alice@example.com")

	legacy, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	oldHash, err := legacy.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	stored := env.users.users[user.ID]
	stored.PasswordHash = oldHash
	env.users.users[user.ID] = stored

	env.signIn(t, "alice@example.com")

	if env.users.users[user.ID].PasswordHash == oldHash {
		t.Fatal("expected the legacy hash to be upgraded")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricPasswordRehashed]; got != 1 {
		t.Fatalf("expected one rehash, got %d", got)
	}
	env.signIn(t, "alice@example.com")
}
