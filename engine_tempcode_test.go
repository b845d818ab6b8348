package goIdentity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueTempCodeConflictUntilExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, record, err := env.engine.IssueTempCode(ctx, PurposeVerifyEmail, "user-1")
	if err != nil {
		t.Fatalf("IssueTempCode failed: %v", err)
	}
	if len(code) != 24 {
		t.Fatalf("expected 24-char code, got %d", len(code))
	}
	if !record.ExpiresAt.Equal(env.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", record.ExpiresAt)
	}

	_, _, err = env.engine.IssueTempCode(ctx, PurposeVerifyEmail, "user-1")
	assertKind(t, err, KindConflict, ErrTempCodeExists)

	if _, _, err := env.engine.IssueTempCode(ctx, PurposeChangeEmail, "user-1"); err != nil {
		t.Fatalf("a different purpose must not conflict: %v", err)
	}
	if _, _, err := env.engine.IssueTempCode(ctx, PurposeVerifyEmail, "user-2"); err != nil {
		t.Fatalf("a different subject must not conflict: %v", err)
	}

	env.clock.Advance(10 * time.Minute)
	if _, _, err := env.engine.IssueTempCode(ctx, PurposeVerifyEmail, "user-1"); err != nil {
		t.Fatalf("expected reissue after expiry: %v", err)
	}
}

func TestValidateTempCode(t *testing.T) {
	env := newTestEnv(t)

	code, record, err := env.engine.IssueTempCode(context.Background(), PurposeChangePassword, "user-1")
	if err != nil {
		t.Fatalf("IssueTempCode failed: %v", err)
	}
	if !ValidateTempCode(code, record) {
		t.Fatal("expected the issued code to validate")
	}
	if record.Hash == hashTempCode(code, nil) {
		t.Fatal("hash must depend on the salt")
	}

	flipped := []byte(code)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}
	if ValidateTempCode(string(flipped), record) {
		t.Fatal("a mutated code must not validate")
	}

	salted := *record
	salted.Salt = append([]byte(nil), record.Salt...)
	salted.Salt[0] ^= 0xff
	if ValidateTempCode(code, &salted) {
		t.Fatal("a mutated salt must not validate")
	}

	if ValidateTempCode("", record) || ValidateTempCode(code, nil) {
		t.Fatal("empty input must not validate")
	}
}

func TestConsumeTempCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, _, err := env.engine.IssueTempCode(ctx, PurposeDeleteAccount, "user-1")
	if err != nil {
		t.Fatalf("IssueTempCode failed: %v", err)
	}

	err = env.engine.ConsumeTempCode(ctx, PurposeDeleteAccount, "user-1", strings.Repeat("x", 24))
	assertKind(t, err, KindUnauthorized, ErrTempCodeInvalid)

	err = env.engine.ConsumeTempCode(ctx, PurposeChangeEmail, "user-1", code)
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)

	if err := env.engine.ConsumeTempCode(ctx, PurposeDeleteAccount, "user-1", code); err != nil {
		t.Fatalf("ConsumeTempCode failed: %v", err)
	}

	err = env.engine.ConsumeTempCode(ctx, PurposeDeleteAccount, "user-1", code)
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)
}

func TestConsumeExpiredTempCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, _, err := env.engine.IssueTempCode(ctx, PurposeVerifyEmail, "user-1")
	if err != nil {
		t.Fatalf("IssueTempCode failed: %v", err)
	}
	env.clock.Advance(10 * time.Minute)

	err = env.engine.ConsumeTempCode(ctx, PurposeVerifyEmail, "user-1", code)
	assertKind(t, err, KindNotFound, ErrTempCodeNotFound)
}

func TestTempCodeUnknownPurpose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.engine.IssueTempCode(ctx, Purpose(99), "user-1")
	assertKind(t, err, KindValidation, ErrUnknownPurpose)

	err = env.engine.ConsumeTempCode(ctx, Purpose(0), "user-1", "code")
	assertKind(t, err, KindValidation, ErrUnknownPurpose)

	err = env.engine.RequestTempCode(ctx, Purpose(99), "user-1")
	assertKind(t, err, KindValidation, ErrUnknownPurpose)
}

func TestRequestTempCodeMailsCode(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	if err := env.engine.RequestTempCode(ctx, PurposeVerifyEmail, user.ID); err != nil {
		t.Fatalf("RequestTempCode failed: %v", err)
	}

	msg := env.mailer.sent[0]
	if msg.To != "alice@example.com" || msg.Subject != "Verify your email address" {
		t.Fatalf("unexpected message envelope %+v", msg)
	}
	if !strings.Contains(msg.HTMLBody, "https://app.example.com/confirm?") {
		t.Fatal("expected a confirmation link in the body")
	}

	code := env.mailer.lastCode(t)
	if err := env.engine.ConsumeTempCode(ctx, PurposeVerifyEmail, user.ID, code); err != nil {
		t.Fatalf("mailed code did not redeem: %v", err)
	}
}

func TestRequestTempCodeWithdrawsUndeliveredCode(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "alice@example.com")
	ctx := context.Background()

	env.mailer.setFailure(errors.New("smtp down"))
	err := env.engine.RequestTempCode(ctx, PurposeChangePassword, user.ID)
	assertKind(t, err, KindDependency, ErrMailerUnavailable)

	env.mailer.setFailure(nil)
	if err := env.engine.RequestTempCode(ctx, PurposeChangePassword, user.ID); err != nil {
		t.Fatalf("retry after mail failure must not conflict: %v", err)
	}
	if env.mailer.count() != 1 {
		t.Fatalf("expected one delivered mail, got %d", env.mailer.count())
	}
}

func TestRequestTempCodeUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.RequestTempCode(context.Background(), PurposeVerifyEmail, "missing")
	assertKind(t, err, KindNotFound, ErrUserNotFound)
	if env.mailer.count() != 0 {
		t.Fatal("no mail expected for an unknown user")
	}
}
