package goIdentity

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{ErrEmailTaken, KindConflict},
		{fmt.Errorf("wrapped: %w", ErrSessionNotFound), KindNotFound},
		{validationError("op", "email", "bad"), KindValidation},
		{newError("op", ErrWeakPassword), KindPolicy},
		{newError("op", errors.New("socket closed")), KindDependency},
		{&Error{Kind: KindUnauthorized, Err: ErrTwoFactorRequired}, KindUnauthorized},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorMatchesKindAndSentinel(t *testing.T) {
	err := fmt.Errorf("handler: %w", &Error{Kind: KindConflict, Op: "SignUp", Field: "email", Err: ErrEmailTaken})

	if !errors.Is(err, KindConflict) {
		t.Fatal("expected errors.Is to match the kind")
	}
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatal("expected errors.Is to match the sentinel")
	}
	if errors.Is(err, KindNotFound) {
		t.Fatal("unexpected kind match")
	}

	var ie *Error
	if !errors.As(err, &ie) || ie.Field != "email" {
		t.Fatalf("expected *Error with field, got %v", err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:    KindPolicy,
		Op:      "SignUp",
		Field:   "password",
		Details: []string{"too common", "add a word"},
		Err:     ErrWeakPassword,
	}
	want := "SignUp: password too weak (password): too common; add a word"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	bare := &Error{Kind: KindDependency}
	if bare.Error() != "dependency_failure" {
		t.Fatalf("got %q", bare.Error())
	}
	if !errors.Is(bare, KindDependency) {
		t.Fatal("expected a bare error to match its kind")
	}
}

func TestEverySentinelHasKind(t *testing.T) {
	for sentinel, kind := range sentinelKinds {
		if kind == KindUnknown {
			t.Fatalf("%v has no kind", sentinel)
		}
		if KindOf(sentinel) != kind {
			t.Fatalf("KindOf(%v) = %v, want %v", sentinel, KindOf(sentinel), kind)
		}
	}
}
