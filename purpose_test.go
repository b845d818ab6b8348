package goIdentity

import (
	"errors"
	"testing"
)

func TestEveryPurposeHasMailSubject(t *testing.T) {
	seen := make(map[string]Purpose)
	for _, p := range AllPurposes() {
		subject, err := p.MailSubject()
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if other, dup := seen[subject]; dup {
			t.Fatalf("%s and %s share subject %q", p, other, subject)
		}
		seen[subject] = p
		if !p.Valid() {
			t.Fatalf("%s must be valid", p)
		}
	}
}

func TestParsePurposeRoundTrip(t *testing.T) {
	for _, p := range AllPurposes() {
		got, err := ParsePurpose(p.String())
		if err != nil {
			t.Fatalf("ParsePurpose(%q): %v", p.String(), err)
		}
		if got != p {
			t.Fatalf("expected %v, got %v", p, got)
		}
	}
}

func TestUnknownPurpose(t *testing.T) {
	if _, err := ParsePurpose("reset_everything"); !errors.Is(err, ErrUnknownPurpose) {
		t.Fatalf("expected ErrUnknownPurpose, got %v", err)
	}
	for _, p := range []Purpose{0, 5, 255} {
		if p.Valid() {
			t.Fatalf("%v must not be valid", p)
		}
		if _, err := p.MailSubject(); !errors.Is(err, ErrUnknownPurpose) {
			t.Fatalf("expected ErrUnknownPurpose for %v, got %v", p, err)
		}
	}
}
