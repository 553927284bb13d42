package auth_test

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/auth"
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newAuth(t *testing.T, now func() time.Time) *auth.Authenticator {
	t.Helper()
	a, err := auth.New(auth.Config{Secret: secret, Issuer: "gameledger", TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	a := newAuth(t, nil)
	addr := "0x" + strings.Repeat("0", 62) + "a1"

	token, err := a.Issue(addr, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Address != addr || claims.Issuer != "gameledger" || claims.JWTID == "" {
		t.Errorf("claims: %+v", claims)
	}
}

func TestVerify_Expired(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := newAuth(t, func() time.Time { return issuedAt })
	token, err := issuer.Issue("0xa1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := newAuth(t, func() time.Time { return issuedAt.Add(2 * time.Minute) })
	_, err = verifier.Verify(token)
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("got %v, want UNAUTHENTICATED", err)
	}
}

func TestVerify_WrongSecretOrIssuer(t *testing.T) {
	a := newAuth(t, nil)
	token, _ := a.Issue("0xa1", 0)

	other, _ := auth.New(auth.Config{Secret: []byte(strings.Repeat("x", 32)), Issuer: "gameledger"})
	if _, err := other.Verify(token); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("wrong secret: got %v", err)
	}

	otherIssuer, _ := auth.New(auth.Config{Secret: secret, Issuer: "someone-else"})
	if _, err := otherIssuer.Verify(token); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("wrong issuer: got %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	a := newAuth(t, nil)
	for _, tok := range []string{"", "   ", "not.a.jwt"} {
		if _, err := a.Verify(tok); !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Errorf("Verify(%q): got %v", tok, err)
		}
	}
}

func TestNew_RejectsShortSecret(t *testing.T) {
	if _, err := auth.New(auth.Config{Secret: []byte("short"), Issuer: "gameledger"}); err == nil {
		t.Error("expected error for short secret")
	}
}
