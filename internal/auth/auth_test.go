package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/example/roadassist/internal/apperr"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	g := NewGate("test-secret", time.Hour)
	tok, err := g.Issue("user-1", RoleProvider)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := g.Authenticate(tok)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "user-1" || id.Role != RoleProvider {
		t.Fatalf("wrong identity: %+v", id)
	}
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	g := NewGate("test-secret", -time.Minute)
	tok, err := g.Issue("user-1", RoleCustomer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := g.Authenticate(tok); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for expired token, got %v", err)
	}
}

func TestAuthenticateRejectsMalformedAndWrongKey(t *testing.T) {
	g := NewGate("test-secret", time.Hour)
	if _, err := g.Authenticate(""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty token, got %v", err)
	}
	if _, err := g.Authenticate("not.a.jwt"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for garbage token, got %v", err)
	}
	other := NewGate("other-secret", time.Hour)
	tok, _ := other.Issue("user-1", RoleCustomer)
	if _, err := g.Authenticate(tok); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for foreign signature, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	g := NewGate("test-secret", time.Hour)
	tok, _ := g.Issue("user-1", Role("superuser"))
	if _, err := g.Authenticate(tok); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown role, got %v", err)
	}
}
