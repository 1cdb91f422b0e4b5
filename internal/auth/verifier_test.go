package auth

import (
	"errors"
	"testing"
	"time"
)

func TestModes(t *testing.T) {
	p, err := NewVerifier("", "").Verify("")
	if err != nil || !p.CanSolve() {
		t.Fatalf("off mode must admit everyone: %+v %v", p, err)
	}
	p, err = NewVerifier("dev", "").Verify("alice:Viewer")
	if err != nil || p.Subject != "alice" || p.Role != RoleViewer || p.CanSolve() {
		t.Fatalf("dev token: %+v %v", p, err)
	}
	if _, err := NewVerifier("dev", "").Verify("alice"); err == nil {
		t.Fatal("dev token without role must fail")
	}
	if _, err := NewVerifier("jwks", "").Verify("x"); err == nil {
		t.Fatal("unknown mode must fail")
	}
}

func TestHS256RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	v := NewVerifier("hmac", string(secret))
	tok, err := SignHS256(secret, "ops", RoleSolver, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil || p.Subject != "ops" || !p.CanSolve() {
		t.Fatalf("verify: %+v %v", p, err)
	}

	other, _ := SignHS256([]byte("wrong"), "ops", RoleSolver, 0)
	if _, err := v.Verify(other); !errors.Is(err, ErrBadToken) {
		t.Fatalf("want ErrBadToken, got %v", err)
	}
	if _, err := v.Verify(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("want ErrNoToken, got %v", err)
	}

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := v.Verify(tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("want ErrExpiredToken, got %v", err)
	}
}

func TestHS256DefaultRole(t *testing.T) {
	secret := []byte("k")
	tok, _ := SignHS256(secret, "reader", "", 0)
	p, err := NewVerifier("hmac", "k").Verify(tok)
	if err != nil || p.Role != RoleViewer {
		t.Fatalf("empty role claim must default to viewer: %+v %v", p, err)
	}
}
