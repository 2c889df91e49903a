package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

func TestGenerateAndValidate(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := NewIssuer(secret, time.Hour).Generate(domain.RemoteUser{ID: "alice", Name: "Alice"})
	if err != nil {
		t.Fatal(err)
	}

	claims, err := NewValidator(secret).Validate(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "alice" || claims.Profile().Name != "Alice" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestValidate_Rejects(t *testing.T) {
	secret := []byte("test-secret")
	good, _ := NewIssuer(secret, time.Hour).Generate(domain.RemoteUser{ID: "alice"})
	otherKey, _ := NewIssuer([]byte("other"), time.Hour).Generate(domain.RemoteUser{ID: "alice"})

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	v := NewValidator(secret)
	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"wrong key": otherKey,
		"none alg":  noneAlg,
		"truncated": good[:len(good)-4],
	} {
		if _, err := v.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	// expired, signed with the right key
	old, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(secret)
	if _, err := v.Validate(old); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: expected ErrInvalidToken, got %v", err)
	}
}

func TestIssuerTokenSource_RefreshMintsNewToken(t *testing.T) {
	secret := []byte("test-secret")
	src := &IssuerTokenSource{Issuer: NewIssuer(secret, time.Hour), User: domain.RemoteUser{ID: "bob"}}

	first, err := src.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	again, _ := src.Token(context.Background())
	if again != first {
		t.Error("Token should return the cached token")
	}
	if _, err := NewValidator(secret).Validate(first); err != nil {
		t.Errorf("minted token does not validate: %v", err)
	}
}

func TestProfileOf(t *testing.T) {
	tok, _ := NewIssuer([]byte("unknown-to-client"), time.Hour).Generate(domain.RemoteUser{ID: "carol", Name: "Carol"})

	user, err := ProfileOf(tok)
	if err != nil {
		t.Fatalf("ProfileOf: %v", err)
	}
	if user.ID != "carol" || user.Name != "Carol" {
		t.Errorf("unexpected profile %+v", user)
	}

	if _, err := ProfileOf("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
