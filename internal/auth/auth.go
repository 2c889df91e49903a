package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Profile is the caller identity shown to callees.
func (c *Claims) Profile() domain.RemoteUser {
	return domain.RemoteUser{ID: domain.UserID(c.UserID), Name: c.Name, Avatar: c.Avatar}
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

func (i *Issuer) Generate(user domain.RemoteUser) (string, error) {
	if user.ID == "" {
		return "", errors.New("auth: user id is required")
	}
	now := time.Now()
	claims := Claims{
		UserID: user.ID.String(),
		Name:   user.Name,
		Avatar: user.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

type Validator struct {
	secret []byte
}

func NewValidator(secret []byte) *Validator {
	return &Validator{secret: secret}
}

// Validate parses an HS256 token and returns its claims. Every failure wraps
// ErrInvalidToken.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// StaticTokenSource hands out a fixed token. Refresh cannot produce a new one.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

func (s StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return string(s), nil
}

// IssuerTokenSource mints its own tokens. Used by development clients that
// share the server secret.
type IssuerTokenSource struct {
	Issuer *Issuer
	User   domain.RemoteUser

	current string
}

func (s *IssuerTokenSource) Token(ctx context.Context) (string, error) {
	if s.current != "" {
		return s.current, nil
	}
	return s.Refresh(ctx)
}

func (s *IssuerTokenSource) Refresh(ctx context.Context) (string, error) {
	tok, err := s.Issuer.Generate(s.User)
	if err != nil {
		return "", err
	}
	s.current = tok
	return tok, nil
}

// ProfileOf reads the identity out of a token without verifying it. Clients
// use it to learn who a handed-out token belongs to; the server never does.
func ProfileOf(tokenString string) (domain.RemoteUser, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return domain.RemoteUser{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return domain.RemoteUser{}, fmt.Errorf("%w: no user_id", ErrInvalidToken)
	}
	return claims.Profile(), nil
}
