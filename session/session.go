// Package session resolves the authenticated actor for workflow
// operations. Token storage mechanics live with the caller; this package
// only turns credentials into an identity.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mwamiri/AthS/workflow"
)

// ErrNoSession indicates no authenticated actor is available.
var ErrNoSession = errors.New("no active session")

// Provider supplies the current actor. Implementations back this with
// whatever session mechanism the host application uses; tests use
// StaticProvider.
type Provider interface {
	Actor() (workflow.Actor, error)
}

// StaticProvider returns a fixed actor. Zero value returns ErrNoSession.
type StaticProvider struct {
	Current workflow.Actor
}

func (p StaticProvider) Actor() (workflow.Actor, error) {
	if p.Current.ID == "" {
		return workflow.Actor{}, ErrNoSession
	}
	return p.Current, nil
}

// Claims is the JWT claim set carried by the dashboard's session tokens.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider resolves the actor from an HS256-signed session token. The
// token is fetched per call through TokenFunc so a refreshed session is
// picked up without rebuilding the provider.
type JWTProvider struct {
	secret    []byte
	tokenFunc func() string
}

// NewJWTProvider creates a JWTProvider verifying with secret. tokenFunc
// returns the current raw token, empty when logged out.
func NewJWTProvider(secret []byte, tokenFunc func() string) *JWTProvider {
	return &JWTProvider{secret: secret, tokenFunc: tokenFunc}
}

// Actor parses and verifies the current token and returns the embedded
// identity.
func (p *JWTProvider) Actor() (workflow.Actor, error) {
	raw := p.tokenFunc()
	if raw == "" {
		return workflow.Actor{}, ErrNoSession
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return workflow.Actor{}, fmt.Errorf("parse session token: %w", err)
	}

	return workflow.Actor{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: workflow.Role(claims.Role),
	}, nil
}

// MintToken signs a session token for the given actor, valid for ttl.
// Intended for tests and local tooling; production tokens come from the
// auth backend.
func MintToken(secret []byte, actor workflow.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: actor.Name,
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}
