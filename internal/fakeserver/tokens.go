package fakeserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// issuer mints and checks HS256 access tokens and opaque refresh tokens.
type issuer struct {
	secret    []byte
	name      string
	expiresIn time.Duration

	lock    sync.Mutex
	revoked map[string]struct{} // jti
	refresh map[string]string   // refresh token -> email
}

func newIssuer(secret []byte, expiresIn time.Duration) *issuer {
	return &issuer{
		secret:    secret,
		name:      "authforge-fake",
		expiresIn: expiresIn,
		revoked:   make(map[string]struct{}),
		refresh:   make(map[string]string),
	}
}

type accessClaims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

// mint creates an access token and refresh token pair for email
func (i *issuer) mint(email, role string) (access, refresh string, err error) {
	now := NowTimeFunc()
	claims := accessClaims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    i.name,
			Subject:   email,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(i.expiresIn)),
			ID:        uuid.New().String(),
		},
	}
	access, err = jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign JWT token: %w", err)
	}

	refresh = uuid.New().String()
	i.lock.Lock()
	i.refresh[refresh] = email
	i.lock.Unlock()
	return access, refresh, nil
}

// verify returns the claims of a valid, unrevoked access token
func (i *issuer) verify(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (interface{}, error) {
		return i.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithTimeFunc(NowTimeFunc))
	if err != nil {
		return nil, err
	}

	i.lock.Lock()
	defer i.lock.Unlock()
	if _, revoked := i.revoked[claims.ID]; revoked {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

// revoke invalidates an access token and every refresh token issued to its subject
func (i *issuer) revoke(claims *accessClaims) {
	i.lock.Lock()
	defer i.lock.Unlock()

	i.revoked[claims.ID] = struct{}{}
	for token, email := range i.refresh {
		if email == claims.Subject {
			delete(i.refresh, token)
		}
	}
}

func (i *issuer) expiresInMillis() int64 {
	return i.expiresIn.Milliseconds()
}
