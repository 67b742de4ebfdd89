package session

import (
	"time"

	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*Store)(nil)

// Token exposes the stored access token as an oauth2 token so it can be
// attached with oauth2.Token.SetAuthHeader. Expiry is left unset: the client
// never decides validity locally.
func (s *Store) Token() (*oauth2.Token, error) {
	access := s.AccessToken()
	if access == "" {
		return nil, autherrors.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken(),
	}, nil
}

// TokenInfo is the display form of an access token's claims.
type TokenInfo struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    jwt.MapClaims
}

// Inspect decodes the claims of a JWT access token without verifying its
// signature. The result is for display only and must not be used to decide
// whether the session is valid.
func Inspect(raw string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, errors.Wrap(err, "[session.Inspect] ParseUnverified")
	}

	info := &TokenInfo{Claims: claims}
	info.Subject, _ = claims.GetSubject()
	info.Issuer, _ = claims.GetIssuer()
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
