package authflow

import (
	"net/url"
	"strconv"

	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/FirstOnDie/authforge/session"
	"github.com/FirstOnDie/authforge/users"
	"github.com/pkg/errors"
)

// Query parameters of the third-party sign-in redirect.
const (
	paramToken        = "token"
	paramRefreshToken = "refreshToken"
	paramExpiresIn    = "expiresIn"
	paramUserID       = "userId"
	paramUserName     = "userName"
	paramUserEmail    = "userEmail"
	paramUserRole     = "userRole"
)

// IngestEntryURL completes a third-party sign-in from the address the
// provider redirected to. When the address carries no token it is returned
// unchanged and ingested is false. Otherwise the session is stored and the
// address is returned with its whole query removed, so the caller can
// replace what the user sees. A malformed redirect stores nothing and fails
// with ErrInvalidCallback, but the stripped address is still returned.
func (c *Controller) IngestEntryURL(raw string) (cleaned string, ingested bool, err error) {
	entry, err := url.Parse(raw)
	if err != nil {
		return raw, false, autherrors.Wrapf(autherrors.ErrInvalidCallback, "parse entry address: %v", err)
	}

	query := entry.Query()
	if !query.Has(paramToken) {
		return raw, false, nil
	}

	stripped := *entry
	stripped.RawQuery = ""
	stripped.ForceQuery = false
	cleaned = stripped.String()

	resp, err := callbackResponse(query)
	if err != nil {
		return cleaned, false, err
	}
	if _, err := c.signIn(resp, "oauth callback"); err != nil {
		return cleaned, false, errors.Wrap(err, "[Controller.IngestEntryURL] signIn")
	}
	return cleaned, true, nil
}

// callbackResponse builds an AuthResponse from redirect parameters.
func callbackResponse(query url.Values) (session.AuthResponse, error) {
	invalid := func(field string) error {
		return autherrors.Wrapf(autherrors.ErrInvalidCallback, "%s", field)
	}

	token := query.Get(paramToken)
	if token == "" {
		return session.AuthResponse{}, invalid(paramToken)
	}
	refresh := query.Get(paramRefreshToken)
	if refresh == "" {
		return session.AuthResponse{}, invalid(paramRefreshToken)
	}
	expiresIn, err := strconv.ParseInt(query.Get(paramExpiresIn), 10, 64)
	if err != nil || expiresIn < 0 {
		return session.AuthResponse{}, invalid(paramExpiresIn)
	}
	id, err := strconv.ParseInt(query.Get(paramUserID), 10, 64)
	if err != nil {
		return session.AuthResponse{}, invalid(paramUserID)
	}
	email := query.Get(paramUserEmail)
	if email == "" {
		return session.AuthResponse{}, invalid(paramUserEmail)
	}
	role, err := users.ParseRole(query.Get(paramUserRole))
	if err != nil {
		return session.AuthResponse{}, invalid(paramUserRole)
	}

	return session.AuthResponse{
		AccessToken:  token,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		User: &users.User{
			ID:    id,
			Name:  query.Get(paramUserName),
			Email: email,
			Role:  role,
		},
	}, nil
}
