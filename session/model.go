package session

import "github.com/FirstOnDie/authforge/users"

// AuthResponse is the payload returned by every endpoint that completes a
// sign-in: register, login, second-factor verification and the OAuth callback.
type AuthResponse struct {
	// AccessToken is the bearer credential attached to authenticated requests.
	AccessToken string `json:"accessToken,omitempty"`

	// RefreshToken is retained for renewal and never sent to other endpoints.
	RefreshToken string `json:"refreshToken,omitempty"`

	// TokenType is normally "Bearer".
	TokenType string `json:"tokenType,omitempty"`

	// ExpiresIn is the access token lifetime in milliseconds.
	// It is an opaque duration, not an absolute expiry.
	ExpiresIn int64 `json:"expiresIn,omitempty"`

	// User is the signed-in identity. When RequiresTwoFactor is set only Email is populated.
	User *users.User `json:"user,omitempty"`

	// RequiresTwoFactor signals that a TOTP code must be verified before tokens are issued.
	RequiresTwoFactor bool `json:"requiresTwoFactor,omitempty"`

	// RequiresEmailVerification signals that registration succeeded but the
	// account must be verified before it can sign in.
	RequiresEmailVerification bool `json:"requiresEmailVerification,omitempty"`
}

// Snapshot is the complete persisted session.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	User         users.User
}
