package api

import "github.com/FirstOnDie/authforge/users"

// Request and response shapes of the AuthForge API.

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TwoFactorLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPasswordResponse carries the reset token. It is meant for out of
// band display (the server also logs it) and is never applied automatically.
type ForgotPasswordResponse struct {
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type ChangeRoleRequest struct {
	Role users.Role `json:"role"`
}

// TwoFactorSetup is the not yet confirmed enrollment secret.
type TwoFactorSetup struct {
	Secret string `json:"secret"`
	QRURI  string `json:"qrUri"`
}

type EnableTwoFactorRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// Features reports which optional capabilities the server has switched on.
type Features struct {
	OAuth2            bool `json:"oauth2"`
	TwoFactor         bool `json:"twoFactor"`
	RateLimiting      bool `json:"rateLimiting"`
	EmailVerification bool `json:"emailVerification"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message,omitempty"`
}
