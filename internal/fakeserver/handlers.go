package fakeserver

import (
	"encoding/base32"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/FirstOnDie/authforge/users"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const minPasswordLength = 8

type authUser struct {
	ID               int64  `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role,omitempty"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

type authResponse struct {
	AccessToken               string    `json:"accessToken,omitempty"`
	RefreshToken              string    `json:"refreshToken,omitempty"`
	TokenType                 string    `json:"tokenType,omitempty"`
	ExpiresIn                 int64     `json:"expiresIn"`
	User                      *authUser `json:"user,omitempty"`
	RequiresTwoFactor         bool      `json:"requiresTwoFactor"`
	RequiresEmailVerification bool      `json:"requiresEmailVerification"`
}

func toAuthUser(u users.User) *authUser {
	return &authUser{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		Role:             u.Role.String(),
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

func (s *Server) issue(w http.ResponseWriter, status int, account *Account) {
	access, refresh, err := s.tokens.mint(account.Email, account.Role.String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, status, authResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.tokens.expiresInMillis(),
		User:         toAuthUser(account.User),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	details := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		details["name"] = "Name is required"
	}
	if !strings.Contains(req.Email, "@") {
		details["email"] = "Invalid email format"
	}
	if len(req.Password) < minPasswordLength {
		details["password"] = "Password must be at least 8 characters"
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	account, err := s.accounts.Create(req.Name, req.Email, req.Password, users.RoleUser)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.emailVerification {
		token := uuid.New().String()
		account, _ = s.accounts.Update(account.ID, func(a *Account) {
			a.VerificationToken = token
		})
		log.Info().Str("email", account.Email).Str("token", token).Msg("fakeserver verification token")
		writeJSON(w, http.StatusCreated, authResponse{
			User:                      &authUser{Name: account.Name, Email: account.Email},
			RequiresEmailVerification: true,
		})
		return
	}

	account, _ = s.accounts.Update(account.ID, func(a *Account) {
		a.EmailVerified = true
	})
	s.issue(w, http.StatusCreated, account)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	account, err := s.accounts.GetByEmail(req.Email)
	if err != nil || !account.CheckPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !account.EmailVerified {
		writeError(w, http.StatusBadRequest, "Please verify your email before logging in")
		return
	}

	if account.TwoFactorEnabled {
		writeJSON(w, http.StatusOK, authResponse{
			User:              &authUser{Email: account.Email},
			RequiresTwoFactor: true,
		})
		return
	}
	s.issue(w, http.StatusOK, account)
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	account, err := s.accounts.GetByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !account.TwoFactorEnabled || account.TwoFactorSecret == "" {
		writeError(w, http.StatusBadRequest, "Two-factor authentication is not enabled")
		return
	}
	if req.Code != s.totpCode {
		writeError(w, http.StatusBadRequest, "Invalid 2FA code")
		return
	}
	s.issue(w, http.StatusOK, account)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.tokens.revoke(currentAuth(r).claims)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	account, err := s.accounts.GetByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found with email: "+req.Email)
		return
	}
	token := uuid.New().String()
	_, _ = s.accounts.Update(account.ID, func(a *Account) {
		a.ResetToken = token
	})
	log.Info().Str("email", account.Email).Str("token", token).Msg("fakeserver password reset token")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email exists, a reset link has been sent.",
		"token":   token,
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeValidation(w, map[string]string{"newPassword": "Password must be at least 8 characters"})
		return
	}

	account, err := s.accounts.FindByToken(req.Token, func(a *Account) string { return a.ResetToken })
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
		return
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	_, _ = s.accounts.Update(account.ID, func(a *Account) {
		a.PasswordHash = hash
		a.ResetToken = ""
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	account, err := s.accounts.FindByToken(token, func(a *Account) string { return a.VerificationToken })
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}
	_, _ = s.accounts.Update(account.ID, func(a *Account) {
		a.EmailVerified = true
		a.VerificationToken = ""
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully! You can now log in."})
}

// VerificationToken returns the pending email verification token for email.
func (s *Server) VerificationToken(email string) string {
	account, err := s.accounts.GetByEmail(email)
	if err != nil {
		return ""
	}
	return account.VerificationToken
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": toAuthUser(currentAccount(r).User)})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list := s.accounts.List()
	out := make([]*authUser, 0, len(list))
	for _, u := range list {
		out = append(out, toAuthUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFeatures reports what this server supports. There is no rate limiter;
// 429s only come from injected faults.
func (s *Server) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"oauth2":            true,
		"twoFactor":         true,
		"rateLimiting":      false,
		"emailVerification": s.emailVerification,
	})
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	role, err := users.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid role: "+req.Role)
		return
	}

	account, err := s.accounts.Update(id, func(a *Account) {
		a.Role = role
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAuthUser(account.User))
}

func (s *Server) handleSetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	account := currentAccount(r)
	id := uuid.New()
	secret := strings.TrimRight(base32.StdEncoding.EncodeToString(id[:]), "=")

	label := url.PathEscape(totpIssuer + ":" + account.Email)
	qrURI := "otpauth://totp/" + label + "?secret=" + secret + "&issuer=" + totpIssuer
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret, "qrUri": qrURI})
}

func (s *Server) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if !decodeBody(r, &req) || req.Secret == "" || req.Code != s.totpCode {
		writeError(w, http.StatusBadRequest, "Invalid 2FA code")
		return
	}
	_, _ = s.accounts.Update(currentAccount(r).ID, func(a *Account) {
		a.TwoFactorEnabled = true
		a.TwoFactorSecret = req.Secret
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication enabled"})
}

func (s *Server) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	_, _ = s.accounts.Update(currentAccount(r).ID, func(a *Account) {
		a.TwoFactorEnabled = false
		a.TwoFactorSecret = ""
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication disabled"})
}

// handleOAuthSuccess stands in for a third-party provider sign-in: it
// redirects to the client with the session in the query string.
func (s *Server) handleOAuthSuccess(w http.ResponseWriter, r *http.Request) {
	target, err := s.OAuthCallbackURL(mux.Vars(r)["email"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
