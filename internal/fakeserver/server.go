// Package fakeserver is an in-process implementation of the AuthForge API
// contract. It backs the client tests and the `authforge mock-server` command.
package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FirstOnDie/authforge/users"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTOTPCode is the code the fake authenticator always accepts.
	DefaultTOTPCode = "123456"

	defaultTokenExpiry = 15 * time.Minute
	totpIssuer         = "AuthForge"
)

type contextKey string

const contextKeyAccount contextKey = "account"

// Fault is a canned response returned instead of the real handler.
type Fault struct {
	Status int
	Body   string
}

// Server is the fake AuthForge API.
type Server struct {
	router   *mux.Router
	accounts *AccountRepo
	tokens   *issuer

	totpCode          string
	emailVerification bool
	oauthRedirect     string

	lock   sync.Mutex
	calls  map[string]int
	faults map[string]Fault
}

// Option configures a Server.
type Option func(*Server)

// WithTOTPCode changes the code accepted for every two-factor check.
func WithTOTPCode(code string) Option {
	return func(s *Server) {
		s.totpCode = code
	}
}

// WithEmailVerification makes registration require email verification.
func WithEmailVerification() Option {
	return func(s *Server) {
		s.emailVerification = true
	}
}

// WithTokenExpiry sets the access token lifetime.
func WithTokenExpiry(d time.Duration) Option {
	return func(s *Server) {
		s.tokens.expiresIn = d
	}
}

// WithOAuthRedirect sets the client address the /oauth2 success route redirects to.
func WithOAuthRedirect(redirect string) Option {
	return func(s *Server) {
		s.oauthRedirect = redirect
	}
}

// New creates a fake server with an empty account table.
func New(options ...Option) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		accounts:      NewAccountRepo(),
		tokens:        newIssuer([]byte(uuid.New().String()), defaultTokenExpiry),
		totpCode:      DefaultTOTPCode,
		oauthRedirect: "http://localhost:3000/",
		calls:         make(map[string]int),
		faults:        make(map[string]Fault),
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.router.Use(s.recoverMiddleware, s.countingMiddleware, s.faultMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/2fa/verify", s.handleVerifyTwoFactor).Methods(http.MethodPost)
	api.HandleFunc("/auth/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify", s.handleVerifyEmail).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/2fa/setup", s.handleSetupTwoFactor).Methods(http.MethodPost)
	authed.HandleFunc("/2fa/enable", s.handleEnableTwoFactor).Methods(http.MethodPost)
	authed.HandleFunc("/2fa/disable", s.handleDisableTwoFactor).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAuth, s.requireAdmin)
	admin.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id:[0-9]+}/role", s.handleChangeRole).Methods(http.MethodPut)
	admin.HandleFunc("/features", s.handleFeatures).Methods(http.MethodGet)

	s.router.HandleFunc("/oauth2/success/{email}", s.handleOAuthSuccess).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser seeds an account. When twoFactor is set the account requires the TOTP code at login.
func (s *Server) AddUser(name, email, password string, role users.Role, twoFactor bool) users.User {
	account, err := s.accounts.Create(name, email, password, role)
	if err != nil {
		panic("fakeserver: " + err.Error())
	}
	account, _ = s.accounts.Update(account.ID, func(a *Account) {
		a.EmailVerified = true
		if twoFactor {
			a.TwoFactorEnabled = true
			a.TwoFactorSecret = "JBSWY3DPEHPK3PXP"
		}
	})
	return account.User
}

// Account returns the server's view of a user.
func (s *Server) Account(email string) (*Account, error) {
	return s.accounts.GetByEmail(email)
}

// Fail makes every request to path return the given fault until Recover is called.
// path is the full request path, e.g. "/api/auth/logout".
func (s *Server) Fail(path string, status int, body string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults[path] = Fault{Status: status, Body: body}
}

// Recover removes a fault added by Fail.
func (s *Server) Recover(path string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.faults, path)
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.calls[path]
}

// TotalCalls returns the number of requests received.
func (s *Server) TotalCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// RefreshTokenActive reports whether a refresh token is still valid.
func (s *Server) RefreshTokenActive(token string) bool {
	s.tokens.lock.Lock()
	defer s.tokens.lock.Unlock()
	_, ok := s.tokens.refresh[token]
	return ok
}

// OAuthCallbackURL builds the client entry address the OAuth2 success handler
// redirects to after a third-party sign-in for email.
func (s *Server) OAuthCallbackURL(email string) (string, error) {
	account, err := s.accounts.GetByEmail(email)
	if err != nil {
		return "", err
	}
	access, refresh, err := s.tokens.mint(account.Email, account.Role.String())
	if err != nil {
		return "", err
	}

	target, err := url.Parse(s.oauthRedirect)
	if err != nil {
		return "", err
	}
	q := target.Query()
	q.Set("token", access)
	q.Set("refreshToken", refresh)
	q.Set("expiresIn", strconv.FormatInt(s.tokens.expiresInMillis(), 10))
	q.Set("userId", strconv.FormatInt(account.ID, 10))
	q.Set("userName", account.Name)
	q.Set("userEmail", account.Email)
	q.Set("userRole", account.Role.String())
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// Middleware

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("fakeserver handler panicked")
				writeError(w, http.StatusInternalServerError, "Internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		s.calls[r.URL.Path]++
		s.lock.Unlock()
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("fakeserver request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		fault, ok := s.faults[r.URL.Path]
		s.lock.Unlock()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fault.Status)
		_, _ = w.Write([]byte(fault.Body))
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "Full authentication is required to access this resource")
			return
		}
		claims, err := s.tokens.verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		account, err := s.accounts.GetByEmail(claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyAccount, authContext{account: account, claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !currentAccount(r).IsAdmin() {
			writeError(w, http.StatusForbidden, "Access Denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authContext struct {
	account *Account
	claims  *accessClaims
}

func currentAuth(r *http.Request) authContext {
	ac, _ := r.Context().Value(contextKeyAccount).(authContext)
	return ac
}

func currentAccount(r *http.Request) *Account {
	if ac := currentAuth(r); ac.account != nil {
		return ac.account
	}
	return &Account{}
}

// Responses

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"timestamp": NowTimeFunc().Format(time.RFC3339),
		"status":    status,
		"error":     message,
	})
}

// writeValidation mirrors the server's field validation body; "error" is
// omitted so the field messages are what the client shows.
func writeValidation(w http.ResponseWriter, details map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"status":  http.StatusBadRequest,
		"details": details,
	})
}

func decodeBody(r *http.Request, out any) bool {
	return json.NewDecoder(r.Body).Decode(out) == nil
}
