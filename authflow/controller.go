// Package authflow drives the sign-in lifecycle of the AuthForge client:
// credentials, the optional second factor, the stored session and logout.
// The presentation layer observes it through State, View and Subscribe.
package authflow

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/FirstOnDie/authforge/api"
	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/FirstOnDie/authforge/session"
	"github.com/FirstOnDie/authforge/users"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// codeLength is the number of characters in a TOTP confirmation code.
const codeLength = 6

// API is the remote surface the controller drives. *api.Client implements it.
type API interface {
	Register(ctx context.Context, req api.RegisterRequest) (session.AuthResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (session.AuthResponse, error)
	VerifyTwoFactor(ctx context.Context, req api.TwoFactorLoginRequest) (session.AuthResponse, error)
	Logout(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) (api.ForgotPasswordResponse, error)
	ResetPassword(ctx context.Context, req api.ResetPasswordRequest) (api.MessageResponse, error)
	VerifyEmail(ctx context.Context, token string) (api.MessageResponse, error)
	Me(ctx context.Context) (users.User, error)
	ListUsers(ctx context.Context) ([]users.User, error)
	ChangeRole(ctx context.Context, id int64, role users.Role) (users.User, error)
	Features(ctx context.Context) (api.Features, error)
	SetupTwoFactor(ctx context.Context) (api.TwoFactorSetup, error)
	EnableTwoFactor(ctx context.Context, req api.EnableTwoFactorRequest) error
	DisableTwoFactor(ctx context.Context) error
}

// Controller is the authentication state machine. It is safe for concurrent
// use; at most one network operation runs at a time and a second one is
// rejected with ErrBusy.
type Controller struct {
	store  *session.Store
	client API
	logger zerolog.Logger
	now    func() time.Time

	inFlight atomic.Bool

	lock        sync.Mutex
	state       State
	view        View
	enrollment  *Enrollment
	subscribers []subscriber
	nextSub     uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a controller. The initial state is Authenticated when the store
// holds an access token and Anonymous otherwise; a pending challenge never
// survives a restart.
func New(store *session.Store, client API, options ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("[authflow.New] session store is required")
	}
	if client == nil {
		return nil, errors.New("[authflow.New] api client is required")
	}

	c := &Controller{
		store:  store,
		client: client,
		logger: log.Logger,
		now:    time.Now,
		state:  State{Kind: Anonymous},
		view:   ViewLogin,
	}
	for _, opt := range options {
		opt(c)
	}

	if store.IsAuthenticated() {
		c.state = State{Kind: Authenticated}
		c.view = ViewDashboard
	}
	return c, nil
}

// State returns the current authentication state.
func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// View returns the screen that matches the current state.
func (c *Controller) View() View {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.view
}

// Session returns the stored session, if any.
func (c *Controller) Session() (session.Snapshot, bool) {
	return c.store.Snapshot()
}

// PendingEnrollment returns the two-factor secret awaiting confirmation.
func (c *Controller) PendingEnrollment() (Enrollment, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.enrollment == nil {
		return Enrollment{}, false
	}
	return *c.enrollment, true
}

// Subscribe registers fn to receive every transition. Events are delivered
// synchronously on the goroutine that caused them. The returned func removes
// the subscription.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		for i, sub := range c.subscribers {
			if sub.id == id {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Sign in

// Login submits credentials. A two-factor account moves to AwaitingChallenge
// and nothing is stored; any failure leaves the state unchanged. It is
// refused with ErrInvalidView while a session is stored.
func (c *Controller) Login(ctx context.Context, email, password string) (Result, error) {
	if err := c.requireSignedOut(); err != nil {
		return Result{}, err
	}
	done, err := c.begin()
	if err != nil {
		return Result{}, err
	}
	defer done()

	resp, err := c.client.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return Result{}, err
	}

	if resp.RequiresTwoFactor {
		challengeEmail := email
		if resp.User != nil && resp.User.Email != "" {
			challengeEmail = resp.User.Email
		}
		c.transition(State{Kind: AwaitingChallenge, Email: challengeEmail}, ViewChallenge, "two-factor required")
		return Result{Challenge: &Challenge{Email: challengeEmail}}, nil
	}
	return c.signIn(resp, "login")
}

// VerifyChallenge completes a pending challenge with a TOTP code. A rejected
// code keeps the challenge so the user can retry.
func (c *Controller) VerifyChallenge(ctx context.Context, code string) (Result, error) {
	challenge, ok := c.pendingChallenge()
	if !ok {
		return Result{}, autherrors.ErrNoPendingChallenge
	}

	done, err := c.begin()
	if err != nil {
		return Result{}, err
	}
	defer done()

	resp, err := c.client.VerifyTwoFactor(ctx, api.TwoFactorLoginRequest{
		Email: challenge.Email,
		Code:  strings.TrimSpace(code),
	})
	if err != nil {
		return Result{}, err
	}

	// The challenge may have been cancelled while the call was in flight.
	if current, ok := c.pendingChallenge(); !ok || current.Email != challenge.Email {
		return Result{}, autherrors.ErrNoPendingChallenge
	}
	return c.signIn(resp, "two-factor verified")
}

// CancelChallenge discards a pending challenge and returns to the login form.
func (c *Controller) CancelChallenge() {
	c.lock.Lock()
	pending := c.state.Kind == AwaitingChallenge
	c.lock.Unlock()
	if pending {
		c.transition(State{Kind: Anonymous}, ViewLogin, "challenge cancelled")
	}
}

// Register creates an account. When the server requires email verification
// nothing is stored and the result carries Verification instead of a session.
func (c *Controller) Register(ctx context.Context, name, email, password string) (Result, error) {
	if err := c.requireSignedOut(); err != nil {
		return Result{}, err
	}
	done, err := c.begin()
	if err != nil {
		return Result{}, err
	}
	defer done()

	resp, err := c.client.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: password})
	if err != nil {
		return Result{}, err
	}

	if resp.RequiresEmailVerification {
		verifyEmail := email
		if resp.User != nil && resp.User.Email != "" {
			verifyEmail = resp.User.Email
		}
		c.transition(State{Kind: Anonymous}, ViewLogin, "email verification required")
		return Result{Verification: &Verification{Email: verifyEmail}}, nil
	}
	return c.signIn(resp, "registered")
}

// signIn persists resp and moves to the dashboard.
func (c *Controller) signIn(resp session.AuthResponse, reason string) (Result, error) {
	if resp.AccessToken == "" {
		return Result{}, autherrors.ErrMissingToken
	}
	if err := c.store.Save(resp); err != nil {
		return Result{}, errors.Wrap(err, "[Controller.signIn] store.Save")
	}
	c.transition(State{Kind: Authenticated}, ViewDashboard, reason)
	return Result{Session: &resp}, nil
}

// Logout ends the session. The remote call is best effort: its failure is
// logged and the local session is cleared regardless.
func (c *Controller) Logout(ctx context.Context) {
	if c.store.IsAuthenticated() {
		if err := c.client.Logout(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Remote logout failed")
		}
	}
	c.store.Clear()

	c.lock.Lock()
	c.enrollment = nil
	c.lock.Unlock()
	c.transition(State{Kind: Anonymous}, ViewLogin, "logout")
}

// Password reset and email verification do not change state.

func (c *Controller) ForgotPassword(ctx context.Context, email string) (ResetTicket, error) {
	done, err := c.begin()
	if err != nil {
		return ResetTicket{}, err
	}
	defer done()

	resp, err := c.client.ForgotPassword(ctx, email)
	if err != nil {
		return ResetTicket{}, err
	}
	return ResetTicket{Token: resp.Token, Message: resp.Message}, nil
}

// ResetPassword sets a new password with a reset token. It does not sign in.
func (c *Controller) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	done, err := c.begin()
	if err != nil {
		return "", err
	}
	defer done()

	resp, err := c.client.ResetPassword(ctx, api.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Controller) VerifyEmail(ctx context.Context, token string) (string, error) {
	done, err := c.begin()
	if err != nil {
		return "", err
	}
	defer done()

	resp, err := c.client.VerifyEmail(ctx, token)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Profile

// RefreshProfile reloads the current user and stores it.
func (c *Controller) RefreshProfile(ctx context.Context) (users.User, error) {
	if err := c.requireAuthenticated(); err != nil {
		return users.User{}, err
	}
	done, err := c.begin()
	if err != nil {
		return users.User{}, err
	}
	defer done()

	user, err := c.client.Me(ctx)
	if err != nil {
		return users.User{}, err
	}
	if err := c.store.UpdateUser(user); err != nil {
		return users.User{}, errors.Wrap(err, "[Controller.RefreshProfile] store.UpdateUser")
	}
	return user, nil
}

// Two-factor enrollment

// BeginEnrollment requests a new secret. It is held in memory until
// ConfirmEnrollment succeeds or the session ends.
func (c *Controller) BeginEnrollment(ctx context.Context) (Enrollment, error) {
	if err := c.requireAuthenticated(); err != nil {
		return Enrollment{}, err
	}
	done, err := c.begin()
	if err != nil {
		return Enrollment{}, err
	}
	defer done()

	setup, err := c.client.SetupTwoFactor(ctx)
	if err != nil {
		return Enrollment{}, err
	}

	enrollment := Enrollment{Secret: setup.Secret, QRURI: setup.QRURI}
	c.lock.Lock()
	c.enrollment = &enrollment
	c.lock.Unlock()
	return enrollment, nil
}

// ConfirmEnrollment enables two-factor with the first code from the
// authenticator. A code that is not exactly six characters is rejected
// without calling the server.
func (c *Controller) ConfirmEnrollment(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if utf8.RuneCountInString(code) != codeLength {
		return autherrors.ErrInvalidCode
	}
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	enrollment, ok := c.PendingEnrollment()
	if !ok {
		return autherrors.ErrNoPendingEnrollment
	}

	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.EnableTwoFactor(ctx, api.EnableTwoFactorRequest{Secret: enrollment.Secret, Code: code}); err != nil {
		return err
	}

	c.lock.Lock()
	c.enrollment = nil
	c.lock.Unlock()
	return c.setTwoFactor(true)
}

// DisableTwoFactor turns two-factor off for the signed-in user.
func (c *Controller) DisableTwoFactor(ctx context.Context) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.DisableTwoFactor(ctx); err != nil {
		return err
	}
	return c.setTwoFactor(false)
}

func (c *Controller) setTwoFactor(enabled bool) error {
	user := c.store.User()
	if user == nil {
		return autherrors.ErrNotAuthenticated
	}
	user.TwoFactorEnabled = enabled
	if err := c.store.UpdateUser(*user); err != nil {
		return errors.Wrap(err, "[Controller.setTwoFactor] store.UpdateUser")
	}
	return nil
}

// Admin

// ListUsers returns every account. The caller must be an administrator.
func (c *Controller) ListUsers(ctx context.Context) ([]users.User, error) {
	if err := c.requireAdmin(); err != nil {
		return nil, err
	}
	done, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	return c.client.ListUsers(ctx)
}

// Features returns the server's feature flags for the admin panel.
func (c *Controller) Features(ctx context.Context) (api.Features, error) {
	if err := c.requireAdmin(); err != nil {
		return api.Features{}, err
	}
	done, err := c.begin()
	if err != nil {
		return api.Features{}, err
	}
	defer done()

	return c.client.Features(ctx)
}

// ToggleRole flips target between ADMIN and USER. The requested role is
// derived only from target's current role.
func (c *Controller) ToggleRole(ctx context.Context, target users.User) (users.User, error) {
	if !target.Role.Valid() {
		return users.User{}, errors.Errorf("[Controller.ToggleRole] user %d has no valid role", target.ID)
	}
	if err := c.requireAdmin(); err != nil {
		return users.User{}, err
	}
	done, err := c.begin()
	if err != nil {
		return users.User{}, err
	}
	defer done()

	role := target.Role.Toggle()
	updated, err := c.client.ChangeRole(ctx, target.ID, role)
	if err != nil {
		return users.User{}, err
	}
	if updated.ID == 0 {
		updated = target
		updated.Role = role
	}

	// Demoting yourself drops the admin view.
	if me := c.store.User(); me != nil && me.ID == target.ID {
		me.Role = role
		if err := c.store.UpdateUser(*me); err != nil {
			return updated, errors.Wrap(err, "[Controller.ToggleRole] store.UpdateUser")
		}
		if role != users.RoleAdmin && c.View() == ViewAdmin {
			c.transition(c.State(), ViewDashboard, "admin role removed")
		}
	}
	return updated, nil
}

// Views

// Navigate moves to view if the current state allows it. Leaving the
// challenge form for another sign-in form discards the challenge.
func (c *Controller) Navigate(view View) error {
	state := c.State()

	switch {
	case view.authView():
		if state.Kind == Authenticated {
			return autherrors.ErrInvalidView
		}
		c.transition(State{Kind: Anonymous}, view, "navigate")
	case view == ViewChallenge:
		if state.Kind != AwaitingChallenge {
			return autherrors.ErrNoPendingChallenge
		}
		c.transition(state, view, "navigate")
	case view == ViewDashboard:
		if state.Kind != Authenticated {
			return autherrors.ErrNotAuthenticated
		}
		c.transition(state, view, "navigate")
	case view == ViewAdmin:
		if err := c.requireAdmin(); err != nil {
			return err
		}
		c.transition(state, view, "navigate")
	default:
		return autherrors.ErrInvalidView
	}
	return nil
}

// Guards

// begin claims the in-flight slot. The returned func releases it.
func (c *Controller) begin() (func(), error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, autherrors.ErrBusy
	}
	return func() { c.inFlight.Store(false) }, nil
}

func (c *Controller) pendingChallenge() (Challenge, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state.Kind != AwaitingChallenge {
		return Challenge{}, false
	}
	return Challenge{Email: c.state.Email}, true
}

// requireSignedOut keeps the sign-in forms unavailable while a session is
// stored, so a second account can never land on top of the first.
func (c *Controller) requireSignedOut() error {
	if c.State().Kind == Authenticated {
		return autherrors.ErrInvalidView
	}
	return nil
}

func (c *Controller) requireAuthenticated() error {
	if c.State().Kind != Authenticated {
		return autherrors.ErrNotAuthenticated
	}
	return nil
}

func (c *Controller) requireAdmin() error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if !c.store.IsAdmin() {
		return autherrors.ErrForbidden
	}
	return nil
}

// transition moves to the given state and view and notifies subscribers
// when either changed. Subscribers run without the lock held.
func (c *Controller) transition(to State, view View, reason string) {
	c.lock.Lock()
	if c.state == to && c.view == view {
		c.lock.Unlock()
		return
	}
	event := Event{
		ID:       uuid.New(),
		At:       c.now(),
		From:     c.state,
		To:       to,
		FromView: c.view,
		ToView:   view,
		Reason:   reason,
	}
	c.state = to
	c.view = view
	subscribers := make([]func(Event), 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subscribers = append(subscribers, sub.fn)
	}
	c.lock.Unlock()

	c.logger.Debug().
		Str("from", event.From.String()).
		Str("to", event.To.String()).
		Str("view", event.ToView.String()).
		Str("reason", reason).
		Msg("Auth state transition")
	for _, fn := range subscribers {
		fn(event)
	}
}
