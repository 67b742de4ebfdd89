package authflow_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FirstOnDie/authforge/api"
	"github.com/FirstOnDie/authforge/authflow"
	"github.com/FirstOnDie/authforge/gateway"
	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/FirstOnDie/authforge/internal/fakeserver"
	"github.com/FirstOnDie/authforge/session"
	"github.com/FirstOnDie/authforge/storage"
	"github.com/FirstOnDie/authforge/users"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	userEmail     = "ada@example.com"
	adminEmail    = "root@example.com"
	totpEmail     = "totp@example.com"
	testPassword  = "password123"
	wrongPassword = "bad"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	server     *fakeserver.Server
	store      *session.Store
	client     *api.Client
	controller *authflow.Controller
	events     []authflow.Event
}

func setupTestFixture(t *testing.T, options ...fakeserver.Option) *testFixture {
	t.Helper()

	srv := fakeserver.New(options...)
	srv.AddUser("Ada", userEmail, testPassword, users.RoleUser, false)
	srv.AddUser("Root", adminEmail, testPassword, users.RoleAdmin, false)
	srv.AddUser("Totp", totpEmail, testPassword, users.RoleUser, true)

	httpServer := httptest.NewServer(srv)
	t.Cleanup(httpServer.Close)

	store, err := session.NewStore(storage.NewMemory())
	require.NoError(t, err)

	f := &testFixture{server: srv, store: store}
	f.client = newClient(t, httpServer.URL, store)
	f.controller = f.newController(t)
	return f
}

func newClient(t *testing.T, baseURL string, store *session.Store) *api.Client {
	t.Helper()
	gw, err := gateway.New(baseURL, store)
	require.NoError(t, err)
	client, err := api.New(gw)
	require.NoError(t, err)
	return client
}

func (f *testFixture) newController(t *testing.T) *authflow.Controller {
	t.Helper()
	c, err := authflow.New(f.store, f.client, authflow.WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	c.Subscribe(func(e authflow.Event) {
		f.events = append(f.events, e)
	})
	return c
}

func (f *testFixture) login(t *testing.T, email string) {
	t.Helper()
	_, err := f.controller.Login(context.Background(), email, testPassword)
	require.NoError(t, err)
	require.Equal(t, authflow.Authenticated, f.controller.State().Kind)
}

func TestNew(t *testing.T) {
	store, err := session.NewStore(storage.NewMemory())
	require.NoError(t, err)

	t.Run("Requires store and client", func(t *testing.T) {
		_, err := authflow.New(nil, &api.Client{})
		require.Error(t, err)
		_, err = authflow.New(store, nil)
		require.Error(t, err)
	})

	t.Run("Anonymous without a stored token", func(t *testing.T) {
		c, err := authflow.New(store, &api.Client{})
		require.NoError(t, err)
		require.Equal(t, authflow.Anonymous, c.State().Kind)
		require.Equal(t, authflow.ViewLogin, c.View())
	})

	t.Run("Authenticated with a stored token", func(t *testing.T) {
		require.NoError(t, store.Save(session.AuthResponse{
			AccessToken:  "stale",
			RefreshToken: "r",
			ExpiresIn:    1,
			User:         &users.User{ID: 1, Email: userEmail, Role: users.RoleUser},
		}))
		c, err := authflow.New(store, &api.Client{})
		require.NoError(t, err)
		require.Equal(t, authflow.Authenticated, c.State().Kind)
		require.Equal(t, authflow.ViewDashboard, c.View())
	})
}

func TestController_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("Success stores the session", func(t *testing.T) {
		f := setupTestFixture(t)

		result, err := f.controller.Login(ctx, adminEmail, testPassword)
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		require.Nil(t, result.Challenge)

		require.True(t, f.store.IsAuthenticated())
		require.Equal(t, result.Session.AccessToken, f.store.AccessToken())
		require.Equal(t, users.RoleAdmin, f.store.User().Role)
		require.Equal(t, authflow.State{Kind: authflow.Authenticated}, f.controller.State())
		require.Equal(t, authflow.ViewDashboard, f.controller.View())
		require.Equal(t, int64(15*time.Minute/time.Millisecond), f.store.ExpiresIn())
	})

	t.Run("Two-factor account awaits a challenge", func(t *testing.T) {
		f := setupTestFixture(t)

		result, err := f.controller.Login(ctx, totpEmail, testPassword)
		require.NoError(t, err)
		require.Nil(t, result.Session)
		require.Equal(t, &authflow.Challenge{Email: totpEmail}, result.Challenge)

		require.False(t, f.store.IsAuthenticated())
		require.Empty(t, f.store.RefreshToken())
		require.Nil(t, f.store.User())
		require.Equal(t, authflow.State{Kind: authflow.AwaitingChallenge, Email: totpEmail}, f.controller.State())
		require.Equal(t, authflow.ViewChallenge, f.controller.View())
	})

	t.Run("Invalid credentials leave the state unchanged", func(t *testing.T) {
		f := setupTestFixture(t)
		f.server.Fail("/api/auth/login", http.StatusUnauthorized, `{"error":"Invalid credentials"}`)

		_, err := f.controller.Login(ctx, "a@x.com", wrongPassword)
		require.Error(t, err)
		require.Equal(t, "Invalid credentials", err.Error())
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
		require.False(t, f.store.IsAuthenticated())
		require.Empty(t, f.events)
	})

	t.Run("Wrong password from the server", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.controller.Login(ctx, userEmail, wrongPassword)
		require.EqualError(t, err, "Invalid email or password")

		var gwErr *gateway.Error
		require.ErrorAs(t, err, &gwErr)
		require.Equal(t, http.StatusUnauthorized, gwErr.Status)
		require.Equal(t, gateway.KindServer, gwErr.Kind)
	})

	t.Run("Rate limit wins over the body", func(t *testing.T) {
		f := setupTestFixture(t)
		f.server.Fail("/api/auth/login", http.StatusTooManyRequests, `{"error":"Invalid credentials"}`)

		_, err := f.controller.Login(ctx, userEmail, testPassword)
		require.ErrorIs(t, err, gateway.ErrRateLimited)
		require.Equal(t, gateway.RateLimitMessage, err.Error())
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
	})

	t.Run("Response without a token is rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		f.server.Fail("/api/auth/login", http.StatusOK, `{"user":{"id":1,"email":"ada@example.com","role":"USER"}}`)

		_, err := f.controller.Login(ctx, userEmail, testPassword)
		require.ErrorIs(t, err, autherrors.ErrMissingToken)
		require.False(t, f.store.IsAuthenticated())
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
	})

	t.Run("Refused while signed in", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)
		calls := f.server.TotalCalls()

		_, err := f.controller.Login(ctx, totpEmail, testPassword)
		require.ErrorIs(t, err, autherrors.ErrInvalidView)
		_, err = f.controller.Register(ctx, "Grace", "grace@example.com", testPassword)
		require.ErrorIs(t, err, autherrors.ErrInvalidView)
		require.Equal(t, calls, f.server.TotalCalls())

		require.Equal(t, authflow.State{Kind: authflow.Authenticated}, f.controller.State())
		require.Equal(t, userEmail, f.store.User().Email)

		f.controller.CancelChallenge()
		require.Equal(t, authflow.Authenticated, f.controller.State().Kind)
		require.True(t, f.store.IsAuthenticated())

		restarted, err := authflow.New(f.store, f.client)
		require.NoError(t, err)
		require.Equal(t, authflow.Authenticated, restarted.State().Kind)
		require.Equal(t, userEmail, f.store.User().Email)

		f.controller.Logout(ctx)
		_, err = f.controller.Login(ctx, totpEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, authflow.AwaitingChallenge, f.controller.State().Kind)
		require.False(t, f.store.IsAuthenticated())
		require.Nil(t, f.store.User())
	})

	t.Run("Emits a transition event", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)

		require.Len(t, f.events, 1)
		e := f.events[0]
		require.NotEqual(t, uuid.Nil, e.ID)
		require.Equal(t, fixedTime, e.At)
		require.Equal(t, authflow.Anonymous, e.From.Kind)
		require.Equal(t, authflow.Authenticated, e.To.Kind)
		require.Equal(t, authflow.ViewLogin, e.FromView)
		require.Equal(t, authflow.ViewDashboard, e.ToView)
		require.Equal(t, "login", e.Reason)
	})
}

func TestController_VerifyChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("Requires a pending challenge", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.VerifyChallenge(ctx, fakeserver.DefaultTOTPCode)
		require.ErrorIs(t, err, autherrors.ErrNoPendingChallenge)
		require.Zero(t, f.server.TotalCalls())
	})

	t.Run("Wrong code keeps the challenge", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.Login(ctx, totpEmail, testPassword)
		require.NoError(t, err)

		_, err = f.controller.VerifyChallenge(ctx, "000000")
		require.EqualError(t, err, "Invalid 2FA code")
		require.Equal(t, authflow.State{Kind: authflow.AwaitingChallenge, Email: totpEmail}, f.controller.State())
		require.False(t, f.store.IsAuthenticated())

		result, err := f.controller.VerifyChallenge(ctx, " "+fakeserver.DefaultTOTPCode+" ")
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		require.Equal(t, authflow.Authenticated, f.controller.State().Kind)
		require.Equal(t, totpEmail, f.store.User().Email)
		require.True(t, f.store.User().TwoFactorEnabled)
	})

	t.Run("Cancel discards the challenge", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.Login(ctx, totpEmail, testPassword)
		require.NoError(t, err)

		f.controller.CancelChallenge()
		require.Equal(t, authflow.State{Kind: authflow.Anonymous}, f.controller.State())
		require.Equal(t, authflow.ViewLogin, f.controller.View())

		_, err = f.controller.VerifyChallenge(ctx, fakeserver.DefaultTOTPCode)
		require.ErrorIs(t, err, autherrors.ErrNoPendingChallenge)
	})

	t.Run("Navigating back to login discards the challenge", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.Login(ctx, totpEmail, testPassword)
		require.NoError(t, err)

		require.NoError(t, f.controller.Navigate(authflow.ViewLogin))
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
		require.ErrorIs(t, f.controller.Navigate(authflow.ViewChallenge), autherrors.ErrNoPendingChallenge)
	})
}

func TestController_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("Success signs in", func(t *testing.T) {
		f := setupTestFixture(t)

		result, err := f.controller.Register(ctx, "Grace", "grace@example.com", testPassword)
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		require.Equal(t, authflow.Authenticated, f.controller.State().Kind)
		require.Equal(t, "Grace", f.store.User().Name)
		require.Equal(t, users.RoleUser, f.store.User().Role)
	})

	t.Run("Validation details are flattened", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.controller.Register(ctx, "Grace", "grace@example.com", "short")
		require.EqualError(t, err, "Password must be at least 8 characters")
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
	})

	t.Run("Duplicate email", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.controller.Register(ctx, "Ada", userEmail, testPassword)
		require.EqualError(t, err, "Email already registered")
	})

	t.Run("Email verification stores nothing", func(t *testing.T) {
		f := setupTestFixture(t, fakeserver.WithEmailVerification())

		result, err := f.controller.Register(ctx, "Grace", "grace@example.com", testPassword)
		require.NoError(t, err)
		require.Nil(t, result.Session)
		require.Equal(t, &authflow.Verification{Email: "grace@example.com"}, result.Verification)
		require.False(t, f.store.IsAuthenticated())
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)

		_, err = f.controller.Login(ctx, "grace@example.com", testPassword)
		require.EqualError(t, err, "Please verify your email before logging in")

		msg, err := f.controller.VerifyEmail(ctx, f.server.VerificationToken("grace@example.com"))
		require.NoError(t, err)
		require.NotEmpty(t, msg)
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)

		f.login(t, "grace@example.com")
	})

	t.Run("Email verification discards a pending challenge", func(t *testing.T) {
		f := setupTestFixture(t, fakeserver.WithEmailVerification())
		_, err := f.controller.Login(ctx, totpEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, authflow.ViewChallenge, f.controller.View())

		result, err := f.controller.Register(ctx, "Grace", "grace@example.com", testPassword)
		require.NoError(t, err)
		require.NotNil(t, result.Verification)
		require.Equal(t, authflow.State{Kind: authflow.Anonymous}, f.controller.State())
		require.Equal(t, authflow.ViewLogin, f.controller.View())

		_, err = f.controller.VerifyChallenge(ctx, fakeserver.DefaultTOTPCode)
		require.ErrorIs(t, err, autherrors.ErrNoPendingChallenge)
		require.False(t, f.store.IsAuthenticated())
	})
}

func TestController_IngestEntryURL(t *testing.T) {
	t.Run("Without a token the address is untouched", func(t *testing.T) {
		f := setupTestFixture(t)

		cleaned, ingested, err := f.controller.IngestEntryURL("http://localhost:3000/?tab=admin")
		require.NoError(t, err)
		require.False(t, ingested)
		require.Equal(t, "http://localhost:3000/?tab=admin", cleaned)
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
	})

	t.Run("Callback parameters sign in", func(t *testing.T) {
		f := setupTestFixture(t)
		callback, err := f.server.OAuthCallbackURL(adminEmail)
		require.NoError(t, err)

		cleaned, ingested, err := f.controller.IngestEntryURL(callback)
		require.NoError(t, err)
		require.True(t, ingested)
		require.Equal(t, "http://localhost:3000/", cleaned)

		require.Equal(t, authflow.Authenticated, f.controller.State().Kind)
		require.Equal(t, adminEmail, f.store.User().Email)
		require.Equal(t, users.RoleAdmin, f.store.User().Role)
		require.NotEmpty(t, f.store.RefreshToken())

		// The synthesised session works against the server.
		me, err := f.controller.RefreshProfile(context.Background())
		require.NoError(t, err)
		require.Equal(t, "Root", me.Name)
	})

	t.Run("Malformed parameters store nothing", func(t *testing.T) {
		tests := map[string]string{
			"Missing refresh token": "https://app.example/cb?token=t&expiresIn=1&userId=1&userEmail=a@x.com&userRole=USER",
			"Bad expiry":            "https://app.example/cb?token=t&refreshToken=r&expiresIn=soon&userId=1&userEmail=a@x.com&userRole=USER",
			"Bad user id":           "https://app.example/cb?token=t&refreshToken=r&expiresIn=1&userId=x&userEmail=a@x.com&userRole=USER",
			"Missing email":         "https://app.example/cb?token=t&refreshToken=r&expiresIn=1&userId=1&userRole=USER",
			"Unknown role":          "https://app.example/cb?token=t&refreshToken=r&expiresIn=1&userId=1&userEmail=a@x.com&userRole=ROOT",
			"Empty token":           "https://app.example/cb?token=&refreshToken=r&expiresIn=1&userId=1&userEmail=a@x.com&userRole=USER",
		}
		for name, raw := range tests {
			t.Run(name, func(t *testing.T) {
				f := setupTestFixture(t)

				cleaned, ingested, err := f.controller.IngestEntryURL(raw)
				require.ErrorIs(t, err, autherrors.ErrInvalidCallback)
				require.False(t, ingested)
				require.Equal(t, "https://app.example/cb", cleaned)
				require.False(t, f.store.IsAuthenticated())
				require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
			})
		}
	})
}

func TestController_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("Revokes and clears", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)
		refresh := f.store.RefreshToken()
		require.True(t, f.server.RefreshTokenActive(refresh))

		f.controller.Logout(ctx)
		require.False(t, f.server.RefreshTokenActive(refresh))
		require.False(t, f.store.IsAuthenticated())
		require.Nil(t, f.store.User())
		require.Zero(t, f.store.ExpiresIn())
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
		require.Equal(t, authflow.ViewLogin, f.controller.View())
	})

	t.Run("Remote failure is swallowed", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)
		f.server.Fail("/api/auth/logout", http.StatusInternalServerError, `{"error":"boom"}`)

		f.controller.Logout(ctx)
		require.Equal(t, 1, f.server.Calls("/api/auth/logout"))
		require.False(t, f.store.IsAuthenticated())
		require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
	})

	t.Run("Unreachable server", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)

		c, err := authflow.New(f.store, newClient(t, "http://127.0.0.1:1", f.store))
		require.NoError(t, err)
		c.Logout(ctx)
		require.False(t, f.store.IsAuthenticated())
		require.Equal(t, authflow.Anonymous, c.State().Kind)
	})
}

func TestController_TwoFactorEnrollment(t *testing.T) {
	ctx := context.Background()

	t.Run("Requires a session", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.BeginEnrollment(ctx)
		require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
	})

	t.Run("Short code is rejected locally", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)
		_, err := f.controller.BeginEnrollment(ctx)
		require.NoError(t, err)
		calls := f.server.TotalCalls()

		for _, code := range []string{"12345", "", "   ", "1234567"} {
			err := f.controller.ConfirmEnrollment(ctx, code)
			require.ErrorIs(t, err, autherrors.ErrInvalidCode)
		}
		require.Equal(t, calls, f.server.TotalCalls())
		require.False(t, f.store.User().TwoFactorEnabled)
	})

	t.Run("Confirm requires setup", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)

		err := f.controller.ConfirmEnrollment(ctx, fakeserver.DefaultTOTPCode)
		require.ErrorIs(t, err, autherrors.ErrNoPendingEnrollment)
	})

	t.Run("Enable and disable", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)

		enrollment, err := f.controller.BeginEnrollment(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, enrollment.Secret)
		require.True(t, strings.HasPrefix(enrollment.QRURI, "otpauth://totp/"))
		pending, ok := f.controller.PendingEnrollment()
		require.True(t, ok)
		require.Equal(t, enrollment, pending)

		err = f.controller.ConfirmEnrollment(ctx, "000000")
		require.EqualError(t, err, "Invalid 2FA code")
		_, ok = f.controller.PendingEnrollment()
		require.True(t, ok)

		require.NoError(t, f.controller.ConfirmEnrollment(ctx, fakeserver.DefaultTOTPCode))
		require.True(t, f.store.User().TwoFactorEnabled)
		_, ok = f.controller.PendingEnrollment()
		require.False(t, ok)

		account, err := f.server.Account(userEmail)
		require.NoError(t, err)
		require.True(t, account.TwoFactorEnabled)
		require.Equal(t, enrollment.Secret, account.TwoFactorSecret)

		require.NoError(t, f.controller.DisableTwoFactor(ctx))
		require.False(t, f.store.User().TwoFactorEnabled)
		require.Equal(t, authflow.Authenticated, f.controller.State().Kind)
	})

	t.Run("Logout discards the pending secret", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)
		_, err := f.controller.BeginEnrollment(ctx)
		require.NoError(t, err)

		f.controller.Logout(ctx)
		_, ok := f.controller.PendingEnrollment()
		require.False(t, ok)
	})
}

func TestController_Admin(t *testing.T) {
	ctx := context.Background()

	t.Run("Regular users are refused locally", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, userEmail)
		calls := f.server.TotalCalls()

		_, err := f.controller.ListUsers(ctx)
		require.ErrorIs(t, err, autherrors.ErrForbidden)
		_, err = f.controller.ToggleRole(ctx, users.User{ID: 1, Role: users.RoleUser})
		require.ErrorIs(t, err, autherrors.ErrForbidden)
		_, err = f.controller.Features(ctx)
		require.ErrorIs(t, err, autherrors.ErrForbidden)
		require.ErrorIs(t, f.controller.Navigate(authflow.ViewAdmin), autherrors.ErrForbidden)
		require.Equal(t, calls, f.server.TotalCalls())
	})

	t.Run("Anonymous callers", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.ListUsers(ctx)
		require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
	})

	t.Run("List and toggle", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, adminEmail)

		list, err := f.controller.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, userEmail, list[0].Email)

		promoted, err := f.controller.ToggleRole(ctx, list[0])
		require.NoError(t, err)
		require.Equal(t, users.RoleAdmin, promoted.Role)

		demoted, err := f.controller.ToggleRole(ctx, promoted)
		require.NoError(t, err)
		require.Equal(t, users.RoleUser, demoted.Role)

		account, err := f.server.Account(userEmail)
		require.NoError(t, err)
		require.Equal(t, users.RoleUser, account.Role)
	})

	t.Run("Feature flags", func(t *testing.T) {
		f := setupTestFixture(t, fakeserver.WithEmailVerification())
		f.login(t, adminEmail)

		features, err := f.controller.Features(ctx)
		require.NoError(t, err)
		require.Equal(t, api.Features{OAuth2: true, TwoFactor: true, EmailVerification: true}, features)
	})

	t.Run("Target without a role", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, adminEmail)

		_, err := f.controller.ToggleRole(ctx, users.User{ID: 1})
		require.Error(t, err)
	})

	t.Run("Demoting yourself leaves the admin view", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, adminEmail)
		require.NoError(t, f.controller.Navigate(authflow.ViewAdmin))
		me := f.store.User()

		_, err := f.controller.ToggleRole(ctx, *me)
		require.NoError(t, err)
		require.False(t, f.store.IsAdmin())
		require.Equal(t, authflow.ViewDashboard, f.controller.View())

		_, err = f.controller.ListUsers(ctx)
		require.ErrorIs(t, err, autherrors.ErrForbidden)
	})

	t.Run("Server refusal surfaces", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, adminEmail)
		f.server.Fail("/api/admin/users", http.StatusForbidden, `{"message":"Access Denied"}`)

		_, err := f.controller.ListUsers(ctx)
		require.EqualError(t, err, "Access Denied")
	})
}

func TestController_PasswordReset(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	ticket, err := f.controller.ForgotPassword(ctx, userEmail)
	require.NoError(t, err)
	require.NotEmpty(t, ticket.Token)
	require.Equal(t, authflow.Anonymous, f.controller.State().Kind)

	_, err = f.controller.ResetPassword(ctx, "not-a-token", "newpassword1")
	require.EqualError(t, err, "Invalid or expired reset token")

	msg, err := f.controller.ResetPassword(ctx, ticket.Token, "newpassword1")
	require.NoError(t, err)
	require.Equal(t, "Password reset successfully", msg)
	require.Equal(t, authflow.Anonymous, f.controller.State().Kind)
	require.False(t, f.store.IsAuthenticated())

	_, err = f.controller.Login(ctx, userEmail, testPassword)
	require.Error(t, err)
	_, err = f.controller.Login(ctx, userEmail, "newpassword1")
	require.NoError(t, err)
}

func TestController_Navigate(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.controller.Navigate(authflow.ViewRegister))
	require.Equal(t, authflow.ViewRegister, f.controller.View())
	require.NoError(t, f.controller.Navigate(authflow.ViewForgotPassword))
	require.ErrorIs(t, f.controller.Navigate(authflow.ViewDashboard), autherrors.ErrNotAuthenticated)
	require.ErrorIs(t, f.controller.Navigate(authflow.ViewAdmin), autherrors.ErrNotAuthenticated)
	require.ErrorIs(t, f.controller.Navigate(authflow.View(42)), autherrors.ErrInvalidView)

	f.login(t, adminEmail)
	require.ErrorIs(t, f.controller.Navigate(authflow.ViewLogin), autherrors.ErrInvalidView)
	require.NoError(t, f.controller.Navigate(authflow.ViewAdmin))
	require.Equal(t, authflow.ViewAdmin, f.controller.View())
	require.NoError(t, f.controller.Navigate(authflow.ViewDashboard))
	require.Equal(t, authflow.ViewDashboard, f.controller.View())
}

func TestController_Subscribe(t *testing.T) {
	f := setupTestFixture(t)

	var count int
	unsubscribe := f.controller.Subscribe(func(authflow.Event) { count++ })
	require.NoError(t, f.controller.Navigate(authflow.ViewRegister))
	require.Equal(t, 1, count)

	// Same view again is not a transition.
	require.NoError(t, f.controller.Navigate(authflow.ViewRegister))
	require.Equal(t, 1, count)

	unsubscribe()
	require.NoError(t, f.controller.Navigate(authflow.ViewLogin))
	require.Equal(t, 1, count)
	require.Len(t, f.events, 2)
}

// blockingAPI holds Login until release is closed
type blockingAPI struct {
	authflow.API
	started chan struct{}
	release chan struct{}
}

func (b *blockingAPI) Login(ctx context.Context, req api.LoginRequest) (session.AuthResponse, error) {
	close(b.started)
	<-b.release
	return session.AuthResponse{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresIn:    1000,
		User:         &users.User{ID: 1, Email: req.Email, Role: users.RoleUser},
	}, nil
}

func TestController_Busy(t *testing.T) {
	store, err := session.NewStore(storage.NewMemory())
	require.NoError(t, err)
	fake := &blockingAPI{started: make(chan struct{}), release: make(chan struct{})}
	c, err := authflow.New(store, fake)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), userEmail, testPassword)
		done <- err
	}()
	<-fake.started

	_, err = c.Login(context.Background(), userEmail, testPassword)
	require.ErrorIs(t, err, autherrors.ErrBusy)
	_, err = c.Register(context.Background(), "Ada", userEmail, testPassword)
	require.ErrorIs(t, err, autherrors.ErrBusy)

	close(fake.release)
	require.NoError(t, <-done)
	require.Equal(t, authflow.Authenticated, c.State().Kind)
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "anonymous", authflow.Anonymous.String())
	require.Equal(t, "awaiting_challenge(a@x.com)", authflow.State{Kind: authflow.AwaitingChallenge, Email: "a@x.com"}.String())
	require.Equal(t, "admin", authflow.ViewAdmin.String())
	require.Equal(t, "unknown", authflow.View(42).String())
}
