// Package api names every remote AuthForge operation. Each method is a thin
// wrapper over gateway.Send with a fixed endpoint and method.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/FirstOnDie/authforge/gateway"
	"github.com/FirstOnDie/authforge/session"
	"github.com/FirstOnDie/authforge/users"
	"github.com/pkg/errors"
)

// Sender is the part of the gateway the client needs.
type Sender interface {
	Send(ctx context.Context, endpoint string, r gateway.Request) (json.RawMessage, error)
}

// Client exposes the remote contract.
type Client struct {
	gw Sender
}

// New creates a client over a gateway
func New(gw Sender) (*Client, error) {
	if gw == nil {
		return nil, errors.New("[api.New] gateway is required")
	}
	return &Client{gw: gw}, nil
}

// call sends a request and decodes the result into T
func call[T any](ctx context.Context, c *Client, endpoint string, r gateway.Request) (T, error) {
	data, err := c.gw.Send(ctx, endpoint, r)
	if err != nil {
		var zero T
		return zero, err
	}
	return gateway.Decode[T](data)
}

// Auth

func (c *Client) Register(ctx context.Context, req RegisterRequest) (session.AuthResponse, error) {
	return call[session.AuthResponse](ctx, c, "/auth/register", gateway.Request{Method: http.MethodPost, Body: req})
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (session.AuthResponse, error) {
	return call[session.AuthResponse](ctx, c, "/auth/login", gateway.Request{Method: http.MethodPost, Body: req})
}

func (c *Client) VerifyTwoFactor(ctx context.Context, req TwoFactorLoginRequest) (session.AuthResponse, error) {
	return call[session.AuthResponse](ctx, c, "/auth/2fa/verify", gateway.Request{Method: http.MethodPost, Body: req})
}

// Logout asks the server to revoke the refresh token. The response body is ignored.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.gw.Send(ctx, "/auth/logout", gateway.Request{Method: http.MethodPost})
	return err
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (ForgotPasswordResponse, error) {
	return call[ForgotPasswordResponse](ctx, c, "/auth/forgot-password", gateway.Request{
		Method: http.MethodPost,
		Body:   ForgotPasswordRequest{Email: email},
	})
}

func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) (MessageResponse, error) {
	return call[MessageResponse](ctx, c, "/auth/reset-password", gateway.Request{Method: http.MethodPost, Body: req})
}

// VerifyEmail confirms an address with the token sent at registration.
func (c *Client) VerifyEmail(ctx context.Context, token string) (MessageResponse, error) {
	return call[MessageResponse](ctx, c, "/auth/verify?token="+url.QueryEscape(token), gateway.Request{})
}

// User

// Me returns the current user. Both {"user": {...}} and a bare user object are accepted.
func (c *Client) Me(ctx context.Context) (users.User, error) {
	data, err := c.gw.Send(ctx, "/users/me", gateway.Request{})
	if err != nil {
		return users.User{}, err
	}
	if fields, err := gateway.Decode[map[string]json.RawMessage](data); err == nil {
		if raw, ok := fields["user"]; ok {
			return gateway.Decode[users.User](raw)
		}
	}
	return gateway.Decode[users.User](data)
}

// Admin

func (c *Client) ListUsers(ctx context.Context) ([]users.User, error) {
	return call[[]users.User](ctx, c, "/admin/users", gateway.Request{})
}

func (c *Client) ChangeRole(ctx context.Context, id int64, role users.Role) (users.User, error) {
	return call[users.User](ctx, c, "/admin/users/"+strconv.FormatInt(id, 10)+"/role", gateway.Request{
		Method: http.MethodPut,
		Body:   ChangeRoleRequest{Role: role},
	})
}

// Features returns the server's feature flags.
func (c *Client) Features(ctx context.Context) (Features, error) {
	return call[Features](ctx, c, "/admin/features", gateway.Request{})
}

// Two-factor enrollment

func (c *Client) SetupTwoFactor(ctx context.Context) (TwoFactorSetup, error) {
	return call[TwoFactorSetup](ctx, c, "/2fa/setup", gateway.Request{Method: http.MethodPost})
}

func (c *Client) EnableTwoFactor(ctx context.Context, req EnableTwoFactorRequest) error {
	_, err := c.gw.Send(ctx, "/2fa/enable", gateway.Request{Method: http.MethodPost, Body: req})
	return err
}

func (c *Client) DisableTwoFactor(ctx context.Context) error {
	_, err := c.gw.Send(ctx, "/2fa/disable", gateway.Request{Method: http.MethodPost})
	return err
}
