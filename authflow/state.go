package authflow

import (
	"time"

	"github.com/FirstOnDie/authforge/session"
	"github.com/google/uuid"
)

// StateKind is the authentication state of a Controller.
type StateKind int

const (
	// Anonymous means no session is stored.
	Anonymous StateKind = iota

	// AwaitingChallenge means the password was accepted and a second factor
	// code is required. It is held in memory only.
	AwaitingChallenge

	// Authenticated means a session is stored.
	Authenticated
)

func (k StateKind) String() string {
	switch k {
	case Anonymous:
		return "anonymous"
	case AwaitingChallenge:
		return "awaiting_challenge"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// State is the current StateKind plus the challenge email while one is pending.
type State struct {
	Kind  StateKind
	Email string
}

func (s State) String() string {
	if s.Kind == AwaitingChallenge {
		return s.Kind.String() + "(" + s.Email + ")"
	}
	return s.Kind.String()
}

// View is the screen the presentation layer should show.
type View int

const (
	ViewLogin View = iota
	ViewRegister
	ViewForgotPassword
	ViewChallenge
	ViewDashboard
	ViewAdmin
)

var viewNames = map[View]string{
	ViewLogin:          "login",
	ViewRegister:       "register",
	ViewForgotPassword: "forgot_password",
	ViewChallenge:      "challenge",
	ViewDashboard:      "dashboard",
	ViewAdmin:          "admin",
}

func (v View) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return "unknown"
}

// authView reports whether v is one of the sign-in forms.
func (v View) authView() bool {
	return v == ViewLogin || v == ViewRegister || v == ViewForgotPassword
}

// Challenge is a pending second factor check.
type Challenge struct {
	Email string
}

// Verification is returned when a registration must be confirmed by email
// before the account can sign in.
type Verification struct {
	Email string
}

// Enrollment is a two-factor secret waiting for its first code.
type Enrollment struct {
	Secret string
	QRURI  string
}

// Result is the outcome of a sign-in attempt. Exactly one field is set.
type Result struct {
	Session      *session.AuthResponse
	Challenge    *Challenge
	Verification *Verification
}

// ResetTicket is the answer to a forgot-password request. Token is for out of
// band display and is never applied automatically.
type ResetTicket struct {
	Token   string
	Message string
}

// Event describes a state or view change.
type Event struct {
	ID       uuid.UUID
	At       time.Time
	From     State
	To       State
	FromView View
	ToView   View
	Reason   string
}
