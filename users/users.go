package users

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the coarse authorization level of a user.
// Only RoleUser and RoleAdmin are representable; decoding any other value fails.
type Role string

const (
	// RoleUser is a regular account.
	RoleUser Role = "USER"

	// RoleAdmin can list users and change their roles.
	RoleAdmin Role = "ADMIN"
)

// ParseRole converts a wire value into a Role.
// A "ROLE_" prefix (Spring authority form) is accepted and stripped.
func ParseRole(s string) (Role, error) {
	normalised := strings.ToUpper(strings.TrimSpace(s))
	normalised = strings.TrimPrefix(normalised, "ROLE_")
	switch Role(normalised) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Toggle returns the opposite role: ADMIN becomes USER and anything else becomes ADMIN.
func (r Role) Toggle() Role {
	if r == RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
	return []byte(r), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// User is the identity record returned by the service and held in the session.
type User struct {
	ID               int64  `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	Email            string `json:"email,omitempty"`
	Role             Role   `json:"role,omitempty"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// IsAdmin reports whether the user holds the ADMIN role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UnmarshalJSON tolerates a missing role (the challenge response only carries
// an email) but rejects unknown role values.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var raw struct {
		plain
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User(raw.plain)
	u.Role = ""
	if raw.Role == "" {
		return nil
	}
	role, err := ParseRole(raw.Role)
	if err != nil {
		return err
	}
	u.Role = role
	return nil
}
