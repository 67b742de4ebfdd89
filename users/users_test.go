package users_test

import (
	"encoding/json"
	"testing"

	"github.com/FirstOnDie/authforge/users"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    users.Role
		wantErr bool
	}{
		"User":          {in: "USER", want: users.RoleUser},
		"Admin":         {in: "ADMIN", want: users.RoleAdmin},
		"Lower case":    {in: " admin ", want: users.RoleAdmin},
		"Spring prefix": {in: "ROLE_ADMIN", want: users.RoleAdmin},
		"Unknown":       {in: "SUPERUSER", wantErr: true},
		"Empty":         {in: "", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			role, err := users.ParseRole(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, role)
		})
	}
}

func TestRole_Toggle(t *testing.T) {
	require.Equal(t, users.RoleUser, users.RoleAdmin.Toggle())
	require.Equal(t, users.RoleAdmin, users.RoleUser.Toggle())
	require.Equal(t, users.RoleAdmin, users.RoleAdmin.Toggle().Toggle())
}

func TestUser_JSON(t *testing.T) {
	t.Run("Full record", func(t *testing.T) {
		var u users.User
		require.NoError(t, json.Unmarshal([]byte(`{"id":3,"name":"Ada","email":"ada@example.com","role":"ADMIN","twoFactorEnabled":true}`), &u))
		require.Equal(t, users.User{ID: 3, Name: "Ada", Email: "ada@example.com", Role: users.RoleAdmin, TwoFactorEnabled: true}, u)
		require.True(t, u.IsAdmin())
	})

	t.Run("Challenge user carries only an email", func(t *testing.T) {
		var u users.User
		require.NoError(t, json.Unmarshal([]byte(`{"email":"ada@example.com"}`), &u))
		require.Equal(t, "ada@example.com", u.Email)
		require.Empty(t, u.Role)
		require.False(t, u.IsAdmin())
	})

	t.Run("Unknown role is rejected", func(t *testing.T) {
		var u users.User
		require.Error(t, json.Unmarshal([]byte(`{"id":1,"role":"ROOT"}`), &u))
	})

	t.Run("Invalid role cannot be encoded", func(t *testing.T) {
		_, err := json.Marshal(users.User{ID: 1, Role: users.Role("ROOT")})
		require.Error(t, err)
	})

	t.Run("Round trip through storage form", func(t *testing.T) {
		in := users.User{ID: 9, Name: "Root", Email: "root@example.com", Role: users.RoleAdmin}
		raw, err := json.Marshal(in)
		require.NoError(t, err)
		require.JSONEq(t, `{"id":9,"name":"Root","email":"root@example.com","role":"ADMIN","twoFactorEnabled":false}`, string(raw))
	})
}

func TestUser_IsAdmin_Nil(t *testing.T) {
	var u *users.User
	require.False(t, u.IsAdmin())
}
