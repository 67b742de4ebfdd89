// Package session persists the signed-in identity: access token, refresh
// token, expiry duration and user record, always written and removed together.
package session

import (
	"encoding/json"
	"fmt"
	"strconv"

	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/FirstOnDie/authforge/storage"
	"github.com/FirstOnDie/authforge/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultNamespace prefixes the four persisted keys.
const DefaultNamespace = "authforge"

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiresIn    = "expires_in"
	keyUser         = "user"
)

// Store is the sole reader and writer of persisted session data.
type Store struct {
	storage storage.Storage
	keys    keys
	logger  zerolog.Logger
}

type keys struct {
	accessToken  string
	refreshToken string
	expiresIn    string
	user         string
}

func (k keys) all() []string {
	return []string{k.accessToken, k.refreshToken, k.expiresIn, k.user}
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace changes the key prefix, e.g. to keep several profiles in one storage.
func WithNamespace(namespace string) Option {
	return func(s *Store) {
		s.keys = namespacedKeys(namespace)
	}
}

// WithLogger sets the logger used to report swallowed storage failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func namespacedKeys(namespace string) keys {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return keys{
		accessToken:  namespace + "_" + keyAccessToken,
		refreshToken: namespace + "_" + keyRefreshToken,
		expiresIn:    namespace + "_" + keyExpiresIn,
		user:         namespace + "_" + keyUser,
	}
}

// NewStore creates a session store on top of the given storage.
func NewStore(s storage.Storage, options ...Option) (*Store, error) {
	if s == nil {
		return nil, errors.New("[session.NewStore] storage is required")
	}
	store := &Store{
		storage: s,
		keys:    namespacedKeys(DefaultNamespace),
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(store)
	}
	return store, nil
}

// Save writes all four session fields from a sign-in response.
// Token formats are not validated. If a write fails the fields already
// written are removed again, so the store never holds a partial session.
func (s *Store) Save(resp AuthResponse) error {
	var user users.User
	if resp.User != nil {
		user = *resp.User
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return errors.Wrap(err, "[Store.Save] json.Marshal user")
	}

	writes := []struct{ key, value string }{
		{s.keys.accessToken, resp.AccessToken},
		{s.keys.refreshToken, resp.RefreshToken},
		{s.keys.expiresIn, strconv.FormatInt(resp.ExpiresIn, 10)},
		{s.keys.user, string(userJSON)},
	}
	for _, w := range writes {
		if err := s.storage.Set(w.key, w.value); err != nil {
			s.Clear()
			return fmt.Errorf("%w: %w", autherrors.ErrStorage, err)
		}
	}
	return nil
}

// Clear removes all four session fields. It is idempotent and never fails;
// storage errors are logged.
func (s *Store) Clear() {
	for _, key := range s.keys.all() {
		if err := s.storage.Remove(key); err != nil {
			s.logger.Err(err).Str("key", key).Msg("Failed to remove session key")
		}
	}
}

// IsAuthenticated reports whether an access token is present.
// It does not check expiry: a stale token still counts until the server rejects it.
func (s *Store) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// AccessToken returns the stored access token or "".
func (s *Store) AccessToken() string {
	return s.read(s.keys.accessToken)
}

// RefreshToken returns the stored refresh token or "".
func (s *Store) RefreshToken() string {
	return s.read(s.keys.refreshToken)
}

// ExpiresIn returns the stored token lifetime in milliseconds, 0 when absent or not numeric.
func (s *Store) ExpiresIn() int64 {
	raw := s.read(s.keys.expiresIn)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// User returns the stored user, or nil when absent or unreadable.
func (s *Store) User() *users.User {
	raw := s.read(s.keys.user)
	if raw == "" {
		return nil
	}
	var user users.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Debug().Err(err).Msg("Stored user record is corrupt")
		return nil
	}
	return &user
}

// UpdateUser replaces the stored user record without touching the tokens.
func (s *Store) UpdateUser(user users.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return errors.Wrap(err, "[Store.UpdateUser] json.Marshal")
	}
	if err := s.storage.Set(s.keys.user, string(raw)); err != nil {
		return fmt.Errorf("%w: %w", autherrors.ErrStorage, err)
	}
	return nil
}

// IsAdmin reports whether the stored user holds the ADMIN role.
func (s *Store) IsAdmin() bool {
	return s.User().IsAdmin()
}

// Snapshot returns the whole session, or false when not authenticated or
// the user record is unreadable.
func (s *Store) Snapshot() (Snapshot, bool) {
	token := s.AccessToken()
	if token == "" {
		return Snapshot{}, false
	}
	user := s.User()
	if user == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		AccessToken:  token,
		RefreshToken: s.RefreshToken(),
		ExpiresIn:    s.ExpiresIn(),
		User:         *user,
	}, true
}

func (s *Store) read(key string) string {
	value, ok, err := s.storage.Get(key)
	if err != nil {
		s.logger.Err(err).Str("key", key).Msg("Failed to read session key")
		return ""
	}
	if !ok {
		return ""
	}
	return value
}
