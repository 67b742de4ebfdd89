package fakeserver

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/FirstOnDie/authforge/users"
	"golang.org/x/crypto/bcrypt"
)

var errAccountNotFound = errors.New("User not found")

// Account is the server side record behind a users.User.
type Account struct {
	users.User
	PasswordHash      string
	TwoFactorSecret   string
	ResetToken        string
	VerificationToken string
	EmailVerified     bool
}

// AccountRepo is an in-memory account table keyed by id and email.
type AccountRepo struct {
	lock     sync.RWMutex
	accounts map[int64]*Account
	emailIDs map[string]int64
	nextID   int64
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		accounts: make(map[int64]*Account),
		emailIDs: make(map[string]int64),
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create stores a new account, assigning the next id
func (r *AccountRepo) Create(name, email, password string, role users.Role) (*Account, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	email = normaliseEmail(email)
	if _, exists := r.emailIDs[email]; exists {
		return nil, errors.New("Email already registered")
	}
	r.nextID++
	account := &Account{
		User: users.User{
			ID:    r.nextID,
			Name:  name,
			Email: email,
			Role:  role,
		},
		PasswordHash: hash,
	}
	r.accounts[account.ID] = account
	r.emailIDs[email] = account.ID
	return account.copy(), nil
}

// Update applies fn to the stored account under the write lock
func (r *AccountRepo) Update(id int64, fn func(*Account)) (*Account, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, errAccountNotFound
	}
	fn(account)
	return account.copy(), nil
}

func (r *AccountRepo) GetByEmail(email string) (*Account, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.emailIDs[normaliseEmail(email)]
	if !ok {
		return nil, errAccountNotFound
	}
	return r.accounts[id].copy(), nil
}

func (r *AccountRepo) GetByID(id int64) (*Account, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, errAccountNotFound
	}
	return account.copy(), nil
}

// FindByToken returns the account holding a reset or verification token
func (r *AccountRepo) FindByToken(token string, pick func(*Account) string) (*Account, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if token == "" {
		return nil, errAccountNotFound
	}
	for _, account := range r.accounts {
		if pick(account) == token {
			return account.copy(), nil
		}
	}
	return nil, errAccountNotFound
}

// List returns every account's public user record ordered by id
func (r *AccountRepo) List() []users.User {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]users.User, 0, len(r.accounts))
	for _, account := range r.accounts {
		list = append(list, account.User)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares password against the stored hash
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

func (a *Account) copy() *Account {
	c := *a
	return &c
}
