package auth

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/rbac"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrUserDisabled = errors.New("user is disabled")
)

// User is a stored account. PasswordHash and TOTPSecret never leave
// this package.
type User struct {
	ID           string
	Name         string
	Role         rbac.Role
	Clearance    classify.Label
	PasswordHash string
	TOTPSecret   string
	Enabled      bool
}

// UserStore is an in-memory credential store. The surrounding platform
// owns durable user records; this core only needs enough state to
// answer login checks.
type UserStore struct {
	mu     sync.RWMutex
	byName map[string]*User
	policy PasswordPolicy
	cost   int
}

// NewUserStore creates a user store enforcing the given password policy.
func NewUserStore(policy PasswordPolicy, bcryptCost int) *UserStore {
	return &UserStore{
		byName: make(map[string]*User),
		policy: policy,
		cost:   bcryptCost,
	}
}

// Create registers a new user after checking the password policy.
func (u *UserStore) Create(name, password string, role rbac.Role, clearance classify.Label) (*User, error) {
	if err := u.policy.Check(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, u.cost)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.byName[name]; exists {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Role:         role,
		Clearance:    clearance,
		PasswordHash: hash,
		Enabled:      true,
	}
	u.byName[name] = user
	return user.copy(), nil
}

// Authenticate checks name, password, and, when enrolled, the TOTP
// code. The same failure surfaces for a missing user and a wrong
// password so callers cannot probe for account existence.
func (u *UserStore) Authenticate(name, password, totpCode string) (*User, error) {
	u.mu.RLock()
	user, exists := u.byName[name]
	u.mu.RUnlock()

	if !exists {
		return nil, ErrPasswordMismatch
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return nil, err
	}
	if user.TOTPSecret != "" {
		if err := VerifyTOTP(user.TOTPSecret, totpCode); err != nil {
			return nil, err
		}
	}
	return user.copy(), nil
}

// TOTPEnrollment carries provisioning details returned once at
// enrollment time. The secret is not readable again afterwards.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// BeginTOTP generates a fresh TOTP secret for the user and stores it.
// Logins require a valid one-time code from then on.
func (u *UserStore) BeginTOTP(name, issuer string) (*TOTPEnrollment, error) {
	key, err := GenerateTOTPSecret(issuer, name)
	if err != nil {
		return nil, err
	}
	if err := u.EnrollTOTP(name, key.Secret()); err != nil {
		return nil, err
	}
	return &TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// EnrollTOTP stores a generated TOTP secret for the user.
func (u *UserStore) EnrollTOTP(name, secret string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, exists := u.byName[name]
	if !exists {
		return ErrUserNotFound
	}
	user.TOTPSecret = secret
	return nil
}

// Get returns a copy of the user record.
func (u *UserStore) Get(name string) (*User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, exists := u.byName[name]
	if !exists {
		return nil, ErrUserNotFound
	}
	return user.copy(), nil
}

// Disable marks a user account disabled.
func (u *UserStore) Disable(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, exists := u.byName[name]
	if !exists {
		return ErrUserNotFound
	}
	user.Enabled = false
	return nil
}

func (usr *User) copy() *User {
	c := *usr
	return &c
}
