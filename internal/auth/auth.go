// Package auth verifies local users and issues session tokens.
//
// Users are configured with bcrypt password hashes; sign-ups are kept in
// memory only. Every failure is an *Error carrying a Kind, so callers never
// depend on how a particular identity provider reports problems.
package auth

import (
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Lockout policy.
const (
	MaxFailures   = 5
	FailureWindow = 15 * time.Minute
)

// MinPasswordLength is the shortest password accepted on sign-up.
const MinPasswordLength = 6

// User is a configured account.
type User struct {
	Email        string `mapstructure:"email"`
	PasswordHash string `mapstructure:"password_hash"`
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	Users       []User        `mapstructure:"users"`
	AllowSignUp bool          `mapstructure:"allow_signup"`
}

// Manager authenticates users and issues tokens.
type Manager struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	users    map[string]string // email -> bcrypt hash
	failures map[string][]time.Time
}

// NewManager creates a Manager. A zero TokenTTL defaults to 12h.
func NewManager(cfg Config) *Manager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	users := make(map[string]string, len(cfg.Users))
	for _, u := range cfg.Users {
		users[normalize(u.Email)] = u.PasswordHash
	}
	return &Manager{
		cfg:      cfg,
		now:      time.Now,
		users:    users,
		failures: make(map[string][]time.Time),
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}

// HasUsers reports whether any account exists.
func (m *Manager) HasUsers() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users) > 0
}

// Authenticate checks email and password.
func (m *Manager) Authenticate(email, password string) error {
	email = normalize(email)
	if email == "" || password == "" {
		return newError(KindInvalidCredential)
	}
	if !validEmail(email) {
		return newError(KindInvalidEmail)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	recent := m.recentFailuresLocked(email, now)
	if len(recent) >= MaxFailures {
		return newError(KindTooManyRequests)
	}

	hash, ok := m.users[email]
	if !ok {
		return newError(KindUserNotFound)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		m.failures[email] = append(recent, now)
		return &Error{Kind: KindWrongPassword, Err: err}
	}
	delete(m.failures, email)
	return nil
}

func (m *Manager) recentFailuresLocked(email string, now time.Time) []time.Time {
	var recent []time.Time
	for _, t := range m.failures[email] {
		if now.Sub(t) < FailureWindow {
			recent = append(recent, t)
		}
	}
	m.failures[email] = recent
	return recent
}

// SignUp creates an in-memory account.
func (m *Manager) SignUp(email, password string) error {
	email = normalize(email)
	if !validEmail(email) {
		return newError(KindInvalidEmail)
	}
	if len(password) < MinPasswordLength {
		return newError(KindWeakPassword)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return &Error{Kind: KindUnknown, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[email]; exists {
		return newError(KindEmailInUse)
	}
	m.users[email] = hash
	return nil
}

// SignUpAllowed reports whether self-service sign-up is enabled.
func (m *Manager) SignUpAllowed() bool {
	return m.cfg.AllowSignUp
}

// HashPassword creates a bcrypt hash from a password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
