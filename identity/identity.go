package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials collapses unknown email, non-local account,
	// missing password hash, and hash mismatch into one error so login
	// failures cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified is only ever returned after the password has
	// matched; surfacing it earlier would leak account existence.
	ErrEmailNotVerified = errors.New("email not verified")
	ErrUserNotFound     = errors.New("user not found")
	// ErrProviderConflict means the email is already owned by an account
	// with a different auth method. Accounts are never silently migrated
	// between providers.
	ErrProviderConflict    = errors.New("email registered with a different authentication method")
	ErrProfileMissingEmail = errors.New("federated profile does not expose an email")
	ErrUnsupportedProvider = errors.New("unsupported auth provider")
)

// Provider tags how an account authenticates. Branching on it must be
// exhaustive; there is no default account shape.
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderLocal, ProviderGoogle:
		return true
	default:
		return false
	}
}

// User is the canonical account record. PasswordHash is empty for
// provider-only accounts; ProviderID is empty for local accounts.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Provider      Provider
	ProviderID    string
	EmailVerified bool
	DisplayName   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FederatedProfile is a verified external identity as reported by the
// OAuth collaborator.
type FederatedProfile struct {
	ID            string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// Store is the user lookup/mutation contract. Lookups return
// ErrUserNotFound when no row matches.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
}

// PasswordVerifier checks a plaintext against a stored hash.
type PasswordVerifier interface {
	Verify(plaintext, encoded string) (bool, error)
}

// NewID mints user ids. Injected so tests can use stable ids.
type NewID func() string

// NormalizeEmail lower-cases and trims an address. Every store lookup
// and write goes through this so the unique index sees one spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
