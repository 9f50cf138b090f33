package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Resolver maps credentials or verified external identities onto
// canonical user records.
type Resolver struct {
	store     Store
	passwords PasswordVerifier
	newID     NewID
}

func NewResolver(store Store, passwords PasswordVerifier, newID NewID) (*Resolver, error) {
	if store == nil || passwords == nil {
		return nil, errors.New("identity: store and password verifier are required")
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Resolver{store: store, passwords: passwords, newID: newID}, nil
}

// ResolveLocalLogin authenticates an email/password pair. All failure
// shapes before the password check collapse to ErrInvalidCredentials;
// ErrEmailNotVerified fires only once the password has matched.
func (r *Resolver) ResolveLocalLogin(ctx context.Context, email, password string) (*User, error) {
	u, err := r.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("identity: lookup by email: %w", err)
	}
	if u.Provider != ProviderLocal || u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	ok, err := r.passwords.Verify(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return u, nil
}

// ResolveFederatedProfile maps a verified external identity to a user,
// creating or backfilling records as needed. The returned user always
// has a verified email: a federated identity implies one.
func (r *Resolver) ResolveFederatedProfile(ctx context.Context, profile FederatedProfile) (*User, error) {
	if profile.Email == "" {
		return nil, ErrProfileMissingEmail
	}
	email := NormalizeEmail(profile.Email)

	u, err := r.store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		u = &User{
			ID:            r.newID(),
			Email:         email,
			Provider:      ProviderGoogle,
			ProviderID:    profile.ID,
			DisplayName:   profile.DisplayName,
			EmailVerified: true,
		}
		if err := r.store.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("identity: create federated user: %w", err)
		}
		return u, nil
	case err != nil:
		return nil, fmt.Errorf("identity: lookup by email: %w", err)
	}

	switch u.Provider {
	case ProviderGoogle:
		// Same email under a different federated subject is a takeover
		// shape, not a match.
		if u.ProviderID != "" && u.ProviderID != profile.ID {
			return nil, ErrProviderConflict
		}
		// Legacy rows can predate provider linking; backfill.
		changed := false
		if u.ProviderID == "" {
			u.ProviderID = profile.ID
			changed = true
		}
		if u.DisplayName == "" && profile.DisplayName != "" {
			u.DisplayName = profile.DisplayName
			changed = true
		}
		if !u.EmailVerified {
			u.EmailVerified = true
			changed = true
		}
		if changed {
			if err := r.store.Update(ctx, u); err != nil {
				return nil, fmt.Errorf("identity: backfill federated user: %w", err)
			}
		}
		return u, nil
	case ProviderLocal:
		return nil, ErrProviderConflict
	default:
		return nil, ErrProviderConflict
	}
}
