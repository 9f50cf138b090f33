package authcore

import (
	"context"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/session"
	"github.com/vaultsync/authcore/token"
)

// SessionMetadata is the client context captured with each login and
// refresh.
type SessionMetadata = session.Metadata

// TokenPair is the access/refresh pair returned by login, refresh, and
// federated login.
type TokenPair = token.Pair

// Mailer delivers the two OTP emails. Delivery is fire-and-forget from
// the orchestrator's point of view: failures are logged, never surfaced,
// and always happen after the code has been persisted.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordResetCode(ctx context.Context, email, code string) error
}

// IdentityTokenVerifier validates an opaque federated identity token and
// returns the verified profile.
type IdentityTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (identity.FederatedProfile, error)
}

// Principal is an authenticated bearer: the verified access-token claims
// plus the live session backing them. It is passed explicitly, never
// pulled from ambient request state.
type Principal struct {
	UserID   string
	Email    string
	Provider identity.Provider
	Session  *session.Session
}
