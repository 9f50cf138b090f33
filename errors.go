package authcore

import (
	"errors"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/session"
	"github.com/vaultsync/authcore/token"
)

// The error taxonomy seen by callers. Errors owned by a leaf package are
// aliased here so callers match against one set. Everything in this list
// is terminal for the triggering request; the core never retries.
var (
	ErrInvalidCredentials = identity.ErrInvalidCredentials
	ErrEmailNotVerified   = identity.ErrEmailNotVerified
	// ErrEmailInUse covers both a verified local account and any
	// provider account already owning the address.
	ErrEmailInUse                   = errors.New("email already in use")
	ErrProviderConflict             = identity.ErrProviderConflict
	ErrFederatedProfileMissingEmail = identity.ErrProfileMissingEmail
	ErrInvalidOrExpiredCode         = otp.ErrCodeInvalid
	ErrInvalidToken                 = token.ErrInvalidToken
	ErrSessionNotFound              = session.ErrSessionNotFound
	ErrSessionRevoked               = session.ErrSessionRevoked
	ErrSessionExpired               = session.ErrSessionExpired
	ErrInvalidRefreshToken          = session.ErrInvalidRefreshToken
	// ErrTokenReuseDetected is the one failure with a side effect: every
	// active session of the user has already been revoked when a caller
	// sees it.
	ErrTokenReuseDetected = session.ErrTokenReuseDetected
	// ErrValidation rejects malformed input (email shape, password
	// policy, same-password change).
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable wraps store and network failures. Unlike the rest
	// of the taxonomy it signals the caller may retry later; it is never
	// an authentication verdict.
	ErrUnavailable = errors.New("service unavailable")
)
