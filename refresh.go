package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/metrics"
	"github.com/vaultsync/authcore/token"
)

// Refresh exchanges a refresh token for a fresh pair bound to the same
// session id. The presented token's hash must match the session's
// current hash; a replay of the previously rotated token revokes every
// session of the user and fails with ErrTokenReuseDetected.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta SessionMetadata) (TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		s.metrics.Refresh(metrics.ResultFailure)
		return TokenPair{}, err
	}
	if claims.SID == "" {
		s.metrics.Refresh(metrics.ResultFailure)
		return TokenPair{}, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}

	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		s.metrics.Refresh(metrics.ResultFailure)
		return TokenPair{}, s.storeErr(s.userAsInvalidToken(err))
	}

	// The new pair is minted before rotation so the validate-rotate pair
	// runs under one session lock. It is discarded unless rotation
	// commits.
	pair, err := s.tokens.IssuePair(u.ID, u.Email, string(u.Provider), claims.SID)
	if err != nil {
		s.metrics.Refresh(metrics.ResultFailure)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expiresAt := s.now().Add(s.tokens.RefreshTTL())

	if _, err := s.sessions.ValidateAndRotate(ctx, claims.SID, u.ID, refreshToken, pair.RefreshToken, meta, expiresAt); err != nil {
		s.metrics.Refresh(metrics.ResultFailure)
		if errors.Is(err, ErrTokenReuseDetected) {
			s.metrics.ReuseDetected()
			s.log.Warn().Str("user_id", u.ID).Str("session_id", claims.SID).
				Msg("refresh token reuse detected; all sessions revoked")
		}
		return TokenPair{}, s.sessionErr(err)
	}

	s.metrics.Refresh(metrics.ResultSuccess)
	return pair, nil
}

// userAsInvalidToken maps a missing user behind a well-signed token to
// ErrInvalidToken: the subject no longer resolves, so the token is dead.
func (s *Service) userAsInvalidToken(err error) error {
	if errors.Is(err, identity.ErrUserNotFound) {
		return fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	return err
}
