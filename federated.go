package authcore

import (
	"context"
	"fmt"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/metrics"
)

// FederatedLogin opens a session for a profile that an upstream flow has
// already verified (a redirect-flow callback, for instance).
func (s *Service) FederatedLogin(ctx context.Context, profile identity.FederatedProfile, meta SessionMetadata) (TokenPair, error) {
	u, err := s.resolver.ResolveFederatedProfile(ctx, profile)
	if err != nil {
		s.metrics.Login(metrics.ResultFailure)
		return TokenPair{}, s.storeErr(err)
	}
	pair, err := s.issueSession(ctx, u, meta)
	if err != nil {
		s.metrics.Login(metrics.ResultFailure)
		return TokenPair{}, err
	}
	s.metrics.Login(metrics.ResultSuccess)
	s.log.Info().Str("user_id", u.ID).Msg("federated login")
	return pair, nil
}

// LoginWithIdentityToken verifies an opaque identity token through the
// configured verifier and logs the resulting profile in.
func (s *Service) LoginWithIdentityToken(ctx context.Context, idToken string, meta SessionMetadata) (TokenPair, error) {
	if s.verifier == nil {
		return TokenPair{}, fmt.Errorf("%w: federated login is not configured", ErrValidation)
	}
	profile, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		s.metrics.Login(metrics.ResultFailure)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return s.FederatedLogin(ctx, profile, meta)
}
