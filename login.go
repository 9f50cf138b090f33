package authcore

import (
	"context"

	"github.com/vaultsync/authcore/metrics"
)

// Login authenticates a local email/password pair and opens a session.
// The error distinguishes a verified-but-wrong password from an
// unverified account, but never whether the email exists.
func (s *Service) Login(ctx context.Context, email, plainPassword string, meta SessionMetadata) (TokenPair, error) {
	u, err := s.resolver.ResolveLocalLogin(ctx, email, plainPassword)
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
	s.log.Info().Str("user_id", u.ID).Msg("login")
	return pair, nil
}
