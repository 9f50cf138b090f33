package authcore

import (
	"context"

	"github.com/vaultsync/authcore/session"
)

// ListSessions enumerates the user's active sessions, most recently used
// first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, s.sessionErr(err)
	}
	return sessions, nil
}

// Logout revokes the caller's own session. Revoking a session that is
// already revoked, or that the user does not own, is a no-op.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.RevokeForUser(ctx, userID, sessionID); err != nil {
		return s.sessionErr(err)
	}
	s.metrics.SessionRevoked()
	s.log.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("session revoked")
	return nil
}

// RevokeSession is self-service revocation of any one of the user's
// sessions; it is Logout under a name that fits session management UIs.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	return s.Logout(ctx, userID, sessionID)
}

// RevokeAllSessions force-logs-out every device of the user.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) error {
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return s.sessionErr(err)
	}
	s.metrics.SessionRevoked()
	s.log.Info().Str("user_id", userID).Msg("all sessions revoked")
	return nil
}
