package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/metrics"
	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/token"
)

// ChangePassword rotates a local account's credential after verifying
// the current one, then force-logs-out every device. UserID comes from
// the authenticated principal, never from the request body.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return s.storeErr(err)
	}
	if u.Provider != identity.ProviderLocal || u.PasswordHash == "" {
		return fmt.Errorf("%w: password updates are only available for email/password accounts", ErrValidation)
	}

	ok, err := s.passwords.Verify(currentPassword, u.PasswordHash)
	if err != nil || !ok {
		s.metrics.PasswordReset(metrics.ResultFailure)
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return fmt.Errorf("%w: new password must be different from current password", ErrValidation)
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	u.PasswordHash = hash
	if err := s.users.Update(ctx, u); err != nil {
		return s.storeErr(err)
	}
	if err := s.sessions.RevokeAll(ctx, u.ID); err != nil {
		return s.sessionErr(err)
	}
	s.metrics.PasswordReset(metrics.ResultSuccess)
	s.metrics.SessionRevoked()
	s.log.Info().Str("user_id", u.ID).Msg("password changed; all sessions revoked")
	return nil
}

// ForgotPassword issues a reset code for existing local accounts. It
// always succeeds with the same outcome regardless of whether the email
// is registered; callers must return an identical response either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if err := s.validateEmail(email); err != nil {
		return err
	}
	u, err := s.users.FindByEmail(ctx, identity.NormalizeEmail(email))
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return nil
	case err != nil:
		return s.storeErr(err)
	}
	if u.Provider != identity.ProviderLocal {
		return nil
	}

	code, err := s.codes.Issue(ctx, otp.KindPasswordReset, u.ID)
	if err != nil {
		return s.storeErr(err)
	}
	if err := s.mailer.SendPasswordResetCode(ctx, u.Email, code); err != nil {
		s.log.Warn().Err(err).Str("user_id", u.ID).Msg("password reset email delivery failed")
	}
	return nil
}

// VerifyResetCode consumes a reset code and returns a short-lived
// reset-authorization token. The token carries no session id: it
// authorizes exactly one ResetPassword call, nothing else.
func (s *Service) VerifyResetCode(ctx context.Context, code string) (string, error) {
	userID, err := s.codes.Consume(ctx, otp.KindPasswordReset, code)
	if err != nil {
		return "", s.storeErr(err)
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", s.storeErr(err)
	}
	resetToken, err := s.tokens.IssueReset(u.ID, u.Email, string(u.Provider))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resetToken, nil
}

// ResetPassword redeems a reset-authorization token, replaces the
// password hash, and revokes every session of the account.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.tokens.Verify(resetToken, token.TypeReset)
	if err != nil {
		return err
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return s.storeErr(s.userAsInvalidToken(err))
	}
	if u.Provider != identity.ProviderLocal {
		return fmt.Errorf("%w: password reset is only available for email/password accounts", ErrValidation)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	u.PasswordHash = hash
	if err := s.users.Update(ctx, u); err != nil {
		return s.storeErr(err)
	}
	if err := s.sessions.RevokeAll(ctx, u.ID); err != nil {
		return s.sessionErr(err)
	}
	s.metrics.PasswordReset(metrics.ResultSuccess)
	s.metrics.SessionRevoked()
	s.log.Info().Str("user_id", u.ID).Msg("password reset; all sessions revoked")
	return nil
}
