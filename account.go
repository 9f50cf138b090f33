package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/metrics"
	"github.com/vaultsync/authcore/otp"
)

// Signup registers a local account and dispatches a verification code.
// An address owned by a verified local account or by any provider
// account fails with ErrEmailInUse. An address owned by an unverified
// local account is an idempotent retry: the stored password hash is
// replaced and a fresh code is sent instead of erroring.
func (s *Service) Signup(ctx context.Context, email, plainPassword string) error {
	if err := s.validateEmail(email); err != nil {
		return err
	}
	if err := s.validatePassword(plainPassword); err != nil {
		return err
	}
	norm := identity.NormalizeEmail(email)

	existing, err := s.users.FindByEmail(ctx, norm)
	switch {
	case err == nil:
		if existing.Provider != identity.ProviderLocal || existing.EmailVerified {
			return ErrEmailInUse
		}
		// Unverified retry: last write wins until the email is proven.
		hash, err := s.passwords.Hash(plainPassword)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		existing.PasswordHash = hash
		if err := s.users.Update(ctx, existing); err != nil {
			return s.storeErr(err)
		}
		return s.sendVerificationCode(ctx, existing.ID, existing.Email)
	case errors.Is(err, identity.ErrUserNotFound):
		// New account.
	default:
		return s.storeErr(err)
	}

	hash, err := s.passwords.Hash(plainPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	u := &identity.User{
		ID:           uuid.NewString(),
		Email:        norm,
		PasswordHash: hash,
		Provider:     identity.ProviderLocal,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return s.storeErr(err)
	}
	s.metrics.Signup()
	s.log.Info().Str("user_id", u.ID).Msg("local account created")

	return s.sendVerificationCode(ctx, u.ID, u.Email)
}

// VerifyEmail consumes a verification code and flips the owning account
// to verified.
func (s *Service) VerifyEmail(ctx context.Context, code string) error {
	userID, err := s.codes.Consume(ctx, otp.KindVerification, code)
	if err != nil {
		s.metrics.Verification(metrics.ResultFailure)
		return s.storeErr(err)
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return s.storeErr(err)
	}
	if !u.EmailVerified {
		u.EmailVerified = true
		if err := s.users.Update(ctx, u); err != nil {
			return s.storeErr(err)
		}
	}
	s.metrics.Verification(metrics.ResultSuccess)
	s.log.Info().Str("user_id", u.ID).Msg("email verified")
	return nil
}

// ResendVerification issues a fresh code for an unverified local
// account. It reports success regardless of whether the address exists
// so it cannot be used to enumerate accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
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
	if u.Provider != identity.ProviderLocal || u.EmailVerified {
		return nil
	}
	return s.sendVerificationCode(ctx, u.ID, u.Email)
}

// sendVerificationCode persists a fresh code, then dispatches the email
// outside any store critical section. Delivery failure is logged and
// swallowed: the code exists and a resend can recover.
func (s *Service) sendVerificationCode(ctx context.Context, userID, email string) error {
	code, err := s.codes.Issue(ctx, otp.KindVerification, userID)
	if err != nil {
		return s.storeErr(err)
	}
	if err := s.mailer.SendVerificationCode(ctx, email, code); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("verification email delivery failed")
	}
	return nil
}
