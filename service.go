package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/metrics"
	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/password"
	"github.com/vaultsync/authcore/session"
	"github.com/vaultsync/authcore/token"
)

// Service is the public operation set of the auth core. It composes the
// OTP engine, token issuer, session manager, and identity resolver over
// injected collaborators; it holds no mutable state of its own and is
// safe for concurrent use.
type Service struct {
	cfg       Config
	log       zerolog.Logger
	users     identity.Store
	resolver  *identity.Resolver
	passwords *password.Hasher
	codes     *otp.Engine
	tokens    *token.Issuer
	sessions  *session.Manager
	mailer    Mailer
	verifier  IdentityTokenVerifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Deps are the collaborators a Service needs. Users, OTPStore,
// SessionStore, and Mailer are required; IdentityVerifier is optional
// and gates federated login; Metrics is optional.
type Deps struct {
	Users            identity.Store
	OTPStore         otp.Store
	SessionStore     session.Store
	Mailer           Mailer
	IdentityVerifier IdentityTokenVerifier
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Users == nil {
		return nil, errors.New("authcore: user store is required")
	}
	if deps.OTPStore == nil {
		return nil, errors.New("authcore: otp store is required")
	}
	if deps.SessionStore == nil {
		return nil, errors.New("authcore: session store is required")
	}
	if deps.Mailer == nil {
		return nil, errors.New("authcore: mailer is required")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	issuer, err := token.NewIssuer(cfg.Token)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(deps.SessionStore, cfg.Session)
	if err != nil {
		return nil, err
	}
	resolver, err := identity.NewResolver(deps.Users, hasher, uuid.NewString)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		log:       deps.Logger,
		users:     deps.Users,
		resolver:  resolver,
		passwords: hasher,
		tokens:    issuer,
		sessions:  sessions,
		mailer:    deps.Mailer,
		verifier:  deps.IdentityVerifier,
		metrics:   deps.Metrics,
		now:       cfg.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}

	otpCfg := cfg.OTP
	otpCfg.Gate = s.localAccountGate
	s.codes, err = otp.NewEngine(deps.OTPStore, otpCfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticate validates an access token and asserts its backing session
// is still active. It is the per-request check behind every
// authenticated operation.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return nil, err
	}
	if claims.SID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	sess, err := s.sessions.AssertActive(ctx, claims.SID, claims.Subject)
	if err != nil {
		return nil, s.sessionErr(err)
	}
	return &Principal{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Provider: identity.Provider(claims.Provider),
		Session:  sess,
	}, nil
}

// localAccountGate is the OTP owner gate: both code kinds are only ever
// redeemable by local-provider accounts.
func (s *Service) localAccountGate(ctx context.Context, _ otp.Kind, userID string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Provider != identity.ProviderLocal {
		return identity.ErrUnsupportedProvider
	}
	return nil
}

// issueSession mints a token pair for a fresh session id and persists
// the session row backing it.
func (s *Service) issueSession(ctx context.Context, u *identity.User, meta SessionMetadata) (TokenPair, error) {
	sid := uuid.NewString()
	pair, err := s.tokens.IssuePair(u.ID, u.Email, string(u.Provider), sid)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expiresAt := s.now().Add(s.tokens.RefreshTTL())
	if _, err := s.sessions.Create(ctx, sid, u.ID, pair.RefreshToken, meta, expiresAt); err != nil {
		return TokenPair{}, s.storeErr(err)
	}
	return pair, nil
}

func (s *Service) validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: malformed email address", ErrValidation)
	}
	return nil
}

func (s *Service) validatePassword(pw string) error {
	if len(pw) < s.cfg.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, s.cfg.MinPasswordLength)
	}
	if len(pw) > 1024 {
		return fmt.Errorf("%w: password too long", ErrValidation)
	}
	return nil
}

// storeErr passes taxonomy errors through and wraps anything else as
// ErrUnavailable so infrastructure failures never read as auth verdicts.
func (s *Service) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrEmailNotVerified),
		errors.Is(err, ErrProviderConflict),
		errors.Is(err, ErrFederatedProfileMissingEmail),
		errors.Is(err, ErrInvalidOrExpiredCode),
		errors.Is(err, ErrInvalidToken):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *Service) sessionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrTokenReuseDetected):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
