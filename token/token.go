package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature,
// malformed claims, expiry, and wrong token type.
var ErrInvalidToken = errors.New("invalid token")

// Type discriminates the three token shapes minted by the Issuer.
// Access tokens carry an empty type claim; presenting a refresh or reset
// token where an access token is expected must fail, and vice versa.
type Type string

const (
	TypeAccess  Type = ""
	TypeRefresh Type = "refresh"
	TypeReset   Type = "reset"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Claims is the claim set shared by all three token types. Subject is
// the user id; SID binds access and refresh tokens to one session row
// and is empty on reset-authorization tokens.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	SID      string `json:"sid,omitempty"`
	Type     Type   `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair bound to a single session id.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

type Config struct {
	SigningMethod SigningMethod
	// Secret is the HS256 key.
	Secret []byte
	// PrivateKey and PublicKey are raw ed25519 keys, used when
	// SigningMethod is MethodEd25519.
	PrivateKey []byte
	PublicKey  []byte

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	Leeway     time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Issuer mints and verifies the signed tokens described by Claims.
// Verification checks signature, expiry, and expected type only; whether
// the backing session is still alive is the session manager's concern.
type Issuer struct {
	config Config
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 15 * time.Minute
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < 32 {
			return nil, errors.New("token: hs256 secret must be at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("token: invalid ed25519 private key")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("token: invalid ed25519 public key")
		}
	default:
		return nil, errors.New("token: unsupported signing method")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Issuer{config: cfg, now: now}, nil
}

// IssuePair mints an access token and a refresh token carrying the same
// subject, email, provider, and session id.
func (i *Issuer) IssuePair(userID, email, provider, sessionID string) (Pair, error) {
	access, err := i.sign(userID, email, provider, sessionID, TypeAccess, i.config.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(userID, email, provider, sessionID, TypeRefresh, i.config.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueReset mints a short-lived reset-authorization token. It carries
// no session id: it authorizes exactly one password reset, not a session.
func (i *Issuer) IssueReset(userID, email, provider string) (string, error) {
	return i.sign(userID, email, provider, "", TypeReset, i.config.ResetTTL)
}

// RefreshTTL reports the configured refresh token lifetime, which is
// also the session lifetime.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.config.RefreshTTL
}

func (i *Issuer) sign(userID, email, provider, sessionID string, typ Type, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Email:    email,
		Provider: provider,
		SID:      sessionID,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(i.method(), claims).SignedString(i.signKey())
}

// Verify parses and validates a token of the expected type. Every
// failure maps to ErrInvalidToken so callers cannot build an oracle out
// of the distinction between malformed, expired, and mistyped tokens.
func (i *Issuer) Verify(tokenStr string, expected Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.verifyKey(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != expected {
		return nil, fmt.Errorf("%w: unexpected token type", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (i *Issuer) signKey() interface{} {
	if i.config.SigningMethod == MethodEd25519 {
		return ed25519.PrivateKey(i.config.PrivateKey)
	}
	return i.config.Secret
}

func (i *Issuer) verifyKey() interface{} {
	if i.config.SigningMethod == MethodEd25519 {
		return ed25519.PublicKey(i.config.PublicKey)
	}
	return i.config.Secret
}
