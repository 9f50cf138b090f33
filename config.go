package authcore

import (
	"errors"
	"time"

	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/password"
	"github.com/vaultsync/authcore/session"
	"github.com/vaultsync/authcore/token"
)

// Config carries every tunable of the core. Zero values mean "use the
// default"; New validates the result and fails fast on anything
// unusable, so a misconfigured service never starts serving.
type Config struct {
	// Token configures signing. Token.Secret (or the ed25519 key pair)
	// is the only field without a default.
	Token token.Config

	// Session configures refresh-hash cost and the reuse grace window.
	Session session.Config

	// OTP configures code length and lifetime. The owner gate is
	// installed by New and must be left nil.
	OTP otp.Config

	// Password configures the argon2id cost for user credentials.
	Password password.Config

	// MinPasswordLength applies to signup, change, and reset.
	// Default 8.
	MinPasswordLength int

	// Clock overrides time.Now everywhere, for tests. Leaf clocks set
	// explicitly in Token/Session/OTP win over this one.
	Clock func() time.Time
}

func (c *Config) applyDefaults() error {
	if c.MinPasswordLength == 0 {
		c.MinPasswordLength = 8
	}
	if c.MinPasswordLength < 6 {
		return errors.New("authcore: minimum password length below 6 is not acceptable")
	}
	if c.OTP.Gate != nil {
		return errors.New("authcore: OTP.Gate is installed by New")
	}
	if c.Token.SigningMethod == "" {
		c.Token.SigningMethod = token.MethodHS256
	}
	if c.Clock != nil {
		if c.Token.Clock == nil {
			c.Token.Clock = c.Clock
		}
		if c.Session.Clock == nil {
			c.Session.Clock = c.Clock
		}
		if c.OTP.Clock == nil {
			c.OTP.Clock = c.Clock
		}
	}
	return nil
}
