// Package config loads the daemon configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `env:"AUTH_APP_ENV" envDefault:"local"`
	HTTPHost string `env:"AUTH_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort string `env:"AUTH_HTTP_PORT" envDefault:"8080"`

	DBHost     string `env:"AUTH_DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"AUTH_DB_PORT" envDefault:"5432"`
	DBUser     string `env:"AUTH_DB_USER" envDefault:"auth"`
	DBPassword string `env:"AUTH_DB_PASSWORD" envDefault:"auth"`
	DBName     string `env:"AUTH_DB_NAME" envDefault:"authdb"`
	DBSSLMode  string `env:"AUTH_DB_SSLMODE" envDefault:"disable"`

	// RedisAddr, when set, moves OTP storage from the relational tables
	// to Redis.
	RedisAddr     string `env:"AUTH_REDIS_ADDR"`
	RedisPassword string `env:"AUTH_REDIS_PASSWORD"`

	JWTSecret  string        `env:"AUTH_JWT_SECRET,required"`
	JWTIssuer  string        `env:"AUTH_JWT_ISSUER" envDefault:"authcore"`
	AccessTTL  time.Duration `env:"AUTH_JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"AUTH_JWT_REFRESH_TTL" envDefault:"720h"`

	OTPTTL    time.Duration `env:"AUTH_OTP_TTL" envDefault:"10m"`
	OTPDigits int           `env:"AUTH_OTP_DIGITS" envDefault:"6"`

	GoogleClientID string `env:"AUTH_GOOGLE_CLIENT_ID"`

	ResendAPIKey string `env:"AUTH_RESEND_API_KEY"`
	MailFrom     string `env:"AUTH_MAIL_FROM" envDefault:"no-reply@localhost"`
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
