package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	authcore "github.com/vaultsync/authcore"
	"github.com/vaultsync/authcore/config"
	"github.com/vaultsync/authcore/googleid"
	"github.com/vaultsync/authcore/httpapi"
	"github.com/vaultsync/authcore/mail"
	"github.com/vaultsync/authcore/metrics"
	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/session"
	"github.com/vaultsync/authcore/store"
	"github.com/vaultsync/authcore/store/redisotp"
	"github.com/vaultsync/authcore/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("load config")
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.AppEnv == "local" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	db, err := store.Open(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	var otpStore otp.Store = st.OTP()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		otpStore = redisotp.New(client, "authotp")
		log.Info().Str("addr", cfg.RedisAddr).Msg("otp storage on redis")
	}

	var sender mail.Sender
	if cfg.ResendAPIKey != "" {
		sender, err = mail.NewResendClient(cfg.ResendAPIKey, cfg.MailFrom)
		if err != nil {
			log.Fatal().Err(err).Msg("configure mail")
		}
	} else {
		log.Warn().Msg("no mail provider configured; codes are logged, not delivered")
		sender = mail.LogSender{Log: log}
	}

	var verifier authcore.IdentityTokenVerifier
	if cfg.GoogleClientID != "" {
		verifier, err = googleid.New(cfg.GoogleClientID)
		if err != nil {
			log.Fatal().Err(err).Msg("configure google verifier")
		}
	}

	svc, err := authcore.New(authcore.Config{
		Token: token.Config{
			Secret:     []byte(cfg.JWTSecret),
			Issuer:     cfg.JWTIssuer,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Session: session.Config{},
		OTP:     otp.Config{Digits: cfg.OTPDigits, TTL: cfg.OTPTTL},
	}, authcore.Deps{
		Users:            st.Users(),
		OTPStore:         otpStore,
		SessionStore:     st.Sessions(),
		Mailer:           mail.NewService(sender),
		IdentityVerifier: verifier,
		Logger:           log,
		Metrics:          metrics.New(prometheus.DefaultRegisterer),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build auth service")
	}

	e := httpapi.NewRouter(svc)
	addr := cfg.HTTPHost + ":" + cfg.HTTPPort

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()
	log.Info().Str("addr", addr).Msg("authd listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
