// Package httpapi exposes the auth core over HTTP. Routing is thin: it
// binds requests, calls the service, and maps the error taxonomy onto
// status codes.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authcore "github.com/vaultsync/authcore"
)

func NewRouter(svc *authcore.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	h := &handlers{svc: svc}

	auth := e.Group("/auth")
	auth.POST("/signup", h.signup)
	auth.POST("/verify-email", h.verifyEmail)
	auth.POST("/resend-verification", h.resendVerification)
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)
	auth.POST("/google", h.googleLogin)
	auth.POST("/forgot-password", h.forgotPassword)
	auth.POST("/verify-reset-code", h.verifyResetCode)
	auth.POST("/reset-password", h.resetPassword)

	authed := e.Group("", Authenticate(svc))
	authed.POST("/auth/change-password", h.changePassword)
	authed.POST("/auth/logout", h.logout)
	authed.GET("/sessions", h.listSessions)
	authed.DELETE("/sessions/:id", h.revokeSession)
	authed.DELETE("/sessions", h.revokeAllSessions)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	return e
}

// httpError maps the service error taxonomy onto HTTP statuses. Session
// and token errors keep their specific messages; credential errors stay
// generic by construction.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, authcore.ErrValidation),
		errors.Is(err, authcore.ErrInvalidOrExpiredCode),
		errors.Is(err, authcore.ErrFederatedProfileMissingEmail):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, authcore.ErrEmailNotVerified):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, authcore.ErrEmailInUse),
		errors.Is(err, authcore.ErrProviderConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrInvalidToken),
		errors.Is(err, authcore.ErrInvalidRefreshToken),
		errors.Is(err, authcore.ErrSessionNotFound),
		errors.Is(err, authcore.ErrSessionRevoked),
		errors.Is(err, authcore.ErrSessionExpired),
		errors.Is(err, authcore.ErrTokenReuseDetected):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, authcore.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
