package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	authcore "github.com/vaultsync/authcore"
)

// The enumeration-sensitive endpoints answer with fixed messages; the
// body must be byte-identical whether or not the account exists.
const (
	msgSignupAccepted = "Signup successful, verification code sent."
	msgResetRequested = "You will receive a password reset code if your email is registered."
)

type messageResponse struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	ID         string     `json:"id"`
	IPAddress  string     `json:"ipAddress,omitempty"`
	UserAgent  string     `json:"userAgent,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt time.Time  `json:"lastUsedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
}

type handlers struct {
	svc *authcore.Service
}

func (h *handlers) metadata(c echo.Context) authcore.SessionMetadata {
	return authcore.SessionMetadata{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.svc.Signup(c.Request().Context(), req.Email, req.Password); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, messageResponse{Message: msgSignupAccepted})
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

func (h *handlers) verifyEmail(c echo.Context) error {
	var req verifyEmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.svc.VerifyEmail(c.Request().Context(), req.Code); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *handlers) resendVerification(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.svc.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgSignupAccepted})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	pair, err := h.svc.Login(c.Request().Context(), req.Email, req.Password, h.metadata(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *handlers) refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	pair, err := h.svc.Refresh(c.Request().Context(), req.RefreshToken, h.metadata(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
}

func (h *handlers) googleLogin(c echo.Context) error {
	var req googleLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	pair, err := h.svc.LoginWithIdentityToken(c.Request().Context(), req.IDToken, h.metadata(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *handlers) forgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		// Validation and infrastructure failures surface with their
		// own statuses; anything else collapses into the generic
		// response so the endpoint stays enumeration-proof.
		if errors.Is(err, authcore.ErrValidation) || errors.Is(err, authcore.ErrUnavailable) {
			return httpError(err)
		}
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgResetRequested})
}

type verifyResetCodeRequest struct {
	Code string `json:"code"`
}

type verifyResetCodeResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
}

func (h *handlers) verifyResetCode(c echo.Context) error {
	var req verifyResetCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	resetToken, err := h.svc.VerifyResetCode(c.Request().Context(), req.Code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, verifyResetCodeResponse{
		Message:     "Code accepted. Please reset your password.",
		AccessToken: resetToken,
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *handlers) resetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Password reset successful. Please log in again."})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *handlers) changePassword(c echo.Context) error {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Password updated successfully. Please log in again."})
}

func (h *handlers) logout(c echo.Context) error {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	if err := h.svc.Logout(c.Request().Context(), principal.UserID, principal.Session.ID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Logged out"})
}

func (h *handlers) listSessions(c echo.Context) error {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	sessions, err := h.svc.ListSessions(c.Request().Context(), principal.UserID)
	if err != nil {
		return httpError(err)
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:         s.ID,
			IPAddress:  s.IPAddress,
			UserAgent:  s.UserAgent,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) revokeSession(c echo.Context) error {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	if err := h.svc.RevokeSession(c.Request().Context(), principal.UserID, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) revokeAllSessions(c echo.Context) error {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	if err := h.svc.RevokeAllSessions(c.Request().Context(), principal.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
