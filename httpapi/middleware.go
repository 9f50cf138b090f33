package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	authcore "github.com/vaultsync/authcore"
)

const principalKey = "httpapi.principal"

// Authenticate is the explicit guard chain for bearer requests: extract
// the token, verify it, assert the backing session is active, and stash
// the resulting principal for the handler. Each step fails the request
// outright; nothing downstream runs unauthenticated.
func Authenticate(svc *authcore.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			principal, err := svc.Authenticate(c.Request().Context(), raw)
			if err != nil {
				return httpError(err)
			}
			c.Set(principalKey, principal)
			return next(c)
		}
	}
}

// CurrentPrincipal returns the principal stored by Authenticate.
// Handlers take identity from here and pass it on as explicit arguments.
func CurrentPrincipal(c echo.Context) (*authcore.Principal, bool) {
	principal, ok := c.Get(principalKey).(*authcore.Principal)
	return principal, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
