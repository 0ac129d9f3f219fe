package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ndrozdov/storefront/internal/service/auth"
	"github.com/ndrozdov/storefront/internal/tokens"
)

// Guard protects dashboard, cart and checkout routes. An expired access
// token is transparently rotated through the refresh token before the
// request proceeds; anything else clears the session cookies.
type Guard struct {
	Auth      *auth.Service
	JWTSecret []byte
}

func (g *Guard) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accessCookie, err := c.Cookie("accessToken")
		if err != nil || accessCookie.Value == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}

		claims, err := tokens.AccessClaimsFromToken(accessCookie.Value, g.JWTSecret)
		if err == nil && claims != nil {
			setUserContext(c, claims.Subject)
			return next(c)
		}

		if !errors.Is(err, jwt.ErrTokenExpired) {
			clearAuthCookies(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}

		refreshCookie, rErr := c.Cookie("refreshToken")
		if rErr != nil || refreshCookie.Value == "" {
			clearAuthCookies(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing")
		}

		res, refErr := g.Auth.Refresh(c.Request().Context(), refreshCookie.Value)
		if refErr != nil {
			clearAuthCookies(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
		}

		setAuthCookies(c, res)
		setUserContext(c, res.User.ID.String())
		return next(c)
	}
}

func setUserContext(c echo.Context, subject string) {
	c.Set("user_id", subject)
}

// UserID reads the authenticated user set by RequireAuth.
func UserID(c echo.Context) (uuid.UUID, error) {
	s, ok := c.Get("user_id").(string)
	if !ok || s == "" {
		return uuid.Nil, errors.New("unauthorized")
	}
	userID, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.New("unauthorized")
	}
	return userID, nil
}

func CreateCookie(name, value, path string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func DeleteCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func setAuthCookies(c echo.Context, res *auth.LoginResult) {
	c.SetCookie(CreateCookie("accessToken", res.AccessToken, "/", res.AccessExp))
	c.SetCookie(CreateCookie("refreshToken", res.RefreshToken, "/", res.RefreshExp))
}

func clearAuthCookies(c echo.Context) {
	c.SetCookie(DeleteCookie("accessToken", "/"))
	c.SetCookie(DeleteCookie("refreshToken", "/"))
}
