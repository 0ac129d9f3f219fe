package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ndrozdov/storefront/internal/events"
	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/models"
	"github.com/ndrozdov/storefront/internal/service/auth"
)

type AuthHandler struct {
	Svc    *auth.Service
	Events events.Publisher
}

type userResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email}
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.register")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Svc.Register(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrValidation):
		return c.JSON(http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		return c.JSON(http.StatusConflict, "email already registered")
	case err != nil:
		l.Error("register_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	publish(c, h.Events, events.TopicUser, user.ID.String(), map[string]any{
		"type":    "user_registered",
		"user_id": user.ID,
	})

	return c.JSON(http.StatusCreated, toUserResponse(user))
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrValidation):
		return c.JSON(http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, "invalid email or password")
	case err != nil:
		l.Error("login_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	setAuthCookies(c, res)
	return c.JSON(http.StatusOK, toUserResponse(res.User))
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.refresh")

	cookie, err := c.Cookie("refreshToken")
	if err != nil || cookie.Value == "" {
		return c.JSON(http.StatusUnauthorized, "refresh token missing")
	}

	res, err := h.Svc.Refresh(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefresh) {
			clearAuthCookies(c)
			return c.JSON(http.StatusUnauthorized, "invalid refresh token")
		}
		l.Error("refresh_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	setAuthCookies(c, res)
	return c.JSON(http.StatusOK, toUserResponse(res.User))
}

func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.logout")

	if cookie, err := c.Cookie("refreshToken"); err == nil {
		if err := h.Svc.Logout(ctx, cookie.Value); err != nil {
			l.Error("logout_error", "status", 500, "error", err)
			return c.JSON(http.StatusInternalServerError, "internal error")
		}
	}

	clearAuthCookies(c)
	return c.JSON(http.StatusOK, "logged out")
}

func (h *AuthHandler) Session(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	user, err := h.Svc.Session(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// publish sends a domain event without blocking the response on the
// broker; failures are logged and swallowed.
func publish(c echo.Context, p events.Publisher, topic, key string, event map[string]any) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, topic, key, event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka_publish_error", "topic", topic, "error", err)
	}
}
