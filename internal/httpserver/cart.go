package httpserver

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ndrozdov/storefront/internal/events"
	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/service/cart"
)

type CartHandler struct {
	Svc    *cart.Service
	Events events.Publisher
}

func (h *CartHandler) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.get")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	items, err := h.Svc.Items(ctx, userID)
	if err != nil {
		l.Error("get_cart_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"items": items,
		"total": cart.Total(items),
	})
}

func (h *CartHandler) Add(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.add")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	var req struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("add_to_cart_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	item, err := h.Svc.Add(ctx, userID, req.ProductID, req.Quantity)
	if errors.Is(err, cart.ErrValidation) {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		l.Error("add_to_cart_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	publish(c, h.Events, events.TopicCart, userID.String(), map[string]any{
		"type":       "cart_item_added",
		"product_id": item.ProductID,
		"quantity":   item.Quantity,
	})

	return c.JSON(http.StatusCreated, item)
}

func (h *CartHandler) UpdateQuantity(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.update")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, "invalid item id")
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("update_cart_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	err = h.Svc.UpdateQuantity(ctx, userID, itemID, req.Quantity)
	if errors.Is(err, cart.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "item not found")
	}
	if err != nil {
		l.Error("update_cart_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) Remove(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.remove")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, "invalid item id")
	}

	err = h.Svc.Remove(ctx, userID, itemID)
	if errors.Is(err, cart.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "item not found")
	}
	if err != nil {
		l.Error("remove_from_cart_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) Clear(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.clear")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	if err := h.Svc.Clear(ctx, userID); err != nil {
		l.Error("clear_cart_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.checkout")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	res, err := h.Svc.Checkout(ctx, userID)
	if errors.Is(err, cart.ErrEmptyCart) {
		return c.JSON(http.StatusBadRequest, "cart is empty")
	}
	if err != nil {
		l.Error("checkout_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	publish(c, h.Events, events.TopicCart, userID.String(), map[string]any{
		"type":  "checkout_completed",
		"total": res.Total,
		"items": res.Items,
	})

	return c.JSON(http.StatusOK, res)
}
