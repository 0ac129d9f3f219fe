package httpserver

import (
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"

	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/search"
	"github.com/ndrozdov/storefront/internal/util"
)

type SearchHandler struct {
	ES    *elasticsearch.Client
	Index string
}

func (h *SearchHandler) Search(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "search")

	q := c.QueryParam("q")
	if q == "" {
		return c.JSON(http.StatusBadRequest, "q is required")
	}
	if h.ES == nil {
		return c.JSON(http.StatusServiceUnavailable, "search is not configured")
	}

	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	offset, limit := util.Calculate(page, util.DefaultPageSize)

	total, products, err := search.Search(ctx, h.ES, h.Index, q, offset, limit)
	if err != nil {
		l.Error("search_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":     total,
		"products":  products,
		"page":      page,
		"page_size": limit,
	})
}
