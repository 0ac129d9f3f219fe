package httpserver

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ndrozdov/storefront/internal/events"
	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/repo"
	"github.com/ndrozdov/storefront/internal/search"
	"github.com/ndrozdov/storefront/internal/service/catalog"
	"github.com/ndrozdov/storefront/internal/storage"
	"github.com/ndrozdov/storefront/internal/util"
)

type ProductHandler struct {
	Svc     *catalog.Service
	Events  events.Publisher
	Indexer *search.Indexer
	Storage storage.ObjectStorage
}

var allowedImageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

func (h *ProductHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.list")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	category := c.QueryParam("category")

	res, err := h.Svc.List(ctx, userID, page, category)
	if err != nil {
		l.Error("list_products_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *ProductHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.get")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, "invalid product id")
	}

	prod, err := h.Svc.GetByID(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "product not found")
	}
	if err != nil {
		l.Error("get_product_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, prod)
}

// Share resolves a product by its public share token. No auth: share
// links are meant to be opened by anyone.
func (h *ProductHandler) Share(c echo.Context) error {
	ctx := c.Request().Context()

	prod, err := h.Svc.GetByShareID(ctx, c.Param("shareId"))
	if errors.Is(err, catalog.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "product not found")
	}
	if err != nil {
		logging.FromContext(ctx).Error("share_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, prod)
}

type createProductRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    *string  `json:"category"`
	Tags        []string `json:"tags"`
	ImageURLs   []string `json:"image_urls"`
}

func (h *ProductHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.create")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	var req createProductRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_product_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	prod, err := h.Svc.Create(ctx, userID, catalog.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Tags:        req.Tags,
		ImageURLs:   req.ImageURLs,
	})
	if errors.Is(err, catalog.ErrValidation) {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		l.Error("create_product_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	h.index(c, prod.ID)
	publish(c, h.Events, events.TopicProduct, prod.ID.String(), map[string]any{
		"type":       "product_created",
		"product_id": prod.ID,
		"user_id":    userID,
	})

	return c.JSON(http.StatusCreated, prod)
}

func (h *ProductHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.update")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, "invalid product id")
	}

	var upd repo.ProductUpdate
	if err := c.Bind(&upd); err != nil {
		l.Warn("update_product_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	prod, err := h.Svc.Update(ctx, userID, id, upd)
	switch {
	case errors.Is(err, catalog.ErrValidation):
		return c.JSON(http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		return c.JSON(http.StatusNotFound, "product not found")
	case err != nil:
		l.Error("update_product_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	h.index(c, prod.ID)
	publish(c, h.Events, events.TopicProduct, prod.ID.String(), map[string]any{
		"type":       "product_updated",
		"product_id": prod.ID,
	})

	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.delete")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, "invalid product id")
	}

	err = h.Svc.Delete(ctx, userID, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "product not found")
	}
	if err != nil {
		l.Error("delete_product_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	if h.Indexer != nil {
		if err := h.Indexer.DeleteProduct(ctx, id); err != nil {
			l.Error("es_delete_error", "product_id", id, "error", err)
		}
	}
	publish(c, h.Events, events.TopicProduct, id.String(), map[string]any{
		"type":       "product_deleted",
		"product_id": id,
	})

	return c.NoContent(http.StatusNoContent)
}

func (h *ProductHandler) ToggleLike(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.like")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, "invalid product id")
	}

	liked, err := h.Svc.ToggleLike(ctx, userID, id)
	if err != nil {
		l.Error("toggle_like_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, map[string]bool{"liked": liked})
}

// UploadImage stores one multipart image under a random name scoped to
// the uploader and returns its public URL.
func (h *ProductHandler) UploadImage(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.upload")

	userID, err := UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, "image file is required")
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedImageExts[ext] {
		return c.JSON(http.StatusBadRequest, "unsupported image type")
	}

	src, err := fh.Open()
	if err != nil {
		l.Error("upload_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	defer src.Close()

	name, err := gonanoid.New(16)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
	path := userID.String() + "/" + name + ext

	if err := h.Storage.Upload(ctx, path, src); err != nil {
		l.Error("upload_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusCreated, map[string]string{"url": h.Storage.PublicURL(path)})
}

func (h *ProductHandler) index(c echo.Context, id uuid.UUID) {
	if h.Indexer == nil {
		return
	}
	ctx := c.Request().Context()
	prod, err := h.Svc.GetByID(ctx, id)
	if err != nil {
		logging.FromContext(ctx).Error("es_index_error", "product_id", id, "error", err)
		return
	}
	if err := h.Indexer.IndexProduct(ctx, prod); err != nil {
		logging.FromContext(ctx).Error("es_index_error", "product_id", id, "error", err)
	}
}
