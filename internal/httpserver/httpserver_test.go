package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ndrozdov/storefront/internal/config"
	"github.com/ndrozdov/storefront/internal/events"
	"github.com/ndrozdov/storefront/internal/models"
	"github.com/ndrozdov/storefront/internal/repo"
	"github.com/ndrozdov/storefront/internal/service/auth"
	"github.com/ndrozdov/storefront/internal/service/cart"
	"github.com/ndrozdov/storefront/internal/service/catalog"
	"github.com/ndrozdov/storefront/internal/storage"
	"github.com/ndrozdov/storefront/internal/syncstore"
	"github.com/ndrozdov/storefront/internal/tokens"
)

var (
	testJWTSecret     = []byte("test-access-secret")
	testRefreshSecret = []byte("test-refresh-secret")
)

type testEnv struct {
	T  *testing.T
	E  *echo.Echo
	DB *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))

	r := repo.New(db)
	cache := syncstore.New(syncstore.Config{})
	authSvc := &auth.Service{Repo: r, JWTSecret: testJWTSecret, RefreshSecret: testRefreshSecret}
	store, err := storage.NewLocal(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	e := echo.New()
	Register(e, &Deps{
		Auth:     &AuthHandler{Svc: authSvc, Events: events.Noop{}},
		Products: &ProductHandler{Svc: &catalog.Service{Repo: r, Cache: cache}, Events: events.Noop{}, Storage: store},
		Cart:     &CartHandler{Svc: &cart.Service{Repo: r, Cache: cache}, Events: events.Noop{}},
		Search:   &SearchHandler{Index: "products"},
		Guard:    &Guard{Auth: authSvc, JWTSecret: testJWTSecret},
	})

	return &testEnv{T: t, E: e, DB: db}
}

func (env *testEnv) do(method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	env.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)
	return rec
}

// signup registers and logs a user in, returning their session cookies.
func (env *testEnv) signup(email string) []*http.Cookie {
	env.T.Helper()

	rec := env.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(env.T, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(env.T, http.StatusOK, rec.Code)
	return rec.Result().Cookies()
}

func (env *testEnv) createProduct(cookies []*http.Cookie, name string, price float64) *models.Product {
	env.T.Helper()

	rec := env.do(http.MethodPost, "/api/v1/products", map[string]any{
		"name":       name,
		"price":      price,
		"image_urls": []string{"/img/a.png"},
	}, cookies...)
	require.Equal(env.T, http.StatusCreated, rec.Code)

	var prod models.Product
	require.NoError(env.T, json.Unmarshal(rec.Body.Bytes(), &prod))
	return &prod
}

func TestRegisterLoginSession(t *testing.T) {
	env := newTestEnv(t)

	cookies := env.signup("a@example.com")

	rec := env.do(http.MethodGet, "/api/v1/auth/session", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a@example.com", resp.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup("a@example.com")

	rec := env.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "a@example.com", "password": "other",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGuardRejectsAnonymous(t *testing.T) {
	env := newTestEnv(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/cart"},
		{http.MethodGet, "/api/v1/products"},
		{http.MethodPost, "/api/v1/checkout"},
	} {
		rec := env.do(route.method, route.path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestGuardAutoRefreshRotatesSession(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("a@example.com")

	var refresh *http.Cookie
	var userID string
	for _, ck := range cookies {
		if ck.Name == "refreshToken" {
			refresh = ck
		}
		if ck.Name == "accessToken" {
			claims, err := tokens.AccessClaimsFromToken(ck.Value, testJWTSecret)
			require.NoError(t, err)
			userID = claims.Subject
		}
	}
	require.NotNil(t, refresh)

	expired, err := tokens.SignAccessToken(userID, time.Now().Add(-time.Minute), testJWTSecret)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/v1/auth/session", nil,
		&http.Cookie{Name: "accessToken", Value: expired},
		&http.Cookie{Name: "refreshToken", Value: refresh.Value},
	)
	require.Equal(t, http.StatusOK, rec.Code)

	rotated := rec.Result().Cookies()
	names := make(map[string]bool)
	for _, ck := range rotated {
		if ck.Value != "" {
			names[ck.Name] = true
		}
	}
	assert.True(t, names["accessToken"], "expired session must receive a fresh access token")
	assert.True(t, names["refreshToken"])
}

func TestGuardRejectsForgedToken(t *testing.T) {
	env := newTestEnv(t)

	forged, err := tokens.SignAccessToken(uuid.NewString(), time.Now().Add(time.Hour), []byte("wrong secret"))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/v1/cart", nil, &http.Cookie{Name: "accessToken", Value: forged})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductLifecycle(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("seller@example.com")

	prod := env.createProduct(cookies, "lamp", 25)
	assert.Len(t, prod.ShareID, 10)

	// Detail pages are public.
	rec := env.do(http.MethodGet, "/api/v1/products/"+prod.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPatch, "/api/v1/products/"+prod.ID.String(), map[string]any{
		"name": "brass lamp",
	}, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "brass lamp", updated.Name)

	rec = env.do(http.MethodDelete, "/api/v1/products/"+prod.ID.String(), nil, cookies...)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/products/"+prod.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductValidation(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("seller@example.com")

	rec := env.do(http.MethodPost, "/api/v1/products", map[string]any{
		"price": 10,
	}, cookies...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductOwnershipAcrossUsers(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup("owner@example.com")
	other := env.signup("other@example.com")

	prod := env.createProduct(owner, "lamp", 25)

	rec := env.do(http.MethodPatch, "/api/v1/products/"+prod.ID.String(), map[string]any{
		"name": "stolen",
	}, other...)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/v1/products/"+prod.ID.String(), nil, other...)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShareLink(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("seller@example.com")
	prod := env.createProduct(cookies, "lamp", 25)

	rec := env.do(http.MethodGet, "/p/"+prod.ShareID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var shared models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shared))
	assert.Equal(t, prod.ID, shared.ID)

	rec = env.do(http.MethodGet, "/p/absent-link", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleLikeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("a@example.com")
	prod := env.createProduct(cookies, "lamp", 25)

	rec := env.do(http.MethodPost, "/api/v1/products/"+prod.ID.String()+"/like", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["liked"])

	rec = env.do(http.MethodPost, "/api/v1/products/"+prod.ID.String()+"/like", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["liked"])
}

func TestCartFlow(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("buyer@example.com")
	prod := env.createProduct(cookies, "lamp", 9.99)

	rec := env.do(http.MethodPost, "/api/v1/cart", map[string]any{
		"product_id": prod.ID, "quantity": 1,
	}, cookies...)
	require.Equal(t, http.StatusCreated, rec.Code)

	var item models.CartItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))

	rec = env.do(http.MethodPatch, "/api/v1/cart/"+item.ID.String(), map[string]any{
		"quantity": 2,
	}, cookies...)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/cart", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var cartResp struct {
		Items []models.CartItem `json:"items"`
		Total decimal.Decimal   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cartResp))
	require.Len(t, cartResp.Items, 1)
	assert.Equal(t, 2, cartResp.Items[0].Quantity)
	assert.Equal(t, "19.98", cartResp.Total.String())

	rec = env.do(http.MethodDelete, "/api/v1/cart/"+item.ID.String(), nil, cookies...)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/cart", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cartResp))
	assert.Empty(t, cartResp.Items)
}

func TestCheckoutEndpoint(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("buyer@example.com")
	prod := env.createProduct(cookies, "lamp", 10)

	rec := env.do(http.MethodPost, "/api/v1/checkout", nil, cookies...)
	require.Equal(t, http.StatusBadRequest, rec.Code, "empty cart cannot be checked out")

	rec = env.do(http.MethodPost, "/api/v1/cart", map[string]any{
		"product_id": prod.ID, "quantity": 3,
	}, cookies...)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/checkout", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Total decimal.Decimal `json:"total"`
		Items int             `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Items)
	assert.Equal(t, "30", res.Total.String())

	rec = env.do(http.MethodGet, "/api/v1/cart", nil, cookies...)
	var cartResp struct {
		Items []models.CartItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cartResp))
	assert.Empty(t, cartResp.Items)
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("seller@example.com")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	fmt.Fprint(part, "png-bytes")
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/images", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["url"], "/uploads/")
	assert.Contains(t, resp["url"], ".png")
}

func TestUploadImageRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("seller@example.com")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "script.sh")
	require.NoError(t, err)
	fmt.Fprint(part, "#!/bin/sh")
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/images", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/search?q=lamp", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "search without a cluster degrades, not crashes")
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.signup("a@example.com")

	rec := env.do(http.MethodPost, "/api/v1/auth/logout", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var refresh string
	for _, ck := range cookies {
		if ck.Name == "refreshToken" {
			refresh = ck.Value
		}
	}
	rec = env.do(http.MethodPost, "/api/v1/auth/refresh", nil, &http.Cookie{Name: "refreshToken", Value: refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "revoked refresh token must not mint a session")
}
