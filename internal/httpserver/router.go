package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Deps struct {
	Auth     *AuthHandler
	Products *ProductHandler
	Cart     *CartHandler
	Search   *SearchHandler
	Guard    *Guard
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	// Public share links live outside the API prefix so they stay short.
	e.GET("/p/:shareId", d.Products.Share)

	api := e.Group("/api/v1")

	api.POST("/auth/register", d.Auth.Register)
	api.POST("/auth/login", d.Auth.Login)
	api.POST("/auth/refresh", d.Auth.Refresh)
	api.POST("/auth/logout", d.Auth.Logout)

	api.GET("/search", d.Search.Search)
	api.GET("/products/:id", d.Products.Get)

	protected := api.Group("", d.Guard.RequireAuth)

	protected.GET("/auth/session", d.Auth.Session)

	protected.GET("/products", d.Products.List)
	protected.POST("/products", d.Products.Create)
	protected.PATCH("/products/:id", d.Products.Update)
	protected.DELETE("/products/:id", d.Products.Delete)
	protected.POST("/products/:id/like", d.Products.ToggleLike)
	protected.POST("/products/images", d.Products.UploadImage)

	protected.GET("/cart", d.Cart.GetCart)
	protected.POST("/cart", d.Cart.Add)
	protected.PATCH("/cart/:id", d.Cart.UpdateQuantity)
	protected.DELETE("/cart/:id", d.Cart.Remove)
	protected.DELETE("/cart", d.Cart.Clear)
	protected.POST("/checkout", d.Cart.Checkout)
}
