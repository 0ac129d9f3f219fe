package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ndrozdov/storefront/internal/config"
	"github.com/ndrozdov/storefront/internal/events"
	"github.com/ndrozdov/storefront/internal/httpserver"
	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/repo"
	"github.com/ndrozdov/storefront/internal/search"
	"github.com/ndrozdov/storefront/internal/service/auth"
	"github.com/ndrozdov/storefront/internal/service/cart"
	"github.com/ndrozdov/storefront/internal/service/catalog"
	"github.com/ndrozdov/storefront/internal/storage"
	"github.com/ndrozdov/storefront/internal/syncstore"
)

const productIndex = "products"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LOG_LEVEL)

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	var producer events.Publisher = events.Noop{}
	var kafkaProd *events.Producer
	if cfg.KAFKA_ADDRESS != "" {
		kafkaProd = events.NewProducer(cfg.KAFKA_ADDRESS)
		producer = kafkaProd
	}

	var indexer *search.Indexer
	esClient, err := search.NewClient(cfg)
	if err != nil {
		logger.Warn("elasticsearch unavailable, search disabled", "error", err)
	} else {
		indexer = &search.Indexer{ES: esClient, Index: productIndex}
	}

	store, err := storage.NewLocal(cfg.UPLOAD_DIR, cfg.PUBLIC_URL)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}

	r := repo.New(db)
	cache := syncstore.New(syncstore.Config{})
	authSvc := &auth.Service{
		Repo:          r,
		JWTSecret:     []byte(cfg.JWT_SECRET),
		RefreshSecret: []byte(cfg.REFRESH_SECRET),
	}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), logging.RequestLogger(logger))
	e.Static("/uploads", cfg.UPLOAD_DIR)

	httpserver.Register(e, &httpserver.Deps{
		Auth: &httpserver.AuthHandler{Svc: authSvc, Events: producer},
		Products: &httpserver.ProductHandler{
			Svc:     &catalog.Service{Repo: r, Cache: cache},
			Events:  producer,
			Indexer: indexer,
			Storage: store,
		},
		Cart: &httpserver.CartHandler{
			Svc:    &cart.Service{Repo: r, Cache: cache, CheckoutDelay: cfg.CHECKOUT_DELAY},
			Events: producer,
		},
		Search: &httpserver.SearchHandler{ES: esClient, Index: productIndex},
		Guard:  &httpserver.Guard{Auth: authSvc, JWTSecret: []byte(cfg.JWT_SECRET)},
	})

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	if kafkaProd != nil {
		if err := kafkaProd.Close(); err != nil {
			log.Printf("kafka close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}
