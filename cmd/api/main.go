package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/api/handlers"
	"github.com/retail-agent/backend/internal/bootstrap"
	"github.com/retail-agent/backend/internal/middleware/ratelimit"
	"github.com/retail-agent/backend/internal/middleware/security"
	"github.com/retail-agent/backend/internal/middleware/validation"
	"github.com/retail-agent/backend/pkg/config"
	appLogger "github.com/retail-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting retail catalog API server",
		zap.String("store", cfg.Store.Driver),
		zap.String("database", cfg.Database.Driver),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	app, err := bootstrap.Build(startCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer app.Close()

	server := fiber.New(fiber.Config{
		AppName:      "retail-agent",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	server.Use(recover.New())
	server.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	server.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${latency} ${method} ${path}\n",
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + ratelimit.TenantHeader,
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))
	server.Use(limiter.Middleware())
	server.Use(validation.Middleware(validation.Config{
		Logger: appLogger.Named("validation"),
	}))

	checks := make(map[string]handlers.Check, len(app.Checks))
	for name, check := range app.Checks {
		checks[name] = check
	}

	h := handlers.Handlers{
		Catalog:         handlers.NewCatalogHandler(app.Store, app.Pipeline),
		Search:          handlers.NewSearchHandler(app.Search),
		WebSocket:       handlers.NewWebSocketHandler(app.Search, time.Duration(cfg.Server.WriteTimeout)*time.Second),
		Classifications: handlers.NewClassificationHandler(app.Classifications),
		Health:          handlers.NewHealthHandler(checks),
	}
	if app.Knowledge != nil {
		h.Documents = handlers.NewDocumentHandler(app.Knowledge)
	}
	handlers.RegisterRoutes(server, h)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
