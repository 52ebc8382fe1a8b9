package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/pflag"

	"restkit/internal/admin"
	"restkit/internal/auth"
	"restkit/internal/cache"
	"restkit/internal/config"
	"restkit/internal/engine"
	"restkit/internal/instrument"
	"restkit/internal/logging"
	"restkit/internal/metadata"
	"restkit/internal/response"
	"restkit/internal/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to restkit.yaml")
	hashPassword := pflag.String("hash-password", "", "print the bcrypt hash of a password and exit")
	pflag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "restkit:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.NewLogger(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := logging.WithLogger(context.Background(), log)
	log.Info("config loaded", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "db", cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	// 3. Load schema; tables declared without columns are read from the database
	models, err := metadata.LoadDir(cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	migrator := store.NewMigrator(db.DB, db.Dialect)
	if err := migrator.Introspect(ctx, models); err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}
	reg := metadata.NewRegistry()
	if err := reg.Load(models); err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	log.Info("schema loaded", "models", len(models))

	if cfg.Database.AutoMigrate {
		if err := migrator.Migrate(ctx, reg.AllModels()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// 4. Response cache and formatter
	respCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	if closer, ok := respCache.(*cache.Redis); ok {
		defer closer.Close()
	}
	formatter, err := response.New(cfg.Response.Format)
	if err != nil {
		return err
	}

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(logging.Middleware(log))
	if cfg.Metrics.Enabled {
		app.Use(instrument.Middleware())
		app.Get("/metrics", instrument.Handler())
	}

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.DB.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 7. Auth routes and middleware
	var resourceMW []fiber.Handler
	if cfg.Auth.Enabled {
		authHandler, err := auth.NewHandler(db, reg, cfg.Auth)
		if err != nil {
			return err
		}
		if cfg.Auth.SeedAdmin {
			if err := authHandler.SeedAdmin(ctx); err != nil {
				return fmt.Errorf("seed admin: %w", err)
			}
		}
		authMW := auth.Middleware(cfg.Auth.JWTSecret)
		auth.RegisterRoutes(app, authHandler, authMW)
		admin.RegisterAdminRoutes(app, admin.NewHandler(reg, migrator), authMW, auth.RequireAdmin())
		resourceMW = append(resourceMW, authMW)
	} else {
		log.Warn("authentication disabled, permission rules are not enforced")
	}

	// 8. Resource routes
	handler := engine.NewHandler(db, reg, formatter, respCache, cfg.Query.JoinBelongsToColumns)
	engine.RegisterResourceRoutes(app, handler, resourceMW...)

	// 9. Start server
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("starting server", "addr", addr)
	return app.Listen(addr)
}
