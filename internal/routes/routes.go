package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cardvault/bankcards/internal/audit"
	"github.com/cardvault/bankcards/internal/banking"
	"github.com/cardvault/bankcards/internal/config"
	"github.com/cardvault/bankcards/internal/identity"
	"github.com/cardvault/bankcards/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Cards *banking.Service
	Users *identity.Service
	Audit audit.Repository
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Cards == nil || d.Users == nil || d.Audit == nil {
		return fmt.Errorf("routes: card, user and audit services are required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLog(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.JWTAuth([]byte(d.Cfg.JWTSecret), d.Users))
	RegisterIdentityRoutes(protected, identity.NewHandler(d.Users))
	RegisterCardRoutes(protected, banking.NewHandler(d.Cards), d)
	RegisterAuditRoutes(protected, d.Cards, d.Audit)

	return nil
}
