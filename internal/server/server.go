package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cardvault/bankcards/internal/audit"
	"github.com/cardvault/bankcards/internal/banking"
	"github.com/cardvault/bankcards/internal/card"
	"github.com/cardvault/bankcards/internal/cardcrypto"
	"github.com/cardvault/bankcards/internal/config"
	"github.com/cardvault/bankcards/internal/identity"
	"github.com/cardvault/bankcards/internal/notification"
	"github.com/cardvault/bankcards/internal/routes"
	"github.com/cardvault/bankcards/internal/scheduler"
	"github.com/cardvault/bankcards/internal/validation"
)

// Server wraps the Fiber application, the expiry schedule and shared dependencies.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	sweeper *scheduler.ExpirySweeper
	logger  *slog.Logger
}

// New wires stores, services and routes. Without a database the in-memory
// stores are used, which is only allowed in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	cipher, err := newCipher(cfg, db, logger)
	if err != nil {
		return nil, err
	}

	var (
		cards card.Store
		users identity.Repository
		trail audit.Repository
	)
	if db != nil {
		cards = card.NewPostgresStore(db, cfg.CardLockTimeout)
		users = identity.NewPostgresRepository(db)
		trail = audit.NewPostgresRepository(db)
	} else {
		mem := audit.NewMemoryRepository()
		cards = card.NewMemoryStore(mem, cfg.CardLockTimeout)
		users = identity.NewMemoryRepository()
		trail = mem
	}

	identitySvc := identity.NewService(users)
	if cfg.BootstrapAdmin != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		admin, err := identitySvc.Ensure(ctx, cfg.BootstrapAdmin, "Bootstrap Administrator", identity.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("bootstrap admin ready", slog.String("user_id", admin.ID))
	}

	cardSvc := banking.NewService(
		cards,
		users,
		validation.NewEngine(cfg.Rules),
		cipher,
		audit.NewRecorder(),
		notification.NewLoggerNotifier(logger),
		logger,
	)
	identitySvc.WithHoldings(cardSvc)

	var locker scheduler.Locker
	if cache != nil {
		locker = scheduler.NewRedisLocker(cache, 5*time.Minute)
	}
	sweeper, err := scheduler.NewExpirySweeper(cfg.ExpirySweepCron, cardSvc, locker, logger)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: ErrorHandler(logger),
	})

	if err := routes.Setup(app, routes.Deps{
		Cfg:    cfg,
		DB:     db,
		Cache:  cache,
		Logger: logger,
		Cards:  cardSvc,
		Users:  identitySvc,
		Audit:  trail,
	}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, sweeper: sweeper, logger: logger}, nil
}

func newCipher(cfg config.Config, db *pgxpool.Pool, logger *slog.Logger) (*cardcrypto.Cipher, error) {
	if cfg.EncryptionKey != "" {
		key, err := cardcrypto.DecodeKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		return cardcrypto.NewCipher(key)
	}
	if db != nil || !cfg.IsDev() {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be set: %w", cardcrypto.ErrKey)
	}
	logger.Warn("ENCRYPTION_KEY not set, using an ephemeral key; stored cards will not survive a restart")
	key, err := cardcrypto.NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	return cardcrypto.NewCipher(key)
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the expiry schedule and the HTTP server.
func (s *Server) Listen() error {
	s.sweeper.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for a running sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.sweeper.Stop(ctx)
	return err
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// ErrorHandler renders errors as {"title","detail","status"}. Anything that
// is not a fiber error is logged and answered with an opaque 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		detail := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			detail = fe.Message
		} else {
			logger.Error("unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}
		if code >= fiber.StatusInternalServerError {
			detail = "internal server error"
		}

		return c.Status(code).JSON(problem{
			Title:  titleFor(code),
			Detail: detail,
			Status: code,
		})
	}
}

func titleFor(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "Validation Failed"
	case fiber.StatusUnauthorized:
		return "Unauthorized"
	case fiber.StatusForbidden:
		return "Access Denied"
	case fiber.StatusNotFound:
		return "Not Found"
	case fiber.StatusConflict:
		return "Conflict"
	case fiber.StatusTooManyRequests:
		return "Too Many Requests"
	default:
		return http.StatusText(code)
	}
}
