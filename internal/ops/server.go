// Package ops serves the bot's probe, metrics and status endpoints.
package ops

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/health"
	"github.com/p-blackswan/roombot/internal/metrics"
	"github.com/p-blackswan/roombot/internal/requestid"
)

// DefaultListenAddr is used when Config.ListenAddr is empty.
const DefaultListenAddr = ":8090"

// Config holds configuration for the ops server.
type Config struct {
	ListenAddr string
}

// StatusFunc returns a JSON-serialisable snapshot of the bot.
type StatusFunc func() any

// Server is the ops Fiber application.
type Server struct {
	app     *fiber.App
	checker *health.Checker
	status  StatusFunc
	logger  zerolog.Logger
	config  Config
}

// NewServer creates and configures the ops server. metricsCollector and
// status may be nil.
func NewServer(cfg Config, checker *health.Checker, metricsCollector *metrics.Metrics, status StatusFunc, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "ops_server").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:     app,
		checker: checker,
		status:  status,
		logger:  logger,
		config:  cfg,
	}
	s.setupMiddleware()
	s.setupRoutes(metricsCollector)
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		reqID := requestid.OrNew(c.Get(requestid.Header))
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("ops request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(metricsCollector *metrics.Metrics) {
	s.app.Get("/healthz", s.liveness)
	s.app.Get("/readyz", s.readiness)
	s.app.Get("/status", s.statusHandler)

	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}
}

func (s *Server) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readiness(c *fiber.Ctx) error {
	results := map[string]health.Status{}
	if s.checker != nil {
		results = s.checker.RunAll(c.UserContext())
	}
	if health.Ready(results) {
		return c.JSON(fiber.Map{"status": "ready", "checks": results})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": results})
}

func (s *Server) statusHandler(c *fiber.Ctx) error {
	if s.status == nil {
		return fiber.NewError(fiber.StatusNotFound, "status not available")
	}
	return c.JSON(s.status())
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	s.logger.Info().Str("addr", addr).Msg("ops server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("ops server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
