// Package api exposes aggregated reports, the run ledger and metrics over HTTP.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/cie-bench/harness/internal/api/handlers"
	"github.com/cie-bench/harness/internal/metrics"
	"github.com/cie-bench/harness/internal/middleware/security"
	"github.com/cie-bench/harness/internal/middleware/validation"
)

type Options struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IsDevelopment bool
	// AccessLog enables the fiber request logger.
	AccessLog bool
}

func NewApp(opts Options, reports *handlers.ReportHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: opts.IsDevelopment}))

	validate := validation.Middleware(validation.Config{
		Params: []string{"category", "model"},
	})

	v1 := app.Group("/api/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	v1.Get("/report/:category/:model", validate, reports.GetReport)
	v1.Get("/combined/:model", validate, reports.GetCombined)
	v1.Get("/runs", validate, reports.ListRuns)

	app.Get("/metrics", metrics.MetricsHandler())

	return app
}
