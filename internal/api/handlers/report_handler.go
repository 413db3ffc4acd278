package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/aggregate"
	"github.com/cie-bench/harness/internal/metrics"
	"github.com/cie-bench/harness/internal/storage/models"
	"github.com/cie-bench/harness/pkg/logger"
)

// RunLister is the part of the run ledger the server reads.
type RunLister interface {
	ListRuns(limit int) ([]*models.Run, error)
}

type ReportHandler struct {
	scoreRoot    string
	manifestPath string
	weights      map[string]float64
	aggregator   aggregate.Aggregator
	ledger       RunLister
}

// NewReportHandler serves reports computed on demand from scoreRoot/<category>/<model>.
// ledger may be nil.
func NewReportHandler(scoreRoot, manifestPath string, weights map[string]float64, ledger RunLister) *ReportHandler {
	return &ReportHandler{
		scoreRoot:    scoreRoot,
		manifestPath: manifestPath,
		weights:      weights,
		ledger:       ledger,
	}
}

func (h *ReportHandler) GetReport(c *fiber.Ctx) error {
	category := strings.ToUpper(c.Params("category"))
	model := c.Params("model")

	manifest, err := os.ReadFile(h.manifestPath)
	if err != nil {
		logger.Error("Failed to read manifest", zap.String("path", h.manifestPath), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Manifest unavailable",
		})
	}

	dir := filepath.Join(h.scoreRoot, category, model)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No scores for " + category + "/" + model,
		})
	}

	report, err := h.aggregator.Aggregate(dir, manifest)
	if err != nil {
		logger.Error("Failed to aggregate scores", zap.String("dir", dir), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate scores",
		})
	}
	metrics.RecordReport(category, model, report)

	return render(c, report)
}

func (h *ReportHandler) GetCombined(c *fiber.Ctx) error {
	model := c.Params("model")

	manifest, err := os.ReadFile(h.manifestPath)
	if err != nil {
		logger.Error("Failed to read manifest", zap.String("path", h.manifestPath), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Manifest unavailable",
		})
	}

	reports, err := h.aggregator.AggregateModel(h.scoreRoot, model, manifest, h.weights)
	if err != nil {
		logger.Error("Failed to aggregate model", zap.String("model", model), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate scores",
		})
	}
	if len(reports) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No scores for model " + model,
		})
	}

	combined := aggregate.Combine(model, reports, h.weights)
	for category, report := range reports {
		metrics.RecordReport(category, model, report)
	}
	_ = metrics.RecordCombined(combined)

	return render(c, combined)
}

func (h *ReportHandler) ListRuns(c *fiber.Ctx) error {
	if h.ledger == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Run ledger is disabled",
		})
	}

	runs, err := h.ledger.ListRuns(c.QueryInt("limit", 50))
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}
	if runs == nil {
		runs = []*models.Run{}
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}

// render answers JSON by default; ?format=text or yaml returns the CLI rendering.
func render(c *fiber.Ctx, v any) error {
	format := strings.ToLower(c.Query("format", aggregate.FormatJSON))
	if format == aggregate.FormatJSON {
		return c.JSON(v)
	}

	out, err := aggregate.Render(v, format)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(out)
}
