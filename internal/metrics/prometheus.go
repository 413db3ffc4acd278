package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cie-bench/harness/internal/aggregate"
	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/pkg/retry"
)

var (
	ItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cie_items_total",
			Help: "Total items processed by terminal status",
		},
		[]string{"kind", "status"},
	)

	ItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cie_item_duration_seconds",
			Help:    "Wall time spent per item",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cie_request_duration_seconds",
			Help:    "Remote API request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 180},
		},
		[]string{"kind", "outcome"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cie_retries_total",
			Help: "Total retries by failure class",
		},
		[]string{"kind", "class"},
	)

	JudgeTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cie_judge_tokens_total",
			Help: "Total judge tokens used",
		},
		[]string{"model", "type"},
	)

	ClassScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cie_class_score",
			Help: "Average final score per category, model and class",
		},
		[]string{"category", "model", "class"},
	)

	CombinedScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cie_combined_score",
			Help: "Weighted cross-category score per model",
		},
		[]string{"model"},
	)
)

func Init() {
	prometheus.MustRegister(ItemsTotal)
	prometheus.MustRegister(ItemDuration)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(JudgeTokens)
	prometheus.MustRegister(ClassScore)
	prometheus.MustRegister(CombinedScore)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Observer counts batch outcomes.
type Observer struct{}

func (Observer) Observe(ev batch.Event) {
	ItemsTotal.WithLabelValues(ev.Kind, string(ev.Status)).Inc()
	if ev.Status != batch.StatusSkipped {
		ItemDuration.WithLabelValues(ev.Kind).Observe(ev.Duration.Seconds())
	}
}

func ObserveRequest(kind string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RequestDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func ObserveTokens(model string, prompt, completion int) {
	if prompt > 0 {
		JudgeTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		JudgeTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

// RetryHook returns a retry.Config.OnRetry callback labelled with kind.
func RetryHook(kind string) func(attempt int, class retry.Class, delay time.Duration, err error) {
	return func(_ int, class retry.Class, _ time.Duration, _ error) {
		RetriesTotal.WithLabelValues(kind, class.String()).Inc()
	}
}

func RecordReport(category, model string, report *aggregate.Report) {
	if report == nil {
		return
	}
	for _, cs := range report.Classes {
		if cs.Count == 0 {
			continue
		}
		ClassScore.WithLabelValues(category, model, strconv.Itoa(cs.ClassID)).Set(cs.Average)
	}
}

func RecordCombined(combined *aggregate.Combined) error {
	if combined == nil {
		return errors.New("nil combined score")
	}
	CombinedScore.WithLabelValues(combined.Model).Set(combined.Weighted)
	return nil
}
