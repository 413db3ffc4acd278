package validation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/pkg/logger"
)

// Path segments name directories under the score root, so they must be plain names.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type Config struct {
	// Params are the route parameters checked as path segments.
	Params         []string
	MaxParamLength int
	MaxLimit       int
	AllowedFormats []string
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxParamLength == 0 {
		cfg.MaxParamLength = 128
	}
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = 500
	}
	if len(cfg.AllowedFormats) == 0 {
		cfg.AllowedFormats = []string{"json", "text", "yaml"}
	}

	return func(c *fiber.Ctx) error {
		for _, name := range cfg.Params {
			value := c.Params(name)
			if value == "" {
				continue
			}
			if !IsSafeSegment(value, cfg.MaxParamLength) {
				logger.Warn("Rejected path parameter",
					zap.String("ip", c.IP()),
					zap.String("param", name),
					zap.String("value", value),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid " + name,
				})
			}
		}

		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > cfg.MaxLimit {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "limit must be between 1 and " + strconv.Itoa(cfg.MaxLimit),
				})
			}
		}

		if format := c.Query("format"); format != "" && !contains(cfg.AllowedFormats, strings.ToLower(format)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unsupported format",
			})
		}

		return c.Next()
	}
}

func IsSafeSegment(value string, maxLen int) bool {
	if len(value) > maxLen || strings.Contains(value, "..") {
		return false
	}
	return segmentPattern.MatchString(value)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
