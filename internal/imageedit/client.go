package imageedit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cie-bench/harness/pkg/circuitbreaker"
	"github.com/cie-bench/harness/pkg/logger"
	"github.com/cie-bench/harness/pkg/ratelimit"
	"github.com/cie-bench/harness/pkg/retry"
	"github.com/cie-bench/harness/pkg/utils"
)

// FailureKind classifies why a submission failed.
type FailureKind string

const (
	KindNone        FailureKind = ""
	KindInput       FailureKind = "input"
	KindTransport   FailureKind = "transport"
	KindRateLimited FailureKind = "rate_limited"
	KindResponse    FailureKind = "response"
	KindWrite       FailureKind = "write"
)

// Outcome is the result of one submission. Reason is set whenever Success is false.
type Outcome struct {
	Success  bool
	Kind     FailureKind
	Reason   string
	Attempts int
	Duration time.Duration
}

func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return errors.New(o.Reason)
}

type Config struct {
	Retry           retry.Config
	Breaker         *circuitbreaker.CircuitBreaker
	Limiter         *ratelimit.Limiter
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
	// OnRequest is called after every provider attempt.
	OnRequest       func(d time.Duration, err error)
}

// Client wraps a Provider with the shared retry policy, breaker and pacer and
// writes the first returned image to disk.
type Client struct {
	provider        Provider
	retryConfig     retry.Config
	cb              *circuitbreaker.CircuitBreaker
	limiter         *ratelimit.Limiter
	downloadTimeout time.Duration
	httpClient      *http.Client
	onRequest       func(d time.Duration, err error)
}

func NewClient(provider Provider, cfg Config) *Client {
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 120 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger.GetLogger()
	}

	logger.Info("Edit client initialized",
		zap.String("provider", provider.Name()),
		zap.Int("max_attempts", cfg.Retry.MaxAttempts),
	)

	return &Client{
		provider:        provider,
		retryConfig:     cfg.Retry,
		cb:              cfg.Breaker,
		limiter:         cfg.Limiter,
		downloadTimeout: cfg.DownloadTimeout,
		httpClient:      cfg.HTTPClient,
		onRequest:       cfg.OnRequest,
	}
}

func (c *Client) Provider() Provider {
	return c.provider
}

// Submit edits imagePath according to instruction and writes the result to
// outputPath. It never panics on provider errors; every failure carries a reason.
func (c *Client) Submit(ctx context.Context, imagePath, instruction, outputPath string) Outcome {
	start := time.Now()

	if _, err := os.Stat(imagePath); err != nil {
		return Outcome{Kind: KindInput, Reason: ErrImageNotFound.Error()}
	}
	if strings.TrimSpace(instruction) == "" {
		return Outcome{Kind: KindInput, Reason: ErrEmptyInstruction.Error()}
	}

	var attempts int
	err := retry.Do(ctx, c.retryConfig, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.attempt(ctx, EditRequest{ImagePath: imagePath, Instruction: instruction}, outputPath)
	})

	out := Outcome{Success: err == nil, Attempts: attempts, Duration: time.Since(start)}
	if err != nil {
		out.Kind = kindOf(err)
		out.Reason = err.Error()
		logger.Debug("Edit failed",
			zap.String("image", filepath.Base(imagePath)),
			zap.String("kind", string(out.Kind)),
			zap.String("reason", out.Reason),
		)
	}
	return out
}

func (c *Client) attempt(ctx context.Context, req EditRequest, outputPath string) error {
	call := func(ctx context.Context) error {
		start := time.Now()
		img, err := c.provider.Edit(ctx, req)
		if c.onRequest != nil {
			c.onRequest(time.Since(start), err)
		}
		if err != nil {
			return err
		}
		return c.store(ctx, img, outputPath)
	}
	if c.cb == nil {
		return call(ctx)
	}
	return c.cb.Execute(ctx, call)
}

func (c *Client) store(ctx context.Context, img *GeneratedImage, outputPath string) error {
	data := img.Data
	if img.URL != "" {
		var err error
		data, err = c.download(ctx, img.URL)
		if err != nil {
			return err
		}
	}
	if err := utils.WriteFileAtomic(outputPath, data, 0o644); err != nil {
		return retry.MarkPermanent(&writeError{err: err})
	}
	return nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.MarkPermanent(fmt.Errorf("invalid image url: %w", err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retry.MarkPermanent(fmt.Errorf("failed to download image (HTTP %d)", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	return data, nil
}

type writeError struct {
	err error
}

func (e *writeError) Error() string { return fmt.Sprintf("failed to write output: %v", e.err) }
func (e *writeError) Unwrap() error { return e.err }

func kindOf(err error) FailureKind {
	var we *writeError
	if errors.As(err, &we) {
		return KindWrite
	}
	switch retry.ClassOf(err) {
	case retry.RateLimited:
		return KindRateLimited
	case retry.Permanent:
		return KindResponse
	}
	var statusErr *retry.StatusError
	if errors.As(err, &statusErr) {
		return KindResponse
	}
	return KindTransport
}
