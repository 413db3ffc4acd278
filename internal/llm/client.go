package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/imaging"
	"github.com/cie-bench/harness/pkg/circuitbreaker"
	"github.com/cie-bench/harness/pkg/logger"
	"github.com/cie-bench/harness/pkg/ratelimit"
	"github.com/cie-bench/harness/pkg/retry"
	"github.com/cie-bench/harness/pkg/utils"
)

const DefaultSystemPrompt = "You are an image quality evaluator. Please assess the edited image based on the given questions."

// Cache stores raw judge replies keyed by a hash of the full request.
type Cache interface {
	GetJudgement(ctx context.Context, key string) (string, bool, error)
	SetJudgement(ctx context.Context, key, raw string) error
}

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	SystemPrompt string
	Retry        retry.Config
	Breaker      *circuitbreaker.CircuitBreaker
	Limiter      *ratelimit.Limiter
	Cache        Cache
	HTTPClient   *http.Client
	// OnRequest is called after every completion attempt; usage is zero on error.
	OnRequest    func(d time.Duration, usage Usage, err error)
}

// Client is the vision judge.
type Client struct {
	client       *openai.Client
	model        string
	maxTokens    int
	timeout      time.Duration
	systemPrompt string
	retryConfig  retry.Config
	cb           *circuitbreaker.CircuitBreaker
	limiter      *ratelimit.Limiter
	cache        Cache
	onRequest    func(d time.Duration, usage Usage, err error)
}

type JudgeRequest struct {
	Original *imaging.Payload
	Edited   *imaging.Payload
	Prompt   string
}

type JudgeResponse struct {
	Content  string
	Cached   bool
	Attempts int
	Usage    Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oaCfg.HTTPClient = WithEmbeddedErrors(cfg.HTTPClient)
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger.GetLogger()
	}

	logger.Info("Judge client initialized",
		zap.String("model", cfg.Model),
		zap.String("base_url", oaCfg.BaseURL),
		zap.Bool("cache", cfg.Cache != nil),
	)

	return &Client{
		client:       openai.NewClientWithConfig(oaCfg),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout,
		systemPrompt: cfg.SystemPrompt,
		retryConfig:  cfg.Retry,
		cb:           cfg.Breaker,
		limiter:      cfg.Limiter,
		cache:        cfg.Cache,
		onRequest:    cfg.OnRequest,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Judge sends the original and edited images with the question prompt and
// returns the trimmed reply text.
func (c *Client) Judge(ctx context.Context, req JudgeRequest) (*JudgeResponse, error) {
	if req.Original == nil || req.Edited == nil {
		return nil, retry.MarkPermanent(errors.New("judge request needs both images"))
	}

	cacheKey := ""
	if c.cache != nil {
		cacheKey = c.cacheKey(req)
		raw, ok, err := c.cache.GetJudgement(ctx, cacheKey)
		if err != nil {
			logger.Warn("Judge cache lookup failed", zap.Error(err))
		} else if ok {
			return &JudgeResponse{Content: raw, Cached: true}, nil
		}
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				imagePart(req.Original),
				imagePart(req.Edited),
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			},
		},
	}

	var attempts int
	resp, err := retry.DoWithResult(ctx, c.retryConfig, func(ctx context.Context, attempt int) (*JudgeResponse, error) {
		attempts = attempt
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.guarded(ctx, func(ctx context.Context) (*JudgeResponse, error) {
			start := time.Now()
			resp, err := c.complete(ctx, messages)
			if c.onRequest != nil {
				var usage Usage
				if resp != nil {
					usage = resp.Usage
				}
				c.onRequest(time.Since(start), usage, err)
			}
			return resp, err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}
	resp.Attempts = attempts

	if c.cache != nil {
		if err := c.cache.SetJudgement(ctx, cacheKey, resp.Content); err != nil {
			logger.Warn("Failed to cache judge reply", zap.Error(err))
		}
	}
	return resp, nil
}

func (c *Client) guarded(ctx context.Context, fn func(ctx context.Context) (*JudgeResponse, error)) (*JudgeResponse, error) {
	if c.cb == nil {
		return fn(ctx)
	}
	var out *JudgeResponse
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (*JudgeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, AsStatusError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from judge")
	}

	logger.Debug("Judge completion generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &JudgeResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) cacheKey(req JudgeRequest) string {
	return utils.HashParts(
		[]byte(c.model),
		[]byte(c.systemPrompt),
		[]byte(req.Prompt),
		req.Original.Bytes,
		req.Edited.Bytes,
	)
}

func imagePart(p *imaging.Payload) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    p.DataURL(),
			Detail: openai.ImageURLDetailHigh,
		},
	}
}
