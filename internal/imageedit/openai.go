package imageedit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cie-bench/harness/internal/llm"
	"github.com/cie-bench/harness/pkg/retry"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Size           string
	ResponseFormat string
	Quality        string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// OpenAIProvider calls the multipart images/edits endpoint of an
// OpenAI-compatible API. The form is built here because the go-openai edit
// request does not send model or quality; responses and error bodies still
// decode into the go-openai types.
type OpenAIProvider struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	model          string
	size           string
	responseFormat string
	quality        string
	timeout        time.Duration
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-image-1"
	}
	if cfg.Size == "" {
		cfg.Size = openai.CreateImageSize1024x1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &OpenAIProvider{
		httpClient:     llm.WithEmbeddedErrors(cfg.HTTPClient),
		endpoint:       strings.TrimRight(cfg.BaseURL, "/") + "/images/edits",
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		size:           cfg.Size,
		responseFormat: cfg.ResponseFormat,
		quality:        cfg.Quality,
		timeout:        cfg.Timeout,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.model
}

func (p *OpenAIProvider) Edit(ctx context.Context, req EditRequest) (*GeneratedImage, error) {
	body, contentType, err := p.form(req)
	if err != nil {
		return nil, retry.MarkPermanent(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, retry.MarkPermanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.AsStatusError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.StatusError{StatusCode: resp.StatusCode, Body: errorMessage(respBody)}
	}

	var result openai.ImageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("API error: %w", ErrNoImageData)
	}

	first := result.Data[0]
	switch {
	case first.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, retry.MarkPermanent(fmt.Errorf("failed to decode b64_json: %w", err))
		}
		return &GeneratedImage{Data: data}, nil
	case first.URL != "":
		return &GeneratedImage{URL: first.URL}, nil
	default:
		return nil, retry.MarkPermanent(ErrNoImagePayload)
	}
}

func (p *OpenAIProvider) form(req EditRequest) (io.Reader, string, error) {
	f, err := os.Open(req.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(req.ImagePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}

	fields := [][2]string{
		{"model", p.model},
		{"prompt", req.Instruction},
		{"n", "1"},
		{"size", p.size},
		{"quality", p.quality},
		{"response_format", p.responseFormat},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// errorMessage prefers the message of an OpenAI error envelope over the raw body.
func errorMessage(body []byte) string {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return truncate(string(body), 200)
}
