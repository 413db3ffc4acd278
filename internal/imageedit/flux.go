package imageedit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cie-bench/harness/internal/imaging"
	"github.com/cie-bench/harness/pkg/retry"
)

const DefaultFluxURL = "https://api.302.ai/302/submit/flux-kontext-pro"

type FluxConfig struct {
	APIKey       string
	Endpoint     string
	OutputFormat string
	Timeout      time.Duration
	Image        imaging.Options
	HTTPClient   *http.Client
}

// FluxProvider submits a JSON request with the source image inlined as a
// JPEG data URL.
type FluxProvider struct {
	endpoint     string
	apiKey       string
	outputFormat string
	timeout      time.Duration
	imageOpts    imaging.Options
	httpClient   *http.Client
}

type fluxRequest struct {
	ImageURL     string `json:"image_url"`
	Prompt       string `json:"prompt"`
	OutputFormat string `json:"output_format"`
}

type fluxImage struct {
	URL     string `json:"url"`
	B64JSON string `json:"b64_json"`
}

type fluxResponse struct {
	Images *[]fluxImage `json:"images"`
	Data   *[]fluxImage `json:"data"`
}

func NewFluxProvider(cfg FluxConfig) *FluxProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultFluxURL
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "png"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &FluxProvider{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		outputFormat: cfg.OutputFormat,
		timeout:      cfg.Timeout,
		imageOpts:    cfg.Image,
		httpClient:   cfg.HTTPClient,
	}
}

func (p *FluxProvider) Name() string {
	return "flux-kontext-pro"
}

func (p *FluxProvider) Edit(ctx context.Context, req EditRequest) (*GeneratedImage, error) {
	payload, err := imaging.EncodeFile(req.ImagePath, p.imageOpts)
	if err != nil {
		return nil, retry.MarkPermanent(err)
	}

	body, err := json.Marshal(fluxRequest{
		ImageURL:     payload.DataURL(),
		Prompt:       req.Instruction,
		OutputFormat: p.outputFormat,
	})
	if err != nil {
		return nil, retry.MarkPermanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.MarkPermanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result fluxResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var images []fluxImage
	switch {
	case result.Images != nil:
		images = *result.Images
	case result.Data != nil:
		images = *result.Data
	default:
		return nil, retry.MarkPermanent(fmt.Errorf("%w: %s", ErrUnknownResponse, truncate(string(respBody), 200)))
	}
	if len(images) == 0 {
		return nil, retry.MarkPermanent(ErrNoImageData)
	}

	first := images[0]
	switch {
	case first.URL != "":
		return &GeneratedImage{URL: first.URL}, nil
	case first.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, retry.MarkPermanent(fmt.Errorf("failed to decode b64_json: %w", err))
		}
		return &GeneratedImage{Data: data}, nil
	default:
		return nil, retry.MarkPermanent(ErrNoImagePayload)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
