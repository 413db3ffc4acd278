package imageedit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/dataset"
	"github.com/cie-bench/harness/pkg/circuitbreaker"
	"github.com/cie-bench/harness/pkg/retry"
)

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func recordingRetry(slept *[]time.Duration) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return cfg
}

func TestFluxRateLimitedTwiceThenSucceeds(t *testing.T) {
	edited := []byte("edited-bytes")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, "slow down")
			return
		}
		var req fluxRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.HasPrefix(req.ImageURL, "data:image/jpeg;base64,") || req.Prompt != "make it red" || req.OutputFormat != "png" {
			t.Errorf("unexpected request: %+v", req)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(edited)}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	out := filepath.Join(dir, "out", "a.png")

	var slept []time.Duration
	client := NewClient(NewFluxProvider(FluxConfig{APIKey: "key", Endpoint: srv.URL}), Config{Retry: recordingRetry(&slept)})
	outcome := client.Submit(context.Background(), src, "make it red", out)

	if !outcome.Success || outcome.Attempts != 3 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(slept) != 2 || slept[0] != 30*time.Second || slept[1] != 60*time.Second {
		t.Fatalf("expected linear backoff 30s, 60s; got %v", slept)
	}
	got, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(got, edited) {
		t.Fatalf("output not written: %v", err)
	}
}

func TestFluxRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	var slept []time.Duration
	client := NewClient(NewFluxProvider(FluxConfig{Endpoint: srv.URL}), Config{Retry: recordingRetry(&slept)})
	outcome := client.Submit(context.Background(), src, "x", filepath.Join(dir, "o.png"))

	if outcome.Success || outcome.Kind != KindRateLimited || outcome.Reason == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", slept)
	}
}

func TestFluxDownloadsURLFromDataArray(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": srv.URL + "/files/result.png"}},
		})
	})
	mux.HandleFunc("/files/result.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "downloaded")
	})

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	out := filepath.Join(dir, "edited.png")
	var slept []time.Duration
	client := NewClient(NewFluxProvider(FluxConfig{Endpoint: srv.URL + "/submit"}), Config{Retry: recordingRetry(&slept)})
	if outcome := client.Submit(context.Background(), src, "x", out); !outcome.Success {
		t.Fatalf("submit failed: %+v", outcome)
	}
	got, _ := os.ReadFile(out)
	if string(got) != "downloaded" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestFluxUnknownResponseIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"status": "queued"}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	var slept []time.Duration
	client := NewClient(NewFluxProvider(FluxConfig{Endpoint: srv.URL}), Config{Retry: recordingRetry(&slept)})
	outcome := client.Submit(context.Background(), src, "x", filepath.Join(dir, "o.png"))
	if outcome.Success || outcome.Kind != KindResponse || !strings.Contains(outcome.Reason, "unknown response format") {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestOpenAIProviderMultipartEdit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/images/edits") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "gpt-image-1" || r.FormValue("prompt") != "add a hat" || r.FormValue("size") != "1024x1024" || r.FormValue("quality") != "medium" {
			t.Errorf("unexpected form: %v", r.MultipartForm.Value)
		}
		if r.FormValue("n") != "1" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("unexpected n %q or auth %q", r.FormValue("n"), r.Header.Get("Authorization"))
		}
		if _, header, err := r.FormFile("image"); err != nil || header.Filename != "a.png" {
			t.Errorf("missing image part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("png"))}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Quality: "medium"})
	img, err := provider.Edit(context.Background(), EditRequest{ImagePath: src, Instruction: "add a hat"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if string(img.Data) != "png" {
		t.Fatalf("unexpected data %q", img.Data)
	}
}

func TestOpenAIErrorInSuccessBodyIsRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"error": {"message": "Rate limit exceeded for this key"}}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	var slept []time.Duration
	client := NewClient(NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}), Config{Retry: recordingRetry(&slept)})
	outcome := client.Submit(context.Background(), src, "x", filepath.Join(dir, "o.png"))

	if outcome.Success || outcome.Kind != KindRateLimited || !strings.Contains(outcome.Reason, "Rate limit exceeded for this key") {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls.Load() != 3 || len(slept) != 2 || slept[0] != 30*time.Second || slept[1] != 60*time.Second {
		t.Fatalf("expected 3 calls with linear backoff, got %d calls and %v", calls.Load(), slept)
	}
}

func TestOpenAIErrorEnvelopeMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "Invalid image file", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	_, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}).Edit(context.Background(), EditRequest{ImagePath: src, Instruction: "x"})
	var statusErr *retry.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 400 || statusErr.Body != "Invalid image file" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConcurrentRateLimitsDoNotOpenSharedBreaker(t *testing.T) {
	const workers = 10
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= workers {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, "too many requests")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("ok"))}},
		})
	}))
	defer srv.Close()

	cb := circuitbreaker.NewCircuitBreaker("edit", circuitbreaker.Config{
		FailureThreshold: 5,
		Timeout:          time.Minute,
		IsFailure:        retry.BreakerFailure,
	})
	var sleeps atomic.Int32
	rc := retry.DefaultConfig()
	rc.MaxAttempts = workers + 1
	rc.Sleep = func(_ context.Context, _ time.Duration) error {
		sleeps.Add(1)
		return nil
	}
	client := NewClient(NewFluxProvider(FluxConfig{Endpoint: srv.URL}), Config{Retry: rc, Breaker: cb})

	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	outcomes := make([]Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = client.Submit(context.Background(), src, "x", filepath.Join(dir, "out", fmt.Sprintf("%d.png", i)))
		}(i)
	}
	wg.Wait()

	for i, o := range outcomes {
		if !o.Success {
			t.Fatalf("submission %d failed: %+v", i, o)
		}
	}
	if calls.Load() != 2*workers || sleeps.Load() != workers {
		t.Fatalf("expected one retry per rate limit, got %d calls and %d sleeps", calls.Load(), sleeps.Load())
	}
	if cb.State() != circuitbreaker.StateClosed || cb.Counts().TotalFailures != 0 {
		t.Fatalf("breaker should stay closed, got %s with %+v", cb.State(), cb.Counts())
	}
}

func TestSubmitInputErrors(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.png")
	client := NewClient(NewFluxProvider(FluxConfig{}), Config{})

	if out := client.Submit(context.Background(), filepath.Join(dir, "missing.png"), "x", "o"); out.Reason != ErrImageNotFound.Error() || out.Kind != KindInput {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out := client.Submit(context.Background(), src, "   ", "o"); out.Reason != ErrEmptyInstruction.Error() {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

type stubProvider struct {
	fail map[string]bool
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Edit(_ context.Context, req EditRequest) (*GeneratedImage, error) {
	if s.fail[filepath.Base(req.ImagePath)] {
		return nil, retry.MarkPermanent(&retry.StatusError{StatusCode: 400, Body: "bad image"})
	}
	return &GeneratedImage{Data: []byte(req.Instruction)}, nil
}

func TestHandlerWithRunner(t *testing.T) {
	root := t.TempDir()
	imageDir := filepath.Join(root, "image")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSource(t, imageDir, "a.png")
	writeSource(t, imageDir, "b.png")
	writeSource(t, imageDir, "c.png")
	outDir := filepath.Join(root, "out")

	items := []dataset.Item{
		{ID: 1, InputImage: []string{"image/a.png"}, InputPrompt: "one"},
		{ID: 2, InputImage: []string{"image/b.png"}, InputPrompt: "two"},
		{ID: 3, InputImage: []string{"image/c.png"}, InputPrompt: ""},
		{ID: 4, InputImage: []string{"image/missing.png"}, InputPrompt: "four"},
	}
	client := NewClient(&stubProvider{fail: map[string]bool{"b.png": true}}, Config{})
	h := &Handler{Client: client, ImageDir: imageDir, OutputDir: outDir}

	stats := batch.NewRunner(batch.Config{Kind: "edit", Workers: 2, OutputDir: outDir}).Run(context.Background(), items, h)
	s := stats.Summary()
	if s.Succeeded != 1 || s.Failed != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "a.png"))
	if err != nil || string(got) != "one" {
		t.Fatalf("edited image not written: %v", err)
	}

	reasons := map[int]string{}
	for _, f := range stats.Failures() {
		reasons[f.ID] = f.Reason
	}
	if reasons[2] != "HTTP 400: bad image" || reasons[3] != "Empty instruction" || reasons[4] != "Image not found" {
		t.Fatalf("unexpected failure reasons: %v", reasons)
	}

	// A second run skips the finished item and retries nothing else successfully.
	stats = batch.NewRunner(batch.Config{Workers: 2}).Run(context.Background(), items[:1], h)
	if s := stats.Summary(); s.Skipped != 1 {
		t.Fatalf("expected skip on rerun, got %+v", s)
	}
}
