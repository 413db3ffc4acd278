package imageedit

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/dataset"
)

// Handler adapts Client to the batch runner. Edited images keep the source
// file name under OutputDir.
type Handler struct {
	Client    *Client
	ImageDir  string
	OutputDir string
}

func (h *Handler) Prepare(item dataset.Item) (string, error) {
	path := dataset.ResolveImagePath(h.ImageDir, item.PrimaryImage())
	if path == "" || !dataset.Exists(path) {
		return "", batch.Fail("Image not found", path)
	}
	if strings.TrimSpace(item.InputPrompt) == "" {
		return "", batch.Fail("Empty instruction", "")
	}
	return filepath.Join(h.OutputDir, filepath.Base(path)), nil
}

func (h *Handler) Handle(ctx context.Context, item dataset.Item, target string) error {
	source := dataset.ResolveImagePath(h.ImageDir, item.PrimaryImage())
	out := h.Client.Submit(ctx, source, item.InputPrompt, target)
	if !out.Success {
		return batch.Fail(out.Reason, item.PrimaryImage())
	}
	return nil
}
