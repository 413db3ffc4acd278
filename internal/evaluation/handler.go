package evaluation

import (
	"context"
	"path/filepath"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/dataset"
)

// Handler adapts Evaluator to the batch runner for one category and model.
// Items are question banks named <prefix>.json in BankDir.
type Handler struct {
	Evaluator   *Evaluator
	BankDir     string
	OriginalDir string
	EditedDir   string
	OutputDir   string
}

func (h *Handler) task(item dataset.Item) Task {
	prefix := item.Prefix()
	return Task{
		Prefix:      prefix,
		BankPath:    filepath.Join(h.BankDir, prefix+".json"),
		OriginalDir: h.OriginalDir,
		EditedDir:   h.EditedDir,
		OutputPath:  filepath.Join(h.OutputDir, prefix+".json"),
	}
}

func (h *Handler) Prepare(item dataset.Item) (string, error) {
	if item.Prefix() == "" {
		return "", batch.Fail("Image not found", "")
	}
	return h.task(item).OutputPath, nil
}

func (h *Handler) Handle(ctx context.Context, item dataset.Item, target string) error {
	task := h.task(item)
	task.OutputPath = target
	_, err := h.Evaluator.EvaluateAndSave(ctx, task)
	return err
}

// AssignManifestIDs replaces the positional ids from BankItems with the
// manifest id of the same prefix so failure lists and --start/--end refer to
// dataset ids. Banks without a manifest entry keep their positional id.
func AssignManifestIDs(items []dataset.Item, m *dataset.Manifest) []dataset.Item {
	if m == nil {
		return items
	}
	ids := make(map[string]int, len(m.Items))
	for _, it := range m.Items {
		prefix := it.Prefix()
		if prefix == "" || it.ID == 0 {
			continue
		}
		if _, dup := ids[prefix]; !dup {
			ids[prefix] = it.ID
		}
	}
	out := make([]dataset.Item, len(items))
	for i, it := range items {
		if id, ok := ids[it.Prefix()]; ok {
			it.ID = id
		}
		out[i] = it
	}
	return out
}
