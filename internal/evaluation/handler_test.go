package evaluation

import (
	"testing"

	"github.com/cie-bench/harness/internal/dataset"
)

func TestAssignManifestIDs(t *testing.T) {
	m, err := dataset.ParseManifest([]byte(`[
		{"id": 7, "input_image": ["image/a.jpg"], "input_prompt": "x", "class_id": 1},
		{"id": 9, "input_image": ["image/b.png"], "input_prompt": "y", "class_id": 2}
	]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items := []dataset.Item{
		{ID: 1, InputImage: []string{"a.json"}},
		{ID: 2, InputImage: []string{"b.json"}},
		{ID: 3, InputImage: []string{"orphan.json"}},
	}

	got := AssignManifestIDs(items, m)
	if got[0].ID != 7 || got[1].ID != 9 || got[2].ID != 3 {
		t.Fatalf("unexpected ids: %d %d %d", got[0].ID, got[1].ID, got[2].ID)
	}
	if items[0].ID != 1 {
		t.Fatal("input slice was modified")
	}
}
