// Package dataset loads the benchmark manifest and the per-item question banks.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	MinClassID = 1
	MaxClassID = 9
)

// Item is one (original image, edit instruction, category) unit under evaluation.
type Item struct {
	// Index is the position of the entry in the manifest file.
	Index       int
	ID          int
	InputImage  []string
	InputPrompt string
	ClassID     int
}

// EntryError describes a manifest entry that failed validation.
type EntryError struct {
	Index  int
	Field  string
	Reason string
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry[%d] %s: %s", e.Index, e.Field, e.Reason)
}

type Manifest struct {
	Items  []Item
	Errors []EntryError
}

type rawItem struct {
	ID          json.RawMessage `json:"id"`
	InputImage  json.RawMessage `json:"input_image"`
	InputPrompt json.RawMessage `json:"input_prompt"`
	ClassID     json.RawMessage `json:"class_id"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest accepts either a JSON list of entries or a single entry object.
// Field-level problems are collected in Errors; the entry is still returned with
// zero values for the bad fields so per-item consumers can report it themselves.
func ParseManifest(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	var raws []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '{' {
		raws = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := &Manifest{Items: make([]Item, 0, len(raws))}
	for idx, raw := range raws {
		var r rawItem
		if err := json.Unmarshal(raw, &r); err != nil {
			m.Errors = append(m.Errors, EntryError{Index: idx, Field: "entry", Reason: "not an object"})
			continue
		}

		item := Item{Index: idx}

		if id, ok := decodeInt(r.ID); ok && id >= 1 {
			item.ID = id
		} else {
			m.Errors = append(m.Errors, EntryError{Index: idx, Field: "id", Reason: describe(r.ID, "integer >= 1")})
		}

		if len(r.ClassID) == 0 {
			m.Errors = append(m.Errors, EntryError{Index: idx, Field: "class_id", Reason: "missing"})
		} else if cid, ok := decodeInt(r.ClassID); ok && cid >= MinClassID && cid <= MaxClassID {
			item.ClassID = cid
		} else {
			m.Errors = append(m.Errors, EntryError{Index: idx, Field: "class_id", Reason: describe(r.ClassID, "integer in 1-9")})
		}

		if len(r.InputImage) == 0 {
			m.Errors = append(m.Errors, EntryError{Index: idx, Field: "input_image", Reason: "missing"})
		} else {
			var images []string
			if err := json.Unmarshal(r.InputImage, &images); err != nil || len(images) == 0 {
				m.Errors = append(m.Errors, EntryError{Index: idx, Field: "input_image", Reason: "not a non-empty list"})
				// A bare string is still usable by the edit runner.
				var single string
				if json.Unmarshal(r.InputImage, &single) == nil && single != "" {
					item.InputImage = []string{single}
				}
			} else {
				item.InputImage = images
			}
		}

		if len(r.InputPrompt) > 0 && !bytes.Equal(r.InputPrompt, []byte("null")) {
			if err := json.Unmarshal(r.InputPrompt, &item.InputPrompt); err != nil {
				m.Errors = append(m.Errors, EntryError{Index: idx, Field: "input_prompt", Reason: describe(r.InputPrompt, "string")})
			}
		}

		m.Items = append(m.Items, item)
	}

	return m, nil
}

func decodeInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func describe(raw json.RawMessage, want string) string {
	if len(raw) == 0 {
		return "missing"
	}
	return fmt.Sprintf("invalid value %s (want %s)", string(raw), want)
}

// PrimaryImage is the first input image, or "" when the entry has none.
func (it Item) PrimaryImage() string {
	if len(it.InputImage) == 0 {
		return ""
	}
	return it.InputImage[0]
}

// Prefix is the primary image filename without extension. It keys question
// banks, edited images and result files.
func (it Item) Prefix() string {
	return ImagePrefix(it.PrimaryImage())
}

func ImagePrefix(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(filepath.ToSlash(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResolveImagePath joins relative manifest paths onto imageDir after stripping a
// leading "image/" segment. Absolute paths are returned unchanged.
func ResolveImagePath(imageDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	path = strings.TrimPrefix(path, "image/")
	return filepath.Join(imageDir, path)
}

// Flagged reports whether entry index has a validation error on field.
func (m *Manifest) Flagged(index int, field string) bool {
	for _, e := range m.Errors {
		if e.Index == index && e.Field == field {
			return true
		}
	}
	return false
}
