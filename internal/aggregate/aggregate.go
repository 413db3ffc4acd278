// Package aggregate rolls per-item judge scores up into class, group and
// overall averages.
package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/dataset"
	"github.com/cie-bench/harness/pkg/logger"
)

// Group is a fixed partition of classes averaged together.
type Group struct {
	ID      int   `json:"id" yaml:"id"`
	Classes []int `json:"classes" yaml:"classes"`
}

// DefaultGroups partitions classes 1-9 into three groups of three.
var DefaultGroups = []Group{
	{ID: 1, Classes: []int{1, 2, 3}},
	{ID: 2, Classes: []int{4, 5, 6}},
	{ID: 3, Classes: []int{7, 8, 9}},
}

type ClassStats struct {
	ClassID int     `json:"class_id" yaml:"class_id"`
	Count   int     `json:"count" yaml:"count"`
	Total   float64 `json:"total" yaml:"total"`
	Average float64 `json:"average" yaml:"average"`
}

type GroupStats struct {
	ID           int     `json:"id" yaml:"id"`
	Classes      []int   `json:"classes" yaml:"classes"`
	ValidClasses []int   `json:"valid_classes" yaml:"valid_classes"`
	Average      float64 `json:"average" yaml:"average"`
	// Empty is set when no member class had a valid score.
	Empty bool `json:"empty" yaml:"empty"`
}

type OverallStats struct {
	Count   int     `json:"count" yaml:"count"`
	Total   float64 `json:"total" yaml:"total"`
	Average float64 `json:"average" yaml:"average"`
}

// Issue is a non-fatal data-integrity problem found while aggregating.
type Issue struct {
	Source string `json:"source" yaml:"source"`
	Reason string `json:"reason" yaml:"reason"`
}

type Report struct {
	ScoreDir string       `json:"score_dir" yaml:"score_dir"`
	Files    int          `json:"files" yaml:"files"`
	Classes  []ClassStats `json:"classes" yaml:"classes"`
	Groups   []GroupStats `json:"groups" yaml:"groups"`
	Overall  OverallStats `json:"overall" yaml:"overall"`
	Issues   []Issue      `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Class returns the stats for classID, or a zero value.
func (r *Report) Class(classID int) ClassStats {
	for _, c := range r.Classes {
		if c.ClassID == classID {
			return c
		}
	}
	return ClassStats{ClassID: classID}
}

type Aggregator struct {
	Groups []Group
}

// Aggregate uses DefaultGroups.
func Aggregate(scoreDir string, manifest []byte) (*Report, error) {
	return Aggregator{}.Aggregate(scoreDir, manifest)
}

// Aggregate reads every *.json score file in scoreDir and groups the final
// scores by the class of their prefix in manifest. Bad manifest entries and
// bad score files are reported as issues and excluded; only an unparseable
// manifest or unreadable directory is an error.
func (a Aggregator) Aggregate(scoreDir string, manifest []byte) (*Report, error) {
	groups := a.Groups
	if len(groups) == 0 {
		groups = DefaultGroups
	}

	m, err := dataset.ParseManifest(manifest)
	if err != nil {
		return nil, err
	}

	report := &Report{ScoreDir: scoreDir}
	classes := ClassIndex(m, report)

	entries, err := os.ReadDir(scoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read score dir: %w", err)
	}

	byClass := map[int]*ClassStats{}
	for id := dataset.MinClassID; id <= dataset.MaxClassID; id++ {
		byClass[id] = &ClassStats{ClassID: id}
	}

	for _, entry := range entries {
		name := entry.Name()
		if !isScoreFile(entry) {
			continue
		}
		report.Files++

		score, err := readFinalScore(filepath.Join(scoreDir, name))
		if err != nil {
			report.issue(name, err.Error())
			continue
		}

		prefix := strings.TrimSuffix(name, filepath.Ext(name))
		classID, ok := classes[prefix]
		if !ok {
			report.issue(name, "prefix has no class mapping")
			continue
		}

		cs, ok := byClass[classID]
		if !ok {
			cs = &ClassStats{ClassID: classID}
			byClass[classID] = cs
		}
		cs.Count++
		cs.Total += score
		report.Overall.Count++
		report.Overall.Total += score
	}

	ids := make([]int, 0, len(byClass))
	for id := range byClass {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		cs := byClass[id]
		if cs.Count > 0 {
			cs.Average = cs.Total / float64(cs.Count)
		}
		report.Classes = append(report.Classes, *cs)
	}

	for _, g := range groups {
		report.Groups = append(report.Groups, groupStats(g, byClass))
	}

	if report.Overall.Count > 0 {
		report.Overall.Average = report.Overall.Total / float64(report.Overall.Count)
	}

	logger.Info("Scores aggregated",
		zap.String("dir", scoreDir),
		zap.Int("files", report.Files),
		zap.Int("valid", report.Overall.Count),
		zap.Int("issues", len(report.Issues)),
		zap.Float64("overall", report.Overall.Average),
	)
	return report, nil
}

// groupStats averages the class averages of the member classes that have data.
func groupStats(g Group, byClass map[int]*ClassStats) GroupStats {
	gs := GroupStats{ID: g.ID, Classes: g.Classes, ValidClasses: []int{}}
	var sum float64
	for _, id := range g.Classes {
		cs, ok := byClass[id]
		if !ok || cs.Count == 0 {
			continue
		}
		gs.ValidClasses = append(gs.ValidClasses, id)
		sum += cs.Average
	}
	if len(gs.ValidClasses) == 0 {
		gs.Empty = true
		return gs
	}
	gs.Average = sum / float64(len(gs.ValidClasses))
	return gs
}

// ClassIndex maps image prefixes to class ids. Entries with an invalid class or
// image field are skipped; duplicate prefixes keep the first mapping. Problems
// are recorded on report when it is non-nil.
func ClassIndex(m *dataset.Manifest, report *Report) map[string]int {
	for _, e := range m.Errors {
		if e.Field == "class_id" || e.Field == "input_image" || e.Field == "entry" {
			report.issue(fmt.Sprintf("manifest[%d]", e.Index), e.Field+": "+e.Reason)
		}
	}

	index := make(map[string]int, len(m.Items))
	for _, item := range m.Items {
		if m.Flagged(item.Index, "class_id") || m.Flagged(item.Index, "input_image") {
			continue
		}
		prefix := item.Prefix()
		if prev, ok := index[prefix]; ok {
			report.issue(fmt.Sprintf("manifest[%d]", item.Index),
				fmt.Sprintf("duplicate prefix %q (class %d kept, class %d ignored)", prefix, prev, item.ClassID))
			continue
		}
		index[prefix] = item.ClassID
	}
	return index
}

// isScoreFile reports whether entry is a per-item result. The batch failure
// list shares the directory and is not one.
func isScoreFile(entry os.DirEntry) bool {
	name := entry.Name()
	if entry.IsDir() || name == batch.FailedListName {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".json")
}

func readFinalScore(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("unreadable: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return 0, fmt.Errorf("invalid JSON: %v", err)
	}
	raw, ok := fields["final_score"]
	if !ok {
		return 0, fmt.Errorf("missing final_score")
	}
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil || string(raw) == "null" {
		return 0, fmt.Errorf("non-numeric final_score %s", string(raw))
	}
	return score, nil
}

func (r *Report) issue(source, reason string) {
	if r == nil {
		return
	}
	r.Issues = append(r.Issues, Issue{Source: source, Reason: reason})
	logger.Warn("Aggregation issue", zap.String("source", source), zap.String("reason", reason))
}
