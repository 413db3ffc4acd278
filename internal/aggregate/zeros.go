package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ZeroGroup struct {
	Error string   `json:"error" yaml:"error"`
	Files []string `json:"files" yaml:"files"`
}

// ZeroReport lists result files whose final_score is 0, grouped by error.
type ZeroReport struct {
	Dir     string      `json:"dir" yaml:"dir"`
	Total   int         `json:"total" yaml:"total"`
	Groups  []ZeroGroup `json:"groups" yaml:"groups"`
	NoError []string    `json:"no_error" yaml:"no_error"`
}

// ZeroScores scans dir for zero-score results. Groups are ordered by size,
// largest first; files without an error field are listed separately.
func ZeroScores(dir string) (*ZeroReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir: %w", err)
	}

	report := &ZeroReport{Dir: dir, NoError: []string{}}
	byError := map[string][]string{}
	for _, entry := range entries {
		name := entry.Name()
		if !isScoreFile(entry) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var result struct {
			FinalScore *float64 `json:"final_score"`
			Error      *string  `json:"error"`
		}
		if err := json.Unmarshal(data, &result); err != nil || result.FinalScore == nil || *result.FinalScore != 0 {
			continue
		}

		report.Total++
		if result.Error == nil {
			report.NoError = append(report.NoError, name)
			continue
		}
		byError[*result.Error] = append(byError[*result.Error], name)
	}

	for msg, files := range byError {
		sort.Strings(files)
		report.Groups = append(report.Groups, ZeroGroup{Error: msg, Files: files})
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		if len(report.Groups[i].Files) != len(report.Groups[j].Files) {
			return len(report.Groups[i].Files) > len(report.Groups[j].Files)
		}
		return report.Groups[i].Error < report.Groups[j].Error
	})
	sort.Strings(report.NoError)
	return report, nil
}

func GenerateZeroReport(r *ZeroReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nZero-score files in %s: %d\n\n", r.Dir, r.Total)
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "[%d] %s\n", len(g.Files), g.Error)
		for _, f := range g.Files {
			fmt.Fprintf(&b, "    %s\n", f)
		}
	}
	fmt.Fprintf(&b, "\nWithout error field: %d\n", len(r.NoError))
	for _, f := range r.NoError {
		fmt.Fprintf(&b, "    %s\n", f)
	}
	return b.String()
}
