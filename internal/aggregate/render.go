package aggregate

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render formats any report value of this package as text, JSON or YAML.
func Render(v any, format string) (string, error) {
	switch format {
	case "", FormatText:
		switch r := v.(type) {
		case *Report:
			return GenerateReport(r), nil
		case *Combined:
			return GenerateCombined(r), nil
		case *ZeroReport:
			return GenerateZeroReport(r), nil
		case []ItemComparison:
			return GenerateComparison(r), nil
		default:
			return "", fmt.Errorf("no text rendering for %T", v)
		}
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal report: %w", err)
		}
		return string(data) + "\n", nil
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal report: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

func GenerateReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Score Report
============

Directory: %s
Score files: %d (valid: %d, issues: %d)

Per-class averages:
`, r.ScoreDir, r.Files, r.Overall.Count, len(r.Issues))

	for _, c := range r.Classes {
		if c.Count == 0 {
			fmt.Fprintf(&b, "- Class %d: no valid data\n", c.ClassID)
			continue
		}
		fmt.Fprintf(&b, "- Class %d: %.4f (n=%d, total=%.4f)\n", c.ClassID, c.Average, c.Count, c.Total)
	}

	b.WriteString("\nGroup averages:\n")
	for _, g := range r.Groups {
		if g.Empty {
			fmt.Fprintf(&b, "- Group %d %v: 0.0000 (no valid classes)\n", g.ID, g.Classes)
			continue
		}
		fmt.Fprintf(&b, "- Group %d %v: %.4f (valid classes %v)\n", g.ID, g.Classes, g.Average, g.ValidClasses)
	}

	fmt.Fprintf(&b, "\nOverall average: %.4f (n=%d)\n", r.Overall.Average, r.Overall.Count)

	if len(r.Issues) > 0 {
		b.WriteString("\nIssues:\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "- %s: %s\n", is.Source, is.Reason)
		}
	}
	return b.String()
}
