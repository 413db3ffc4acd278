package aggregate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultWeights combines the three judge categories.
var DefaultWeights = map[string]float64{"IF": 0.4, "VC": 0.4, "VQ": 0.2}

type CategoryScore struct {
	Category string  `json:"category" yaml:"category"`
	Weight   float64 `json:"weight" yaml:"weight"`
	Average  float64 `json:"average" yaml:"average"`
	Missing  bool    `json:"missing" yaml:"missing"`
}

// Combined is the weighted cross-category score of one model.
type Combined struct {
	Model      string          `json:"model" yaml:"model"`
	Categories []CategoryScore `json:"categories" yaml:"categories"`
	Weighted   float64         `json:"weighted" yaml:"weighted"`
}

// Combine weights each category's overall average. A category without a report
// contributes 0.
func Combine(model string, reports map[string]*Report, weights map[string]float64) *Combined {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	c := &Combined{Model: model}
	for _, category := range sortedKeys(weights) {
		cs := CategoryScore{Category: category, Weight: weights[category]}
		if r, ok := reports[category]; ok && r != nil {
			cs.Average = r.Overall.Average
		} else {
			cs.Missing = true
		}
		c.Weighted += cs.Weight * cs.Average
		c.Categories = append(c.Categories, cs)
	}
	return c
}

// AggregateModel aggregates root/<category>/<model> for every weighted category.
// Missing category directories are left out of the returned map.
func (a Aggregator) AggregateModel(root, model string, manifest []byte, weights map[string]float64) (map[string]*Report, error) {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	reports := make(map[string]*Report, len(weights))
	for _, category := range sortedKeys(weights) {
		dir := filepath.Join(root, category, model)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		r, err := a.Aggregate(dir, manifest)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", category, err)
		}
		reports[category] = r
	}
	return reports, nil
}

func GenerateCombined(c *Combined) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nCombined Score: %s\n", c.Model)
	b.WriteString(strings.Repeat("=", 16+len(c.Model)) + "\n\n")
	for _, cs := range c.Categories {
		if cs.Missing {
			fmt.Fprintf(&b, "- %s (weight %.2f): missing\n", cs.Category, cs.Weight)
			continue
		}
		fmt.Fprintf(&b, "- %s (weight %.2f): %.4f\n", cs.Category, cs.Weight, cs.Average)
	}
	fmt.Fprintf(&b, "\nWeighted: %.4f\n", c.Weighted)
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
