package aggregate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cie-bench/harness/internal/evaluation"
)

type QuestionMark struct {
	QuestionID string `json:"question_id" yaml:"question_id"`
	Correct    int    `json:"correct" yaml:"correct"`
}

type ItemScore struct {
	Category   string         `json:"category" yaml:"category"`
	FinalScore float64        `json:"final_score" yaml:"final_score"`
	Questions  []QuestionMark `json:"questions" yaml:"questions"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	Missing    bool           `json:"missing" yaml:"missing"`
}

// ItemComparison is one model's result for one item across categories.
type ItemComparison struct {
	Model      string      `json:"model" yaml:"model"`
	Categories []ItemScore `json:"categories" yaml:"categories"`
	Weighted   float64     `json:"weighted" yaml:"weighted"`
}

// CompareItem reads root/<category>/<model>/<prefix>.json for every model found
// under the weighted categories and returns per-question 0/1 marks plus the
// weighted final score. Missing results count as 0.
func CompareItem(root, prefix string, weights map[string]float64) ([]ItemComparison, error) {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	categories := sortedKeys(weights)

	models := map[string]bool{}
	for _, category := range categories {
		entries, err := os.ReadDir(filepath.Join(root, category))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				models[e.Name()] = true
			}
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no model result directories under %s", root)
	}

	names := make([]string, 0, len(models))
	for m := range models {
		names = append(names, m)
	}
	sort.Strings(names)

	out := make([]ItemComparison, 0, len(names))
	for _, model := range names {
		cmp := ItemComparison{Model: model}
		for _, category := range categories {
			score := ItemScore{Category: category, Questions: []QuestionMark{}}
			result, err := evaluation.ReadResult(filepath.Join(root, category, model, prefix+".json"))
			if err != nil {
				score.Missing = true
			} else {
				score.FinalScore = result.FinalScore
				score.Error = result.Error
				for _, q := range result.Questions {
					mark := QuestionMark{QuestionID: q.QuestionID}
					if q.IsCorrect {
						mark.Correct = 1
					}
					score.Questions = append(score.Questions, mark)
				}
			}
			cmp.Weighted += weights[category] * score.FinalScore
			cmp.Categories = append(cmp.Categories, score)
		}
		out = append(out, cmp)
	}
	return out, nil
}

func GenerateComparison(items []ItemComparison) string {
	var b strings.Builder
	for _, cmp := range items {
		fmt.Fprintf(&b, "\n%s (weighted %.4f)\n", cmp.Model, cmp.Weighted)
		for _, s := range cmp.Categories {
			if s.Missing {
				fmt.Fprintf(&b, "  %s: missing\n", s.Category)
				continue
			}
			marks := make([]string, 0, len(s.Questions))
			for _, q := range s.Questions {
				marks = append(marks, fmt.Sprintf("%s=%d", q.QuestionID, q.Correct))
			}
			fmt.Fprintf(&b, "  %s: %.4f [%s]", s.Category, s.FinalScore, strings.Join(marks, " "))
			if s.Error != "" {
				fmt.Fprintf(&b, " error=%q", s.Error)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
