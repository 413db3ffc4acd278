package evaluation

import (
	"math"
	"testing"

	"github.com/cie-bench/harness/internal/dataset"
)

func bank(weights ...float64) *dataset.QuestionBank {
	b := &dataset.QuestionBank{}
	ids := []string{"Q1", "Q2", "Q3", "Q4"}
	for i, w := range weights {
		b.Questions = append(b.Questions, dataset.Question{
			QuestionID: ids[i],
			Question:   "question " + ids[i],
			Choices:    []string{"Yes", "No"},
			Answer:     "Yes",
			Weight:     w,
		})
	}
	return b
}

func TestScoreWeightedMean(t *testing.T) {
	answers := []ModelAnswer{
		{QuestionRef: "Q1", Answer: "  yes "},
		{QuestionRef: "Q2", Answer: "No"},
		{QuestionRef: "Q3", Answer: "YES", Explanation: "clearly"},
	}
	result := Score("img", bank(1, 2, 1), answers)
	if math.Abs(result.FinalScore-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %v", result.FinalScore)
	}
	if len(result.Questions) != 3 || result.Questions[0].QuestionID != "Q1" || result.Questions[2].QuestionID != "Q3" {
		t.Fatalf("bank order not preserved: %+v", result.Questions)
	}
	if result.Questions[0].ModelAnswer != "yes" {
		t.Fatalf("model answer should be trimmed: %q", result.Questions[0].ModelAnswer)
	}
	if result.Questions[2].Explanation != "clearly" {
		t.Fatalf("explanation lost: %+v", result.Questions[2])
	}
}

func TestScoreMissingAnswerUsesSentinels(t *testing.T) {
	result := Score("img", bank(1, 1), []ModelAnswer{{QuestionRef: "Q1", Answer: "Yes"}})
	q2 := result.Questions[1]
	if q2.ModelAnswer != AnswerNotFound || q2.Explanation != ExplanationNotFound || q2.IsCorrect {
		t.Fatalf("unexpected missing-answer record: %+v", q2)
	}
	if result.FinalScore != 0.5 {
		t.Fatalf("expected 0.5, got %v", result.FinalScore)
	}
}

func TestScoreZeroWeightIsZero(t *testing.T) {
	result := Score("img", bank(0, 0), []ModelAnswer{{QuestionRef: "Q1", Answer: "Yes"}, {QuestionRef: "Q2", Answer: "Yes"}})
	if result.FinalScore != 0 {
		t.Fatalf("expected 0, got %v", result.FinalScore)
	}
}

func TestScoreBounds(t *testing.T) {
	all := []ModelAnswer{{QuestionRef: "Q1", Answer: "Yes"}, {QuestionRef: "Q2", Answer: "Yes"}, {QuestionRef: "Q3", Answer: "Yes"}}
	if got := Score("img", bank(0.5, 3, 1), all).FinalScore; got != 1 {
		t.Fatalf("all correct should score 1, got %v", got)
	}
	if got := Score("img", bank(0.5, 3, 1), nil).FinalScore; got != 0 {
		t.Fatalf("no answers should score 0, got %v", got)
	}
}

func TestScoreFirstMatchWins(t *testing.T) {
	answers := []ModelAnswer{{QuestionRef: "Q1", Answer: "No"}, {QuestionRef: "Q1", Answer: "Yes"}}
	if got := Score("img", bank(1), answers).FinalScore; got != 0 {
		t.Fatalf("expected first answer to win, got %v", got)
	}
}

func TestStrictScorerDoesNotConfuseQ1AndQ10(t *testing.T) {
	answers := []ModelAnswer{{QuestionRef: "Q10", Answer: "Yes"}}
	if got := Score("img", bank(1), answers).FinalScore; got != 1 {
		t.Fatalf("prefix matcher should accept Q10 for Q1, got %v", got)
	}
	strict := Scorer{Matcher: MatchStrict}
	if got := strict.Score("img", bank(1), answers).FinalScore; got != 0 {
		t.Fatalf("strict matcher should reject Q10 for Q1, got %v", got)
	}
}
