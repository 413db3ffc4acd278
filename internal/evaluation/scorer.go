package evaluation

import (
	"errors"
	"strings"

	"github.com/cie-bench/harness/internal/dataset"
)

const (
	AnswerNotFound      = "not found"
	ExplanationNotFound = "no explanation found"
)

var ErrUnparseable = errors.New("could not parse model answer")

// QuestionResult is the scored record of one question; field names match the
// result files consumed by the aggregator.
type QuestionResult struct {
	QuestionID    string   `json:"question_id"`
	Question      string   `json:"question"`
	Choices       []string `json:"choices"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Weight        float64  `json:"weight"`
	ModelAnswer   string   `json:"model_answer"`
	IsCorrect     bool     `json:"is_correct"`
}

// JudgedResult is the per-item result file.
type JudgedResult struct {
	Filename   string           `json:"filename"`
	Questions  []QuestionResult `json:"questions"`
	FinalScore float64          `json:"final_score"`
	Error      string           `json:"error,omitempty"`
}

// Failed builds the result recorded when an item could not be judged.
func Failed(filename string, err error) *JudgedResult {
	return &JudgedResult{Filename: filename, Questions: []QuestionResult{}, FinalScore: 0, Error: err.Error()}
}

type Scorer struct {
	// Matcher defaults to MatchesQuestion.
	Matcher Matcher
}

func Score(filename string, bank *dataset.QuestionBank, answers []ModelAnswer) *JudgedResult {
	return Scorer{}.Score(filename, bank, answers)
}

// Score grades answers against bank in bank order. The first answer matching a
// question wins. final_score is the weighted share of correct answers, 0 when
// the total weight is 0.
func (s Scorer) Score(filename string, bank *dataset.QuestionBank, answers []ModelAnswer) *JudgedResult {
	match := s.Matcher
	if match == nil {
		match = MatchesQuestion
	}

	result := &JudgedResult{
		Filename:  filename,
		Questions: make([]QuestionResult, 0, len(bank.Questions)),
	}

	var weighted, total float64
	for _, q := range bank.Questions {
		total += q.Weight

		qr := QuestionResult{
			QuestionID:    q.QuestionID,
			Question:      q.Question,
			Choices:       q.Choices,
			CorrectAnswer: q.Answer,
			Weight:        q.Weight,
			ModelAnswer:   AnswerNotFound,
			Explanation:   ExplanationNotFound,
		}

		for _, ans := range answers {
			if !match(ans.QuestionRef, q.QuestionID) {
				continue
			}
			qr.ModelAnswer = strings.TrimSpace(ans.Answer)
			qr.Explanation = ans.Explanation
			qr.IsCorrect = Normalize(qr.ModelAnswer) == Normalize(q.Answer)
			break
		}

		if qr.IsCorrect {
			weighted += q.Weight
		}
		result.Questions = append(result.Questions, qr)
	}

	if total > 0 {
		result.FinalScore = weighted / total
	}
	return result
}

func Normalize(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
