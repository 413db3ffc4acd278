package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyBank is returned when a question bank has no questions.
	ErrEmptyBank = errors.New("no questions found in question bank")
	// ErrInvalidWeight is returned when a question weight is not positive.
	ErrInvalidWeight = errors.New("question weight must be positive")
)

// Question is one multiple-choice quality-check question with its ground truth.
type Question struct {
	QuestionID      string   `json:"question_id"`
	Question        string   `json:"question"`
	Choices         []string `json:"choices"`
	Answer          string   `json:"answer"`
	Weight          float64  `json:"weight"`
	ThinkingProcess string   `json:"thinking_process,omitempty"`
}

type QuestionBank struct {
	Questions []Question `json:"quality_check_questions"`
}

type rawQuestion struct {
	QuestionID      string   `json:"question_id"`
	Question        string   `json:"question"`
	Choices         []string `json:"choices"`
	Answer          string   `json:"answer"`
	Weight          *float64 `json:"weight"`
	ThinkingProcess string   `json:"thinking_process"`
}

// ParseQuestionBank decodes {"quality_check_questions": [...]}. Weight defaults
// to 1.0; a bank with any non-positive weight is rejected.
func ParseQuestionBank(data []byte) (*QuestionBank, error) {
	var doc struct {
		Questions []rawQuestion `json:"quality_check_questions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}
	if len(doc.Questions) == 0 {
		return nil, ErrEmptyBank
	}

	bank := &QuestionBank{Questions: make([]Question, 0, len(doc.Questions))}
	for i, q := range doc.Questions {
		weight := 1.0
		if q.Weight != nil {
			weight = *q.Weight
		}
		if !(weight > 0) || math.IsInf(weight, 0) {
			return nil, fmt.Errorf("%w: question %d (%s) has weight %v", ErrInvalidWeight, i+1, q.QuestionID, weight)
		}
		bank.Questions = append(bank.Questions, Question{
			QuestionID:      q.QuestionID,
			Question:        q.Question,
			Choices:         q.Choices,
			Answer:          q.Answer,
			Weight:          weight,
			ThinkingProcess: q.ThinkingProcess,
		})
	}
	return bank, nil
}

func LoadQuestionBank(path string) (*QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank %s: %w", filepath.Base(path), err)
	}
	return ParseQuestionBank(data)
}

// ImageExtensions are tried in order when locating an image by prefix.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif", ".JPG", ".JPEG", ".PNG"}

// FindImage returns the first existing dir/prefix+ext, or "" when none exists.
func FindImage(dir, prefix string) string {
	for _, ext := range ImageExtensions {
		candidate := filepath.Join(dir, prefix+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	// Fall back to a scan for odd extensions.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) == prefix {
			return filepath.Join(dir, name)
		}
	}
	return ""
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
