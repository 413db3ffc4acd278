package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/dataset"
	"github.com/cie-bench/harness/internal/imaging"
	"github.com/cie-bench/harness/internal/llm"
	"github.com/cie-bench/harness/pkg/logger"
	"github.com/cie-bench/harness/pkg/utils"
)

var (
	ErrOriginalNotFound = errors.New("original image not found")
	ErrEditedNotFound   = errors.New("edited image not found")
)

// BankError is a question bank that could not be used: missing, unreadable,
// malformed or empty.
type BankError struct {
	Path string
	Err  error
}

func (e *BankError) Error() string {
	return fmt.Sprintf("question bank %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *BankError) Unwrap() error {
	return e.Err
}

type Judge interface {
	Judge(ctx context.Context, req llm.JudgeRequest) (*llm.JudgeResponse, error)
}

type Evaluator struct {
	judge          Judge
	promptTemplate string
	scorer         Scorer
	imageOpts      imaging.Options
}

type Option func(*Evaluator)

func WithScorer(s Scorer) Option {
	return func(e *Evaluator) { e.scorer = s }
}

func WithImageOptions(opts imaging.Options) Option {
	return func(e *Evaluator) { e.imageOpts = opts }
}

func NewEvaluator(judge Judge, promptTemplate string, opts ...Option) *Evaluator {
	e := &Evaluator{
		judge:          judge,
		promptTemplate: promptTemplate,
		imageOpts:      imaging.Options{MaxSide: 2048, KeepOriginal: true},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Task locates everything needed to judge one item for one model and category.
type Task struct {
	Prefix      string
	BankPath    string
	OriginalDir string
	EditedDir   string
	OutputPath  string
}

// RawPath is where the judge's raw reply is written next to the result file.
func (t Task) RawPath() string {
	return strings.TrimSuffix(t.OutputPath, ".json") + ".txt"
}

// Evaluate judges one item. It never returns nil; failures are recorded in the
// result's Error field with a zero score.
func (e *Evaluator) Evaluate(ctx context.Context, task Task) *JudgedResult {
	originalPath := dataset.FindImage(task.OriginalDir, task.Prefix)
	if originalPath == "" {
		logger.Warn("Original image not found", zap.String("prefix", task.Prefix), zap.String("dir", task.OriginalDir))
		return Failed(task.Prefix, ErrOriginalNotFound)
	}
	editedPath := dataset.FindImage(task.EditedDir, task.Prefix)
	if editedPath == "" {
		logger.Warn("Edited image not found", zap.String("prefix", task.Prefix), zap.String("dir", task.EditedDir))
		return Failed(task.Prefix, ErrEditedNotFound)
	}

	original, err := imaging.EncodeFile(originalPath, e.imageOpts)
	if err != nil {
		return Failed(task.Prefix, fmt.Errorf("failed to load original image: %w", err))
	}
	edited, err := imaging.EncodeFile(editedPath, e.imageOpts)
	if err != nil {
		return Failed(task.Prefix, fmt.Errorf("failed to load edited image: %w", err))
	}

	bank, err := dataset.LoadQuestionBank(task.BankPath)
	if err != nil {
		return Failed(task.Prefix, &BankError{Path: task.BankPath, Err: err})
	}

	resp, err := e.judge.Judge(ctx, llm.JudgeRequest{
		Original: original,
		Edited:   edited,
		Prompt:   llm.BuildPrompt(e.promptTemplate, bank),
	})
	if err != nil {
		logger.Error("Judge call failed", zap.String("prefix", task.Prefix), zap.Error(err))
		return Failed(task.Prefix, err)
	}

	if err := os.WriteFile(task.RawPath(), []byte(resp.Content), 0o644); err != nil {
		logger.Warn("Failed to write raw reply", zap.String("path", task.RawPath()), zap.Error(err))
	}

	answers := ParseAnswers(resp.Content)
	if len(answers) == 0 {
		return Failed(task.Prefix, ErrUnparseable)
	}

	result := e.scorer.Score(task.Prefix, bank, answers)
	logger.Debug("Item judged",
		zap.String("prefix", task.Prefix),
		zap.Float64("final_score", result.FinalScore),
		zap.Bool("cached", resp.Cached),
	)
	return result
}

// EvaluateAndSave judges one item and writes the result file, including failed
// results. The returned error is non-nil when the item could not be judged or
// the result could not be written.
func (e *Evaluator) EvaluateAndSave(ctx context.Context, task Task) (*JudgedResult, error) {
	if err := os.MkdirAll(filepath.Dir(task.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	result := e.Evaluate(ctx, task)
	if err := WriteResult(task.OutputPath, result); err != nil {
		return result, err
	}
	if result.Error != "" {
		return result, errors.New(result.Error)
	}
	return result, nil
}

func WriteResult(path string, result *JudgedResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func ReadResult(path string) (*JudgedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	var result JudgedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", filepath.Base(path), err)
	}
	return &result, nil
}

// BankItems lists the question banks of a category directory as batch items,
// numbered from 1 in file name order.
func BankItems(dir string) ([]dataset.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list question banks: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	items := make([]dataset.Item, 0, len(names))
	for i, name := range names {
		items = append(items, dataset.Item{Index: i, ID: i + 1, InputImage: []string{name}})
	}
	return items, nil
}
