package evaluation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cie-bench/harness/internal/llm"
)

type fakeJudge struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeJudge) Judge(_ context.Context, req llm.JudgeRequest) (*llm.JudgeResponse, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.JudgeResponse{Content: f.reply}, nil
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type fixture struct {
	task Task
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "image", "cat.png"))
	writePNG(t, filepath.Join(root, "edited", "cat.png"))
	bankPath := filepath.Join(root, "questions", "cat.json")
	if err := os.MkdirAll(filepath.Dir(bankPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := `{"quality_check_questions": [
		{"question_id": "Q1", "question": "Is the cat blue?", "choices": ["Yes", "No"], "answer": "Yes"},
		{"question_id": "Q2", "question": "Is the cat sharp?", "choices": ["Yes", "No"], "answer": "No", "weight": 3}
	]}`
	if err := os.WriteFile(bankPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write bank: %v", err)
	}
	return fixture{task: Task{
		Prefix:      "cat",
		BankPath:    bankPath,
		OriginalDir: filepath.Join(root, "image"),
		EditedDir:   filepath.Join(root, "edited"),
		OutputPath:  filepath.Join(root, "answers", "IF", "model", "cat.json"),
	}}
}

func TestEvaluateAndSaveWritesRawAndResult(t *testing.T) {
	f := newFixture(t)
	judge := &fakeJudge{reply: `{"Question": "Q1", "answer": "yes"} {"Question": "Q2", "answer": "Yes"}`}
	e := NewEvaluator(judge, "Evaluate:\n{Questions}")

	result, err := e.EvaluateAndSave(context.Background(), f.task)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.FinalScore != 0.25 {
		t.Fatalf("expected 0.25, got %v", result.FinalScore)
	}
	if !strings.Contains(judge.prompts[0], "Q2: Is the cat sharp?\nChoices: Yes, No") {
		t.Fatalf("prompt missing questions: %q", judge.prompts[0])
	}

	raw, err := os.ReadFile(f.task.RawPath())
	if err != nil || string(raw) != judge.reply {
		t.Fatalf("raw reply not written: %v", err)
	}
	saved, err := ReadResult(f.task.OutputPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if saved.Filename != "cat" || len(saved.Questions) != 2 || saved.Error != "" {
		t.Fatalf("unexpected saved result: %+v", saved)
	}
}

func TestEvaluateUnparseableReply(t *testing.T) {
	f := newFixture(t)
	e := NewEvaluator(&fakeJudge{reply: "no json here"}, "{Questions}")

	result, err := e.EvaluateAndSave(context.Background(), f.task)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Error != ErrUnparseable.Error() || result.FinalScore != 0 || len(result.Questions) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := os.Stat(f.task.RawPath()); err != nil {
		t.Fatalf("raw reply must be written before parsing: %v", err)
	}
}

func TestEvaluateMissingEditedImage(t *testing.T) {
	f := newFixture(t)
	f.task.EditedDir = t.TempDir()
	judge := &fakeJudge{}
	result := NewEvaluator(judge, "").Evaluate(context.Background(), f.task)
	if result.Error != ErrEditedNotFound.Error() {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if len(judge.prompts) != 0 {
		t.Fatal("judge must not be called")
	}
}

func TestEvaluateEmptyBank(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.task.BankPath, []byte(`{"quality_check_questions": []}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result := NewEvaluator(&fakeJudge{}, "").Evaluate(context.Background(), f.task)
	if result.FinalScore != 0 || result.Error == "" {
		t.Fatalf("expected bank error, got %+v", result)
	}
}

func TestEvaluateJudgeFailure(t *testing.T) {
	f := newFixture(t)
	result := NewEvaluator(&fakeJudge{err: errors.New("HTTP 500: boom")}, "").Evaluate(context.Background(), f.task)
	if result.Error != "HTTP 500: boom" {
		t.Fatalf("unexpected error: %q", result.Error)
	}
}

func TestBankItems(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	items, err := BankItems(dir)
	if err != nil {
		t.Fatalf("bank items: %v", err)
	}
	if len(items) != 2 || items[0].Prefix() != "a" || items[1].ID != 2 {
		t.Fatalf("unexpected items: %+v", items)
	}
}
