package llm

import (
	"strings"

	"github.com/cie-bench/harness/internal/dataset"
)

const (
	QuestionsPlaceholder = "{Questions}"
	questionsHeader      = "Please answer all questions regarding the edited image (second image) as follows:\n\n"
)

// BuildQuestionsText renders the bank as the question block of the judge prompt.
func BuildQuestionsText(bank *dataset.QuestionBank) string {
	var b strings.Builder
	b.WriteString(questionsHeader)
	for _, q := range bank.Questions {
		b.WriteString(q.QuestionID)
		b.WriteString(": ")
		b.WriteString(q.Question)
		b.WriteString("\nChoices: ")
		b.WriteString(strings.Join(q.Choices, ", "))
		b.WriteString("\n\n")
	}
	return b.String()
}

// BuildPrompt substitutes the question block into template. A template without
// the placeholder gets the block appended.
func BuildPrompt(template string, bank *dataset.QuestionBank) string {
	questions := BuildQuestionsText(bank)
	if !strings.Contains(template, QuestionsPlaceholder) {
		if template == "" {
			return questions
		}
		return template + "\n\n" + questions
	}
	return strings.ReplaceAll(template, QuestionsPlaceholder, questions)
}
