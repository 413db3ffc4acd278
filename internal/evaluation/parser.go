package evaluation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fragmentPattern matches brace-delimited fragments non-greedily, across newlines.
var fragmentPattern = regexp.MustCompile(`(?s)\{.*?\}`)

// ModelAnswer is one judge answer decoded from a reply fragment.
type ModelAnswer struct {
	QuestionRef string
	Answer      string
	Explanation string
}

// ParseAnswers extracts every decodable {"Question", "answer", "explanation"}
// fragment from a free-form judge reply. Undecodable fragments are skipped; the
// result is empty, never an error, when nothing decodes.
func ParseAnswers(raw string) []ModelAnswer {
	fragments := fragmentPattern.FindAllString(raw, -1)
	answers := make([]ModelAnswer, 0, len(fragments))
	for _, fragment := range fragments {
		fragment = strings.NewReplacer("\n", "", "\r", "").Replace(fragment)

		var fields map[string]any
		if err := json.Unmarshal([]byte(fragment), &fields); err != nil {
			continue
		}
		answers = append(answers, ModelAnswer{
			QuestionRef: stringField(fields, "Question"),
			Answer:      stringField(fields, "answer"),
			Explanation: stringField(fields, "explanation"),
		})
	}
	return answers
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Matcher reports whether an answer's question reference belongs to questionID.
type Matcher func(ref, questionID string) bool

// MatchesQuestion is the default matcher: the reference starts with the id.
// "Q1" therefore also matches a reference of "Q10"; see MatchStrict.
func MatchesQuestion(ref, questionID string) bool {
	return strings.HasPrefix(ref, questionID)
}

var leadingIDPattern = regexp.MustCompile(`^\s*([A-Za-z]*\d+)`)

// MatchStrict compares the leading id token of ref (e.g. "Q1" in "Q1: Is ...")
// with questionID exactly.
func MatchStrict(ref, questionID string) bool {
	m := leadingIDPattern.FindStringSubmatch(ref)
	if m == nil {
		return strings.TrimSpace(ref) == questionID
	}
	return m[1] == questionID
}
