package batch

import "sync"

// Failure is one entry of failed_list.json.
type Failure struct {
	ID      int    `json:"id"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}

type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Stats is owned by one run; every update is a single locked increment or append.
// A skipped item counts as both skipped and succeeded.
type Stats struct {
	mu        sync.Mutex
	succeeded int
	skipped   int
	failed    []Failure
}

func (s *Stats) succeed() {
	s.mu.Lock()
	s.succeeded++
	s.mu.Unlock()
}

func (s *Stats) skip() {
	s.mu.Lock()
	s.skipped++
	s.succeeded++
	s.mu.Unlock()
}

func (s *Stats) fail(f Failure) {
	s.mu.Lock()
	s.failed = append(s.failed, f)
	s.mu.Unlock()
}

func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Attempted: s.succeeded + len(s.failed),
		Succeeded: s.succeeded,
		Skipped:   s.skipped,
		Failed:    len(s.failed),
	}
}

func (s *Stats) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Failure, len(s.failed))
	copy(out, s.failed)
	return out
}
