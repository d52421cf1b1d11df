package harness

import (
	"fmt"
	"strings"
)

// DefaultMaxTokenLength is the working-memory cap in whitespace tokens.
const DefaultMaxTokenLength = 512

// MemoryBuffer is the bounded working context for one response. It is created per
// orchestration call and never shared between personas or calls.
//
// After every Append the buffer holds at most maxTokens whitespace tokens and contains the
// objective verbatim.
type MemoryBuffer struct {
	maxTokens int
	objective string
	content   string
	tokens    int
}

// NewMemoryBuffer creates an empty buffer pinned to objective. The objective is
// whitespace-normalized and must fit within maxTokens.
func NewMemoryBuffer(maxTokens int, objective string) (*MemoryBuffer, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokenLength
	}
	objective = normalizeWhitespace(objective)
	if n := countTokens(objective); n > maxTokens {
		return nil, fmt.Errorf("%w: objective has %d tokens, memory cap is %d", ErrInvalidPersona, n, maxTokens)
	}
	return &MemoryBuffer{maxTokens: maxTokens, objective: objective}, nil
}

// Append concatenates text, truncates to the cap and re-pins the objective.
func (m *MemoryBuffer) Append(text string) {
	if m.content == "" {
		m.content = text
	} else {
		m.content = m.content + " " + text
	}
	m.tokens += countTokens(text)

	m.Truncate()
	m.EnsureObjective()
}

// Truncate keeps only the most recent maxTokens tokens once the count exceeds the cap.
func (m *MemoryBuffer) Truncate() {
	if m.tokens <= m.maxTokens {
		return
	}
	fields := strings.Fields(m.content)
	if len(fields) > m.maxTokens {
		fields = fields[len(fields)-m.maxTokens:]
	}
	m.content = strings.Join(fields, " ")
	m.tokens = len(fields)
}

// EnsureObjective prepends the objective when it is not present verbatim, evicting the
// oldest tokens needed to stay within the cap.
func (m *MemoryBuffer) EnsureObjective() {
	if m.objective == "" || strings.Contains(m.content, m.objective) {
		return
	}
	objTokens := countTokens(m.objective)
	rest := strings.Fields(m.content)
	if room := m.maxTokens - objTokens; len(rest) > room {
		rest = rest[len(rest)-room:]
	}
	if len(rest) == 0 {
		m.content = m.objective
	} else {
		m.content = m.objective + " " + strings.Join(rest, " ")
	}
	m.tokens = objTokens + len(rest)
}

// String returns the buffer content sent to the model.
func (m *MemoryBuffer) String() string { return m.content }

// Tokens returns the running whitespace-token count.
func (m *MemoryBuffer) Tokens() int { return m.tokens }

// MaxTokens returns the cap.
func (m *MemoryBuffer) MaxTokens() int { return m.maxTokens }

// Objective returns the pinned objective.
func (m *MemoryBuffer) Objective() string { return m.objective }

func countTokens(s string) int { return len(strings.Fields(s)) }

func normalizeWhitespace(s string) string { return strings.Join(strings.Fields(s), " ") }
