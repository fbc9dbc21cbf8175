package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Engine for tests and dry runs. Completions are
// returned in order; the last one repeats once the script runs out.
// Calls are recorded for assertion.
type Mock struct {
	mu          sync.Mutex
	script      []Completion
	next        int
	calls       []MockCall
	err         error
	contextSize int
}

// MockCall records one Complete invocation.
type MockCall struct {
	Prompt string
	Opts   Options
}

// NewMock builds a mock engine with the given scripted completions.
func NewMock(script ...Completion) *Mock {
	return &Mock{script: script, contextSize: 2048}
}

// WithContextWindow overrides the reported context size.
func (m *Mock) WithContextWindow(size int) *Mock {
	m.contextSize = size

	return m
}

// Fail makes every subsequent Complete call return err.
func (m *Mock) Fail(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err

	return m
}

func (m *Mock) Complete(_ context.Context, prompt string, opts Options) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Prompt: prompt, Opts: opts})

	if m.err != nil {
		return Completion{}, m.err
	}

	if len(m.script) == 0 {
		return Completion{FinishReason: FinishStop}, nil
	}

	completion := m.script[min(m.next, len(m.script)-1)]
	m.next++

	return completion, nil
}

func (m *Mock) ContextWindow() int { return m.contextSize }

// Calls returns a copy of the recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)

	return out
}
