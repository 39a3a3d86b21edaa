// Package llmtest provides a scripted llm.Generator that records prompts.
package llmtest

import (
	"context"
	"sync"

	"github.com/mycelian/mycelian-companion/internal/llm"
)

// Call is one recorded Judge invocation.
type Call struct {
	Prompt  string
	Options llm.Options
}

// Stub answers with Reply (or Respond when set) and records every call.
type Stub struct {
	Reply   string
	Err     error
	Respond func(prompt string, o llm.Options) (string, error)

	mu    sync.Mutex
	calls []Call
}

func (s *Stub) Judge(_ context.Context, prompt string, opts ...llm.Option) (string, error) {
	o := llm.Apply(opts...)
	s.mu.Lock()
	s.calls = append(s.calls, Call{Prompt: prompt, Options: o})
	s.mu.Unlock()
	if s.Respond != nil {
		return s.Respond(prompt, o)
	}
	return s.Reply, s.Err
}

func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Last returns the most recent call, or a zero Call.
func (s *Stub) Last() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return Call{}
	}
	return s.calls[len(s.calls)-1]
}
