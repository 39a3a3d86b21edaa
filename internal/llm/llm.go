// Package llm is the text-generation capability: an opaque judge(prompt) -> text
// call with an OpenAI-compatible adapter, per-user provider lookup and a
// process-wide rate limit.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the provider answers without content.
var ErrEmptyResponse = errors.New("llm returned empty response")

// Generator turns a prompt into text.
type Generator interface {
	Judge(ctx context.Context, prompt string, opts ...Option) (string, error)
}

// Options tune a single call.
type Options struct {
	// Fast routes the call to the cheap judgment model.
	Fast      bool
	System    string
	MaxTokens int
}

type Option func(*Options)

func WithFast() Option { return func(o *Options) { o.Fast = true } }
func WithSystem(s string) Option { return func(o *Options) { o.System = s } }
func WithMaxTokens(n int) Option { return func(o *Options) { o.MaxTokens = n } }

// Apply folds opts into an Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, opts ...Option) (string, error)

func (f GeneratorFunc) Judge(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return f(ctx, prompt, opts...)
}
