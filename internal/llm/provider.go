package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/model"
)

// Provider resolves the Generator to use on behalf of a user.
type Provider interface {
	ForCredential(c *model.Credential) (Generator, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(c *model.Credential) (Generator, error)

func (f ProviderFunc) ForCredential(c *model.Credential) (Generator, error) { return f(c) }

// Observer is told the outcome of every call.
type Observer func(fast bool, err error)

// OpenAIProvider builds rate-limited OpenAI generators from stored credentials.
type OpenAIProvider struct {
	cfg        Config
	enc        crypto.Encryptor
	limiter    *rate.Limiter
	httpClient *http.Client
	observe    Observer
}

// NewOpenAIProvider shares one limiter across every user so the process as a
// whole stays within requestsPerMinute.
func NewOpenAIProvider(cfg Config, enc crypto.Encryptor, requestsPerMinute int, observe Observer) *OpenAIProvider {
	if enc == nil {
		enc = crypto.Noop{}
	}
	return &OpenAIProvider{
		cfg:        cfg,
		enc:        enc,
		limiter:    NewLimiter(requestsPerMinute),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		observe:    observe,
	}
}

func (p *OpenAIProvider) ForCredential(c *model.Credential) (Generator, error) {
	if c == nil {
		return nil, model.ErrNoCredential
	}
	key, err := p.enc.Decrypt(c.UserID, c.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	if key == "" {
		return nil, errors.New("credential has empty api key")
	}
	cfg := p.cfg
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.Model != "" {
		cfg.Model = c.Model
	}
	var g Generator = NewOpenAI(cfg, key, p.httpClient)
	if p.observe != nil {
		g = Observed(g, p.observe)
	}
	return Limited(g, p.limiter), nil
}

// NewLimiter converts a per-minute budget into a token bucket with a burst of one.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
}

type limited struct {
	next Generator
	lim  *rate.Limiter
}

// Limited waits on lim before each call.
func Limited(next Generator, lim *rate.Limiter) Generator {
	return &limited{next: next, lim: lim}
}

func (l *limited) Judge(ctx context.Context, prompt string, opts ...Option) (string, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return l.next.Judge(ctx, prompt, opts...)
}

type observed struct {
	next    Generator
	observe Observer
}

// Observed reports each call's outcome to fn.
func Observed(next Generator, fn Observer) Generator {
	return &observed{next: next, observe: fn}
}

func (o *observed) Judge(ctx context.Context, prompt string, opts ...Option) (string, error) {
	out, err := o.next.Judge(ctx, prompt, opts...)
	o.observe(Apply(opts...).Fast, err)
	return out, err
}
