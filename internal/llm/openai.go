package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Config describes an OpenAI-compatible endpoint.
type Config struct {
	BaseURL    string
	Model      string
	FastModel  string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAI is a Generator over the chat completions API.
type OpenAI struct {
	client    openaigo.Client
	model     string
	fastModel string
}

// NewOpenAI builds a client for one API key.
func NewOpenAI(cfg Config, apiKey string, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	fast := cfg.FastModel
	if fast == "" {
		fast = cfg.Model
	}
	return &OpenAI{client: openaigo.NewClient(opts...), model: cfg.Model, fastModel: fast}
}

func (o *OpenAI) Judge(ctx context.Context, prompt string, opts ...Option) (string, error) {
	cfg := Apply(opts...)
	model := o.model
	if cfg.Fast {
		model = o.fastModel
	}

	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, 2)
	if s := strings.TrimSpace(cfg.System); s != "" {
		messages = append(messages, openaigo.SystemMessage(s))
	}
	messages = append(messages, openaigo.UserMessage(prompt))

	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(model),
		Messages: messages,
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openaigo.Int(int64(cfg.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := resp.Choices[0].Message.Content
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
