package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/model"
)

func chatServer(t *testing.T, reply string, seen *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + reply + `}}]}`))
	}))
}

func TestOpenAI_JudgeRoutesModels(t *testing.T) {
	var seen atomic.Value
	srv := chatServer(t, `"4"`, &seen)
	defer srv.Close()

	g := NewOpenAI(Config{BaseURL: srv.URL, Model: "big", FastModel: "small", Timeout: 5 * time.Second}, "k", nil)

	out, err := g.Judge(context.Background(), "how long?", WithFast(), WithSystem("be brief"), WithMaxTokens(8))
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	req := seen.Load().(string)
	assert.Equal(t, "small", gjson.Get(req, "model").String())
	assert.Equal(t, "system", gjson.Get(req, "messages.0.role").String())
	assert.Equal(t, "how long?", gjson.Get(req, "messages.1.content").String())
	assert.Equal(t, int64(8), gjson.Get(req, "max_completion_tokens").Int())

	_, err = g.Judge(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, "big", gjson.Get(seen.Load().(string), "model").String())
}

func TestOpenAI_EmptyContentIsError(t *testing.T) {
	var seen atomic.Value
	srv := chatServer(t, `""`, &seen)
	defer srv.Close()

	g := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second}, "k", nil)
	_, err := g.Judge(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAI_FailedCallIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second}, "k", nil)
	_, err := g.Judge(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestProvider_DecryptsKeyAndObserves(t *testing.T) {
	var seen atomic.Value
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		seen.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	enc, err := crypto.NewAESGCM([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	stored, err := enc.Encrypt("u1", "sk-user")
	require.NoError(t, err)

	var calls, failures atomic.Int32
	p := NewOpenAIProvider(Config{BaseURL: "http://unused.invalid", Model: "m", Timeout: 5 * time.Second}, enc, 0,
		func(_ bool, err error) {
			calls.Add(1)
			if err != nil {
				failures.Add(1)
			}
		})

	g, err := p.ForCredential(&model.Credential{UserID: "u1", APIKey: stored, BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := g.Judge(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "Bearer sk-user", auth.Load())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(0), failures.Load())

	_, err = p.ForCredential(nil)
	assert.ErrorIs(t, err, model.ErrNoCredential)
}

func TestLimited_RespectsContext(t *testing.T) {
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	var n atomic.Int32
	g := Limited(GeneratorFunc(func(context.Context, string, ...Option) (string, error) {
		n.Add(1)
		return "x", nil
	}), lim)

	_, err := g.Judge(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Judge(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, int32(1), n.Load())
}

func TestObserved_ReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	var gotFast bool
	var gotErr error
	g := Observed(GeneratorFunc(func(context.Context, string, ...Option) (string, error) { return "", boom }),
		func(fast bool, err error) { gotFast, gotErr = fast, err })
	_, _ = g.Judge(context.Background(), "p", WithFast())
	assert.True(t, gotFast)
	assert.ErrorIs(t, gotErr, boom)
}
