package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/companionservice"
	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/model"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	comps, err := companionservice.Build(context.Background(), config.NewForTesting(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = comps.Close() })
	var out bytes.Buffer
	return &app{out: &out, comps: comps}, &out
}

func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestUsersAndCredential(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, execute(t, a, "users", "add", "--userId", "alice", "--tz", "Europe/Paris"))
	var u model.User
	require.NoError(t, json.Unmarshal(out.Bytes(), &u))
	assert.Equal(t, "alice", u.ID)

	out.Reset()
	require.NoError(t, execute(t, a, "credential", "alice", "--key", "sk-test"))
	cred, err := a.comps.Store.Credentials().Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "openai", cred.Provider)

	assert.Error(t, execute(t, a, "credential", "alice"))
}

func TestFeedbackAndContext(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, execute(t, a, "feedback", "alice"))
	var sum map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &sum))
	assert.EqualValues(t, 0, sum["totalDismissals"])

	out.Reset()
	require.NoError(t, execute(t, a, "context", "alice", "--window", "now"))
	var uc model.UserContext
	require.NoError(t, json.Unmarshal(out.Bytes(), &uc))
	assert.Equal(t, "alice", uc.UserID)
	cats := make([]model.ContextCategory, 0, len(uc.Items))
	for _, it := range uc.Items {
		cats = append(cats, it.Category)
	}
	assert.Contains(t, cats, model.CategoryEnvironment)

	assert.Error(t, execute(t, a, "context", "alice", "--window", "yesterday"))
}

func TestCycleAndSweep(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, execute(t, a, "cycle"))
	assert.JSONEq(t, `{"sleepHours": 4}`, out.String())

	out.Reset()
	require.NoError(t, execute(t, a, "sweep"))
	assert.JSONEq(t, `{"archived":0,"deleted":0,"purged":0}`, out.String())
}

func TestUsersAddRejectsBadInput(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, execute(t, a, "users", "add", "--userId", "bad id!"))
	assert.Error(t, execute(t, a, "users", "add", "--userId", "bob", "--tz", "Mars/Olympus"))
	assert.Error(t, execute(t, a, "users", "add"))
}
