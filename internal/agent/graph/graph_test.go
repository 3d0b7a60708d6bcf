package graph

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-onboarding-agent/server/internal/agent/auth"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/conversations"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/nodes"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/prompts"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/tools"
	"github.com/dev-onboarding-agent/server/internal/agent/knowledge"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	"github.com/dev-onboarding-agent/server/internal/agent/profiles"
	"github.com/dev-onboarding-agent/server/internal/agent/repo"
	"github.com/dev-onboarding-agent/server/internal/core"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// scriptedModel replies with its script in order, then repeats fallback.
type scriptedModel struct {
	mu       sync.Mutex
	script   []*schema.Message
	fallback *schema.Message
	inputs   [][]*schema.Message
	tools    []*schema.ToolInfo
}

func (m *scriptedModel) next(input []*schema.Message) *schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	reply := m.fallback
	if len(m.script) > 0 {
		reply, m.script = m.script[0], m.script[1:]
	}
	if reply == nil {
		reply = schema.AssistantMessage("done", nil)
	}
	out := *reply
	out.ToolCalls = append([]schema.ToolCall(nil), reply.ToolCalls...)
	return &out
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	return m.next(input), nil
}

func (m *scriptedModel) Stream(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray(splitReply(m.next(input))), nil
}

// splitReply cuts a reply into one chunk per word. Tool calls ride on the
// last chunk.
func splitReply(reply *schema.Message) []*schema.Message {
	words := strings.SplitAfter(reply.Content, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, &schema.Message{Role: reply.Role, Content: w})
	}
	chunks[len(chunks)-1].ToolCalls = reply.ToolCalls
	return chunks
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	m.tools = tools
	return m, nil
}

func (m *scriptedModel) lastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

// scriptedPrompter answers Ask and AskSecret from one queue.
type scriptedPrompter struct {
	answers []string
	said    []string
}

func (p *scriptedPrompter) Ask(_ context.Context, prompt string) (string, error) {
	if len(p.answers) == 0 {
		return "", io.EOF
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) AskSecret(ctx context.Context, prompt string) (string, error) {
	return p.Ask(ctx, prompt)
}

func (p *scriptedPrompter) Say(msg string) { p.said = append(p.said, msg) }

// lockedBuffer collects log lines written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type staticSearcher struct{ snippets []knowledge.Snippet }

func (s staticSearcher) Search(_ context.Context, _ string, _ int) ([]knowledge.Snippet, error) {
	return s.snippets, nil
}

type harness struct {
	cfg      *GraphConfig
	model    *scriptedModel
	prompter *scriptedPrompter
	store    *profiles.Store
	sessions *repo.MemorySessionStore
	mm       *conversations.MessagesManager
}

func newHarness(t *testing.T, withTools bool) *harness {
	t.Helper()
	logx.Silence()

	store := profiles.NewStore(filepath.Join(t.TempDir(), "employee_db.json"))
	verifier, err := auth.NewVerifier("admin", "password", "")
	require.NoError(t, err)

	h := &harness{
		model:    &scriptedModel{},
		prompter: &scriptedPrompter{},
		store:    store,
		sessions: repo.NewMemorySessionStore(0),
		mm:       conversations.NewMessagesManager(repo.NewMemoryConversationRepository(), model.ConversationConfig{MaxTokens: 2000}),
	}
	h.cfg = &GraphConfig{
		ChatModel:       h.model,
		ModelName:       "scripted",
		MessagesManager: h.mm,
		Sessions:        h.sessions,
		Prompter:        h.prompter,
		Verifier:        verifier,
		Profiles:        store,
		SystemPrompt:    "You are {name}, an onboarding assistant.",
		AgentName:       "Ada",
		ToolMaxCalls:    10,
	}
	if withTools {
		h.useStore(store)
	}
	return h
}

// useStore points login, onboarding and the tools at store.
func (h *harness) useStore(store *profiles.Store) {
	searcher := staticSearcher{snippets: []knowledge.Snippet{
		{Source: "docs/setup.md", Content: "Install Go and run make bootstrap."},
	}}
	h.store = store
	h.cfg.Profiles = store
	h.cfg.Dispatcher = tools.NewDispatcher(searcher, store, tools.DispatcherConfig{})
}

func (h *harness) runner(t *testing.T) Runner {
	t.Helper()
	r, err := NewRunner(context.Background(), h.cfg)
	require.NoError(t, err)
	return r
}

func (h *harness) loginAsKnownUser(t *testing.T, threadID string) {
	t.Helper()
	profile := model.Profile{Username: "admin", Name: "Grace Hopper", Role: "Engineer", Department: "Platform"}
	require.NoError(t, h.store.Upsert(context.Background(), profile))
	session := model.NewSession(threadID).LoggedInAs("admin", &profile)
	require.NoError(t, h.sessions.Save(context.Background(), session))
}

// assertToolCallsAnswered checks that every tool call is followed by its
// result before the next assistant message.
func assertToolCallsAnswered(t *testing.T, history []*schema.Message) {
	t.Helper()
	for i, m := range history {
		if m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		answered := map[string]bool{}
		for _, r := range history[i+1:] {
			if r.Role != schema.Tool {
				break
			}
			answered[r.ToolCallID] = true
		}
		for _, c := range m.ToolCalls {
			assert.Truef(t, answered[c.ID], "tool call %s (%s) has no result", c.ID, c.Function.Name)
		}
	}
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func TestRunner_NewUserLogsInAndOnboards(t *testing.T) {
	h := newHarness(t, true)
	h.prompter.answers = []string{
		"admin", "wrong",
		"admin", "password",
		"", "Ada Lovelace", "Engineer", "R&D",
	}
	h.model.script = []*schema.Message{schema.AssistantMessage("Welcome aboard, Ada!", nil)}
	r := h.runner(t)
	ctx := context.Background()

	res, err := r.Invoke(ctx, "t1", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"login", "login", "onboarding", "model", "end"}, res.Steps)
	assert.Equal(t, "Welcome aboard, Ada!", res.Message.Content)

	assert.Contains(t, h.prompter.said, prompts.LoginFailed)
	assert.Contains(t, h.prompter.said, prompts.LoginSuccess)
	assert.Contains(t, h.prompter.said, prompts.OnboardingComplete("Ada Lovelace"))

	p, err := h.store.Get(ctx, "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, model.Profile{Username: "admin", Name: "Ada Lovelace", Role: "Engineer", Department: "R&D"}, *p)

	session, err := h.sessions.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, session.LoggedIn)
	assert.False(t, session.NewUser)
	require.NotNil(t, session.User)
	assert.Equal(t, "Ada Lovelace", session.User.Name)

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, string(tools.KindCreateEmployeeProfile), history[1].ToolCalls[0].Function.Name)
	assert.Equal(t, schema.Tool, history[2].Role)
	assert.Contains(t, history[2].Content, "created successfully")
	assert.Equal(t, schema.User, history[3].Role)
	assert.Contains(t, history[3].Content, "Onboarding complete!")
	assert.Equal(t, schema.Assistant, history[4].Role)
	assertToolCallsAnswered(t, history)

	// The model is asked to welcome the new employee under the agent's preamble.
	in := h.model.lastInput()
	require.NotEmpty(t, in)
	assert.Equal(t, schema.System, in[0].Role)
	assert.Equal(t, "You are Ada, an onboarding assistant.", in[0].Content)
	assert.Contains(t, in[len(in)-1].Content, "Ada Lovelace")

	// Later turns on the thread go straight to the model.
	res, err = r.Invoke(ctx, "t1", "thanks")
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "end"}, res.Steps)
	assert.Empty(t, h.prompter.answers)
}

func TestRunner_FailedProfileSaveKeepsUserNew(t *testing.T) {
	h := newHarness(t, true)
	blocker := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	h.useStore(profiles.NewStore(filepath.Join(blocker, "employee_db.json")))

	h.prompter.answers = []string{"admin", "password", "Ada L", "Engineer", "R&D"}
	h.model.fallback = schema.AssistantMessage("Something went wrong saving your profile.", nil)
	r := h.runner(t)
	ctx := context.Background()

	res, err := r.Invoke(ctx, "t1", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"login", "onboarding", "model", "end"}, res.Steps)
	assert.Contains(t, h.prompter.said, prompts.OnboardingFailed)
	assert.NotContains(t, h.prompter.said, prompts.OnboardingComplete("Ada L"))

	session, err := h.sessions.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, session.LoggedIn)
	assert.True(t, session.NewUser)
	assert.Nil(t, session.User)

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, string(tools.KindCreateEmployeeProfile), history[1].ToolCalls[0].Function.Name)
	assert.Equal(t, schema.Tool, history[2].Role)
	assert.Contains(t, history[2].Content, `"error"`)
	assert.Equal(t, schema.Assistant, history[3].Role)
	assertToolCallsAnswered(t, history)

	// onboarding is retried on the next turn
	h.prompter.answers = []string{"Ada L", "Engineer", "R&D"}
	res, err = r.Invoke(ctx, "t1", "again")
	require.NoError(t, err)
	assert.Equal(t, []string{"onboarding", "model", "end"}, res.Steps)
}

func TestRunner_ActiveSessionOutlivesTTL(t *testing.T) {
	h := newHarness(t, true)
	h.sessions = repo.NewMemorySessionStore(200 * time.Millisecond)
	h.cfg.Sessions = h.sessions
	h.loginAsKnownUser(t, "t1")
	r := h.runner(t)

	for i := 0; i < 4; i++ {
		time.Sleep(90 * time.Millisecond)
		res, err := r.Invoke(context.Background(), "t1", "still here")
		require.NoError(t, err)
		assert.Equal(t, []string{"model", "end"}, res.Steps, "turn %d", i)
	}
	assert.Empty(t, h.prompter.said)
}

func TestRunner_KnownUserSkipsOnboarding(t *testing.T) {
	h := newHarness(t, true)
	h.prompter.answers = []string{"admin", "password"}
	h.model.script = []*schema.Message{schema.AssistantMessage("Hi Grace.", nil)}
	require.NoError(t, h.store.Upsert(context.Background(), model.Profile{
		Username: "admin", Name: "Grace Hopper", Role: "Engineer", Department: "Platform",
	}))

	res, err := h.runner(t).Invoke(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"login", "model", "end"}, res.Steps)

	session, err := h.sessions.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, session.NewUser)
	require.NotNil(t, session.User)
	assert.Equal(t, "Grace Hopper", session.User.Name)
}

func TestRunner_ToolRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	h.loginAsKnownUser(t, "t1")
	h.model.script = []*schema.Message{
		toolCall("", "retrieve_context", `{"query":" setup "}`),
		schema.AssistantMessage("Run make bootstrap.", nil),
	}
	ctx := context.Background()

	res, err := h.runner(t).Invoke(ctx, "t1", "how do I set up?")
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "tools", "model", "end"}, res.Steps)
	assert.Equal(t, "Run make bootstrap.", res.Message.Content)
	assert.Empty(t, h.prompter.said)

	names := make([]string, 0, len(h.model.tools))
	for _, info := range h.model.tools {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"retrieve_context", "employee_lookup", "create_employee_profile"}, names)

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "call_1", history[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Equal(t, "[From setup.md]\nInstall Go and run make bootstrap.", history[2].Content)
	assertToolCallsAnswered(t, history)
}

func TestRunner_UnknownToolIsAnswered(t *testing.T) {
	h := newHarness(t, true)
	h.loginAsKnownUser(t, "t1")
	h.model.script = []*schema.Message{
		toolCall("call_x", "delete_everything", `{}`),
		schema.AssistantMessage("I can't do that.", nil),
	}
	ctx := context.Background()

	res, err := h.runner(t).Invoke(ctx, "t1", "wipe it")
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "tools", "model", "end"}, res.Steps)

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	assertToolCallsAnswered(t, history)
	assert.Contains(t, history[2].Content, "unknown_tool")
}

func TestRunner_ToolLimitEndsTurn(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.ToolMaxCalls = 1
	h.loginAsKnownUser(t, "t1")
	h.model.fallback = toolCall("", "employee_lookup", `{"employee_name":"Grace Hopper"}`)
	ctx := context.Background()

	res, err := h.runner(t).Invoke(ctx, "t1", "who am I?")
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "tools", "model", "end"}, res.Steps)
	assert.Equal(t, nodes.LimitReachedFallback, res.Message.Content)
	assert.Empty(t, res.Message.ToolCalls)

	in := h.model.lastInput()
	require.NotEmpty(t, in)
	assert.Contains(t, in[len(in)-1].Content, "maximum tool call limit (1)")

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	assertToolCallsAnswered(t, history)
	assert.Contains(t, history[2].Content, "Employee: Grace Hopper")
}

func TestRunner_LoginAttemptsExceeded(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.MaxLoginAttempts = 2
	h.prompter.answers = []string{"admin", "nope", "root", "root"}

	_, err := h.runner(t).Invoke(context.Background(), "t1", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, nodes.ErrLoginAttemptsExceeded)

	session, err := h.sessions.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, session.LoggedIn)
}

func TestRunner_PrompterFailureAbortsTurn(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.runner(t).Invoke(context.Background(), "t1", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRunner_NoToolsGoesStraightToModel(t *testing.T) {
	h := newHarness(t, false)
	h.model.script = []*schema.Message{
		schema.AssistantMessage("first", nil),
		schema.AssistantMessage("second", nil),
	}
	r := h.runner(t)
	ctx := context.Background()

	res, err := r.Invoke(ctx, "t1", "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "end"}, res.Steps)
	assert.Nil(t, h.model.tools)

	_, err = r.Invoke(ctx, "t1", "two")
	require.NoError(t, err)

	in := h.model.lastInput()
	require.Len(t, in, 4)
	assert.Equal(t, "one", in[1].Content)
	assert.Equal(t, "first", in[2].Content)
	assert.Equal(t, "two", in[3].Content)
}

// drain reads a stream to the end and returns its chunks.
func drain(t *testing.T, sr *schema.StreamReader[*schema.Message]) []*schema.Message {
	t.Helper()
	defer sr.Close()
	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestRunner_Stream(t *testing.T) {
	h := newHarness(t, false)
	logs := &lockedBuffer{}
	logx.Init(logx.LoggerOpts{Environment: core.Production, Level: "debug", Output: logs})
	t.Cleanup(logx.Silence)

	h.model.script = []*schema.Message{schema.AssistantMessage("streamed reply in pieces", nil)}

	sr, err := h.runner(t).Stream(context.Background(), "t1", "hi")
	require.NoError(t, err)
	chunks := drain(t, sr)

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
	}
	assert.Equal(t, "streamed reply in pieces", sb.String())
	assert.Greater(t, len(chunks), 1, "chunks arrive as the model produces them")

	history, err := h.mm.LoadHistory(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "streamed reply in pieces", history[1].Content)

	assert.Contains(t, logs.String(), `"steps":["model","end"]`)
}

func TestRunner_StreamToolRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	h.loginAsKnownUser(t, "t1")
	h.model.script = []*schema.Message{
		toolCall("", "retrieve_context", `{"query":"setup"}`),
		schema.AssistantMessage("Run make bootstrap.", nil),
	}
	ctx := context.Background()

	sr, err := h.runner(t).Stream(ctx, "t1", "how do I set up?")
	require.NoError(t, err)
	var sb strings.Builder
	for _, c := range drain(t, sr) {
		assert.Empty(t, c.ToolCalls)
		sb.WriteString(c.Content)
	}
	assert.Equal(t, "Run make bootstrap.", sb.String())

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "call_1", history[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assertToolCallsAnswered(t, history)
}

func TestRunner_StreamToolLimitFallback(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.ToolMaxCalls = 1
	h.loginAsKnownUser(t, "t1")
	h.model.fallback = toolCall("", "employee_lookup", `{"employee_name":"Grace Hopper"}`)

	sr, err := h.runner(t).Stream(context.Background(), "t1", "who am I?")
	require.NoError(t, err)
	var sb strings.Builder
	for _, c := range drain(t, sr) {
		sb.WriteString(c.Content)
	}
	assert.Equal(t, nodes.LimitReachedFallback, sb.String())
}

func TestRunner_ClearMemory(t *testing.T) {
	h := newHarness(t, true)
	h.loginAsKnownUser(t, "t1")
	r := h.runner(t)
	ctx := context.Background()

	_, err := r.Invoke(ctx, "t1", "hi")
	require.NoError(t, err)
	require.NoError(t, r.ClearMemory(ctx, "t1"))

	history, err := h.mm.LoadHistory(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, history)

	session, err := h.sessions.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.NewSession("t1"), session)
}

func TestRunner_RequiresThreadID(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.runner(t).Invoke(context.Background(), " ", "hi")
	require.Error(t, err)
}

func TestBuildGraph_Validates(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.Prompter = nil
	_, err := BuildGraph(context.Background(), h.cfg)
	require.Error(t, err)

	_, err = BuildGraph(context.Background(), nil)
	require.Error(t, err)
}

func TestSanitizeArguments(t *testing.T) {
	assert.Equal(t, `{"query":"setup"}`, sanitizeArguments("retrieve_context", `{"query":"  setup "}`))
	assert.Equal(t, `{"employee_name":"42"}`, sanitizeArguments("employee_lookup", `{"employee_name":42}`))
	assert.Equal(t, `not json`, sanitizeArguments("employee_lookup", `not json`))
}
