package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

type recordingResponder struct {
	mu      sync.Mutex
	inputs  []string
	cleared int
	err     error
}

func (r *recordingResponder) Respond(_ context.Context, _ string, input string, w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, input)
	if r.err != nil {
		return r.err
	}
	_, err := io.WriteString(w, "Bot: echo "+input+"\n")
	return err
}

func (r *recordingResponder) ClearMemory(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

func (r *recordingResponder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.inputs...)
}

func runToCompletion(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Join(ctx))
}

func TestApp_QuitCommands(t *testing.T) {
	logx.Silence()
	for _, cmd := range []string{"quit", "exit", "QUIT", "  Exit  "} {
		t.Run(cmd, func(t *testing.T) {
			r := &recordingResponder{}
			a := New(r, NewConsole(strings.NewReader(cmd+"\nnever handled\n"), io.Discard), "t1")

			a.Run(context.Background())
			runToCompletion(t, a)

			assert.False(t, a.IsRunning())
			assert.Empty(t, r.seen())
		})
	}
}

func TestApp_HandlesLinesUntilEOF(t *testing.T) {
	logx.Silence()
	r := &recordingResponder{}
	var out bytes.Buffer
	a := New(r, NewConsole(strings.NewReader("hello\n\n   \n/clear\nhow do I start?\n"), &out), "t1")

	a.Run(context.Background())
	runToCompletion(t, a)

	assert.False(t, a.IsRunning())
	assert.Equal(t, []string{"hello", "how do I start?"}, r.seen())
	assert.Equal(t, 1, r.cleared)
	assert.Contains(t, out.String(), "User: ")
	assert.Contains(t, out.String(), "Bot: echo hello\n")
	assert.Contains(t, out.String(), "Conversation cleared.")
}

func TestApp_TurnFailureKeepsRunning(t *testing.T) {
	logx.Silence()
	r := &recordingResponder{err: errors.New("model down")}
	var out bytes.Buffer
	a := New(r, NewConsole(strings.NewReader("one\ntwo\n"), &out), "t1")

	a.Run(context.Background())
	runToCompletion(t, a)

	assert.Equal(t, []string{"one", "two"}, r.seen())
	assert.Equal(t, 2, strings.Count(out.String(), "Sorry, something went wrong."))
}

func TestApp_RunAndQuit(t *testing.T) {
	logx.Silence()
	pr, pw := io.Pipe()
	defer pr.Close()
	r := &recordingResponder{}
	a := New(r, NewConsole(pr, io.Discard), "t1")

	assert.False(t, a.IsRunning())
	a.Run(context.Background())
	assert.True(t, a.IsRunning())

	_, err := io.WriteString(pw, "first\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(r.seen()) == 1 }, time.Second, 10*time.Millisecond)

	a.Quit()
	assert.False(t, a.IsRunning())

	// The pending read completes but the line is not handled.
	_, err = io.WriteString(pw, "second\n")
	require.NoError(t, err)
	runToCompletion(t, a)
	assert.Equal(t, []string{"first"}, r.seen())
}

func TestConsole_AskSecretFallsBackToLines(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("admin\r\nhunter2\n"), &out)

	u, err := c.Ask(context.Background(), "Enter username: ")
	require.NoError(t, err)
	p, err := c.AskSecret(context.Background(), "Enter password: ")
	require.NoError(t, err)
	assert.Equal(t, "admin", u)
	assert.Equal(t, "hunter2", p)
	assert.Equal(t, "Enter username: Enter password: ", out.String())

	_, err = c.ReadLine("User: ")
	assert.ErrorIs(t, err, io.EOF)
}
