package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const (
	UserPrompt   = "User: "
	ClearCommand = "/clear"
)

// Responder answers one user line of a thread.
type Responder interface {
	Respond(ctx context.Context, threadID, input string, w io.Writer) error
	ClearMemory(ctx context.Context, threadID string) error
}

// App runs the console loop in the background until the user quits or the
// input ends.
type App struct {
	responder Responder
	console   *Console
	threadID  string

	running atomic.Bool
	started atomic.Bool
	done    chan struct{}
}

func New(responder Responder, console *Console, threadID string) *App {
	return &App{
		responder: responder,
		console:   console,
		threadID:  threadID,
		done:      make(chan struct{}),
	}
}

// Run starts the loop. Calling it again has no effect.
func (a *App) Run(ctx context.Context) {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	a.running.Store(true)
	go a.loop(ctx)
}

// Quit stops the loop before it handles another line. A read already in
// progress is not interrupted.
func (a *App) Quit() {
	a.running.Store(false)
}

func (a *App) IsRunning() bool {
	return a.running.Load()
}

// Done is closed when the loop has exited.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Join waits for the loop to exit or ctx to end.
func (a *App) Join(ctx context.Context) error {
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) loop(ctx context.Context) {
	defer close(a.done)
	defer a.Quit()

	for a.IsRunning() {
		line, err := a.console.ReadLine(UserPrompt)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logx.Error().Err(err).Msg("read user input")
			}
			return
		}
		if !a.IsRunning() || ctx.Err() != nil {
			return
		}
		a.handle(ctx, line)
	}
}

func (a *App) handle(ctx context.Context, line string) {
	input := strings.TrimSpace(line)
	switch strings.ToLower(input) {
	case "":
		return
	case "exit", "quit":
		a.Quit()
		return
	case ClearCommand:
		if err := a.responder.ClearMemory(ctx, a.threadID); err != nil {
			logx.Error().Err(err).Str("thread_id", a.threadID).Msg("clear memory failed")
			a.console.Say("Could not clear the conversation.")
			return
		}
		a.console.Say("Conversation cleared.")
		return
	}

	if err := a.responder.Respond(ctx, a.threadID, input, a.console); err != nil {
		logx.Error().Err(err).Str("thread_id", a.threadID).Msg("turn failed")
		a.console.Say("Sorry, something went wrong. Please try again.")
	}
}
