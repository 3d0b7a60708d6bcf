package graph

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dev-onboarding-agent/server/internal/agent/graph/conversations"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/nodes"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/observers"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// Runner executes one turn of a thread through the compiled graph.
type Runner interface {
	Invoke(ctx context.Context, threadID, query string) (*TurnResult, error)
	// Stream returns the final reply as a stream of chunks. The turn finishes
	// when the stream reaches io.EOF.
	Stream(ctx context.Context, threadID, query string) (*schema.StreamReader[*schema.Message], error)
	// ClearMemory replaces the thread's history with an empty one and logs it out.
	ClearMemory(ctx context.Context, threadID string) error
}

// TurnResult is the final reply of a turn and the steps it visited.
type TurnResult struct {
	Message *schema.Message
	Steps   []string
}

type graphRunner struct {
	runnable compose.Runnable[model.TurnInput, *schema.Message]
	mm       *conversations.MessagesManager
	sessions model.SessionStore
}

// NewRunner builds the graph and wraps it for per-thread execution.
func NewRunner(ctx context.Context, config *GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Turn graph built successfully")
	return &graphRunner{runnable: runnable, mm: config.MessagesManager, sessions: config.Sessions}, nil
}

func (r *graphRunner) Invoke(ctx context.Context, threadID, query string) (*TurnResult, error) {
	trace := &model.Trace{}
	out, err := r.runnable.Invoke(ctx, model.TurnInput{
		ThreadID: threadID,
		Query:    query,
		Trace:    trace,
	}, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Strs("steps", trace.Steps()).Msg("turn failed")
		return nil, err
	}
	trace.Add(string(nodes.RouteEnd))

	steps := trace.Steps()
	logx.Debug().Str("thread_id", threadID).Strs("steps", steps).Msg("turn finished")
	return &TurnResult{Message: out, Steps: steps}, nil
}

func (r *graphRunner) Stream(ctx context.Context, threadID, query string) (*schema.StreamReader[*schema.Message], error) {
	trace := &model.Trace{}
	sr, err := r.runnable.Stream(ctx, model.TurnInput{
		ThreadID: threadID,
		Query:    query,
		Trace:    trace,
	}, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Strs("steps", trace.Steps()).Msg("turn failed")
		return nil, err
	}

	out, w := schema.Pipe[*schema.Message](1)
	go func() {
		defer w.Close()
		defer sr.Close()
		for {
			chunk, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				trace.Add(string(nodes.RouteEnd))
				logx.Debug().Str("thread_id", threadID).Strs("steps", trace.Steps()).Msg("turn finished")
				return
			}
			if err != nil {
				logx.Error().Err(err).Str("thread_id", threadID).Strs("steps", trace.Steps()).Msg("turn failed")
				w.Send(nil, err)
				return
			}
			if closed := w.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return out, nil
}

func (r *graphRunner) ClearMemory(ctx context.Context, threadID string) error {
	if err := r.mm.Clear(ctx, threadID); err != nil {
		return err
	}
	if err := r.sessions.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	logx.Info().Str("thread_id", threadID).Msg("memory cleared")
	return nil
}
