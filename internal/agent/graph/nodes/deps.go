package nodes

import (
	"context"

	"github.com/dev-onboarding-agent/server/internal/agent/graph/tools"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
)

// Prompter is the out-of-band console used by the login and onboarding steps.
type Prompter interface {
	Ask(ctx context.Context, prompt string) (string, error)
	// AskSecret reads a line without echoing it when the input is a terminal.
	AskSecret(ctx context.Context, prompt string) (string, error)
	Say(msg string)
}

type Verifier interface {
	Verify(ctx context.Context, username, password string) error
}

type ProfileFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.Profile, error)
}

// ToolDispatcher runs a typed tool call. Onboarding uses it to save the new
// profile outside the tools step.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call tools.Call) (tools.Result, error)
}
