package model

import (
	"sync"

	"github.com/cloudwego/eino/schema"
)

// AppState stores per-turn state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
//   - Persistence goes through MessagesManager and the SessionStore.
type AppState struct {
	ThreadID string
	Session  Session
	History  []*schema.Message // full checkpointed history plus this turn's messages
	Trace    *Trace

	LoginAttempts        int
	ToolCallCount        int
	ToolCallLimitReached bool
	ToolCallIDSeq        int

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// Session is the explicit login/onboarding state of a thread. Routers read it,
// the login and onboarding steps return updated copies of it.
type Session struct {
	ThreadID string   `json:"thread_id"`
	LoggedIn bool     `json:"logged_in"`
	NewUser  bool     `json:"new_user"`
	Username string   `json:"username,omitempty"`
	User     *Profile `json:"user,omitempty"`
}

// NewSession returns the state of a thread nobody has logged into yet.
func NewSession(threadID string) Session {
	return Session{ThreadID: threadID, NewUser: true}
}

// TurnInput represents one user turn.
type TurnInput struct {
	ThreadID string `json:"thread_id"`
	Query    string `json:"query"`
	// Trace receives the names of the steps visited during the turn.
	Trace *Trace `json:"-"`
}

// Trace records the steps visited during a turn.
type Trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *Trace) Add(step string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *Trace) Steps() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.steps))
	copy(out, t.steps)
	return out
}
