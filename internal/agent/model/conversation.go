package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ConversationRepository is the checkpoint store: an append-only message log per thread.
type ConversationRepository interface {
	// AddMessages appends messages to the thread's history in order. Either all
	// of them are stored or none is.
	AddMessages(ctx context.Context, threadID string, messages ...*schema.Message) error

	// LoadHistory retrieves the conversation history for a thread
	LoadHistory(ctx context.Context, threadID string) (*ConversationHistory, error)

	// ClearHistory replaces the thread's history with an empty one
	ClearHistory(ctx context.Context, threadID string) error

	// GetMessageCount returns the number of messages in the thread
	GetMessageCount(ctx context.Context, threadID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ThreadID string
	Messages []*schema.Message
}

// SessionStore keeps the login/onboarding flags of each thread between turns.
type SessionStore interface {
	// Load returns the stored session, or a fresh one when the thread is unknown.
	Load(ctx context.Context, threadID string) (Session, error)
	Save(ctx context.Context, session Session) error
	// Touch restarts the expiry of a stored session. Unknown threads are ignored.
	Touch(ctx context.Context, threadID string) error
	Delete(ctx context.Context, threadID string) error
}
