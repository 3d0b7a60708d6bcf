package conversations

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const DefaultMaxTokens = 2000

// MessagesManager is the checkpoint facade used by the graph: it loads and
// appends the thread's stored messages and cuts the window sent to the model.
// Storage is never truncated.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxTokens        int
	counter          TokenCounter
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxTokens:        maxTokens,
		counter:          ApproximateTokens,
	}
}

// WithTokenCounter replaces the approximate counter.
func (mm *MessagesManager) WithTokenCounter(counter TokenCounter) *MessagesManager {
	if counter != nil {
		mm.counter = counter
	}
	return mm
}

func (mm *MessagesManager) LoadHistory(ctx context.Context, threadID string) ([]*schema.Message, error) {
	history, err := mm.conversationRepo.LoadHistory(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return history.Messages, nil
}

// Append checkpoints messages in order, skipping nils.
func (mm *MessagesManager) Append(ctx context.Context, threadID string, msgs ...*schema.Message) error {
	batch := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			batch = append(batch, m)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := mm.conversationRepo.AddMessages(ctx, threadID, batch...); err != nil {
		return fmt.Errorf("append %d messages: %w", len(batch), err)
	}
	return nil
}

func (mm *MessagesManager) Clear(ctx context.Context, threadID string) error {
	if err := mm.conversationRepo.ClearHistory(ctx, threadID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	logx.Debug().Str("thread_id", threadID).Msg("conversation history cleared")
	return nil
}

// BuildWindow prepends the system prompt to history and trims the result to
// the token budget.
func (mm *MessagesManager) BuildWindow(systemPrompt string, history []*schema.Message) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	msgs = append(msgs, history...)

	trimmed, err := Trim(msgs, mm.maxTokens, mm.counter)
	if err != nil {
		return nil, err
	}
	if dropped := len(msgs) - len(trimmed); dropped > 0 {
		logx.Debug().Int("dropped", dropped).Int("kept", len(trimmed)).Int("max_tokens", mm.maxTokens).Msg("trimmed history")
	}
	return trimmed, nil
}
