package conversations

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

var ErrSystemPromptOverBudget = errors.New("system prompt alone exceeds the token budget")

// TokenCounter returns the token count of a message window.
type TokenCounter func(msgs []*schema.Message) int

const (
	charsPerToken     = 4
	extraTokensPerMsg = 3
)

// ApproximateTokens counts about one token per four characters of content, name
// and tool-call payload, plus a fixed overhead per message.
func ApproximateTokens(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		chars := len([]rune(m.Content)) + len([]rune(m.Name))
		for _, tc := range m.ToolCalls {
			chars += len([]rune(tc.Function.Name)) + len([]rune(tc.Function.Arguments))
		}
		total += (chars+charsPerToken-1)/charsPerToken + extraTokensPerMsg
	}
	return total
}

// Trim returns the window of msgs sent to the model. A leading system message
// is always kept; of the rest, the longest suffix fitting maxTokens together
// with it is kept, then entries are dropped from its front until it starts on
// a user message. Messages are never cut. When nothing from a user message on
// fits, only the system message is returned.
func Trim(msgs []*schema.Message, maxTokens int, counter TokenCounter) ([]*schema.Message, error) {
	if counter == nil {
		counter = ApproximateTokens
	}

	var system []*schema.Message
	rest := msgs
	if len(msgs) > 0 && msgs[0] != nil && msgs[0].Role == schema.System {
		system, rest = msgs[:1], msgs[1:]
	}
	if len(system) > 0 && counter(system) > maxTokens {
		return nil, fmt.Errorf("%w: %d > %d", ErrSystemPromptOverBudget, counter(system), maxTokens)
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		if counter(window(system, rest[i:])) > maxTokens {
			break
		}
		start = i
	}
	for start < len(rest) && (rest[start] == nil || rest[start].Role != schema.User) {
		start++
	}

	if start == len(rest) && len(rest) > 0 {
		logx.Warn().
			Int("messages", len(rest)).
			Int("max_tokens", maxTokens).
			Msg("no user-led window fits the token budget; sending the system prompt only")
	}
	return window(system, rest[start:]), nil
}

func window(system, tail []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(system)+len(tail))
	out = append(out, system...)
	return append(out, tail...)
}
