package prompts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const DefaultSystemPrompt = "You are a helpful assistant."

// LoadSystemPrompt reads the agent's system prompt file. A missing or
// unreadable file falls back to DefaultSystemPrompt.
func LoadSystemPrompt(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logx.Warn().Err(err).Str("path", path).Msg("cannot read system prompt, using default")
		}
		return DefaultSystemPrompt
	}
	if strings.TrimSpace(string(b)) == "" {
		return DefaultSystemPrompt
	}
	return string(b)
}

// Preamble substitutes the agent name for {name} in the system prompt. Other
// braces are left untouched.
func Preamble(systemPrompt, agentName string) string {
	return strings.ReplaceAll(systemPrompt, "{name}", agentName)
}

// messagesTemplate passes the trimmed window through an eino prompt so prompt
// callbacks observe every model input. Content is never formatted.
var messagesTemplate = prompt.FromMessages(schema.FString, schema.MessagesPlaceholder("messages", false))

// Format renders the model input from an already trimmed window.
func Format(ctx context.Context, window []*schema.Message) ([]*schema.Message, error) {
	msgs, err := messagesTemplate.Format(ctx, map[string]any{"messages": window})
	if err != nil {
		return nil, fmt.Errorf("format model prompt: %w", err)
	}
	return msgs, nil
}
