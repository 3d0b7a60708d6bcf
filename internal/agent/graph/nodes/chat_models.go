package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/ollama/api"
	"google.golang.org/genai"

	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Provider      string
	Model         string
	Temperature   float32
	MaxTokens     int
	GeminiAPIKey  string
	GeminiBaseURL string
	OllamaBaseURL string
	Timeout       time.Duration
}

// NewChatModel creates the chat model of the configured provider.
func NewChatModel(ctx context.Context, config ChatModelConfig) (einomodel.BaseChatModel, error) {
	switch strings.ToLower(config.Provider) {
	case ProviderOllama, "":
		return newOllamaChatModel(ctx, config)
	case ProviderGemini:
		return newGeminiChatModel(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", config.Provider)
	}
}

func newOllamaChatModel(ctx context.Context, config ChatModelConfig) (einomodel.BaseChatModel, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: config.OllamaBaseURL,
		Model:   config.Model,
		Timeout: timeout,
		Options: ollamaOptions(config),
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Ollama chat model")
		return nil, fmt.Errorf("error creating Ollama chat model: %w", err)
	}
	return cm, nil
}

func newGeminiChatModel(ctx context.Context, config ChatModelConfig) (einomodel.BaseChatModel, error) {
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini provider needs GEMINI_API_KEY")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.GeminiBaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.GeminiBaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	temperature := config.Temperature
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Model,
		Temperature: &temperature,
		MaxTokens:   maxTokens(config),
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}
	return cm, nil
}

// ollamaOptions maps the sampling settings onto Ollama's options. A zero
// MaxTokens leaves num_predict to the server.
func ollamaOptions(config ChatModelConfig) *api.Options {
	opts := &api.Options{Temperature: config.Temperature}
	if config.MaxTokens > 0 {
		opts.NumPredict = config.MaxTokens
	}
	return opts
}

// maxTokens is nil unless CHAT_MAX_TOKENS is set.
func maxTokens(config ChatModelConfig) *int {
	if config.MaxTokens <= 0 {
		return nil
	}
	n := config.MaxTokens
	return &n
}

// BindTools returns a chat model that offers the given tools to the model.
func BindTools(cm einomodel.BaseChatModel, tools []*schema.ToolInfo) (einomodel.BaseChatModel, error) {
	if len(tools) == 0 {
		return cm, nil
	}
	switch m := cm.(type) {
	case einomodel.ToolCallingChatModel:
		bound, err := m.WithTools(tools)
		if err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools")
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		logx.Debug().Int("tools", len(tools)).Msg("Successfully bound tools to chat model")
		return bound, nil
	case einomodel.ChatModel:
		if err := m.BindTools(tools); err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools")
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		logx.Debug().Int("tools", len(tools)).Msg("Successfully bound tools to chat model")
		return m, nil
	default:
		return nil, fmt.Errorf("chat model %T does not support tool calling", cm)
	}
}
