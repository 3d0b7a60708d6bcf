package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/dev-onboarding-agent/server/internal/agent/graph/nodes"
	"github.com/dev-onboarding-agent/server/internal/agent/knowledge"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	"github.com/dev-onboarding-agent/server/internal/agent/repo"
	"github.com/dev-onboarding-agent/server/internal/app"
	"github.com/dev-onboarding-agent/server/internal/core"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
	pkgredis "github.com/dev-onboarding-agent/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the agent,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure; an empty REDIS_URL keeps everything in memory
	Redis pkgredis.Config

	// LLM providers
	Provider model.ProviderConfig
	Chat     model.ChatModelConfig

	// Agent configs
	Conversation model.ConversationConfig
	Auth         model.AuthConfig
	Knowledge    model.KnowledgeConfig
	Profile      model.ProfileConfig
}

// CLI flags. Defaults come from the environment so flags only need to be
// given to override it.
type CLI struct {
	AgentFolder string   `help:"Agent folder under the base path." default:"dev_onboarding"`
	AgentName   string   `help:"Name the agent introduces itself with." default:"Bot"`
	BasePath    string   `help:"Directory holding the agent folders." default:"docs/rag" type:"path"`
	Provider    string   `help:"Chat model provider (ollama, gemini)." default:"${provider}" enum:"ollama,gemini"`
	Model       string   `help:"Chat model name." default:"${model}"`
	ExtraFiles  []string `help:"Extra knowledge files, comma separated." sep:","`
	Temperature float32  `help:"Sampling temperature." default:"${temperature}"`
	ThreadID    string   `help:"Conversation thread id." default:"${thread_id}"`
	NoTools     bool     `help:"Chat without login, onboarding or tools."`
	NoStream    bool     `help:"Print whole replies instead of streaming them."`
	Fresh       bool     `help:"Clear the thread's memory before the first turn."`
	Quiet       bool     `help:"Discard log output." short:"q"`
}

func main() {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment config: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	kong.Parse(&cli,
		kong.Name("onboarding-agent"),
		kong.Description("Console agent that onboards new developers."),
		kong.Vars{
			"provider":    strings.ToLower(envCfg.Chat.Provider),
			"model":       envCfg.Chat.Model,
			"temperature": fmt.Sprint(envCfg.Chat.Temperature),
			"thread_id":   envCfg.Conversation.ThreadID,
		},
	)

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(envCfg.Environment),
		Level:       envCfg.LogLevel,
	})
	if cli.Quiet {
		logx.Silence()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli, envCfg); err != nil {
		logx.Error().Err(err).Msg("agent stopped")
		if cli.Quiet {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cli CLI, envCfg AppConfig) error {
	backends, closeBackends, err := newBackends(ctx, envCfg)
	if err != nil {
		return err
	}
	defer closeBackends()

	embeddingProvider := envCfg.Knowledge.EmbeddingProvider
	if embeddingProvider == "" {
		embeddingProvider = cli.Provider
	}
	if embeddingProvider == nodes.ProviderGemini {
		// chromem has no Gemini embedder; Gemini users embed through OpenAI or Ollama.
		embeddingProvider = knowledge.ProviderOllama
		if envCfg.Provider.OpenAIAPIKey != "" {
			embeddingProvider = knowledge.ProviderOpenAI
		}
	}
	embeddingModel := envCfg.Knowledge.EmbeddingModel
	if embeddingModel == "" && embeddingProvider == knowledge.ProviderOllama {
		embeddingModel = cli.Model
	}

	console := app.NewConsole(os.Stdin, os.Stdout)
	controller, err := app.NewController(ctx, app.Config{
		AgentFolder:  cli.AgentFolder,
		AgentName:    cli.AgentName,
		BasePath:     cli.BasePath,
		ExtraFiles:   cli.ExtraFiles,
		DisableTools: cli.NoTools,
		NoStream:     cli.NoStream,
		Chat: nodes.ChatModelConfig{
			Provider:      cli.Provider,
			Model:         cli.Model,
			Temperature:   cli.Temperature,
			MaxTokens:     envCfg.Chat.MaxTokens,
			GeminiAPIKey:  envCfg.Provider.GeminiAPIKey,
			GeminiBaseURL: envCfg.Provider.GeminiBaseURL,
			OllamaBaseURL: envCfg.Provider.OllamaBaseURL,
		},
		Embedding: knowledge.EmbeddingConfig{
			Provider:      embeddingProvider,
			Model:         embeddingModel,
			OllamaBaseURL: envCfg.Provider.OllamaBaseURL,
			OpenAIAPIKey:  envCfg.Provider.OpenAIAPIKey,
		},
		Knowledge:    envCfg.Knowledge,
		Conversation: envCfg.Conversation,
		Auth:         envCfg.Auth,
		ProfilePath:  envCfg.Profile.StorePath,
	}, backends, console)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}

	if cli.Fresh {
		if err := controller.ClearMemory(ctx, cli.ThreadID); err != nil {
			return fmt.Errorf("failed to clear memory: %w", err)
		}
	}

	a := app.New(controller, console, cli.ThreadID)
	a.Run(ctx)

	select {
	case <-a.Done():
	case <-ctx.Done():
		// The loop may be blocked reading stdin; stop it and leave.
		a.Quit()
		console.Say("")
	}
	return nil
}

func newBackends(ctx context.Context, envCfg AppConfig) (app.Backends, func(), error) {
	ttl, err := time.ParseDuration(envCfg.Conversation.TTL)
	if err != nil {
		return app.Backends{}, nil, fmt.Errorf("invalid CONVERSATION_TTL '%s': %w", envCfg.Conversation.TTL, err)
	}

	if !envCfg.Redis.Enabled() {
		logx.Info().Msg("REDIS_URL not set, keeping conversations in memory")
		return app.Backends{
			Conversations: repo.NewMemoryConversationRepository(),
			Sessions:      repo.NewMemorySessionStore(ttl),
		}, func() {}, nil
	}

	rdb, err := envCfg.Redis.New(ctx)
	if err != nil {
		return app.Backends{}, nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	logx.Info().Msg("Connected to Redis successfully")

	return app.Backends{
			Conversations: repo.NewRedisConversationRepository(rdb, ttl),
			Sessions:      repo.NewRedisSessionStore(rdb, ttl),
		}, func() {
			_ = rdb.Close()
		}, nil
}
