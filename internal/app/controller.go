package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	chromem "github.com/philippgille/chromem-go"

	"github.com/dev-onboarding-agent/server/internal/agent/auth"
	"github.com/dev-onboarding-agent/server/internal/agent/graph"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/conversations"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/nodes"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/prompts"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/tools"
	"github.com/dev-onboarding-agent/server/internal/agent/knowledge"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	"github.com/dev-onboarding-agent/server/internal/agent/profiles"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const (
	DefaultAgentFolder = "dev_onboarding"
	DefaultAgentName   = "Bot"
	DefaultBasePath    = "docs/rag"
	DefaultProfilePath = "data/employee_db.json"

	systemPromptFile = "system_prompt.md"
	knowledgeDir     = "knowledge"
)

// Config is everything the controller needs to assemble the agent.
type Config struct {
	AgentFolder string
	AgentName   string
	BasePath    string
	ExtraFiles  []string

	DisableTools bool
	NoStream     bool

	Chat         nodes.ChatModelConfig
	Embedding    knowledge.EmbeddingConfig
	Knowledge    model.KnowledgeConfig
	Conversation model.ConversationConfig
	Auth         model.AuthConfig
	ProfilePath  string
}

// Backends are the conversation and session stores, memory or Redis.
type Backends struct {
	Conversations model.ConversationRepository
	Sessions      model.SessionStore
}

type Option func(*options)

type options struct {
	chatModel einomodel.BaseChatModel
	embed     chromem.EmbeddingFunc
}

// WithChatModel replaces the provider chat model.
func WithChatModel(cm einomodel.BaseChatModel) Option {
	return func(o *options) { o.chatModel = cm }
}

// WithEmbeddingFunc replaces the provider embedding function.
func WithEmbeddingFunc(embed chromem.EmbeddingFunc) Option {
	return func(o *options) { o.embed = embed }
}

// Controller owns the assembled agent: prompt, tools, chat model and the
// compiled graph. Everything is built once in NewController.
type Controller struct {
	agentName        string
	systemPromptPath string
	knowledgeDir     string
	stream           bool

	runner graph.Runner
}

func NewController(ctx context.Context, cfg Config, backends Backends, console *Console, opts ...Option) (*Controller, error) {
	if backends.Conversations == nil || backends.Sessions == nil {
		return nil, fmt.Errorf("conversation and session stores are required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	applyDefaults(&cfg)

	agentPath := filepath.Join(cfg.BasePath, cfg.AgentFolder)
	c := &Controller{
		agentName:        cfg.AgentName,
		systemPromptPath: filepath.Join(agentPath, systemPromptFile),
		knowledgeDir:     filepath.Join(agentPath, knowledgeDir),
		stream:           !cfg.NoStream,
	}

	chatModel := o.chatModel
	if chatModel == nil {
		var err error
		if chatModel, err = nodes.NewChatModel(ctx, cfg.Chat); err != nil {
			return nil, err
		}
	}

	mm := conversations.NewMessagesManager(backends.Conversations, cfg.Conversation)
	graphCfg := &graph.GraphConfig{
		ChatModel:        chatModel,
		ModelName:        cfg.Chat.Model,
		MessagesManager:  mm,
		Sessions:         backends.Sessions,
		SystemPrompt:     prompts.LoadSystemPrompt(c.systemPromptPath),
		AgentName:        cfg.AgentName,
		ToolMaxCalls:     cfg.Conversation.Tools.MaxCalls,
		MaxLoginAttempts: cfg.Auth.MaxAttempts,
	}

	if !cfg.DisableTools {
		dispatcher, store, err := c.buildTools(ctx, cfg, o.embed)
		if err != nil {
			return nil, err
		}
		verifier, err := auth.NewVerifier(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.PasswordHash)
		if err != nil {
			return nil, err
		}
		graphCfg.Dispatcher = dispatcher
		graphCfg.Prompter = console
		graphCfg.Verifier = verifier
		graphCfg.Profiles = store
	}

	runner, err := graph.NewRunner(ctx, graphCfg)
	if err != nil {
		return nil, err
	}
	c.runner = runner

	logx.Info().
		Str("agent", cfg.AgentName).
		Str("provider", cfg.Chat.Provider).
		Str("model", cfg.Chat.Model).
		Str("system_prompt", c.systemPromptPath).
		Str("knowledge", c.knowledgeDir).
		Bool("tools", !cfg.DisableTools).
		Msg("agent ready")
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AgentFolder == "" {
		cfg.AgentFolder = DefaultAgentFolder
	}
	if cfg.AgentName == "" {
		cfg.AgentName = DefaultAgentName
	}
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if cfg.Knowledge.ChunkSize <= 0 {
		cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap = 1000, 200
	}
	if cfg.ProfilePath == "" {
		cfg.ProfilePath = DefaultProfilePath
	}
}

func (c *Controller) buildTools(ctx context.Context, cfg Config, embed chromem.EmbeddingFunc) (*tools.Dispatcher, *profiles.Store, error) {
	if embed == nil {
		var err error
		if embed, err = knowledge.NewEmbeddingFunc(cfg.Embedding); err != nil {
			return nil, nil, err
		}
	}
	index, err := knowledge.NewIndex(ctx, knowledge.IndexConfig{
		Dir:          c.knowledgeDir,
		ExtraFiles:   cfg.ExtraFiles,
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
	}, embed)
	if err != nil {
		return nil, nil, err
	}

	cacheTTL := 5 * time.Minute
	if cfg.Knowledge.CacheTTL != "" {
		if cacheTTL, err = time.ParseDuration(cfg.Knowledge.CacheTTL); err != nil {
			return nil, nil, fmt.Errorf("invalid KNOWLEDGE_CACHE_TTL %q: %w", cfg.Knowledge.CacheTTL, err)
		}
	}

	store := profiles.NewStore(cfg.ProfilePath)
	dispatcher := tools.NewDispatcher(knowledge.NewBase(index, cacheTTL), store, tools.DispatcherConfig{
		TopK:         cfg.Knowledge.TopK,
		SnippetChars: cfg.Knowledge.SnippetChars,
	})
	return dispatcher, store, nil
}

func (c *Controller) AgentName() string        { return c.agentName }
func (c *Controller) SystemPromptPath() string { return c.systemPromptPath }
func (c *Controller) KnowledgeDir() string     { return c.knowledgeDir }

// Respond streams or prints the reply to w, depending on the configuration.
func (c *Controller) Respond(ctx context.Context, threadID, input string, w io.Writer) error {
	if c.stream {
		return c.Stream(ctx, threadID, input, w)
	}
	res, err := c.Invoke(ctx, threadID, input)
	if err != nil {
		return err
	}
	if res.Message != nil && res.Message.Content != "" {
		_, err = fmt.Fprintf(w, "%s: %s\n", c.agentName, res.Message.Content)
	}
	return err
}

// Stream writes "<agent>: " followed by the reply chunks. Nothing is written
// for an empty reply.
func (c *Controller) Stream(ctx context.Context, threadID, input string, w io.Writer) error {
	sr, err := c.runner.Stream(ctx, threadID, input)
	if err != nil {
		return err
	}
	defer sr.Close()

	wrote := false
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if !wrote {
			if _, err := fmt.Fprintf(w, "%s: ", c.agentName); err != nil {
				return err
			}
			wrote = true
		}
		if _, err := io.WriteString(w, chunk.Content); err != nil {
			return err
		}
	}
	if wrote {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// Invoke runs a turn and returns the final message with the visited steps.
func (c *Controller) Invoke(ctx context.Context, threadID, input string) (*graph.TurnResult, error) {
	return c.runner.Invoke(ctx, threadID, input)
}

func (c *Controller) ClearMemory(ctx context.Context, threadID string) error {
	return c.runner.ClearMemory(ctx, threadID)
}
