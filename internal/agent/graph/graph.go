package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dev-onboarding-agent/server/internal/agent/graph/conversations"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/nodes"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/prompts"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/tools"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// unboundedLoginSteps stands in for "no limit" when login retries are unbounded.
const unboundedLoginSteps = 1 << 20

// GraphConfig holds all configuration needed to build the graph.
// A nil Dispatcher compiles the tool-disabled wiring: prepare, prompt, model, end.
type GraphConfig struct {
	ChatModel       einomodel.BaseChatModel
	ModelName       string
	MessagesManager *conversations.MessagesManager
	Sessions        model.SessionStore
	Dispatcher      *tools.Dispatcher

	Prompter nodes.Prompter
	Verifier nodes.Verifier
	Profiles nodes.ProfileFinder

	SystemPrompt     string
	AgentName        string
	ToolMaxCalls     int
	MaxLoginAttempts int
}

func (c *GraphConfig) toolsEnabled() bool {
	return c.Dispatcher != nil
}

// GraphBuilder handles the construction of the turn graph
type GraphBuilder struct {
	config    *GraphConfig
	graph     *compose.Graph[model.TurnInput, *schema.Message]
	chatModel einomodel.BaseChatModel
}

// BuildGraph constructs and returns the compiled turn graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	if err := validate(config); err != nil {
		return nil, err
	}

	builder := &GraphBuilder{
		config:    config,
		chatModel: config.ChatModel,
		graph: compose.NewGraph[model.TurnInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if config.toolsEnabled() {
		if err := builder.setupTools(ctx); err != nil {
			return nil, err
		}
	}

	builder.addNodes()
	if err := builder.addEdges(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

func validate(config *GraphConfig) error {
	if config == nil {
		return fmt.Errorf("graph config is nil")
	}
	if config.ChatModel == nil {
		return fmt.Errorf("chat model is nil")
	}
	if config.MessagesManager == nil {
		return fmt.Errorf("messages manager is nil")
	}
	if config.Sessions == nil {
		return fmt.Errorf("session store is nil")
	}
	if config.toolsEnabled() && (config.Prompter == nil || config.Verifier == nil || config.Profiles == nil) {
		return fmt.Errorf("login and onboarding need a prompter, a verifier and a profile finder")
	}
	return nil
}

// setupTools binds the tool set to the chat model and adds the tools node
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	toolset := tools.NewTools(b.config.Dispatcher)
	toolInfos, err := tools.GetToolInfos(ctx, toolset)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return fmt.Errorf("failed to get tool infos: %w", err)
	}

	b.chatModel, err = nodes.BindTools(b.config.ChatModel, toolInfos)
	if err != nil {
		return err
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               toolset,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Gracefully handle hallucinated or malformed tool calls (e.g., empty name)
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			return sanitizeArguments(name, arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	b.graph.AddToolsNode(nodes.NodeTools, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolsPreHandler(b.config.ToolMaxCalls)),
		compose.WithStatePostHandler(nodes.NewToolsPostHandler(b.config.MessagesManager)),
	)
	return nil
}

// sanitizeArguments trims string arguments. Every parameter of the known tools
// is a string, so their scalar values are coerced too. Anything that is not a
// JSON object is passed through for the tool to reject.
func sanitizeArguments(name, arguments string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}

	info := tools.InfoOf(tools.Kind(name))
	for k, v := range m {
		switch vv := v.(type) {
		case string:
			m[k] = strings.TrimSpace(vv)
		case float64, bool:
			if info != nil {
				m[k] = strings.TrimSpace(fmt.Sprint(vv))
			}
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	mm := b.config.MessagesManager
	preamble := prompts.Preamble(b.config.SystemPrompt, b.config.AgentName)

	b.graph.AddLambdaNode(nodes.NodePrepare, nodes.NewPrepareNode(mm, b.config.Sessions))

	if b.config.toolsEnabled() {
		b.graph.AddLambdaNode(nodes.NodeLogin,
			nodes.NewLoginNode(b.config.Prompter, b.config.Verifier, b.config.Profiles, b.config.Sessions),
		)
		b.graph.AddLambdaNode(nodes.NodeOnboarding,
			nodes.NewOnboardingNode(b.config.Prompter, b.config.Dispatcher, mm, b.config.Sessions),
		)
	}

	b.graph.AddLambdaNode(nodes.NodePrompt, nodes.NewPromptNode(mm, preamble, b.config.ToolMaxCalls))

	b.graph.AddChatModelNode(nodes.NodeModel, b.chatModel,
		compose.WithStatePreHandler(nodes.NewModelPreHandler()),
		compose.WithStreamStatePostHandler(nodes.NewModelPostHandler(mm, b.config.ModelName)),
	)
}

// addEdges creates the flow connections and the conditional routing branches
func (b *GraphBuilder) addEdges() error {
	if !b.config.toolsEnabled() {
		for _, edge := range [][2]string{
			{compose.START, nodes.NodePrepare},
			{nodes.NodePrepare, nodes.NodePrompt},
			{nodes.NodePrompt, nodes.NodeModel},
			{nodes.NodeModel, compose.END},
		} {
			if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
				return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
			}
		}
		return nil
	}

	for _, edge := range [][2]string{
		{compose.START, nodes.NodePrepare},
		{nodes.NodePrompt, nodes.NodeModel},
		{nodes.NodeTools, nodes.NodePrompt},
	} {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}

	sessionTargets := map[string]bool{
		nodes.NodeLogin:      true,
		nodes.NodeOnboarding: true,
		nodes.NodePrompt:     true,
	}
	for _, from := range []string{nodes.NodePrepare, nodes.NodeLogin} {
		branch := compose.NewGraphBranch(nodes.NewSessionCondition(b.config.MaxLoginAttempts), sessionTargets)
		if err := b.graph.AddBranch(from, branch); err != nil {
			logx.Error().Err(err).Str("from", from).Msg("Error adding session branch")
			return fmt.Errorf("error adding session branch after %s: %w", from, err)
		}
	}

	onboardingBranch := compose.NewGraphBranch(
		nodes.NewOnboardingCondition(),
		map[string]bool{
			nodes.NodeTools:  true,
			nodes.NodePrompt: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeOnboarding, onboardingBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding onboarding branch")
		return fmt.Errorf("error adding onboarding branch: %w", err)
	}

	modelBranch := compose.NewGraphBranch(
		nodes.NewModelCondition(),
		map[string]bool{
			nodes.NodeTools: true,
			compose.END:     true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeModel, modelBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding model branch")
		return fmt.Errorf("error adding model branch: %w", err)
	}

	return nil
}

// maxRunSteps bounds a turn: prepare, onboarding with its tool round, every
// login attempt, and one prompt/model/tools round per allowed tool call plus
// the closing answer.
func (b *GraphBuilder) maxRunSteps() int {
	login := unboundedLoginSteps
	if b.config.MaxLoginAttempts > 0 {
		login = b.config.MaxLoginAttempts
	}
	toolRounds := b.config.ToolMaxCalls
	if toolRounds <= 0 {
		toolRounds = nodes.DefaultMaxToolCalls
	}
	return 10 + login + 3*(toolRounds+2)
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("onboarding_agent"),
		compose.WithMaxRunSteps(b.maxRunSteps()),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Bool("tools", b.config.toolsEnabled()).Msg("Graph compiled successfully")
	return runnable, nil
}
