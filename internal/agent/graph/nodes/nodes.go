package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/dev-onboarding-agent/server/internal/agent/graph/conversations"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/prompts"
	"github.com/dev-onboarding-agent/server/internal/agent/graph/tools"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	errx "github.com/dev-onboarding-agent/server/internal/core/error"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

var ErrLoginAttemptsExceeded = errors.New("too many failed login attempts")

// LimitReachedFallback replaces an empty reply whose tool calls were dropped
// because the tool budget ran out.
const LimitReachedFallback = "I couldn't finish gathering everything I needed for that. Please try asking again, perhaps more specifically."

// ================ Prepare ================

// NewPrepareNode loads the thread's session and history into the turn state and
// checkpoints the user's message.
func NewPrepareNode(mm *conversations.MessagesManager, sessions model.SessionStore) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (model.TurnInput, error) {
		if strings.TrimSpace(in.ThreadID) == "" {
			return in, errx.Input("thread id is required")
		}
		session, err := sessions.Load(ctx, in.ThreadID)
		if err != nil {
			return in, fmt.Errorf("load session: %w", err)
		}
		// An active thread keeps its login as long as its history.
		if session.LoggedIn {
			if err := sessions.Touch(ctx, in.ThreadID); err != nil {
				return in, fmt.Errorf("touch session: %w", err)
			}
		}
		history, err := mm.LoadHistory(ctx, in.ThreadID)
		if err != nil {
			return in, err
		}
		userMsg := schema.UserMessage(in.Query)
		if err := mm.Append(ctx, in.ThreadID, userMsg); err != nil {
			return in, err
		}

		err = compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.ThreadID = in.ThreadID
			state.Session = session
			state.History = append(history, userMsg)
			state.Trace = in.Trace
			resetTurn(state)
			return nil
		})
		if err != nil {
			return in, fmt.Errorf("failed to access state: %w", err)
		}

		logx.Debug().
			Str("thread_id", in.ThreadID).
			Bool("logged_in", session.LoggedIn).
			Bool("new_user", session.NewUser).
			Int("history", len(history)).
			Msg("turn prepared")
		return in, nil
	})
}

// NewSessionCondition routes turn entry and every login attempt. With a
// positive maxAttempts the login loop fails the turn once exhausted.
func NewSessionCondition(maxAttempts int) func(context.Context, model.TurnInput) (string, error) {
	return func(ctx context.Context, _ model.TurnInput) (string, error) {
		var (
			session  model.Session
			attempts int
		)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			session = state.Session
			attempts = state.LoginAttempts
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		route := RouteAfterLogin(session)
		logx.Debug().Str("thread_id", session.ThreadID).Str("route", string(route)).Msg("session routing")
		switch route {
		case RouteLogin:
			if maxAttempts > 0 && attempts >= maxAttempts {
				return "", fmt.Errorf("%w (%d)", ErrLoginAttemptsExceeded, attempts)
			}
			return NodeLogin, nil
		case RouteOnboarding:
			return NodeOnboarding, nil
		default:
			return NodePrompt, nil
		}
	}
}

// ================ Login ================

// NewLoginNode asks for credentials once. On success the session is logged in
// and, when the username owns a stored profile, marked as a known user.
func NewLoginNode(p Prompter, verifier Verifier, finder ProfileFinder, sessions model.SessionStore) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (model.TurnInput, error) {
		var session model.Session
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.Trace.Add(string(RouteLogin))
			state.LoginAttempts++
			session = state.Session
			return nil
		})
		if err != nil {
			return in, fmt.Errorf("failed to access state: %w", err)
		}

		username, err := p.Ask(ctx, prompts.AskUsername)
		if err != nil {
			return in, fmt.Errorf("read username: %w", err)
		}
		password, err := p.AskSecret(ctx, prompts.AskPassword)
		if err != nil {
			return in, fmt.Errorf("read password: %w", err)
		}
		username = strings.TrimSpace(username)

		if err := verifier.Verify(ctx, username, password); err != nil {
			logx.Info().Str("thread_id", session.ThreadID).Str("username", username).Msg("login failed")
			p.Say(prompts.LoginFailed)
			return in, nil
		}

		profile, err := finder.FindByUsername(ctx, username)
		if err != nil {
			if !errors.Is(err, errx.ErrNotFound) {
				logx.Warn().Err(err).Str("username", username).Msg("profile lookup failed, treating user as new")
			}
			profile = nil
		}
		session = session.LoggedInAs(username, profile)
		if err := sessions.Save(ctx, session); err != nil {
			return in, fmt.Errorf("save session: %w", err)
		}
		p.Say(prompts.LoginSuccess)

		logx.Info().
			Str("thread_id", session.ThreadID).
			Str("username", username).
			Bool("new_user", session.NewUser).
			Msg("login succeeded")

		err = compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.Session = session
			return nil
		})
		return in, err
	})
}

// ================ Onboarding ================

// NewOnboardingNode collects the new employee's details, saves them as a
// create_employee_profile call and queues a user turn asking the model to
// welcome them. The tool call and its result are both recorded so the history
// never holds an unanswered call. When the profile cannot be saved the user
// stays new and onboarding runs again on the next turn.
func NewOnboardingNode(p Prompter, dispatcher ToolDispatcher, mm *conversations.MessagesManager, sessions model.SessionStore) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (*schema.Message, error) {
		var session model.Session
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.Trace.Add(string(RouteOnboarding))
			session = state.Session
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		p.Say(prompts.WelcomeBanner)
		name, err := askRequired(ctx, p, prompts.AskName)
		if err != nil {
			return nil, err
		}
		role, err := p.Ask(ctx, prompts.AskRole)
		if err != nil {
			return nil, fmt.Errorf("read role: %w", err)
		}
		department, err := p.Ask(ctx, prompts.AskDepartment)
		if err != nil {
			return nil, fmt.Errorf("read department: %w", err)
		}

		create := tools.CreateEmployeeProfileCall{
			Username:     session.Username,
			EmployeeName: name,
			Role:         strings.TrimSpace(role),
			Department:   strings.TrimSpace(department),
		}
		args, err := json.Marshal(create)
		if err != nil {
			return nil, fmt.Errorf("marshal profile arguments: %w", err)
		}
		call := schema.AssistantMessage("", []schema.ToolCall{{
			ID:   "call_" + uuid.NewString(),
			Type: "function",
			Function: schema.FunctionCall{
				Name:      string(tools.KindCreateEmployeeProfile),
				Arguments: string(args),
			},
		}})
		toolMsg := func(content string) *schema.Message {
			return schema.ToolMessage(content, call.ToolCalls[0].ID, schema.WithToolName(string(tools.KindCreateEmployeeProfile)))
		}

		res, err := dispatcher.Dispatch(ctx, create)
		if err != nil {
			logx.Error().Err(err).Str("thread_id", session.ThreadID).Str("username", session.Username).Msg("onboarding profile not saved")
			p.Say(prompts.OnboardingFailed)

			failed := toolMsg(tools.ErrorResult(err))
			if err := mm.Append(ctx, session.ThreadID, call, failed); err != nil {
				return nil, err
			}
			err = compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
				state.History = append(state.History, call, failed)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to access state: %w", err)
			}
			return failed, nil
		}

		profile := model.Profile{
			Username:   create.Username,
			Name:       create.EmployeeName,
			Role:       create.Role,
			Department: create.Department,
		}
		if saved, ok := res.Artifact.(*model.Profile); ok && saved != nil {
			profile = *saved
		}
		result := toolMsg(res.Text)

		welcome, err := prompts.RenderWelcomeRequest(ctx, profile)
		if err != nil {
			return nil, err
		}

		p.Say(prompts.OnboardingComplete(profile.Name))

		session = session.Onboarded(profile)
		if err := sessions.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		if err := mm.Append(ctx, session.ThreadID, call, result, welcome); err != nil {
			return nil, err
		}

		err = compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.Session = session
			state.History = append(state.History, call, result, welcome)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return welcome, nil
	})
}

// NewOnboardingCondition routes after onboarding: pending tool calls go to the
// tools step, otherwise to the model.
func NewOnboardingCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, last *schema.Message) (string, error) {
		if RouteAfterAssistant(last) == RouteTools {
			return NodeTools, nil
		}
		return NodePrompt, nil
	}
}

func askRequired(ctx context.Context, p Prompter, question string) (string, error) {
	for {
		answer, err := p.Ask(ctx, question)
		if err != nil {
			return "", fmt.Errorf("read %q: %w", strings.TrimSpace(question), err)
		}
		if answer = strings.TrimSpace(answer); answer != "" {
			return answer, nil
		}
	}
}

// ================ Model ================

// NewPromptNode builds the model input: system preamble plus the trimmed
// history. Its input is whatever the previous step produced; everything it
// needs lives in the state.
func NewPromptNode(mm *conversations.MessagesManager, preamble string, maxToolCalls int) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ any) ([]*schema.Message, error) {
		var (
			window []*schema.Message
			limit  bool
		)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			var err error
			window, err = mm.BuildWindow(preamble, state.History)
			if err != nil {
				return err
			}
			limit = checkAndMarkToolLimit(state, maxToolCalls)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("build model window: %w", err)
		}

		if limit {
			maxToolCalls = normalizeMaxToolCalls(maxToolCalls)
			window = append(window, schema.SystemMessage(fmt.Sprintf(
				"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
					"Please synthesize a helpful response using the information you've already gathered. "+
					"Acknowledge any limitations in your response if you couldn't complete all necessary tool calls.",
				maxToolCalls,
			)))
		}

		return prompts.Format(ctx, window)
	})
}

// NewModelPreHandler records the model step in the trace.
func NewModelPreHandler() func(context.Context, []*schema.Message, *model.AppState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
		state.Trace.Add(string(RouteModel))
		logx.Debug().Str("thread_id", state.ThreadID).Int("messages", len(in)).Msg("AI thinking...")
		return in, nil
	}
}

// NewModelPostHandler forwards the model's chunks as they arrive. When the
// stream ends the reply is assembled, accounted and checkpointed under the
// state lock before the end of stream reaches the next step. Forwarded chunks
// carry no tool calls; routing and the tools step read the checkpointed reply.
func NewModelPostHandler(mm *conversations.MessagesManager, modelName string) func(context.Context, *schema.StreamReader[*schema.Message], *model.AppState) (*schema.StreamReader[*schema.Message], error) {
	return func(ctx context.Context, in *schema.StreamReader[*schema.Message], _ *model.AppState) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](1)
		go func() {
			defer sw.Close()
			defer in.Close()

			var (
				chunks []*schema.Message
				closed bool
			)
			for {
				chunk, err := in.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					sw.Send(nil, err)
					return
				}
				if chunk == nil {
					continue
				}
				chunks = append(chunks, chunk)
				if !closed {
					text := *chunk
					text.ToolCalls = nil
					closed = sw.Send(&text, nil)
				}
			}

			if len(chunks) == 0 {
				sw.Send(nil, errx.Protocol(errors.New("empty stream"), "model returned no reply"))
				return
			}
			reply, err := schema.ConcatMessages(chunks)
			if err != nil {
				sw.Send(nil, errx.Protocol(err, "concat model reply"))
				return
			}
			streamed := reply.Content

			err = compose.ProcessState(ctx, func(ctx context.Context, state *model.AppState) error {
				return finishReply(ctx, mm, modelName, reply, state)
			})
			if err != nil {
				sw.Send(nil, err)
				return
			}
			if !closed && reply.Content != streamed {
				sw.Send(&schema.Message{Role: schema.Assistant, Content: strings.TrimPrefix(reply.Content, streamed)}, nil)
			}
		}()
		return sr, nil
	}
}

// finishReply accounts usage cost, normalizes tool calls and checkpoints the
// assembled reply.
func finishReply(ctx context.Context, mm *conversations.MessagesManager, modelName string, out *schema.Message, state *model.AppState) error {
	if out.Role == "" {
		out.Role = schema.Assistant
	}
	extra := make(map[string]any, len(out.Extra)+2)
	for k, v := range out.Extra {
		extra[k] = v
	}
	out.Extra = extra

	// Compute usage cost of hosted models
	if pricing := model.ResolvePricing(modelName); !pricing.Free() && out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)
		out.Extra["usage_cost"] = map[string]any{
			"currency":          "USD",
			"model":             modelName,
			"prompt_tokens":     out.ResponseMeta.Usage.PromptTokens,
			"completion_tokens": out.ResponseMeta.Usage.CompletionTokens,
			"total_tokens":      out.ResponseMeta.Usage.TotalTokens,
			"input_cost":        inC,
			"output_cost":       outC,
			"total_cost":        totalC,
		}
		logx.Debug().
			Str("thread_id", state.ThreadID).
			Str("node", NodeModel).
			Str("model", modelName).
			Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
			Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
			Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
			Float64("total_cost_usd", totalC).
			Msg("LLM usage")

		state.TotalCostUSD += totalC
		out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}

	// Some providers omit tool call IDs; tool results must reference one.
	for i := range out.ToolCalls {
		if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
			state.ToolCallIDSeq++
			out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
		}
	}

	// Out of tool budget: the turn ends here, so drop calls nobody will answer.
	if state.ToolCallLimitReached && len(out.ToolCalls) > 0 {
		logx.Warn().
			Str("thread_id", state.ThreadID).
			Int("dropped_tool_calls", len(out.ToolCalls)).
			Msg("tool call limit reached, dropping tool calls")
		out.ToolCalls = nil
		if strings.TrimSpace(out.Content) == "" {
			out.Content = LimitReachedFallback
		}
	}

	state.History = append(state.History, out)
	if err := mm.Append(ctx, state.ThreadID, out); err != nil {
		logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("Error saving assistant message")
		return err
	}

	if len(out.ToolCalls) > 0 {
		logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
	} else {
		logx.Debug().Msg("AI response ready")
	}
	return nil
}

// NewModelCondition routes after the model on the checkpointed reply: tool
// calls go to the tools step, anything else ends the turn.
func NewModelCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, _ *schema.Message) (string, error) {
		var (
			limitReached bool
			reply        *schema.Message
		)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			limitReached = state.ToolCallLimitReached
			reply = lastAssistant(state.History)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		if limitReached {
			logx.Debug().Msg("Tool limit reached previously - routing to end")
			return compose.END, nil
		}
		if RouteAfterAssistant(reply) == RouteTools {
			logx.Debug().Int("tool_count", len(reply.ToolCalls)).Msg("Routing to tools")
			return NodeTools, nil
		}
		return compose.END, nil
	}
}

// ================ Tools ================

// NewToolsPreHandler records the tools step and counts it against the budget.
// The calls executed are those of the checkpointed reply.
func NewToolsPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.AppState) (*schema.Message, error) {
		state.Trace.Add(string(RouteTools))
		if reply := lastAssistant(state.History); reply != nil && len(reply.ToolCalls) > 0 {
			in = reply
		}
		exceeded := incrementToolCallAndCheck(state, maxToolCalls)

		logx.Debug().
			Int("tool_call_count", state.ToolCallCount).
			Str("thread_id", state.ThreadID).
			Msg("Tool execution attempt")

		if exceeded {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", normalizeMaxToolCalls(maxToolCalls)).
				Str("thread_id", state.ThreadID).
				Msg("Tool call limit exceeded - flagging and continuing")
		}
		return in, nil
	}
}

// NewToolsPostHandler checkpoints one result per tool call.
func NewToolsPostHandler(mm *conversations.MessagesManager) func(context.Context, []*schema.Message, *model.AppState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
		results := make([]*schema.Message, 0, len(out))
		for _, m := range out {
			if m != nil {
				results = append(results, m)
			}
		}
		fillToolCallIDs(results, state.History)

		state.History = append(state.History, results...)
		if err := mm.Append(ctx, state.ThreadID, results...); err != nil {
			logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("Error saving tool results")
			return nil, err
		}
		return out, nil
	}
}

// lastAssistant is the latest assistant message of the history, or nil when a
// message of another role came after it.
func lastAssistant(history []*schema.Message) *schema.Message {
	if n := len(history); n > 0 && history[n-1] != nil && history[n-1].Role == schema.Assistant {
		return history[n-1]
	}
	return nil
}

// fillToolCallIDs pairs results lacking a tool call id with the latest
// assistant tool calls, in order.
func fillToolCallIDs(results []*schema.Message, history []*schema.Message) {
	var calls []schema.ToolCall
	for i := len(history) - 1; i >= 0; i-- {
		if m := history[i]; m != nil && m.Role == schema.Assistant && len(m.ToolCalls) > 0 {
			calls = m.ToolCalls
			break
		}
	}
	for i, r := range results {
		if strings.TrimSpace(r.ToolCallID) == "" && i < len(calls) {
			r.ToolCallID = calls[i].ID
		}
	}
}
