package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	errx "github.com/dev-onboarding-agent/server/internal/core/error"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// ===================================
// Tool descriptions
// ===================================

var toolInfos = map[Kind]*schema.ToolInfo{
	KindRetrieveContext: {
		Name: string(KindRetrieveContext),
		Desc: "Retrieve relevant information from the developer onboarding knowledge base. " +
			"Use this tool ONLY when you need to look up specific technical information to answer the user's question. " +
			"Do NOT use this for greetings or general chat.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A specific search query about what technical information you need",
				Required: true,
			},
		}),
	},
	KindEmployeeLookup: {
		Name: string(KindEmployeeLookup),
		Desc: "Look up an employee's profile (username, role, department) by their full name.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"employee_name": {
				Type:     schema.String,
				Desc:     "The employee's full display name",
				Required: true,
			},
		}),
	},
	KindCreateEmployeeProfile: {
		Name: string(KindCreateEmployeeProfile),
		Desc: "Create or overwrite an employee profile in the employee database.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"username":      {Type: schema.String, Desc: "Login username of the employee", Required: true},
			"employee_name": {Type: schema.String, Desc: "The employee's full display name", Required: true},
			"role":          {Type: schema.String, Desc: "Role or title"},
			"department":    {Type: schema.String, Desc: "Department"},
		}),
	},
}

func InfoOf(kind Kind) *schema.ToolInfo {
	return toolInfos[kind]
}

// ===================================
// Eino adapter
// ===================================

// dispatchTool exposes one Kind as an eino InvokableTool. Failures are
// reported to the model as a JSON error result instead of aborting the turn.
type dispatchTool struct {
	kind       Kind
	dispatcher *Dispatcher
}

func (t *dispatchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return InfoOf(t.kind), nil
}

func (t *dispatchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	call, err := ParseCall(string(t.kind), argumentsInJSON)
	if err != nil {
		logx.Warn().Err(err).Str("tool_name", string(t.kind)).Str("arguments", argumentsInJSON).Msg("rejected tool call")
		return ErrorResult(err), nil
	}
	res, err := t.dispatcher.Dispatch(ctx, call)
	if err != nil {
		logx.Error().Err(err).Str("tool_name", string(t.kind)).Msg("tool execution failed")
		return ErrorResult(err), nil
	}
	if res.Artifact != nil {
		logx.Debug().Str("tool_name", string(t.kind)).Interface("artifact", res.Artifact).Msg("tool artifact")
	}
	return res.Text, nil
}

// NewTools returns the eino tools of the closed set, in Kinds order.
func NewTools(d *Dispatcher) []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, &dispatchTool{kind: k, dispatcher: d})
	}
	return out
}

// GetToolInfos collects the ToolInfo of each tool for binding to a chat model.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResult renders err as the tool-result payload seen by the model.
func ErrorResult(err error) string {
	b, _ := json.Marshal(errorPayload{Error: string(errx.KindOf(err)), Message: err.Error()})
	return string(b)
}

var _ tool.InvokableTool = (*dispatchTool)(nil)
