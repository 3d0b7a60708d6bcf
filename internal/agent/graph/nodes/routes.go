package nodes

import (
	"github.com/cloudwego/eino/schema"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
)

// Route is a routing decision. The values double as the step names recorded
// in a turn's trace.
type Route string

const (
	RouteLogin      Route = "login"
	RouteOnboarding Route = "onboarding"
	RouteModel      Route = "model"
	RouteTools      Route = "tools"
	RouteEnd        Route = "end"
)

// RouteAfterLogin decides the step after turn entry and after each login attempt.
func RouteAfterLogin(s model.Session) Route {
	if !s.LoggedIn {
		return RouteLogin
	}
	if s.NewUser {
		return RouteOnboarding
	}
	return RouteModel
}

// RouteAfterAssistant decides the step after the model or onboarding: pending
// tool calls on the latest message go to the tools step.
func RouteAfterAssistant(last *schema.Message) Route {
	if last != nil && len(last.ToolCalls) > 0 {
		return RouteTools
	}
	return RouteEnd
}
