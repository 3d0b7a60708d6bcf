package nodes

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
)

func TestRouteAfterLogin(t *testing.T) {
	fresh := model.NewSession("t1")
	assert.Equal(t, RouteLogin, RouteAfterLogin(fresh))

	newUser := fresh.LoggedInAs("admin", nil)
	assert.Equal(t, RouteOnboarding, RouteAfterLogin(newUser))

	known := fresh.LoggedInAs("admin", &model.Profile{Username: "admin", Name: "Ada"})
	assert.Equal(t, RouteModel, RouteAfterLogin(known))

	onboarded := newUser.Onboarded(model.Profile{Username: "admin", Name: "Ada"})
	assert.Equal(t, RouteModel, RouteAfterLogin(onboarded))

	// a session flagged known but never logged in still logs in first
	assert.Equal(t, RouteLogin, RouteAfterLogin(model.Session{ThreadID: "t1", NewUser: false}))
}

func TestRouteAfterAssistant(t *testing.T) {
	assert.Equal(t, RouteEnd, RouteAfterAssistant(nil))
	assert.Equal(t, RouteEnd, RouteAfterAssistant(schema.AssistantMessage("hi", nil)))
	assert.Equal(t, RouteEnd, RouteAfterAssistant(schema.UserMessage("welcome them")))
	assert.Equal(t, RouteTools, RouteAfterAssistant(schema.AssistantMessage("", []schema.ToolCall{{ID: "c1"}})))
}

func TestToolLimitHelpers(t *testing.T) {
	state := &model.AppState{}
	assert.False(t, checkAndMarkToolLimit(state, 2))
	assert.False(t, incrementToolCallAndCheck(state, 2))
	assert.False(t, incrementToolCallAndCheck(state, 2))
	assert.True(t, checkAndMarkToolLimit(state, 2))
	assert.False(t, checkAndMarkToolLimit(state, 2), "marks only once")
	assert.True(t, state.ToolCallLimitReached)

	resetTurn(state)
	assert.Zero(t, state.ToolCallCount)
	assert.False(t, state.ToolCallLimitReached)

	assert.Equal(t, DefaultMaxToolCalls, normalizeMaxToolCalls(0))
}

func TestFillToolCallIDs(t *testing.T) {
	history := []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{ID: "old"}}),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "a"}, {ID: "b"}}),
	}
	results := []*schema.Message{schema.ToolMessage("r1", ""), schema.ToolMessage("r2", "keep")}
	fillToolCallIDs(results, history)
	assert.Equal(t, "a", results[0].ToolCallID)
	assert.Equal(t, "keep", results[1].ToolCallID)
}

func TestConditions_FailWithoutState(t *testing.T) {
	ctx := context.Background()

	_, err := NewSessionCondition(0)(ctx, model.TurnInput{ThreadID: "t1"})
	assert.Error(t, err)

	_, err = NewModelCondition()(ctx, schema.AssistantMessage("hi", nil))
	assert.Error(t, err)
}

func TestLastAssistant(t *testing.T) {
	reply := schema.AssistantMessage("", []schema.ToolCall{{ID: "c1"}})
	assert.Same(t, reply, lastAssistant([]*schema.Message{schema.UserMessage("q"), reply}))
	assert.Nil(t, lastAssistant([]*schema.Message{reply, schema.ToolMessage("r", "c1")}))
	assert.Nil(t, lastAssistant(nil))
}
