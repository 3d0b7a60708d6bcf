package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
)

// Console prompts of the login and onboarding steps.
const (
	AskUsername   = "Enter username: "
	AskPassword   = "Enter password: "
	LoginSuccess  = "Login successful!"
	LoginFailed   = "Login failed. Please try again."
	WelcomeBanner = "Welcome to the system! Let's get you onboarded."
	AskName       = "Enter your full name: "
	AskRole       = "Enter your role/title: "
	AskDepartment = "Enter your department: "

	OnboardingFailed = "Sorry, your profile could not be saved. We will try again on your next message."
)

// OnboardingComplete is printed once the new profile has been queued for saving.
func OnboardingComplete(name string) string {
	return fmt.Sprintf("\n✓ Onboarding complete for %s!\nSaving profile and preparing your workspace...\n", name)
}

//go:embed template/welcome_request.txt
var welcomeRequest string

// RenderWelcomeRequest builds the synthesized user turn asking the model to
// greet a freshly onboarded employee.
func RenderWelcomeRequest(ctx context.Context, p model.Profile) (*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(welcomeRequest))
	msgs, err := tpl.Format(ctx, map[string]any{
		"Name":       p.Name,
		"Username":   p.Username,
		"Role":       p.Role,
		"Department": p.Department,
	})
	if err != nil {
		return nil, fmt.Errorf("welcome request render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("welcome request render: empty result")
	}
	return msgs[0], nil
}
