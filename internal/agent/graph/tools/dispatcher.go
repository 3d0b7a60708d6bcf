package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dev-onboarding-agent/server/internal/agent/knowledge"
	"github.com/dev-onboarding-agent/server/internal/agent/model"
	errx "github.com/dev-onboarding-agent/server/internal/core/error"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const (
	DefaultTopK         = 2
	DefaultSnippetChars = 500

	NoKnowledgeFound = "No relevant information found in the knowledge base."
)

// ProfileStore is the subset of the profile store the employee tools need.
type ProfileStore interface {
	Get(ctx context.Context, name string) (*model.Profile, error)
	Upsert(ctx context.Context, p model.Profile) error
}

// Result is the outcome of one tool call: the text handed back to the model
// and an optional structured artifact for in-process callers, such as the
// saved *model.Profile of create_employee_profile.
type Result struct {
	Text     string
	Artifact any
}

type DispatcherConfig struct {
	TopK         int
	SnippetChars int
}

// Dispatcher executes typed tool calls against their backends.
type Dispatcher struct {
	knowledge knowledge.Searcher
	profiles  ProfileStore
	topK      int
	maxChars  int
}

func NewDispatcher(searcher knowledge.Searcher, profiles ProfileStore, cfg DispatcherConfig) *Dispatcher {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.SnippetChars <= 0 {
		cfg.SnippetChars = DefaultSnippetChars
	}
	return &Dispatcher{knowledge: searcher, profiles: profiles, topK: cfg.TopK, maxChars: cfg.SnippetChars}
}

func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (Result, error) {
	switch c := call.(type) {
	case RetrieveContextCall:
		return d.retrieveContext(ctx, c)
	case EmployeeLookupCall:
		return d.employeeLookup(ctx, c)
	case CreateEmployeeProfileCall:
		return d.createEmployeeProfile(ctx, c)
	default:
		return Result{}, errx.Protocol(fmt.Errorf("unhandled call %T", call), "dispatch tool call")
	}
}

func (d *Dispatcher) retrieveContext(ctx context.Context, c RetrieveContextCall) (Result, error) {
	if d.knowledge == nil {
		return Result{Text: NoKnowledgeFound}, nil
	}
	snippets, err := d.knowledge.Search(ctx, c.Query, d.topK)
	if err != nil {
		return Result{}, fmt.Errorf("search knowledge base: %w", err)
	}
	if len(snippets) == 0 {
		return Result{Text: NoKnowledgeFound}, nil
	}

	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		parts = append(parts, fmt.Sprintf("[From %s]\n%s", s.Filename(), truncate(s.Content, d.maxChars)))
	}
	logx.Debug().Str("query", c.Query).Int("hits", len(snippets)).Msg("retrieved context")
	return Result{Text: strings.Join(parts, "\n\n"), Artifact: snippets}, nil
}

func (d *Dispatcher) employeeLookup(ctx context.Context, c EmployeeLookupCall) (Result, error) {
	p, err := d.profiles.Get(ctx, c.EmployeeName)
	if err != nil {
		if errors.Is(err, errx.ErrNotFound) {
			return Result{Text: fmt.Sprintf("No information found for employee: %s.", c.EmployeeName)}, nil
		}
		return Result{}, fmt.Errorf("lookup employee: %w", err)
	}
	text := fmt.Sprintf("Employee: %s\nUsername: %s\nRole: %s\nDepartment: %s", p.Name, p.Username, p.Role, p.Department)
	return Result{Text: text, Artifact: p}, nil
}

func (d *Dispatcher) createEmployeeProfile(ctx context.Context, c CreateEmployeeProfileCall) (Result, error) {
	p := model.Profile{
		Username:   c.Username,
		Name:       c.EmployeeName,
		Role:       c.Role,
		Department: c.Department,
	}
	if err := d.profiles.Upsert(ctx, p); err != nil {
		return Result{}, fmt.Errorf("create employee profile: %w", err)
	}
	logx.Info().Str("employee", p.Name).Str("username", p.Username).Msg("employee profile saved")
	return Result{Text: fmt.Sprintf("Employee profile for %s created successfully.", p.Name), Artifact: &p}, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
