package tools

import (
	"encoding/json"
	"strings"

	errx "github.com/dev-onboarding-agent/server/internal/core/error"
)

// Kind names one tool of the closed tool set.
type Kind string

const (
	KindRetrieveContext       Kind = "retrieve_context"
	KindEmployeeLookup        Kind = "employee_lookup"
	KindCreateEmployeeProfile Kind = "create_employee_profile"
)

// Kinds lists every tool in registration order.
var Kinds = []Kind{KindRetrieveContext, KindEmployeeLookup, KindCreateEmployeeProfile}

func (k Kind) Valid() bool {
	switch k {
	case KindRetrieveContext, KindEmployeeLookup, KindCreateEmployeeProfile:
		return true
	}
	return false
}

// Call is a parsed, typed tool invocation. Only the types of this package implement it.
type Call interface {
	Kind() Kind
	sealed()
}

type RetrieveContextCall struct {
	Query string `json:"query"`
}

type EmployeeLookupCall struct {
	EmployeeName string `json:"employee_name"`
}

type CreateEmployeeProfileCall struct {
	Username     string `json:"username"`
	EmployeeName string `json:"employee_name"`
	Role         string `json:"role"`
	Department   string `json:"department"`
}

func (RetrieveContextCall) Kind() Kind       { return KindRetrieveContext }
func (EmployeeLookupCall) Kind() Kind        { return KindEmployeeLookup }
func (CreateEmployeeProfileCall) Kind() Kind { return KindCreateEmployeeProfile }

func (RetrieveContextCall) sealed()       {}
func (EmployeeLookupCall) sealed()        {}
func (CreateEmployeeProfileCall) sealed() {}

// ParseCall decodes the JSON arguments of a tool call into its typed form.
// Malformed JSON is a protocol error, missing fields an input error.
func ParseCall(name string, arguments string) (Call, error) {
	kind := Kind(strings.TrimSpace(name))
	if !kind.Valid() {
		return nil, errx.Protocol(errx.Input("unknown tool %q", name), "parse tool call")
	}
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	switch kind {
	case KindRetrieveContext:
		var c RetrieveContextCall
		if err := decode(arguments, &c); err != nil {
			return nil, err
		}
		c.Query = strings.TrimSpace(c.Query)
		if c.Query == "" {
			return nil, errx.Input("query is required")
		}
		return c, nil
	case KindEmployeeLookup:
		var c EmployeeLookupCall
		if err := decode(arguments, &c); err != nil {
			return nil, err
		}
		c.EmployeeName = strings.TrimSpace(c.EmployeeName)
		if c.EmployeeName == "" {
			return nil, errx.Input("employee_name is required")
		}
		return c, nil
	case KindCreateEmployeeProfile:
		var c CreateEmployeeProfileCall
		if err := decode(arguments, &c); err != nil {
			return nil, err
		}
		c.Username = strings.TrimSpace(c.Username)
		c.EmployeeName = strings.TrimSpace(c.EmployeeName)
		c.Role = strings.TrimSpace(c.Role)
		c.Department = strings.TrimSpace(c.Department)
		if c.Username == "" || c.EmployeeName == "" {
			return nil, errx.Input("username and employee_name are required")
		}
		return c, nil
	}
	return nil, errx.Protocol(errx.Input("unknown tool %q", name), "parse tool call")
}

func decode(arguments string, v any) error {
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return errx.Protocol(err, "malformed tool arguments")
	}
	return nil
}
