// Package scope restricts a reindex to a subset of projects using a CEL
// boolean expression over the variable project, for example
//
//	project.key in ["ALPHA", "BETA"] || project.id > 100
//
// Available keys are id, key, name and lead. An empty expression matches
// every project.
package scope

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
)

// Filter is a compiled project predicate. The zero value and nil match all.
type Filter struct {
	expr string
	prg  cel.Program
}

// Compile parses expr. A syntax or type error is reported as an
// ERR_402_INVALID_SCOPE error.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("project", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidScope,
			fmt.Sprintf("invalid scope expression %q", expr), issues.Err()).
			WithSuggestion(`Use a boolean expression such as project.key == "OPS"`)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidScope,
			fmt.Sprintf("invalid scope expression %q", expr), err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// MatchesAll reports whether the filter accepts every project.
func (f *Filter) MatchesAll() bool {
	return f == nil || f.prg == nil
}

// Match evaluates the filter for p.
func (f *Filter) Match(p *entity.Project) (bool, error) {
	if f.MatchesAll() {
		return true, nil
	}

	out, _, err := f.prg.Eval(map[string]any{
		"project": map[string]any{
			"id":   p.ID,
			"key":  p.Key,
			"name": p.Name,
			"lead": p.Lead,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate scope for project %s: %w", p.Key, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, ierrors.New(ierrors.ErrCodeInvalidScope,
			fmt.Sprintf("scope expression %q is not boolean: %T", f.expr, out.Value()), nil)
	}
	return result, nil
}

// Apply returns the projects accepted by the filter, keeping order.
func (f *Filter) Apply(projects []*entity.Project) ([]*entity.Project, error) {
	if f.MatchesAll() {
		return projects, nil
	}

	out := make([]*entity.Project, 0, len(projects))
	for _, p := range projects {
		ok, err := f.Match(p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
