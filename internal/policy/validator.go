package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/cfn"
)

//go:embed scheduledtasks.rego
var policyContent string

type Validator struct {
	prepared rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func NewValidator() (*Validator, error) {
	query, err := rego.New(
		rego.Query("data.scheduledtasks.violations"),
		rego.Module("scheduledtasks.rego", policyContent),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	return &Validator{
		prepared: query,
	}, nil
}

// Validate evaluates a synthesized template.
func (v *Validator) Validate(ctx context.Context, template *cfn.Template) (*ValidationResult, error) {
	m, err := template.Map()
	if err != nil {
		return nil, fmt.Errorf("failed to convert template: %w", err)
	}
	return v.ValidateTemplate(ctx, m)
}

// ValidateTemplate evaluates a template decoded from JSON or YAML.
func (v *Validator) ValidateTemplate(ctx context.Context, template map[string]interface{}) (*ValidationResult, error) {
	input := map[string]interface{}{
		"Resources": template["Resources"],
	}

	results, err := v.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	var violations []string
	switch value := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, violation := range value {
			if str, ok := violation.(string); ok {
				violations = append(violations, str)
			}
		}
	case map[string]interface{}:
		// sets may surface as objects
		for violation := range value {
			violations = append(violations, violation)
		}
	default:
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{fmt.Sprintf("policy evaluation returned unexpected %T", value)},
		}, nil
	}
	sort.Strings(violations)

	zerolog.Ctx(ctx).Debug().
		Int("violations", len(violations)).
		Msg("evaluated template policy")

	return &ValidationResult{
		Allowed:    len(violations) == 0,
		Violations: violations,
	}, nil
}
