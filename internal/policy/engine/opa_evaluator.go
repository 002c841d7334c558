package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.unifiedai.capabilities.allow"

// DefaultPolicy maps each workspace role to the capabilities it implies.
const DefaultPolicy = `package unifiedai.capabilities

role_capabilities := {
	"OWNER": {"read", "write", "delete", "share", "export", "admin"},
	"EDITOR": {"read", "write", "export"},
	"VIEWER": {"read"},
}

default allow := false

allow if {
	input.capability in role_capabilities[input.role]
}
`

// OPAEvaluator evaluates the role→capability policy with OPA Rego. The
// policy is compiled once; evaluation is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or DefaultPolicy when policy is empty.
// The module must define data.unifiedai.capabilities.allow.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"capabilities.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile capability policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare capability policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// NewOPAEvaluatorFromFile compiles the policy at path, or DefaultPolicy when path is empty.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

func (e *OPAEvaluator) Allows(ctx context.Context, role, capability string) (bool, error) {
	if role == "" || capability == "" {
		return false, nil
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":       role,
		"capability": capability,
	}))
	if err != nil {
		return false, fmt.Errorf("eval capability policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck evaluates a decision every policy must make: OWNER holds read.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.Allows(ctx, "OWNER", "read")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("capability policy denies OWNER read")
	}
	return nil
}
