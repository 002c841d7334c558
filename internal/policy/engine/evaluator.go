package engine

import "context"

// Evaluator answers whether a workspace role implies a capability.
type Evaluator interface {
	// Allows reports whether role grants capability. Unknown roles and
	// capabilities are denied.
	Allows(ctx context.Context, role, capability string) (bool, error)
}
