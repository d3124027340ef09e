package engine

import "context"

// GateResult is the admission decision for one turn.
type GateResult struct {
	Allowed bool
	// Reason explains a refusal in caller-presentable terms.
	Reason string
}

// Gate is an optional per-user admission check: rate limits, usage caps,
// circuit breaking. The engine consults it before a turn and reports the
// outcome after; it never implements the policy itself.
type Gate interface {
	Check(ctx context.Context, userID string) (GateResult, error)
	RecordSuccess(ctx context.Context, userID string)
	RecordFailure(ctx context.Context, userID string)
}
