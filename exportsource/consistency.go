package exportsource

import "context"

// ConsistencyLevel tells a source which database node it may read an export from.
type ConsistencyLevel int

const (
	// StrongConsistency reads from the primary, so an export sees every write committed before it started.
	StrongConsistency ConsistencyLevel = iota

	// EventualConsistency allows reads from a replica, which keeps large exports off the primary.
	EventualConsistency
)

type consistencyLevelKey struct{}

// WithConsistencyLevel returns a context carrying level for all count and page reads made with it.
//
// Counts and pages of one export should use the same level: counts from the primary and pages
// from a lagging replica can disagree.
func WithConsistencyLevel(ctx context.Context, level ConsistencyLevel) context.Context {
	return context.WithValue(ctx, consistencyLevelKey{}, level)
}

// WithStrongConsistency is WithConsistencyLevel(ctx, StrongConsistency).
func WithStrongConsistency(ctx context.Context) context.Context {
	return WithConsistencyLevel(ctx, StrongConsistency)
}

// WithEventualConsistency is WithConsistencyLevel(ctx, EventualConsistency).
//
//	ctx = exportsource.WithEventualConsistency(ctx)
//	cursor, err := c.Open(ctx, query)
func WithEventualConsistency(ctx context.Context) context.Context {
	return WithConsistencyLevel(ctx, EventualConsistency)
}

// GetConsistencyLevel returns the level carried by ctx, StrongConsistency if there is none.
func GetConsistencyLevel(ctx context.Context) ConsistencyLevel {
	if level, ok := ctx.Value(consistencyLevelKey{}).(ConsistencyLevel); ok {
		return level
	}

	return StrongConsistency
}

func (c ConsistencyLevel) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}
