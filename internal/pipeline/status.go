package pipeline

import "fmt"

// Lifecycle state of one pipeline step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusCacheHit   Status = "cache-hit"
	StatusCacheMiss  Status = "cache-miss"
	StatusExecuting  Status = "executing"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Reports whether the transition from s to next is legal.
//
// The step lifecycle is pending -> validating -> cache-hit -> committed on
// the hit path, or validating -> cache-miss -> executing -> committed or
// failed on the miss path. Steps after a failure jump from pending to
// skipped. Committed, failed, and skipped are terminal for a step.
func (s Status) canAdvance(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusValidating || next == StatusSkipped
	case StatusValidating:
		return next == StatusCacheHit || next == StatusCacheMiss || next == StatusFailed || next == StatusSkipped
	case StatusCacheHit:
		return next == StatusCommitted
	case StatusCacheMiss:
		return next == StatusExecuting
	case StatusExecuting:
		return next == StatusCommitted || next == StatusFailed
	default:
		return false
	}
}

// Advances a step's status, enforcing transition legality.
//
// An illegal transition is an orchestrator bug, not a build failure, and
// panics rather than silently corrupting the build record.
func (s *Status) advance(next Status) {
	if !s.canAdvance(next) {
		panic(fmt.Sprintf("illegal step transition %s -> %s", *s, next))
	}
	*s = next
}
