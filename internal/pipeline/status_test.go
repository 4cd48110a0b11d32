package pipeline

import "testing"

func TestStatusAdvanceHitPath(t *testing.T) {
	s := StatusPending
	for _, next := range []Status{StatusValidating, StatusCacheHit, StatusCommitted} {
		s.advance(next)
	}
	if s != StatusCommitted {
		t.Fatalf("status = %q, want %q", s, StatusCommitted)
	}
}

func TestStatusAdvanceMissPath(t *testing.T) {
	s := StatusPending
	for _, next := range []Status{StatusValidating, StatusCacheMiss, StatusExecuting, StatusCommitted} {
		s.advance(next)
	}
	if s != StatusCommitted {
		t.Fatalf("status = %q, want %q", s, StatusCommitted)
	}
}

func TestStatusAdvanceIllegal(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusPending, StatusExecuting},
		{StatusPending, StatusCommitted},
		{StatusValidating, StatusExecuting},
		{StatusCacheHit, StatusExecuting},
		{StatusCacheMiss, StatusCommitted},
		{StatusCommitted, StatusFailed},
		{StatusFailed, StatusExecuting},
		{StatusSkipped, StatusValidating},
	}

	for _, tc := range cases {
		s := tc.from
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("advance(%q -> %q) did not panic", tc.from, tc.to)
				}
			}()
			s.advance(tc.to)
		}()
	}
}

func TestStatusTerminalStates(t *testing.T) {
	all := []Status{
		StatusPending, StatusValidating, StatusCacheHit, StatusCacheMiss,
		StatusExecuting, StatusCommitted, StatusFailed, StatusSkipped,
	}
	for _, terminal := range []Status{StatusCommitted, StatusFailed, StatusSkipped} {
		for _, next := range all {
			if terminal.canAdvance(next) {
				t.Errorf("canAdvance(%q -> %q) = true, want false", terminal, next)
			}
		}
	}
}
