package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/pipeline"
	"github.com/kilnhq/kiln/internal/schema"
	"github.com/kilnhq/kiln/internal/source"
	"github.com/kilnhq/kiln/internal/store"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("%w: stage %q at position 2: no such executable", pipeline.ErrValidation, "org.kiln.rpm"), 2},
		{fmt.Errorf("%w: unnamed stage", manifest.ErrManifest), 2},
		{fmt.Errorf("wrapped: %w", schema.ErrInvalid), 2},
		{fmt.Errorf("%w: stage %q at position 1: exit code 1", pipeline.ErrExecution, "org.kiln.rpm"), 3},
		{fmt.Errorf("%w: mkdir: permission denied", store.ErrStore), 4},
		{fmt.Errorf("%w: checksum mismatch", source.ErrFetch), 5},
		{errors.New("something else"), 1},
	}

	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
