package cli

import (
	"errors"

	"github.com/kilnhq/kiln/internal/fingerprint"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/pipeline"
	"github.com/kilnhq/kiln/internal/schema"
	"github.com/kilnhq/kiln/internal/source"
	"github.com/kilnhq/kiln/internal/store"
)

// Maps an error returned by Execute to the process exit code.
//
// 0 success, 2 manifest or stage validation failure, 3 stage or assembler
// execution failure, 4 store I/O failure, 5 source fetch failure, 1
// anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrValidation),
		errors.Is(err, manifest.ErrManifest),
		errors.Is(err, schema.ErrInvalid),
		errors.Is(err, schema.ErrSchema),
		errors.Is(err, fingerprint.ErrFingerprint):
		return 2
	case errors.Is(err, pipeline.ErrExecution):
		return 3
	case errors.Is(err, store.ErrStore):
		return 4
	case errors.Is(err, source.ErrFetch):
		return 5
	default:
		return 1
	}
}
