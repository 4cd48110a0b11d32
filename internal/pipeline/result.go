package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/paths"
)

// File name of the build record written into the output directory.
const resultFile = "result.json"

// Record of one executed, reused, or skipped pipeline step.
type StepRecord struct {
	Name        string        `json:"name"`
	Position    int           `json:"position"` // 1-based position in the manifest.
	Fingerprint digest.Digest `json:"fingerprint,omitempty"`
	Status      Status        `json:"status"`
	Cached      bool          `json:"cached,omitempty"` // Whether the step reused a stored snapshot.
	Duration    time.Duration `json:"duration,omitempty"`
	Output      string        `json:"output,omitempty"` // Captured stdout and stderr.
	Error       string        `json:"error,omitempty"`
}

// Structured outcome of a build.
//
// The final artifact is whatever the assembler wrote into the output
// directory; the result is the metadata around it. It is not cached: the
// assembler reruns on every build.
type Result struct {
	Steps     []StepRecord `json:"steps"`
	Assembler *StepRecord  `json:"assembler,omitempty"`
	OutputDir string       `json:"output_dir"`
}

// Writes the build record into the output directory.
func (r *Result) write() error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.OutputDir, resultFile), data, paths.DefaultFileMode)
}
