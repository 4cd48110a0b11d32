package fingerprint

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/manifest"
)

// Fingerprint of the empty tree, the chain value before the first stage.
var Root = digest.Canonical.FromBytes(nil)

// Link payload hashed for each step of the chain.
//
// Field order is fixed by the struct definition, so the serialized form is
// stable across runs and builds.
type link struct {
	Previous digest.Digest   `json:"previous"`
	Stage    string          `json:"stage"`
	Options  json.RawMessage `json:"options"`
}

// Computes the fingerprint for a pipeline step.
//
// The digest covers the previous chain value, the stage identifier, and the
// canonical serialization of the stage's options. Two option documents that
// differ only in key ordering produce the same fingerprint. Changing the
// previous value, the stage name, or any option value produces a different
// fingerprint.
func Next(previous digest.Digest, stage string, options map[string]any) (digest.Digest, error) {
	canon, err := Canonical(options)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(link{
		Previous: previous,
		Stage:    stage,
		Options:  canon,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFingerprint, err)
	}

	return digest.Canonical.FromBytes(payload), nil
}

// Returns the canonical JSON serialization of an options document.
//
// encoding/json sorts object keys, so semantically identical documents
// always serialize identically regardless of source ordering. A nil
// document canonicalizes to the empty object.
func Canonical(options map[string]any) ([]byte, error) {
	if options == nil {
		options = map[string]any{}
	}
	canon, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("%w: options are not serializable: %v", ErrFingerprint, err)
	}
	return canon, nil
}

// Computes the fingerprint chain for every stage of a manifest.
//
// The result has one digest per stage, in declaration order. The chain
// starts at [Root]; element i is the fingerprint of the tree after stages
// 0..i have run.
func Chain(m *manifest.Manifest) ([]digest.Digest, error) {
	chain := make([]digest.Digest, 0, len(m.Pipeline.Stages))

	previous := Root
	for i, stage := range m.Pipeline.Stages {
		fp, err := Next(previous, stage.Name, stage.Options)
		if err != nil {
			return nil, fmt.Errorf("stage %q at position %d: %w", stage.Name, i+1, err)
		}
		chain = append(chain, fp)
		previous = fp
	}

	return chain, nil
}
