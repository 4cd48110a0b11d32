package manifest

import (
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// A declarative build recipe: ordered stages, one assembler, and a set of
// externally fetched sources.
//
// Stage order is significant. Reordering stages produces a semantically
// different manifest with a different fingerprint chain.
type Manifest struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Sources  []Source `yaml:"sources"`
}

// The ordered stage list plus the terminal assembler.
type Pipeline struct {
	Stages    []Stage `yaml:"stages"`
	Assembler *Stage  `yaml:"assembler"`
}

// One pipeline step: a stage identifier and its options document.
//
// Options are arbitrary structured documents; the manifest does not
// interpret them. They are validated against the stage's schema and
// canonicalized for fingerprinting before execution.
type Stage struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// An externally fetched resource, addressed by its declared checksum.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Checksum string `yaml:"checksum"`
}

// Returns the declared checksum as a parsed digest.
func (s Source) Digest() (digest.Digest, error) {
	d, err := digest.Parse(s.Checksum)
	if err != nil {
		return "", fmt.Errorf("%w: source %q: checksum %q: %v", ErrManifest, s.Name, s.Checksum, err)
	}
	return d, nil
}

// Reads and parses a manifest file.
//
// The file may be YAML or JSON (YAML is a superset). The manifest is parsed
// once per build invocation and is read-only thereafter.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	return Parse(data)
}

// Parses a manifest document and validates its structure.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	for i := range m.Pipeline.Stages {
		m.Pipeline.Stages[i].Options = normalize(m.Pipeline.Stages[i].Options)
	}
	if m.Pipeline.Assembler != nil {
		m.Pipeline.Assembler.Options = normalize(m.Pipeline.Assembler.Options)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Checks structural constraints that parsing alone cannot express.
func (m *Manifest) validate() error {
	for i, stage := range m.Pipeline.Stages {
		if stage.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrManifest, i+1)
		}
	}
	if m.Pipeline.Assembler != nil && m.Pipeline.Assembler.Name == "" {
		return fmt.Errorf("%w: assembler has no name", ErrManifest)
	}
	for _, src := range m.Sources {
		if _, err := src.Digest(); err != nil {
			return err
		}
	}
	return nil
}

// Converts YAML map keys to strings recursively.
//
// yaml.v3 decodes nested mappings with non-string keys as map[any]any, which
// cannot be marshalled to JSON. All option documents are normalized on load
// so later canonicalization and validation see plain JSON-shaped values.
func normalize(options map[string]any) map[string]any {
	if options == nil {
		return nil
	}
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = normalizeValue(v)
	}
	return out
}

// Normalizes a single option value.
func normalizeValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return normalize(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
