// Package manifest defines the declarative build recipe.
//
// A manifest names an ordered list of pipeline stages with per-stage
// options, a terminal assembler, and a set of checksum-addressed sources.
// Manifests are YAML documents (JSON manifests parse as well, since YAML is
// a superset) and are read exactly once per build invocation.
//
// The package only parses and structurally validates manifests. Option
// documents pass through untouched apart from key normalization; schema
// validation and fingerprinting happen in their own packages.
package manifest
