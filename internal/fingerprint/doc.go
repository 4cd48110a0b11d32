// Package fingerprint computes content identifiers for pipeline steps.
//
// Each step's fingerprint is a digest over the previous step's fingerprint,
// the stage identifier, and a canonical serialization of the stage options.
// The chain starts at a fixed root value representing the empty tree, so
// changing any earlier step invalidates every later fingerprint. Given
// deterministic stages, equal fingerprint chains guarantee byte-identical
// trees, which is what makes the object store safe to share between builds.
package fingerprint
