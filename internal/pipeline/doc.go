// Package pipeline orchestrates manifest execution.
//
// A build validates every stage up front, computes the fingerprint chain,
// fetches sources concurrently, and then walks the stages in manifest
// order. Each step either reuses a cached tree snapshot or executes its
// stage process against a writable working tree and commits the result to
// the store. The assembler runs last, always, and writes the final
// artifact into the output directory.
package pipeline
