// Package source fetches externally declared build inputs.
//
// A source is addressed by the checksum declared in the manifest, fetched
// at most once per checksum, and cached in the object store until pruned.
// Fetching delegates to a source executable from the stage library when one
// exists, and falls back to a built-in HTTP/file fetcher otherwise. Every
// payload is verified against its declared checksum before use; a mismatch
// is fatal to the build.
package source
