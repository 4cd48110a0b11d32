// Package engine loads the build engine configuration.
//
// Settings come from a YAML config file, KILN_-prefixed environment
// variables, and built-in defaults, with the environment taking precedence
// over the file.
package engine
