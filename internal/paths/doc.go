// Package paths provides default filesystem locations for kiln.
//
// Locations follow the XDG base directory specification: the object store
// lives under the user cache directory, the stage library under the user
// data directory, and the configuration file under the user config
// directory. All of them can be overridden via configuration or flags.
package paths
