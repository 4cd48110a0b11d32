package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "kiln"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Default path to the object store directory.
//
//	Linux:   ~/.cache/kiln/store
//	macOS:   ~/Library/Caches/kiln/store
func Store() string {
	return filepath.Join(xdg.CacheHome, appName, "store")
}

// Default path to the stage library directory.
//
// The library holds the stage, assembler, and source executables along with
// their schema documents.
//
//	Linux:   ~/.local/share/kiln/lib
//	macOS:   ~/Library/Application Support/kiln/lib
func Library() string {
	return filepath.Join(xdg.DataHome, appName, "lib")
}

// Default path to the engine configuration file.
//
//	Linux:   ~/.config/kiln/config.yaml
//	macOS:   ~/Library/Application Support/kiln/config.yaml
func Config() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}
