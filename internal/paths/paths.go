package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "strata"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the default layer cache directory.
//
//	Linux:   $XDG_CACHE_HOME/strata or ~/.cache/strata
//	macOS:   ~/Library/Caches/strata
func Cache() string {
	return filepath.Join(xdg.CacheHome, toolName)
}

// Path to the scratch directory for build roots and step workdirs.
//
//	Linux:   $XDG_RUNTIME_DIR/strata or ~/.cache/strata/work
//	macOS:   ~/Library/Caches/strata/work
func Work() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, toolName)
	}
	return filepath.Join(xdg.CacheHome, toolName, "work")
}
