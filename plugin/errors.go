package plugin

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes callers branch on. Everything else
// crosses the boundary as a wrapped, human-readable error string.
var (
	// ErrIncompatibleVersion means the host version does not satisfy the
	// manifest's capscr requirement.
	ErrIncompatibleVersion = errors.New("incompatible capscr version")
	// ErrUnsupportedPlatform means the current platform is not listed in
	// the manifest's compatibility.platforms.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrMissingLibrary means the manifest ships no library for the
	// current platform. The loader treats this as a hard failure.
	ErrMissingLibrary = errors.New("no library specified for current platform")
	// ErrLibraryNotFound means the manifest names a library file that does
	// not exist in the plugin directory.
	ErrLibraryNotFound = errors.New("library file not found")
	// ErrDuplicatePlugin means a plugin with the same id is already loaded
	// or discovered. The first registration wins.
	ErrDuplicatePlugin = errors.New("plugin id already registered")
	// ErrUnsafeArchivePath means a zip entry resolved outside the plugin's
	// install directory (absolute or ".."-traversing path).
	ErrUnsafeArchivePath = errors.New("archive entry escapes plugin directory")
	// ErrWasmDisabled means this build was compiled without WASM plugin
	// support. Loading a WASM plugin fails explicitly instead of silently
	// downgrading.
	ErrWasmDisabled = errors.New("WASM plugins are disabled in this build")
)

// ValidationError reports exactly one violated manifest constraint, so a
// malformed manifest is attributable to a specific field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Reason)
}
