package plugin

import (
	"fmt"
	goplugin "plugin"
)

// NativeConstructorSymbol is the fixed exported symbol every native plugin
// library provides.
const NativeConstructorSymbol = "CreatePlugin"

// CreatePluginFunc is the signature of the exported constructor.
type CreatePluginFunc = func() Plugin

// openNative loads a native dynamic library and invokes its constructor.
//
// There is no sandboxing on this path: native plugins run with full host
// process privileges. That is the documented trust boundary, not an
// oversight.
func openNative(libraryPath string) (*Handle, error) {
	lib, err := goplugin.Open(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("load native library %s: %w", libraryPath, err)
	}

	sym, err := lib.Lookup(NativeConstructorSymbol)
	if err != nil {
		return nil, fmt.Errorf("native library %s: %w", libraryPath, err)
	}

	create, ok := sym.(CreatePluginFunc)
	if !ok {
		return nil, fmt.Errorf("native library %s: %s is not a func() plugin.Plugin",
			libraryPath, NativeConstructorSymbol)
	}

	return &Handle{
		kind:    backendNative,
		plugin:  create(),
		library: lib,
	}, nil
}
