//go:build capscr_nowasm

package plugin

// newWasmHandle fails explicitly when the build carries no WASM runtime.
// Silently downgrading a sandboxed plugin to some other backend would change
// the trust model, so this is a hard error.
func newWasmHandle(libraryPath string, m *Manifest) (*Handle, error) {
	return nil, ErrWasmDisabled
}
