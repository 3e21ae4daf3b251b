//go:build !capscr_nowasm

package plugin

import (
	"github.com/capscr/capscr/plugin/sandbox"
)

// wasmPlugin adapts a sandboxed WASM module to the Plugin interface. The
// metadata comes from the manifest; the module itself only implements
// on_event and the optional lifecycle exports.
type wasmPlugin struct {
	name        string
	version     string
	description string
	box         *sandbox.Sandbox
}

func newWasmHandle(libraryPath string, m *Manifest) (*Handle, error) {
	box, err := sandbox.New(libraryPath)
	if err != nil {
		return nil, err
	}
	wp := &wasmPlugin{
		name:        m.Plugin.Name,
		version:     m.Plugin.Version,
		description: m.Plugin.Description,
		box:         box,
	}
	return &Handle{kind: backendWasm, plugin: wp}, nil
}

func (w *wasmPlugin) Name() string        { return w.name }
func (w *wasmPlugin) Version() string     { return w.version }
func (w *wasmPlugin) Description() string { return w.description }

func (w *wasmPlugin) OnEvent(event *Event) Response {
	switch event.Kind {
	case EventPostCapture, EventPreSave, EventPreUpload:
		w.box.SetImage(event.Image)
	}

	switch w.box.CallEvent(int32(event.Kind)) {
	case sandbox.ResultCancel:
		return Cancel()
	case sandbox.ResultModifiedImage:
		if img := w.box.ModifiedImage(); img != nil {
			return ModifiedImage(img)
		}
		return Continue()
	default:
		return Continue()
	}
}

func (w *wasmPlugin) OnLoad()   { w.box.OnLoad() }
func (w *wasmPlugin) OnUnload() { w.box.OnUnload() }

func (w *wasmPlugin) Close() error { return w.box.Close() }
