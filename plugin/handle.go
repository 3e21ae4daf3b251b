package plugin

import (
	goplugin "plugin"
)

type backendKind int

const (
	backendNative backendKind = iota
	backendWasm
	backendTest
)

// Handle owns a loaded plugin's execution backend. It is a closed tagged
// variant: native handles pair the boxed plugin object with the dynamic
// library it was constructed from, WASM handles wrap a sandbox adapter, and
// test handles carry an in-process object.
//
// Invariant for native handles: the plugin object's code lives inside the
// mapped library, so the library reference must be held until the object has
// been unloaded and dropped.
type Handle struct {
	kind   backendKind
	plugin Plugin

	// library pins the mapped dynamic library for native handles.
	library *goplugin.Plugin
}

func newTestHandle(p Plugin) *Handle {
	return &Handle{kind: backendTest, plugin: p}
}

// OnEvent forwards one event to the backend.
func (h *Handle) OnEvent(event *Event) Response {
	return h.plugin.OnEvent(event)
}

// OnLoad notifies the backend it has been loaded.
func (h *Handle) OnLoad() {
	h.plugin.OnLoad()
}

// OnUnload notifies the backend it is about to be released.
func (h *Handle) OnUnload() {
	h.plugin.OnUnload()
}

// Close releases backend resources in reverse order of acquisition.
func (h *Handle) Close() error {
	switch h.kind {
	case backendNative:
		// Drop the plugin object before the library reference. Go never
		// unmaps a loaded plugin library, but the teardown order is part
		// of the handle's contract and must hold if the runtime ever
		// does.
		h.plugin = nil
		h.library = nil
		return nil
	case backendWasm:
		closer, ok := h.plugin.(interface{ Close() error })
		h.plugin = nil
		if ok {
			return closer.Close()
		}
		return nil
	default:
		h.plugin = nil
		return nil
	}
}
