package plugin

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns the set of loaded and discovered plugins and drives
// discovery, event dispatch and load/unload lifecycle. It holds no internal
// locking; callers on multiple goroutines must serialize access externally.
type Manager struct {
	loaded     []*LoadedPlugin
	discovered []*discoveredPlugin
	enabled    bool
	lazy       bool
	root       string
	loader     *Loader
	logger     *slog.Logger
}

// NewManager creates a manager over the given plugins root. Lazy loading is
// on by default: discovery only validates manifests and defers library
// loading to the first dispatch. That trades later error discovery for a
// faster, non-blocking startup.
func NewManager(root string) *Manager {
	return &Manager{
		enabled: true,
		lazy:    true,
		root:    root,
		loader:  NewLoader(root),
		logger:  slog.Default(),
	}
}

// SetLogger replaces the logger used for collected per-plugin load errors.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// PluginsRoot returns the managed plugins directory.
func (m *Manager) PluginsRoot() string { return m.root }

// SetLazyLoading toggles deferred library loading for subsequent discovery.
func (m *Manager) SetLazyLoading(lazy bool) { m.lazy = lazy }

// LazyLoading reports whether discovery defers library loading.
func (m *Manager) LazyLoading() bool { return m.lazy }

// SetEnabled toggles dispatch. While disabled, Dispatch returns Continue
// without invoking any plugin or touching manager state.
func (m *Manager) SetEnabled(enabled bool) { m.enabled = enabled }

// Enabled reports whether dispatch is active.
func (m *Manager) Enabled() bool { return m.enabled }

// LoadAll scans the plugins root once. Each subdirectory holding a manifest
// is a candidate; each .zip archive is installed into a subdirectory first.
// In lazy mode candidates are manifest-validated and queued; in eager mode
// they are fully loaded. Per-candidate errors are collected and returned so
// one bad plugin never blocks the rest.
func (m *Manager) LoadAll() []error {
	var errs []error
	m.discovered = nil

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return []error{fmt.Errorf("create plugins directory: %w", err)}
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return []error{fmt.Errorf("read plugins directory: %w", err)}
	}

	for _, entry := range entries {
		path := filepath.Join(m.root, entry.Name())

		switch {
		case entry.IsDir():
			if err := m.acquire(path); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		case strings.EqualFold(filepath.Ext(entry.Name()), ".zip"):
			pluginDir, err := m.loader.InstallFromZip(path)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			if err := m.acquire(pluginDir); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", pluginDir, err))
			}
		}
	}

	return errs
}

// acquire takes one candidate directory according to the loading mode.
func (m *Manager) acquire(dir string) error {
	if m.lazy {
		return m.discoverFromDirectory(dir)
	}
	return m.LoadFromDirectory(dir)
}

// discoverFromDirectory validates a candidate and queues it for deferred
// loading without touching its library.
func (m *Manager) discoverFromDirectory(dir string) error {
	manifest, err := ManifestFromDirectory(dir)
	if err != nil {
		return err
	}
	if err := manifest.Validate(); err != nil {
		return err
	}
	if err := manifest.IsCompatible(); err != nil {
		return err
	}
	if _, err := resolveLibrary(dir, manifest); err != nil {
		return err
	}
	if m.hasID(manifest.Plugin.ID) {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, manifest.Plugin.ID)
	}

	m.discovered = append(m.discovered, &discoveredPlugin{
		manifest:  manifest,
		directory: dir,
	})
	return nil
}

// LoadPending promotes every discovered plugin to loaded, collecting
// per-plugin errors instead of raising them.
func (m *Manager) LoadPending() []error {
	pending := m.discovered
	m.discovered = nil

	var errs []error
	for _, d := range pending {
		if m.isLoaded(d.manifest.Plugin.ID) {
			continue
		}
		if err := m.LoadFromDirectory(d.directory); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.directory, err))
		}
	}
	return errs
}

// InstallFromZip installs a plugin archive into the managed root and loads
// it immediately.
func (m *Manager) InstallFromZip(zipPath string) error {
	pluginDir, err := m.loader.InstallFromZip(zipPath)
	if err != nil {
		return err
	}
	return m.LoadFromDirectory(pluginDir)
}

// LoadFromDirectory loads the plugin in dir and registers it. Duplicate ids
// are rejected before any plugin code is constructed; loading the directory
// a discovered plugin was queued from promotes it instead.
func (m *Manager) LoadFromDirectory(dir string) error {
	manifest, err := ManifestFromDirectory(dir)
	if err != nil {
		return err
	}
	if m.isLoaded(manifest.Plugin.ID) {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, manifest.Plugin.ID)
	}
	if d := m.findDiscovered(manifest.Plugin.ID); d != nil && d.directory != dir {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, manifest.Plugin.ID)
	}

	loaded, err := m.loader.LoadFromDirectory(dir)
	if err != nil {
		return err
	}
	return m.register(loaded)
}

// register adds a constructed plugin to the loaded set. The id must be
// unique across the union of loaded and discovered plugins.
func (m *Manager) register(loaded *LoadedPlugin) error {
	id := loaded.Manifest.Plugin.ID
	if m.isLoaded(id) {
		loaded.Handle.Close()
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, id)
	}

	loaded.Handle.OnLoad()

	m.dropDiscovered(id)
	m.loaded = append(m.loaded, loaded)
	return nil
}

// Dispatch delivers one event to every loaded plugin in load order and folds
// their responses. A Cancel halts the chain immediately; the last
// ModifiedImage wins. Every plugin sees the same event value; modified
// images are not threaded back into the events later plugins observe.
func (m *Manager) Dispatch(event *Event) Response {
	if !m.enabled {
		return Continue()
	}

	if m.lazy {
		for _, err := range m.LoadPending() {
			m.logger.Warn("plugin load error", "error", err)
		}
	}

	var current *image.RGBA
	for _, loaded := range m.loaded {
		response := loaded.Handle.OnEvent(event)
		switch response.Kind {
		case ResponseCancel:
			return response
		case ResponseModifiedImage:
			current = response.Image
		}
	}

	if current != nil {
		return ModifiedImage(current)
	}
	return Continue()
}

// Unload removes the plugin with the given id from both the discovered and
// loaded sets. OnUnload fires exactly once if the plugin was loaded.
// Unknown ids are a no-op returning false.
func (m *Manager) Unload(id string) bool {
	m.dropDiscovered(id)

	for i, loaded := range m.loaded {
		if loaded.Manifest.Plugin.ID != id {
			continue
		}
		m.loaded = append(m.loaded[:i], m.loaded[i+1:]...)
		loaded.Handle.OnUnload()
		loaded.Handle.Close()
		return true
	}
	return false
}

// Close unloads every still-loaded plugin in reverse load order, calling
// OnUnload before releasing any backing resources.
func (m *Manager) Close() error {
	for i := len(m.loaded) - 1; i >= 0; i-- {
		m.loaded[i].Handle.OnUnload()
		m.loaded[i].Handle.Close()
	}
	m.loaded = nil
	m.discovered = nil
	return nil
}

// List returns the manifests of all loaded and discovered plugins.
func (m *Manager) List() []*Manifest {
	manifests := make([]*Manifest, 0, len(m.loaded)+len(m.discovered))
	for _, loaded := range m.loaded {
		manifests = append(manifests, loaded.Manifest)
	}
	for _, d := range m.discovered {
		manifests = append(manifests, d.manifest)
	}
	return manifests
}

// Count returns the number of loaded plus discovered plugins.
func (m *Manager) Count() int {
	return len(m.loaded) + len(m.discovered)
}

// Get returns the manifest for id, loaded or discovered, or nil.
func (m *Manager) Get(id string) *Manifest {
	for _, loaded := range m.loaded {
		if loaded.Manifest.Plugin.ID == id {
			return loaded.Manifest
		}
	}
	for _, d := range m.discovered {
		if d.manifest.Plugin.ID == id {
			return d.manifest
		}
	}
	return nil
}

func (m *Manager) isLoaded(id string) bool {
	for _, loaded := range m.loaded {
		if loaded.Manifest.Plugin.ID == id {
			return true
		}
	}
	return false
}

func (m *Manager) findDiscovered(id string) *discoveredPlugin {
	for _, d := range m.discovered {
		if d.manifest.Plugin.ID == id {
			return d
		}
	}
	return nil
}

func (m *Manager) hasID(id string) bool {
	return m.isLoaded(id) || m.findDiscovered(id) != nil
}

func (m *Manager) dropDiscovered(id string) {
	kept := m.discovered[:0]
	for _, d := range m.discovered {
		if d.manifest.Plugin.ID != id {
			kept = append(kept, d)
		}
	}
	m.discovered = kept
}
