package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// ManifestFilename is the fixed name of the descriptor every plugin ships.
const ManifestFilename = "manifest.toml"

// PluginType selects the execution backend a plugin uses.
type PluginType int

const (
	TypeNative PluginType = iota
	TypeWasm
)

// Manifest is a plugin's declarative descriptor. It is parsed and validated
// independently of any plugin code execution and is immutable once parsed.
type Manifest struct {
	Plugin        Info          `toml:"plugin"`
	Compatibility Compatibility `toml:"compatibility"`
	Library       Library       `toml:"library"`
}

// Info describes the plugin itself.
type Info struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Author      string `toml:"author"`
	Description string `toml:"description"`
	License     string `toml:"license,omitempty"`
	Website     string `toml:"website,omitempty"`
	Repository  string `toml:"repository,omitempty"`
}

// Compatibility declares which hosts the plugin supports.
type Compatibility struct {
	// Capscr is a semver requirement on the host version, e.g. ">=0.2.0".
	Capscr string `toml:"capscr"`
	// Platforms lists supported platforms. Defaults to windows and linux
	// when the key is absent.
	Platforms []string `toml:"platforms,omitempty"`
}

// Library names the shipped library files. Wasm applies to every platform;
// the remaining entries are per-platform native libraries.
type Library struct {
	Wasm    string `toml:"wasm,omitempty"`
	Windows string `toml:"windows,omitempty"`
	Linux   string `toml:"linux,omitempty"`
	MacOS   string `toml:"macos,omitempty"`
}

var knownPlatforms = []string{"windows", "linux", "macos"}

// ParseManifest parses TOML manifest content.
func ParseManifest(content []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Compatibility.Platforms == nil {
		m.Compatibility.Platforms = []string{"windows", "linux"}
	}
	return &m, nil
}

// ManifestFromFile reads and parses the manifest at path.
func ManifestFromFile(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(content)
}

// ManifestFromDirectory reads the manifest a plugin directory must contain.
func ManifestFromDirectory(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFilename)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no %s found in plugin directory %s", ManifestFilename, dir)
	}
	return ManifestFromFile(path)
}

// Validate checks every manifest constraint independently and reports the
// first violation as a ValidationError naming the offending field.
func (m *Manifest) Validate() error {
	if m.Plugin.ID == "" {
		return &ValidationError{Field: "plugin.id", Reason: "cannot be empty"}
	}
	if !validPluginID(m.Plugin.ID) {
		return &ValidationError{Field: "plugin.id", Reason: "must be lowercase alphanumeric with hyphens only"}
	}
	if len(m.Plugin.ID) > 64 {
		return &ValidationError{Field: "plugin.id", Reason: "cannot exceed 64 characters"}
	}
	if m.Plugin.Name == "" {
		return &ValidationError{Field: "plugin.name", Reason: "cannot be empty"}
	}
	if len(m.Plugin.Name) > 128 {
		return &ValidationError{Field: "plugin.name", Reason: "cannot exceed 128 characters"}
	}
	if m.Plugin.Version == "" {
		return &ValidationError{Field: "plugin.version", Reason: "cannot be empty"}
	}
	if _, err := semver.StrictNewVersion(m.Plugin.Version); err != nil {
		return &ValidationError{Field: "plugin.version", Reason: "must be valid semver (e.g. 1.0.0)"}
	}
	if m.Plugin.Author == "" {
		return &ValidationError{Field: "plugin.author", Reason: "cannot be empty"}
	}
	if len(m.Plugin.Author) > 128 {
		return &ValidationError{Field: "plugin.author", Reason: "cannot exceed 128 characters"}
	}
	if len(m.Plugin.Description) > 512 {
		return &ValidationError{Field: "plugin.description", Reason: "cannot exceed 512 characters"}
	}
	if _, err := semver.NewConstraint(m.Compatibility.Capscr); err != nil {
		return &ValidationError{Field: "compatibility.capscr", Reason: "must be a valid semver requirement"}
	}
	if len(m.Compatibility.Platforms) == 0 {
		return &ValidationError{Field: "compatibility.platforms", Reason: "at least one platform must be specified"}
	}
	for _, p := range m.Compatibility.Platforms {
		if !slices.Contains(knownPlatforms, p) {
			return &ValidationError{Field: "compatibility.platforms", Reason: fmt.Sprintf("invalid platform: %s", p)}
		}
	}
	return nil
}

// IsCompatible reports whether this host can run the plugin: the host
// version must satisfy the manifest's capscr requirement and the current
// platform must be listed.
func (m *Manifest) IsCompatible() error {
	return m.isCompatibleWith(HostVersion, currentPlatform())
}

func (m *Manifest) isCompatibleWith(hostVersion, platform string) error {
	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("invalid capscr version %q: %w", hostVersion, err)
	}
	req, err := semver.NewConstraint(m.Compatibility.Capscr)
	if err != nil {
		return fmt.Errorf("invalid compatibility requirement %q: %w", m.Compatibility.Capscr, err)
	}
	if !req.Check(host) {
		return fmt.Errorf("%w: plugin requires capscr %s, but %s is installed",
			ErrIncompatibleVersion, m.Compatibility.Capscr, hostVersion)
	}
	if !slices.Contains(m.Compatibility.Platforms, platform) {
		return fmt.Errorf("%w: plugin does not support %s (supports: %s)",
			ErrUnsupportedPlatform, platform, strings.Join(m.Compatibility.Platforms, ", "))
	}
	return nil
}

// LibraryFilename selects the library shipped for the current platform.
// The second return is false when the plugin ships nothing for this
// platform, which the loader treats as a hard load failure.
func (m *Manifest) LibraryFilename() (string, bool) {
	return m.libraryFilenameFor(currentPlatform())
}

func (m *Manifest) libraryFilenameFor(platform string) (string, bool) {
	if m.Library.Wasm != "" {
		return m.Library.Wasm, true
	}
	var name string
	switch platform {
	case "windows":
		name = m.Library.Windows
	case "linux":
		name = m.Library.Linux
	case "macos":
		name = m.Library.MacOS
	}
	return name, name != ""
}

// Type reports which backend executes this plugin. A plugin is sandboxed
// when it ships a wasm library entry or the selected filename is a .wasm
// module; everything else is native.
func (m *Manifest) Type() PluginType {
	if m.Library.Wasm != "" {
		return TypeWasm
	}
	if name, ok := m.LibraryFilename(); ok && strings.HasSuffix(name, ".wasm") {
		return TypeWasm
	}
	return TypeNative
}

func validPluginID(id string) bool {
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return false
	}
	return true
}
