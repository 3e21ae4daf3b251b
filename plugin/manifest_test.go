package plugin

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifestTOML = `
[plugin]
id = "test-plugin"
name = "Test Plugin"
version = "1.0.0"
author = "Test Author"
description = "A test plugin"

[compatibility]
capscr = ">=0.2.0"
platforms = ["windows", "linux", "macos"]

[library]
windows = "test_plugin.dll"
linux = "libtest_plugin.so"
macos = "libtest_plugin.dylib"
`

func sampleManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(sampleManifestTOML))
	require.NoError(t, err)
	return m
}

func TestParseManifest(t *testing.T) {
	m := sampleManifest(t)

	assert.Equal(t, "test-plugin", m.Plugin.ID)
	assert.Equal(t, "Test Plugin", m.Plugin.Name)
	assert.Equal(t, "1.0.0", m.Plugin.Version)
	assert.Equal(t, ">=0.2.0", m.Compatibility.Capscr)
	assert.Equal(t, []string{"windows", "linux", "macos"}, m.Compatibility.Platforms)
	assert.NoError(t, m.Validate())
}

func TestParseManifestInvalidTOML(t *testing.T) {
	_, err := ParseManifest([]byte("not [valid toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse manifest")
}

func TestParseManifestDefaultPlatforms(t *testing.T) {
	content := `
[plugin]
id = "defaults"
name = "Defaults"
version = "1.0.0"
author = "Author"
description = ""

[compatibility]
capscr = ">=0.2.0"

[library]
windows = "defaults.dll"
`
	m, err := ParseManifest([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, []string{"windows", "linux"}, m.Compatibility.Platforms)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Manifest)
		field  string
	}{
		{"empty id", func(m *Manifest) { m.Plugin.ID = "" }, "plugin.id"},
		{"uppercase id", func(m *Manifest) { m.Plugin.ID = "Test-Plugin" }, "plugin.id"},
		{"id with spaces", func(m *Manifest) { m.Plugin.ID = "test plugin" }, "plugin.id"},
		{"id too long", func(m *Manifest) { m.Plugin.ID = strings.Repeat("a", 65) }, "plugin.id"},
		{"empty name", func(m *Manifest) { m.Plugin.Name = "" }, "plugin.name"},
		{"name too long", func(m *Manifest) { m.Plugin.Name = strings.Repeat("n", 129) }, "plugin.name"},
		{"empty version", func(m *Manifest) { m.Plugin.Version = "" }, "plugin.version"},
		{"invalid version", func(m *Manifest) { m.Plugin.Version = "one.two" }, "plugin.version"},
		{"partial version", func(m *Manifest) { m.Plugin.Version = "1.0" }, "plugin.version"},
		{"empty author", func(m *Manifest) { m.Plugin.Author = "" }, "plugin.author"},
		{"author too long", func(m *Manifest) { m.Plugin.Author = strings.Repeat("a", 129) }, "plugin.author"},
		{"description too long", func(m *Manifest) { m.Plugin.Description = strings.Repeat("d", 513) }, "plugin.description"},
		{"invalid requirement", func(m *Manifest) { m.Compatibility.Capscr = "not a requirement" }, "compatibility.capscr"},
		{"no platforms", func(m *Manifest) { m.Compatibility.Platforms = []string{} }, "compatibility.platforms"},
		{"unknown platform", func(m *Manifest) { m.Compatibility.Platforms = []string{"freebsd"} }, "compatibility.platforms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleManifest(t)
			tt.mutate(m)

			err := m.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	m := sampleManifest(t)
	m.Plugin.ID = "plugin-2"
	m.Plugin.Description = strings.Repeat("d", 512)
	assert.NoError(t, m.Validate())
}

func TestIsCompatible(t *testing.T) {
	m := sampleManifest(t)
	assert.NoError(t, m.isCompatibleWith("0.4.0", "linux"))
}

func TestIsCompatibleVersionMismatch(t *testing.T) {
	m := sampleManifest(t)
	m.Compatibility.Capscr = ">=99.0.0"

	err := m.isCompatibleWith("0.4.0", "linux")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleVersion))
	// The error names both the requirement and the installed version.
	assert.Contains(t, err.Error(), ">=99.0.0")
	assert.Contains(t, err.Error(), "0.4.0")
}

func TestIsCompatiblePlatformMismatch(t *testing.T) {
	m := sampleManifest(t)
	m.Compatibility.Platforms = []string{"windows"}

	err := m.isCompatibleWith("0.4.0", "linux")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))
}

func TestLibraryFilename(t *testing.T) {
	m := sampleManifest(t)

	name, ok := m.libraryFilenameFor("linux")
	require.True(t, ok)
	assert.Equal(t, "libtest_plugin.so", name)

	name, ok = m.libraryFilenameFor("windows")
	require.True(t, ok)
	assert.Equal(t, "test_plugin.dll", name)

	m.Library.MacOS = ""
	_, ok = m.libraryFilenameFor("macos")
	assert.False(t, ok)
}

func TestLibraryFilenameWasmAppliesEverywhere(t *testing.T) {
	m := sampleManifest(t)
	m.Library = Library{Wasm: "mod.wasm"}

	for _, platform := range []string{"windows", "linux", "macos"} {
		name, ok := m.libraryFilenameFor(platform)
		require.True(t, ok, platform)
		assert.Equal(t, "mod.wasm", name)
	}
}

func TestPluginType(t *testing.T) {
	m := sampleManifest(t)
	assert.Equal(t, TypeNative, m.Type())

	m.Library = Library{Wasm: "mod.wasm"}
	assert.Equal(t, TypeWasm, m.Type())

	m.Library = Library{Windows: "mod.wasm", Linux: "mod.wasm", MacOS: "mod.wasm"}
	assert.Equal(t, TypeWasm, m.Type())
}
