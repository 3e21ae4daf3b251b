package plugin

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Loader resolves install sources (plugin directories and zip archives)
// under a managed plugins root into loaded plugins.
type Loader struct {
	root string
}

// NewLoader creates a loader managing the given plugins root directory.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// LoadedPlugin pairs a validated manifest with its live execution handle.
type LoadedPlugin struct {
	Manifest *Manifest
	Handle   *Handle
}

// discoveredPlugin is a validated, not-yet-loaded candidate (lazy mode).
type discoveredPlugin struct {
	manifest  *Manifest
	directory string
}

// InstallFromZip installs a plugin archive into the managed root and returns
// the install directory. The manifest entry is read and checked first, by its
// fixed name, so an incompatible or malformed package fails before anything
// is extracted. On success the source archive is deleted.
func (l *Loader) InstallFromZip(zipPath string) (string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open zip archive: %w", err)
	}
	defer archive.Close()

	manifest, err := manifestFromArchive(&archive.Reader)
	if err != nil {
		return "", err
	}
	if err := manifest.Validate(); err != nil {
		return "", err
	}
	if err := manifest.IsCompatible(); err != nil {
		return "", err
	}

	pluginDir := filepath.Join(l.root, manifest.Plugin.ID)
	if err := os.RemoveAll(pluginDir); err != nil {
		return "", fmt.Errorf("remove existing plugin: %w", err)
	}
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return "", fmt.Errorf("create plugin directory: %w", err)
	}

	for _, entry := range archive.File {
		if err := extractEntry(pluginDir, entry); err != nil {
			return "", err
		}
	}

	archive.Close()
	if err := os.Remove(zipPath); err != nil {
		return "", fmt.Errorf("remove source archive: %w", err)
	}

	return pluginDir, nil
}

// extractEntry writes one archive entry beneath dir. Entries whose resolved
// path would land outside dir (absolute paths, ".." traversal) are rejected
// to prevent zip-slip writes outside the managed root.
func extractEntry(dir string, entry *zip.File) error {
	name := filepath.FromSlash(entry.Name)
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, entry.Name)
	}
	dest := filepath.Join(dir, name)

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	perm := entry.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}

	in, err := entry.Open()
	if err != nil {
		return fmt.Errorf("read zip entry %s: %w", entry.Name, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return nil
}

// manifestFromArchive parses the archive's manifest entry without touching
// any other entry.
func manifestFromArchive(archive *zip.Reader) (*Manifest, error) {
	f, err := archive.Open(ManifestFilename)
	if err != nil {
		return nil, fmt.Errorf("no %s found in plugin package", ManifestFilename)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(content)
}

// LoadFromDirectory re-validates the directory's manifest, resolves the
// platform library and constructs a live handle on the backend the manifest
// declares.
func (l *Loader) LoadFromDirectory(dir string) (*LoadedPlugin, error) {
	manifest, err := ManifestFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	if err := manifest.IsCompatible(); err != nil {
		return nil, err
	}

	libraryPath, err := resolveLibrary(dir, manifest)
	if err != nil {
		return nil, err
	}

	var handle *Handle
	switch manifest.Type() {
	case TypeWasm:
		handle, err = newWasmHandle(libraryPath, manifest)
	default:
		handle, err = openNative(libraryPath)
	}
	if err != nil {
		return nil, err
	}

	return &LoadedPlugin{Manifest: manifest, Handle: handle}, nil
}

// resolveLibrary returns the on-disk path of the manifest's library for the
// current platform. A missing entry or missing file is a hard error, never a
// silent skip.
func resolveLibrary(dir string, manifest *Manifest) (string, error) {
	name, ok := manifest.LibraryFilename()
	if !ok {
		return "", ErrMissingLibrary
	}
	libraryPath := filepath.Join(dir, name)
	if _, err := os.Stat(libraryPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, libraryPath)
	}
	return libraryPath, nil
}
