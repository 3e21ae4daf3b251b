// pluginctl inspects and manages a capscr plugins directory from the
// command line: validate a manifest, list installed plugins, or install a
// plugin archive.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/capscr/capscr/plugin"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "list":
		err = runList(logger, os.Args[2:])
	case "install":
		err = runInstall(logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: pluginctl <command> [flags]

Commands:
  validate -manifest <path>        Validate a plugin manifest
  list     -root <dir>             List installed plugins
  install  -root <dir> -zip <path> Install a plugin archive
`)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "Path to manifest.toml")
	fs.Parse(args)

	if *manifestPath == "" {
		return fmt.Errorf("-manifest is required")
	}

	manifest, err := plugin.ManifestFromFile(*manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.Validate(); err != nil {
		return err
	}
	if err := manifest.IsCompatible(); err != nil {
		return err
	}

	fmt.Printf("%s %s by %s: ok\n", manifest.Plugin.ID, manifest.Plugin.Version, manifest.Plugin.Author)
	return nil
}

func runList(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	root := fs.String("root", "", "Plugins root directory")
	fs.Parse(args)

	if *root == "" {
		return fmt.Errorf("-root is required")
	}

	// Lazy mode validates manifests without executing any plugin code.
	manager := plugin.NewManager(*root)
	manager.SetLogger(logger)
	manager.SetLazyLoading(true)
	defer manager.Close()

	for _, err := range manager.LoadAll() {
		logger.Warn("skipping plugin", "error", err)
	}

	for _, m := range manager.List() {
		kind := "native"
		if m.Type() == plugin.TypeWasm {
			kind = "wasm"
		}
		fmt.Printf("%-24s %-10s %-8s %s\n", m.Plugin.ID, m.Plugin.Version, kind, m.Plugin.Name)
	}
	return nil
}

func runInstall(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	root := fs.String("root", "", "Plugins root directory")
	zipPath := fs.String("zip", "", "Path to plugin .zip archive")
	fs.Parse(args)

	if *root == "" || *zipPath == "" {
		return fmt.Errorf("-root and -zip are required")
	}

	manager := plugin.NewManager(*root)
	manager.SetLogger(logger)
	defer manager.Close()

	if err := manager.InstallFromZip(*zipPath); err != nil {
		return err
	}

	logger.Info("plugin installed", "root", *root)
	return nil
}
