package build

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/lucasnoah/ymir/internal/project"
)

// ErrPluginNotFound is returned when the build contains no Ymir plugin.
var ErrPluginNotFound = errors.New("ymir plugin not found")

const (
	pluginFileName  = "ymir.php"
	pluginSignature = "Plugin Name: Ymir"
)

// EnsurePluginIsInstalledStep checks that the Ymir plugin is part of the build.
type EnsurePluginIsInstalledStep struct {
	fs       afero.Fs
	buildDir string
}

func NewEnsurePluginIsInstalledStep(fs afero.Fs, buildDir string) *EnsurePluginIsInstalledStep {
	return &EnsurePluginIsInstalledStep{fs: fs, buildDir: strings.TrimRight(buildDir, "/")}
}

func (s *EnsurePluginIsInstalledStep) Description() string {
	return "Ensuring Ymir plugin is installed"
}

func (s *EnsurePluginIsInstalledStep) Perform(ctx context.Context, environment string, cfg *project.Configuration) error {
	typ, err := cfg.ProjectType()
	if err != nil {
		return err
	}

	found, err := s.countPluginFiles(filepath.Join(s.buildDir, PluginsPath(typ)))
	if err != nil {
		return err
	}
	if found == 0 {
		return ErrPluginNotFound
	}
	return nil
}

// PluginsPath returns the plugins directory, relative to the project root,
// for the given project type.
func PluginsPath(projectType string) string {
	if projectType == project.TypeBedrock {
		return "web/app/plugins"
	}
	return "wp-content/plugins"
}

// countPluginFiles counts ymir.php files exactly one directory below root
// that carry the plugin header.
func (s *EnsurePluginIsInstalledStep) countPluginFiles(root string) (int, error) {
	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		if ok, _ := afero.DirExists(s.fs, root); !ok {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), pluginFileName)
		ok, err := afero.FileContainsBytes(s.fs, path, []byte(pluginSignature))
		if err != nil {
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}
