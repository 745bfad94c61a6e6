package build

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// Paths inside the project directory used by the build.
const (
	WorkDir      = ".ymir"
	BuildDirName = "build"
	ArtifactName = "build.zip"
	IgnoreFile   = ".ymirignore"
)

// BuildDir returns the directory the project is copied to before building.
func BuildDir(projectDir string) string {
	return filepath.Join(projectDir, WorkDir, BuildDirName)
}

// ArtifactPath returns the path of the compressed build.
func ArtifactPath(projectDir string) string {
	return filepath.Join(projectDir, WorkDir, ArtifactName)
}

// DefaultSteps returns the standard build: copy, build commands, plugin
// check, compress.
func DefaultSteps(fs afero.Fs, runner CommandRunner, projectDir string) []Step {
	buildDir := BuildDir(projectDir)
	return []Step{
		NewCopyProjectFilesStep(fs, projectDir, buildDir),
		NewExecuteBuildCommandsStep(runner, buildDir),
		NewEnsurePluginIsInstalledStep(fs, buildDir),
		NewCompressBuildFilesStep(fs, buildDir, ArtifactPath(projectDir)),
	}
}
