package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gitignore "github.com/monochromegane/go-gitignore"
	"github.com/spf13/afero"

	"github.com/lucasnoah/ymir/internal/project"
)

// alwaysExcluded are never copied into the build directory.
var alwaysExcluded = map[string]bool{
	".git":           true,
	".idea":          true,
	WorkDir:          true,
	project.FileName: true,
}

// CopyProjectFilesStep copies the project into a clean build directory,
// honoring patterns from the project's .ymirignore.
type CopyProjectFilesStep struct {
	fs         afero.Fs
	projectDir string
	buildDir   string
}

func NewCopyProjectFilesStep(fs afero.Fs, projectDir, buildDir string) *CopyProjectFilesStep {
	return &CopyProjectFilesStep{
		fs:         fs,
		projectDir: filepath.Clean(projectDir),
		buildDir:   filepath.Clean(buildDir),
	}
}

func (s *CopyProjectFilesStep) Description() string {
	return "Copying project files"
}

func (s *CopyProjectFilesStep) Perform(ctx context.Context, environment string, cfg *project.Configuration) error {
	if err := s.fs.RemoveAll(s.buildDir); err != nil {
		return fmt.Errorf("clean build directory: %w", err)
	}
	if err := s.fs.MkdirAll(s.buildDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.buildDir, err)
	}

	ignore, err := s.ignoreMatcher()
	if err != nil {
		return err
	}

	return afero.Walk(s.fs, s.projectDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == s.projectDir {
			return nil
		}
		rel, err := filepath.Rel(s.projectDir, path)
		if err != nil {
			return err
		}
		if alwaysExcluded[rel] || (ignore != nil && ignore.Match(path, info.IsDir())) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(s.buildDir, rel)
		switch {
		case info.IsDir():
			return s.fs.MkdirAll(target, 0o755)
		case info.Mode().IsRegular():
			return copyFile(s.fs, path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func (s *CopyProjectFilesStep) ignoreMatcher() (gitignore.IgnoreMatcher, error) {
	path := filepath.Join(s.projectDir, IgnoreFile)
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", IgnoreFile, err)
	}
	return gitignore.NewGitIgnoreFromReader(s.projectDir, bytes.NewReader(data)), nil
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
