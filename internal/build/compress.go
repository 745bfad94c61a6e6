package build

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/lucasnoah/ymir/internal/project"
)

// CompressBuildFilesStep zips the build directory into the build artifact.
type CompressBuildFilesStep struct {
	fs           afero.Fs
	buildDir     string
	artifactPath string
}

func NewCompressBuildFilesStep(fs afero.Fs, buildDir, artifactPath string) *CompressBuildFilesStep {
	return &CompressBuildFilesStep{fs: fs, buildDir: filepath.Clean(buildDir), artifactPath: artifactPath}
}

func (s *CompressBuildFilesStep) Description() string {
	return "Compressing build files"
}

func (s *CompressBuildFilesStep) Perform(ctx context.Context, environment string, cfg *project.Configuration) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.artifactPath), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.artifactPath), err)
	}
	out, err := s.fs.OpenFile(s.artifactPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.artifactPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = afero.Walk(s.fs, s.buildDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.buildDir, path)
		if err != nil {
			return err
		}
		return s.addFile(zw, path, filepath.ToSlash(rel), info)
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("compress %s: %w", s.buildDir, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", s.artifactPath, err)
	}
	return out.Close()
}

func (s *CompressBuildFilesStep) addFile(zw *zip.Writer, path, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := s.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
