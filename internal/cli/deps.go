package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ymir/internal/api"
	"github.com/lucasnoah/ymir/internal/build"
	"github.com/lucasnoah/ymir/internal/cliconfig"
	"github.com/lucasnoah/ymir/internal/logging"
	"github.com/lucasnoah/ymir/internal/project"
	"github.com/lucasnoah/ymir/internal/tunnel"
	"github.com/lucasnoah/ymir/internal/ui"
)

// Collaborators replaced in tests.
var (
	appFs         afero.Fs            = afero.NewOsFs()
	commandRunner build.CommandRunner = &build.ExecRunner{}
	userHomeDir                       = os.UserHomeDir
	newStarter                        = func(stderr io.Writer) tunnel.ProcessStarter { return tunnel.NewExecStarter(stderr) }
	confirmFn                         = func(out *ui.Output, label string) (bool, error) { return out.Confirm(label) }
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupLogger(w io.Writer) {
	logger = logging.New(w, verbose)
}

func newOutput(cmd *cobra.Command) *ui.Output {
	return ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// projectRoot returns the absolute project directory.
func projectRoot() (string, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project directory: %w", err)
	}
	return dir, nil
}

func projectConfigPath() (string, error) {
	dir, err := projectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, project.FileName), nil
}

// loadProject reads ymir.yml without holding it for writing.
func loadProject() (*project.Configuration, error) {
	path, err := projectConfigPath()
	if err != nil {
		return nil, err
	}
	return project.Load(appFs, path)
}

// withProject hands an existing ymir.yml to fn and saves it afterwards.
func withProject(fn func(*project.Configuration) error) error {
	path, err := projectConfigPath()
	if err != nil {
		return err
	}
	return project.Use(appFs, path, func(cfg *project.Configuration) error {
		if !cfg.Exists() {
			return fmt.Errorf("%w in %s", project.ErrConfigMissing, cfg.Dir())
		}
		return fn(cfg)
	})
}

func loadCLIConfig() (*cliconfig.Config, error) {
	path := cliConfigFile
	if path == "" {
		var err error
		path, err = cliconfig.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return cliconfig.Load(appFs, path)
}

var errNoToken = errors.New("no API token configured: run `ymir config set token <token>` or set YMIR_TOKEN")

func newAPIClient(cfg *cliconfig.Config) (*api.Client, error) {
	if cfg.Token() == "" {
		return nil, errNoToken
	}
	return api.New(cfg.APIURL(), api.WithToken(cfg.Token()))
}

func newTunnelOpener(stderr io.Writer, cleanupKey bool) (*tunnel.Opener, error) {
	home, err := userHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	opts := []tunnel.Option{tunnel.WithLogger(logger)}
	if cleanupKey {
		opts = append(opts, tunnel.WithKeyCleanup())
	}
	return tunnel.NewOpener(appFs, home, newStarter(stderr), opts...), nil
}
