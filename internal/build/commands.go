package build

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/ymir/internal/project"
)

// ExecuteBuildCommandsStep runs the environment's "build" commands inside the
// build directory, in order, stopping at the first non-zero exit.
type ExecuteBuildCommandsStep struct {
	runner   CommandRunner
	buildDir string
}

func NewExecuteBuildCommandsStep(runner CommandRunner, buildDir string) *ExecuteBuildCommandsStep {
	return &ExecuteBuildCommandsStep{runner: runner, buildDir: buildDir}
}

func (s *ExecuteBuildCommandsStep) Description() string {
	return "Executing build commands"
}

func (s *ExecuteBuildCommandsStep) Perform(ctx context.Context, environment string, cfg *project.Configuration) error {
	opts, err := cfg.Environment(environment)
	if err != nil {
		return err
	}
	commands, err := buildCommands(opts)
	if err != nil {
		return err
	}

	for _, command := range commands {
		stdout, stderr, exitCode, err := s.runner.Run(ctx, s.buildDir, command)
		if err != nil {
			return fmt.Errorf("run %q: %w", command, err)
		}
		if exitCode != 0 {
			output := strings.TrimSpace(stderr)
			if output == "" {
				output = strings.TrimSpace(stdout)
			}
			return fmt.Errorf("%q exited with code %d: %s", command, exitCode, output)
		}
	}
	return nil
}

// buildCommands reads the "build" option, which is either a single command
// or a list of commands.
func buildCommands(opts project.Options) ([]string, error) {
	raw, ok := opts["build"]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		commands := make([]string, 0, len(v))
		for i, item := range v {
			command, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("build command %d must be a string, got %T", i, item)
			}
			commands = append(commands, command)
		}
		return commands, nil
	default:
		return nil, fmt.Errorf("build option must be a list of commands, got %T", raw)
	}
}
