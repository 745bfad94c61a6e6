package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/ymir/internal/project"
)

var (
	envBuildCommands []string
	optionEnv        string
)

var environmentCmd = &cobra.Command{
	Use:     "environment",
	Aliases: []string{"env"},
	Short:   "Manage the environments in ymir.yml",
}

var environmentAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := withProject(func(cfg *project.Configuration) error {
			if cfg.HasEnvironment(name) {
				return fmt.Errorf("environment %q already exists in %s", name, project.FileName)
			}
			var opts project.Options
			if len(envBuildCommands) > 0 {
				commands := make([]any, len(envBuildCommands))
				for i, c := range envBuildCommands {
					commands[i] = c
				}
				opts = project.Options{"build": commands}
			}
			cfg.AddEnvironment(name, opts)
			return nil
		})
		if err != nil {
			return err
		}
		newOutput(cmd).Success("Environment %q added", name)
		return nil
	},
}

var environmentDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := withProject(func(cfg *project.Configuration) error {
			cfg.DeleteEnvironment(args[0])
			return nil
		}); err != nil {
			return err
		}
		newOutput(cmd).Success("Environment %q deleted", args[0])
		return nil
	},
}

var environmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the environments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProject()
		if err != nil {
			return err
		}
		if !cfg.Exists() {
			return fmt.Errorf("%w in %s", project.ErrConfigMissing, cfg.Dir())
		}
		names := cfg.Environments()
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No environments configured.")
			return nil
		}
		newOutput(cmd).List(names)
		return nil
	},
}

var environmentOptionCmd = &cobra.Command{
	Use:   "option",
	Short: "Manage environment options",
}

var environmentOptionSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set an option on one environment or, without --environment, on all of them",
	Long: `Set an option on one environment or, without --environment, on all of them.

The value is read as YAML, so "true", "256" or "[a, b]" keep their types.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseOptionValue(args[1])
		if err != nil {
			return err
		}
		opts := project.Options{args[0]: value}
		err = withProject(func(cfg *project.Configuration) error {
			if optionEnv == "" {
				cfg.ApplyOptionsToEnvironments(opts)
				return nil
			}
			return cfg.ApplyOptionsToEnvironment(optionEnv, opts)
		})
		if err != nil {
			return err
		}
		target := "all environments"
		if optionEnv != "" {
			target = fmt.Sprintf("environment %q", optionEnv)
		}
		newOutput(cmd).Success("Option %q set on %s", args[0], target)
		return nil
	},
}

func parseOptionValue(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid option value %q: %w", raw, err)
	}
	return v, nil
}

func init() {
	environmentAddCmd.Flags().StringArrayVar(&envBuildCommands, "build", nil, "build command (repeatable)")
	environmentOptionSetCmd.Flags().StringVarP(&optionEnv, "environment", "e", "", "environment to change (default all)")

	environmentOptionCmd.AddCommand(environmentOptionSetCmd)
	environmentCmd.AddCommand(environmentAddCmd)
	environmentCmd.AddCommand(environmentDeleteCmd)
	environmentCmd.AddCommand(environmentListCmd)
	environmentCmd.AddCommand(environmentOptionCmd)
}
