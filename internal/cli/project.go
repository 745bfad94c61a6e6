package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ymir/internal/build"
	"github.com/lucasnoah/ymir/internal/deploy"
	"github.com/lucasnoah/ymir/internal/project"
)

const defaultEnvironment = "staging"

var (
	initType         string
	initEnvironments []string
	initForce        bool
	deployInterval   time.Duration
	deployTimeout    time.Duration
	deleteYes        bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the project in the current directory",
}

var projectInitCmd = &cobra.Command{
	Use:   "init <project-id> <name>",
	Short: "Create a ymir.yml file for an existing project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid project id %q: must be a positive integer", args[0])
		}
		if initType != project.TypeWordPress && initType != project.TypeBedrock {
			return fmt.Errorf("invalid project type %q: must be %s or %s", initType, project.TypeWordPress, project.TypeBedrock)
		}

		cfg, err := loadProject()
		if err != nil && !initForce {
			return err
		}
		if cfg == nil {
			path, perr := projectConfigPath()
			if perr != nil {
				return perr
			}
			// Replacing an unreadable file.
			cfg = project.Empty(appFs, path)
		}
		if cfg.Exists() && !initForce {
			return fmt.Errorf("a %s file already exists in %s (use --force to replace it)", project.FileName, cfg.Dir())
		}
		if err := cfg.CreateNew(id, args[1], initType, initEnvironments); err != nil {
			return err
		}
		newOutput(cmd).Success("%s file created with environments: %s", project.FileName, strings.Join(cfg.Environments(), ", "))
		return nil
	},
}

var projectValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the ymir.yml file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProject()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		newOutput(cmd).Success("%s file is valid", project.FileName)
		return nil
	},
}

func runBuild(cmd *cobra.Command, args []string) error {
	environment := environmentArg(args)
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := cfg.Environment(environment); err != nil {
		return err
	}

	out := newOutput(cmd)
	out.Heading("Building project for %q environment", environment)
	pipeline := build.NewPipeline(out, build.DefaultSteps(appFs, commandRunner, cfg.Dir())...)
	if err := pipeline.Run(cmd.Context(), environment, cfg); err != nil {
		return err
	}
	out.Success("Project built successfully: %s", build.ArtifactPath(cfg.Dir()))
	return nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	environment := environmentArg(args)
	cliCfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	policy, err := cliCfg.PollPolicy()
	if err != nil {
		return err
	}
	if deployInterval > 0 {
		policy.Interval = deployInterval
	}
	if deployTimeout > 0 {
		policy.Timeout = deployTimeout
	}
	client, err := newAPIClient(cliCfg)
	if err != nil {
		return err
	}
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	out := newOutput(cmd)
	pipeline := build.NewPipeline(out, build.DefaultSteps(appFs, commandRunner, cfg.Dir())...)
	orch := deploy.NewOrchestrator(client, pipeline, policy, logger)
	if verbose {
		orch.SetProgress(cmd.ErrOrStderr())
	}
	orch.OnTransition = func(s deploy.State) {
		switch s {
		case deploy.StateBuilding:
			out.Heading("Building project for %q environment", environment)
		case deploy.StateSubmitting:
			out.Heading("Deploying project to %q environment", environment)
		case deploy.StatePolling:
			out.StartSpinner("Waiting for deployment to finish")
		case deploy.StateSucceeded, deploy.StateFailed:
			out.StopSpinner()
		}
	}
	orch.OnStatus = func(status string) {
		out.UpdateSpinner("Deployment " + status)
	}

	res, err := orch.Deploy(cmd.Context(), cfg, environment)
	if err != nil {
		return err
	}
	out.Success("%s", res.Message)
	return nil
}

var projectBuildCmd = &cobra.Command{
	Use:   "build [environment]",
	Short: "Build the project for an environment (default staging)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

var projectDeployCmd = &cobra.Command{
	Use:   "deploy [environment]",
	Short: "Build and deploy the project to an environment (default staging)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeploy,
}

// Top-level shortcuts for project build and project deploy.
var buildCmd = &cobra.Command{
	Use:   "build [environment]",
	Short: "Alias for project build",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

var deployCmd = &cobra.Command{
	Use:   "deploy [environment]",
	Short: "Alias for project deploy",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeploy,
}

var projectInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the project configuration and its remote details",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProject()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		id, _ := cfg.ProjectID()
		name, _ := cfg.ProjectName()
		typ, _ := cfg.ProjectType()

		values := map[string]string{
			"id":           strconv.Itoa(id),
			"name":         name,
			"type":         typ,
			"environments": strings.Join(cfg.Environments(), ", "),
		}

		cliCfg, err := loadCLIConfig()
		if err != nil {
			return err
		}
		if client, err := newAPIClient(cliCfg); err == nil {
			remote, err := client.GetProject(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("fetch project %d: %w", id, err)
			}
			values["remote_name"] = remote.Name
			if remote.Region != "" {
				values["region"] = remote.Region
			}
		} else {
			logger.Debug("skipping remote project details", "error", err)
		}

		newOutput(cmd).KeyValues(values)
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the ymir.yml file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput(cmd)
		if !deleteYes {
			ok, err := confirmFn(out, "Are you sure you want to delete the "+project.FileName+" file")
			if err != nil {
				return err
			}
			if !ok {
				out.Info("Aborted, nothing was deleted")
				return nil
			}
		}
		if err := withProject(func(cfg *project.Configuration) error {
			return cfg.Delete()
		}); err != nil {
			return err
		}
		out.Success("%s file deleted", project.FileName)
		return nil
	},
}

func environmentArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return defaultEnvironment
}

func addDeployFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&deployInterval, "interval", 0, "deployment status poll interval (default from config, 5s)")
	cmd.Flags().DurationVar(&deployTimeout, "timeout", 0, "maximum time to wait for the deployment (default from config, 30m)")
}

func init() {
	projectInitCmd.Flags().StringVar(&initType, "type", project.TypeWordPress, "project type (wordpress or bedrock)")
	projectInitCmd.Flags().StringSliceVar(&initEnvironments, "environment", []string{"staging", "production"}, "environments to create")
	projectInitCmd.Flags().BoolVar(&initForce, "force", false, "replace an existing ymir.yml file")
	projectDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	addDeployFlags(projectDeployCmd)
	addDeployFlags(deployCmd)

	projectCmd.AddCommand(projectInitCmd)
	projectCmd.AddCommand(projectValidateCmd)
	projectCmd.AddCommand(projectBuildCmd)
	projectCmd.AddCommand(projectDeployCmd)
	projectCmd.AddCommand(projectInfoCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}
