package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	verbose       bool
	cliConfigFile string
	projectDir    string
)

var rootCmd = &cobra.Command{
	Use:   "ymir",
	Short: "Build and deploy WordPress projects",
	Long: `ymir manages the ymir.yml file of a WordPress or Bedrock project, builds
the project locally and deploys it to one of its environments.

User settings (API token, API URL, poll policy) live in ~/.ymir/config.json
and can be overridden with YMIR_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(cmd.ErrOrStderr())
		return nil
	},
}

// Execute runs the root command. Ctrl-C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// ErrorMessage renders err for the terminal with its first letter upper-cased.
func ErrorMessage(err error) string {
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug logs")
	rootCmd.PersistentFlags().StringVar(&cliConfigFile, "config-file", "", "path to the CLI config file (default ~/.ymir/config.json)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", ".", "project root containing ymir.yml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(environmentCmd)
	rootCmd.AddCommand(databaseCmd)
	rootCmd.AddCommand(tunnelCmd)
}
