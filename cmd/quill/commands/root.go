// Package commands implements the quill CLI commands using cobra.
package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hvilela/quill/pkg/quill/agent"
)

// Exit codes reported by the CLI.
const (
	ExitOK            = 0
	ExitRunError      = 1
	ExitConfigError   = 2
	ExitMaxIterations = 3
	ExitDeadline      = 4
)

// codedError carries an exit code alongside the message.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return ExitRunError
}

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill - a tool-using conversational agent",
		Long: `Quill drives a prompt through a bounded think/act loop against any
OpenAI-compatible endpoint, dispatching tool calls along the way.

Examples:
  quill run "What time is it in Tokyo?"
  quill run --mode plan "Summarise the README and list its TODOs"
  quill chat --session notes
  quill config set-key
  quill sessions list
  quill health`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newChatCmd(),
		newConfigCmd(),
		newSessionsCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	return rootCmd
}

// loadConfig builds the runtime config from flags, .env, and the config file.
func loadConfig(cmd *cobra.Command) (*agent.Config, *slog.Logger, error) {
	// .env is optional; missing files are fine.
	_ = godotenv.Load()

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = agent.DefaultConfigPath()
	}
	cfg, err := agent.LoadConfig(path)
	if err != nil {
		return nil, nil, withCode(ExitConfigError, fmt.Errorf("load config: %w", err))
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.NewLogger(), nil
}
