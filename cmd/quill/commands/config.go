// config.go implements `quill config`: credential management backed by the
// OS keyring.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hvilela/quill/pkg/quill/agent"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and credentials",
		Long: `Manages Quill's stored credentials.

Examples:
  quill config set-key          prompt for the API key and store it
  quill config set-key sk-...   store the given API key
  quill config delete-key       remove the stored API key`,
	}
	cmd.AddCommand(newConfigSetKeyCmd(), newConfigDeleteKeyCmd())
	return cmd
}

// newConfigSetKeyCmd stores the LLM API key in the OS keyring so it can be
// dropped from .env and config.yaml. Without an argument the key is read
// from the terminal with echo disabled.
func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key [api-key]",
		Short: "Store the LLM API key in the OS keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = strings.TrimSpace(args[0])
			} else {
				read, err := agent.ReadSecret("API key: ")
				if err != nil {
					return withCode(ExitConfigError, err)
				}
				key = read
			}
			if key == "" {
				return withCode(ExitConfigError, fmt.Errorf("empty API key"))
			}
			if !agent.KeyringAvailable() {
				return withCode(ExitConfigError, fmt.Errorf("no OS keyring available on this system"))
			}
			if err := agent.MigrateKeyToKeyring(key); err != nil {
				return withCode(ExitConfigError, err)
			}
			fmt.Println("API key stored in the OS keyring; it can now be removed from .env and config.yaml.")
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the stored LLM API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := agent.DeleteAPIKey(); err != nil {
				return withCode(ExitConfigError, fmt.Errorf("delete key: %w", err))
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}
