// health.go implements `quill health`: configuration and endpoint checks.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hvilela/quill/pkg/quill/agent"
)

func newHealthCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check configuration and endpoint health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("config:   ok (model %s)\n", cfg.API.Model)
			if cfg.API.APIKey == "" {
				fmt.Println("api key:  missing (set QUILL_API_KEY or store it in the keyring)")
			} else {
				fmt.Println("api key:  present")
			}
			if agent.KeyringAvailable() {
				fmt.Println("keyring:  available")
			} else {
				fmt.Println("keyring:  unavailable")
			}

			if !probe {
				return nil
			}

			// One tiny completion proves the endpoint end to end.
			client := agent.NewLLMClient(cfg.API, cfg.Fallback, logger)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			_, _, err = client.Complete(ctx, []agent.Message{
				agent.NewMessage(agent.RoleUser, "Reply with the word: ok"),
			}, agent.CompletionOptions{})
			if err != nil {
				fmt.Printf("endpoint: failed (%v)\n", err)
				return withCode(ExitRunError, fmt.Errorf("endpoint probe failed"))
			}
			fmt.Println("endpoint: ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "send a test completion to the endpoint")
	return cmd
}
