// sessions.go implements `quill sessions`: inspect and prune the on-disk
// session files.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hvilela/quill/pkg/quill/agent"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsClearCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted session ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := agent.NewStore(cfg.Sessions.StorePath, logger)
			if err != nil {
				return withCode(ExitConfigError, err)
			}
			ids, err := store.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newSessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>...",
		Short: "Delete persisted sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := agent.NewStore(cfg.Sessions.StorePath, logger)
			if err != nil {
				return withCode(ExitConfigError, err)
			}
			for _, id := range args {
				if err := store.Delete(id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", id)
			}
			return nil
		},
	}
}
