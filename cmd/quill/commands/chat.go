// chat.go implements `quill chat`: an interactive REPL over a persistent
// session. Cache and session sweeps run in the background while it is open.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/hvilela/quill/pkg/quill/agent"
)

func newChatCmd() *cobra.Command {
	var (
		sessionID string
		mode      string
		system    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Starts a REPL against the configured endpoint. The conversation is
saved after every turn when --session is given.

Commands inside the REPL:
  /mode act|plan   switch run mode
  /clear           drop the conversation window
  /quit            leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cfg, logger, sessionID)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			// The REPL conversation lives in the session manager so the
			// background sweep sees it like any other session.
			sessions := agent.NewSessionManager(cfg, rt.deps, logger)
			session := sessions.GetOrCreate(sessionID)
			a := session.Agent
			if system != "" {
				a.SetSystemPrompt(system)
			}
			if sessionID != "" {
				restored, err := rt.store.RestoreAgent(sessionID, a)
				if err != nil {
					logger.Warn("could not restore session", "session_id", sessionID, "error", err)
				} else if restored {
					fmt.Printf("Restored session %s (%d messages)\n", sessionID, a.Memory().Len())
				}
			}
			if agent.Mode(mode) == agent.ModePlan {
				a.SetMode(agent.ModePlan)
			}

			maintenance := agent.NewMaintenance(rt.cache, sessions, logger)
			if err := maintenance.Start(); err != nil {
				logger.Warn("maintenance not started", "error", err)
			} else {
				defer maintenance.Stop()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rl, err := readline.New("quill> ")
			if err != nil {
				return fmt.Errorf("init readline: %w", err)
			}
			defer rl.Close()

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err == io.EOF || err != nil {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}

				if strings.HasPrefix(line, "/") {
					if quit := replCommand(a, line); quit {
						return nil
					}
					continue
				}

				result, runErr := a.Run(ctx, line)
				if result != nil {
					if result.Response != "" {
						fmt.Println(result.Response)
					}
					if err := sessions.AddToHistory(session.ID, agent.HistoryEntry{
						Prompt:   line,
						Response: result.Response,
						Status:   result.Status,
					}); err != nil {
						logger.Warn("could not record turn", "session_id", session.ID, "error", err)
					}
				}
				if runErr != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
					if ctx.Err() != nil {
						return withCode(ExitDeadline, runErr)
					}
				}
				if sessionID != "" {
					if err := rt.store.SaveAgent(sessionID, a); err != nil {
						logger.Warn("could not save session", "session_id", sessionID, "error", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "persist the conversation under this session id")
	cmd.Flags().StringVar(&mode, "mode", "act", "run mode: act or plan")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for the conversation")

	return cmd
}

// replCommand handles /-prefixed REPL commands. Returns true on /quit.
func replCommand(a *agent.Agent, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/clear":
		a.Memory().Clear()
		fmt.Println("conversation cleared")
	case "/mode":
		if len(fields) > 1 {
			a.SetMode(agent.Mode(fields[1]))
		}
		fmt.Printf("mode: %s\n", a.Mode())
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return false
}
