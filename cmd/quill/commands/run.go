// run.go implements `quill run`: one prompt, one answer, exit.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hvilela/quill/pkg/quill/agent"
	"github.com/hvilela/quill/pkg/quill/agent/security"
	"github.com/hvilela/quill/pkg/quill/tools"
)

func newRunCmd() *cobra.Command {
	var (
		mode        string
		model       string
		temperature float64
		maxTokens   int
		sessionID   string
		noSanitize  bool
		system      string
	)

	cmd := &cobra.Command{
		Use:   "run \"<prompt>\"",
		Short: "Run one prompt through the agent and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyOverrides(cfg, cmd, model, temperature, maxTokens, noSanitize)

			rt, err := buildRuntime(cfg, logger, sessionID)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			a := agent.NewAgent(cfg, rt.deps, logger)
			if system != "" {
				a.SetSystemPrompt(system)
			}
			if sessionID != "" {
				if _, err := rt.store.RestoreAgent(sessionID, a); err != nil {
					logger.Warn("could not restore session", "session_id", sessionID, "error", err)
				}
			}
			switch agent.Mode(mode) {
			case agent.ModePlan:
				a.SetMode(agent.ModePlan)
			case agent.ModeAct, "":
				a.SetMode(agent.ModeAct)
			default:
				return withCode(ExitConfigError, fmt.Errorf("unknown mode %q (use act or plan)", mode))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prompt := strings.Join(args, " ")
			result, runErr := a.Run(ctx, prompt)

			if sessionID != "" && result != nil {
				if err := rt.store.SaveAgent(sessionID, a); err != nil {
					logger.Warn("could not save session", "session_id", sessionID, "error", err)
				}
			}

			if result != nil {
				fmt.Println(result.Response)
			}
			switch {
			case runErr != nil && ctx.Err() != nil:
				return withCode(ExitDeadline, runErr)
			case runErr != nil:
				return withCode(ExitRunError, runErr)
			case result != nil && result.Status == agent.StatusMaxIterations:
				return withCode(ExitMaxIterations, fmt.Errorf("stopped at the iteration limit"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "act", "run mode: act or plan")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	cmd.Flags().Float64Var(&temperature, "temperature", -1, "override the sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "override the completion token limit")
	cmd.Flags().StringVar(&sessionID, "session", "", "persist the conversation under this session id")
	cmd.Flags().BoolVar(&noSanitize, "no-sanitize", false, "disable output identity normalisation")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for this run")

	return cmd
}

// applyOverrides folds run flags into the config.
func applyOverrides(cfg *agent.Config, cmd *cobra.Command, model string, temperature float64, maxTokens int, noSanitize bool) {
	if model != "" {
		cfg.API.Model = model
	}
	if cmd.Flags().Changed("temperature") && temperature >= 0 {
		cfg.API.Temperature = &temperature
	}
	if maxTokens > 0 {
		cfg.API.MaxTokens = &maxTokens
	}
	if noSanitize {
		cfg.Sanitizer.Disable = true
	}
}

// runtime bundles the collaborators shared by every agent a command builds:
// the tool registry (builtin tools, audit-wrapped), the global tool cache,
// and the on-disk session store. cleanup closes the audit log.
type runtime struct {
	deps    agent.AgentDeps
	cache   *agent.Cache
	store   *agent.Store
	cleanup func()
}

// buildRuntime assembles the shared runtime for one command invocation.
// Agents created from rt.deps share the registry and the cache, which is
// what lets the background cache sweep see real entries.
func buildRuntime(cfg *agent.Config, logger *slog.Logger, sessionID string) (*runtime, error) {
	paths, err := security.NewPathGuard(cfg.Security.WorkspaceDir, cfg.Security.AllowedPaths, cfg.Security.RestrictedPaths)
	if err != nil {
		return nil, withCode(ExitConfigError, err)
	}
	urls := security.NewURLGuard(security.URLGuardConfig{})

	audit, err := security.NewAuditLog(cfg.Security.AuditLogPath)
	if err != nil {
		return nil, withCode(ExitConfigError, err)
	}

	registry := agent.NewRegistry(logger)
	for _, t := range auditTools(audit, sessionID, tools.Builtin(tools.Options{Paths: paths, URLs: urls})) {
		if err := registry.Register(t); err != nil {
			audit.Close()
			return nil, withCode(ExitConfigError, fmt.Errorf("register tools: %w", err))
		}
	}

	store, err := agent.NewStore(cfg.Sessions.StorePath, logger)
	if err != nil {
		audit.Close()
		return nil, withCode(ExitConfigError, err)
	}

	cache := agent.NewCache(cfg.CacheTTL())
	return &runtime{
		deps:    agent.AgentDeps{Registry: registry, Cache: cache},
		cache:   cache,
		store:   store,
		cleanup: func() { audit.Close() },
	}, nil
}
