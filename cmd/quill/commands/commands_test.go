package commands

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/hvilela/quill/pkg/quill/agent"
)

func testConfig(t *testing.T) *agent.Config {
	t.Helper()
	cfg := agent.DefaultConfig()
	cfg.Security.WorkspaceDir = t.TempDir()
	cfg.Security.AuditLogPath = ""
	cfg.Sessions.StorePath = filepath.Join(t.TempDir(), "sessions")
	return cfg
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd("test")

	want := []string{"run", "chat", "config", "sessions", "health"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}

	config, _, err := root.Find([]string{"config"})
	if err != nil {
		t.Fatalf("find config: %v", err)
	}
	for _, name := range []string{"set-key", "delete-key"} {
		found := false
		for _, sub := range config.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("config subcommand %s not registered", name)
		}
	}
}

func TestConfigSetKeyRejectsBlank(t *testing.T) {
	root := NewRootCmd("test")
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"config", "set-key", "   "})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error for a blank key")
	}
	if got := ExitCode(err); got != ExitConfigError {
		t.Errorf("expected exit code %d, got %d", ExitConfigError, got)
	}
}

func TestBuildRuntimeSharesCollaborators(t *testing.T) {
	cfg := testConfig(t)
	logger := cfg.NewLogger()

	rt, err := buildRuntime(cfg, logger, "")
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.cleanup()

	if rt.cache == nil || rt.deps.Cache != rt.cache {
		t.Fatal("the runtime cache must be the one handed to agents")
	}
	if rt.deps.Registry == nil {
		t.Fatal("expected a shared registry")
	}
	for _, name := range []string{"clock", "calc", "read_file", "http_fetch"} {
		if !rt.deps.Registry.Has(name) {
			t.Errorf("builtin tool %s not registered", name)
		}
	}
	if rt.store == nil {
		t.Fatal("expected a session store")
	}

	a := agent.NewAgent(cfg, rt.deps, logger)
	if a.Registry() != rt.deps.Registry {
		t.Error("agents built from the runtime deps must adopt the shared registry")
	}
}

func TestSessionManagerWiring(t *testing.T) {
	cfg := testConfig(t)
	logger := cfg.NewLogger()

	rt, err := buildRuntime(cfg, logger, "notes")
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.cleanup()

	sessions := agent.NewSessionManager(cfg, rt.deps, logger)
	session := sessions.GetOrCreate("notes")
	if session.Agent.Registry() != rt.deps.Registry {
		t.Error("session agents must share the runtime registry")
	}

	// Turns recorded through the manager are what the session sweep acts on.
	if err := sessions.AddToHistory(session.ID, agent.HistoryEntry{
		Prompt:   "what time is it?",
		Response: "12:00",
		Status:   agent.StatusSuccess,
	}); err != nil {
		t.Fatalf("add to history: %v", err)
	}
	got, err := sessions.Get(session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 1 || got.History[0].Response != "12:00" {
		t.Errorf("turn not recorded: %+v", got.History)
	}

	maintenance := agent.NewMaintenance(rt.cache, sessions, logger)
	if err := maintenance.Start(); err != nil {
		t.Fatalf("maintenance start: %v", err)
	}
	maintenance.Stop()
}
