package agent

import "testing"

func TestResolveAPIKeyEnvFallback(t *testing.T) {
	if KeyringAvailable() {
		t.Skip("an OS keyring is present; the environment fallback cannot be isolated")
	}

	t.Setenv("QUILL_API_KEY", "from-quill")
	t.Setenv("OPENAI_API_KEY", "from-openai")
	if got := ResolveAPIKey(); got != "from-quill" {
		t.Errorf("expected QUILL_API_KEY to win, got %q", got)
	}

	t.Setenv("QUILL_API_KEY", "")
	if got := ResolveAPIKey(); got != "from-openai" {
		t.Errorf("expected the OPENAI_API_KEY fallback, got %q", got)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if got := ResolveAPIKey(); got != "" {
		t.Errorf("expected no key, got %q", got)
	}
}

func TestKeyringRoundTrip(t *testing.T) {
	if !KeyringAvailable() {
		t.Skip("no OS keyring on this system")
	}

	const name = "quill_test_secret"
	if err := StoreKeyring(name, "s3cret"); err != nil {
		t.Fatalf("store: %v", err)
	}
	defer func() {
		if err := DeleteKeyring(name); err != nil {
			t.Errorf("delete: %v", err)
		}
	}()

	if got := GetKeyring(name); got != "s3cret" {
		t.Errorf("expected the stored secret back, got %q", got)
	}
}
