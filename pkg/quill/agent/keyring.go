// keyring.go stores the LLM API key in the operating system's native keyring
// (Linux: Secret Service/GNOME Keyring, macOS: Keychain, Windows: Credential
// Manager).
//
// Priority for resolving the key:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (QUILL_API_KEY, OPENAI_API_KEY)
//  3. config.yaml value (least secure — plaintext on disk)
package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "quill"

	// keyringAPIKey is the key name for the LLM API key.
	keyringAPIKey = "api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__quill_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey returns the API key from the OS keyring, falling back to the
// environment. Config-file values are handled by the caller.
func ResolveAPIKey() string {
	if val := GetKeyring(keyringAPIKey); val != "" {
		return val
	}
	if val := os.Getenv("QUILL_API_KEY"); val != "" {
		return val
	}
	return os.Getenv("OPENAI_API_KEY")
}

// DeleteAPIKey removes the stored API key from the OS keyring.
func DeleteAPIKey() error {
	return DeleteKeyring(keyringAPIKey)
}

// MigrateKeyToKeyring moves an API key into the OS keyring so it can be
// removed from .env and config.yaml.
func MigrateKeyToKeyring(apiKey string) error {
	if err := StoreKeyring(keyringAPIKey, apiKey); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	return nil
}

// ReadSecret prompts for a secret on the terminal without echoing it.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
