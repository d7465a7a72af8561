package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voicebroker/internal/config"
)

func TestValidate_NegativeMaxConcurrentSessions(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  max_concurrent_sessions: -1
providers:
  bridge:
    name: sip
database:
  postgres_dsn: "postgres://localhost/test"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_concurrent_sessions, got nil")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: deafening
mcp:
  servers:
    - transport: stdio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "providers.bridge") {
		t.Errorf("error should mention providers.bridge, got: %v", err)
	}
	if !strings.Contains(errStr, "database.postgres_dsn") {
		t.Errorf("error should mention database.postgres_dsn, got: %v", err)
	}
	if !strings.Contains(errStr, "mcp.servers[0].name") {
		t.Errorf("error should mention mcp.servers[0].name, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
	bridgeNames := config.ValidProviderNames["bridge"]
	if len(bridgeNames) == 0 {
		t.Fatal("ValidProviderNames[\"bridge\"] should not be empty")
	}
}
