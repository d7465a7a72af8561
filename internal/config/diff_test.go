package config_test

import (
	"testing"

	"github.com/MrWong99/voicebroker/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai"},
		},
		MCP: config.MCPConfig{
			Servers: []config.MCPServerConfig{{Name: "catalog", Transport: "stdio", Command: "/bin/catalog"}},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.ProvidersChanged {
		t.Error("expected ProvidersChanged=false for identical configs")
	}
	if d.MCPServersChanged {
		t.Error("expected MCPServersChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_ProviderModelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}},
	}
	newCfg := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"}},
	}

	d := config.Diff(old, newCfg)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	found := false
	for _, p := range d.ChangedProviders {
		if p == "llm" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ChangedProviders to contain %q, got %v", "llm", d.ChangedProviders)
	}
}

func TestDiff_ProviderUnchanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "elevenlabs", APIKey: "k1"}},
	}
	newCfg := &config.Config{
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "elevenlabs", APIKey: "k1"}},
	}

	d := config.Diff(old, newCfg)
	if d.ProvidersChanged {
		t.Errorf("expected ProvidersChanged=false, got changed: %v", d.ChangedProviders)
	}
}

func TestDiff_MCPServerAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{{Name: "catalog", Transport: "stdio", Command: "/bin/a"}}},
	}
	newCfg := &config.Config{
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
			{Name: "catalog", Transport: "stdio", Command: "/bin/a"},
			{Name: "orders", Transport: "stdio", Command: "/bin/b"},
		}},
	}

	d := config.Diff(old, newCfg)
	if !d.MCPServersChanged {
		t.Error("expected MCPServersChanged=true")
	}
	found := false
	for _, sc := range d.MCPServerChanges {
		if sc.Name == "orders" && sc.Added {
			found = true
		}
	}
	if !found {
		t.Error("expected orders Added=true")
	}
}

func TestDiff_MCPServerRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
			{Name: "catalog", Transport: "stdio", Command: "/bin/a"},
			{Name: "orders", Transport: "stdio", Command: "/bin/b"},
		}},
	}
	newCfg := &config.Config{
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{{Name: "catalog", Transport: "stdio", Command: "/bin/a"}}},
	}

	d := config.Diff(old, newCfg)
	if !d.MCPServersChanged {
		t.Error("expected MCPServersChanged=true")
	}
	found := false
	for _, sc := range d.MCPServerChanges {
		if sc.Name == "orders" && sc.Removed {
			found = true
		}
	}
	if !found {
		t.Error("expected orders Removed=true")
	}
}

func TestDiff_MCPServerEndpointChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{{Name: "catalog", Transport: "stdio", Command: "/bin/a"}}},
	}
	newCfg := &config.Config{
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{{Name: "catalog", Transport: "stdio", Command: "/bin/a-v2"}}},
	}

	d := config.Diff(old, newCfg)
	if !d.MCPServersChanged {
		t.Error("expected MCPServersChanged=true")
	}
	if len(d.MCPServerChanges) != 1 || !d.MCPServerChanges[0].EndpointChanged {
		t.Errorf("expected one EndpointChanged=true entry, got %+v", d.MCPServerChanges)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram"}},
		MCP:       config.MCPConfig{Servers: []config.MCPServerConfig{{Name: "catalog", Transport: "stdio", Command: "/bin/a"}}},
	}
	newCfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogWarn},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "gladia"}},
		MCP:       config.MCPConfig{Servers: []config.MCPServerConfig{{Name: "orders", Transport: "stdio", Command: "/bin/b"}}},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	if !d.MCPServersChanged {
		t.Error("expected MCPServersChanged=true")
	}

	var added, removed bool
	for _, sc := range d.MCPServerChanges {
		if sc.Name == "orders" && sc.Added {
			added = true
		}
		if sc.Name == "catalog" && sc.Removed {
			removed = true
		}
	}
	if !added {
		t.Error("expected orders Added=true")
	}
	if !removed {
		t.Error("expected catalog Removed=true")
	}
}
