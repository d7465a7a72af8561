package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked. Agents, their
// tool bindings, and the product catalog are sourced from the relational
// store and are not part of this diff — they are picked up per-call, not
// on file reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged bool
	ChangedProviders []string // e.g. "llm", "tts"

	MCPServersChanged bool
	MCPServerChanges  []MCPServerDiff
}

// MCPServerDiff describes what changed for a single MCP server between two configs.
type MCPServerDiff struct {
	Name              string
	TransportChanged  bool
	EndpointChanged   bool // Command or URL, whichever applies to Transport
	Added             bool
	Removed           bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Provider entries
	for kind, changed := range map[string]bool{
		"llm":        providerEntryChanged(old.Providers.LLM, new.Providers.LLM),
		"stt":        providerEntryChanged(old.Providers.STT, new.Providers.STT),
		"tts":        providerEntryChanged(old.Providers.TTS, new.Providers.TTS),
		"embeddings": providerEntryChanged(old.Providers.Embeddings, new.Providers.Embeddings),
		"vad":        providerEntryChanged(old.Providers.VAD, new.Providers.VAD),
		"bridge":     providerEntryChanged(old.Providers.Bridge, new.Providers.Bridge),
	} {
		if changed {
			d.ProvidersChanged = true
			d.ChangedProviders = append(d.ChangedProviders, kind)
		}
	}

	// Build MCP server lookup maps keyed by name.
	oldServers := make(map[string]*MCPServerConfig, len(old.MCP.Servers))
	for i := range old.MCP.Servers {
		oldServers[old.MCP.Servers[i].Name] = &old.MCP.Servers[i]
	}
	newServers := make(map[string]*MCPServerConfig, len(new.MCP.Servers))
	for i := range new.MCP.Servers {
		newServers[new.MCP.Servers[i].Name] = &new.MCP.Servers[i]
	}

	// Detect modified and removed servers.
	for name, oldSrv := range oldServers {
		newSrv, exists := newServers[name]
		if !exists {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{
				Name:    name,
				Removed: true,
			})
			d.MCPServersChanged = true
			continue
		}
		sd := diffMCPServer(name, oldSrv, newSrv)
		if sd.TransportChanged || sd.EndpointChanged {
			d.MCPServerChanges = append(d.MCPServerChanges, sd)
			d.MCPServersChanged = true
		}
	}

	// Detect added servers.
	for name := range newServers {
		if _, exists := oldServers[name]; !exists {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{
				Name:  name,
				Added: true,
			})
			d.MCPServersChanged = true
		}
	}

	return d
}

// providerEntryChanged reports whether two provider entries differ in any
// field that would require re-instantiating the provider. Options is
// compared by length only; a deep comparison isn't worth the complexity
// since a name, key, or model change always forces a new instance anyway.
func providerEntryChanged(old, new ProviderEntry) bool {
	if old.Name != new.Name || old.APIKey != new.APIKey || old.BaseURL != new.BaseURL || old.Model != new.Model {
		return true
	}
	return len(old.Options) != len(new.Options)
}

// diffMCPServer compares two MCP server configs with the same name.
func diffMCPServer(name string, old, new *MCPServerConfig) MCPServerDiff {
	sd := MCPServerDiff{Name: name}

	if old.Transport != new.Transport {
		sd.TransportChanged = true
	}
	if old.Command != new.Command || old.URL != new.URL {
		sd.EndpointChanged = true
	}

	return sd
}
