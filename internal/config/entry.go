package config

// ProviderEntryFromMap builds a [ProviderEntry] from an agent's per-stage
// provider config map (agents.stt_config_json / llm_config_json /
// tts_config_json), as read from the relational store. name is the
// provider_tag column value (agents.stt_provider, etc.), kept separate from
// the map since it lives in its own column.
//
// Recognised top-level keys are lifted onto the matching ProviderEntry
// field; everything else is carried through verbatim in Options so
// provider-specific settings (sample rate, voice ID, ...) survive the
// round trip.
func ProviderEntryFromMap(name string, raw map[string]any) ProviderEntry {
	entry := ProviderEntry{Name: name, Options: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "api_key":
			entry.APIKey, _ = v.(string)
		case "base_url":
			entry.BaseURL, _ = v.(string)
		case "model":
			entry.Model, _ = v.(string)
		default:
			entry.Options[k] = v
		}
	}
	return entry
}
