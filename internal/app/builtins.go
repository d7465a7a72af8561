package app

import (
	"fmt"

	"github.com/MrWong99/voicebroker/internal/config"
	"github.com/MrWong99/voicebroker/pkg/provider/embeddings"
	"github.com/MrWong99/voicebroker/pkg/provider/embeddings/ollama"
	embopenai "github.com/MrWong99/voicebroker/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voicebroker/pkg/provider/llm"
	"github.com/MrWong99/voicebroker/pkg/provider/llm/anthropic"
	"github.com/MrWong99/voicebroker/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/voicebroker/pkg/provider/llm/openai"
	"github.com/MrWong99/voicebroker/pkg/provider/stt"
	"github.com/MrWong99/voicebroker/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voicebroker/pkg/provider/stt/whisper"
	"github.com/MrWong99/voicebroker/pkg/provider/tts"
	"github.com/MrWong99/voicebroker/pkg/provider/tts/coqui"
	"github.com/MrWong99/voicebroker/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders installs the factory functions for every provider
// implementation this module ships into reg, the same static-registry-of-
// factories shape internal/tools/registry.go uses for tool integrations and
// internal/sync/catalog/registry.go uses for catalog sources.
func registerBuiltinProviders(reg *config.Registry) {
	registerLLMProviders(reg)
	registerSTTProviders(reg)
	registerTTSProviders(reg)
	registerEmbeddingsProviders(reg)
}

func registerLLMProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		model := e.Model
		if model == "" {
			model = "gpt-4o"
		}
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, model, opts...)
	})

	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		model := e.Model
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		var opts []anthropic.Option
		if e.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(e.BaseURL))
		}
		return anthropic.New(e.APIKey, model, opts...)
	})

	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		if e.Model == "" {
			return nil, fmt.Errorf("config: ollama llm provider requires a model")
		}
		return anyllm.NewOllama(e.Model)
	})
}

func registerSTTProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		if e.BaseURL == "" {
			return nil, fmt.Errorf("config: whisper stt provider requires base_url")
		}
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})
}

func registerTTSProviders(reg *config.Registry) {
	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		if e.BaseURL == "" {
			return nil, fmt.Errorf("config: coqui tts provider requires base_url")
		}
		return coqui.New(e.BaseURL)
	})
}

func registerEmbeddingsProviders(reg *config.Registry) {
	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		model := e.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		var opts []embopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(e.BaseURL))
		}
		return embopenai.New(e.APIKey, model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		if e.BaseURL == "" {
			return nil, fmt.Errorf("config: ollama embeddings provider requires base_url")
		}
		model := e.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return ollama.New(e.BaseURL, model)
	})
}
