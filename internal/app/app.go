// Package app wires together the broker's per-process dependencies (stores,
// provider registry, MCP host, product-sync pipeline, session manager) and
// exposes the entry point a transport adapter uses to start a call: [App.NewCall].
//
// Grounded on glyphoxa's internal/app wiring shape (a single struct built
// once at startup from [config.Config] and a populated [config.Registry],
// exposing Run/Shutdown to cmd/glyphoxa/main.go) — generalized here from one
// shared session to a per-call [turn.Orchestrator], since this broker serves
// many concurrent conversations rather than one.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicebroker/internal/config"
	"github.com/MrWong99/voicebroker/internal/mcp"
	"github.com/MrWong99/voicebroker/internal/mcp/mcphost"
	"github.com/MrWong99/voicebroker/internal/observe"
	"github.com/MrWong99/voicebroker/internal/rag"
	"github.com/MrWong99/voicebroker/internal/session"
	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/store/vectorstore"
	prodsync "github.com/MrWong99/voicebroker/internal/sync"
	"github.com/MrWong99/voicebroker/internal/sync/catalog"
	"github.com/MrWong99/voicebroker/internal/tools"
	"github.com/MrWong99/voicebroker/internal/tools/integrations/orderlookup"
	"github.com/MrWong99/voicebroker/internal/tools/integrations/productstock"
	"github.com/MrWong99/voicebroker/internal/turn"
	vadgate "github.com/MrWong99/voicebroker/internal/vad"
	"github.com/MrWong99/voicebroker/pkg/audio"
	"github.com/MrWong99/voicebroker/pkg/audio/mixer"
	vadprovider "github.com/MrWong99/voicebroker/pkg/provider/vad"
	"github.com/MrWong99/voicebroker/pkg/types"
)

// App holds every dependency a call needs, built once at process startup.
type App struct {
	cfg *config.Config

	registry *config.Registry
	tools    *tools.Registry
	store    *postgres.Store
	vectors  vectorstore.Store
	mcpHost  mcp.Host
	metrics  *observe.Metrics

	sessions *session.Manager
	pipeline *prodsync.Pipeline

	pipelineCtx    context.Context
	pipelineCancel context.CancelFunc
}

// New connects to the relational and vector stores, populates the provider
// registry, registers tool and catalog integrations, connects any configured
// MCP servers, and starts the background session reaper and product-sync
// pipeline. The returned App is ready to serve calls via [App.NewCall].
func New(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*App, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	store := postgres.NewStore(pool)

	var vectors vectorstore.Store
	if cfg.VectorStore.URL != "" {
		vectors = vectorstore.NewQdrant(cfg.VectorStore.URL, cfg.VectorStore.APIKey)
	} else {
		vectors = vectorstore.NewMock()
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	toolRegistry := tools.NewRegistry()
	orderlookup.Register(toolRegistry)
	productstock.Register(toolRegistry)

	catalogRegistry := catalog.NewRegistry()
	catalog.Register(catalogRegistry)

	host := mcphost.New()
	for _, srv := range cfg.MCP.Servers {
		mcpCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := host.RegisterServer(ctx, mcpCfg); err != nil {
			return nil, fmt.Errorf("app: register mcp server %q: %w", srv.Name, err)
		}
	}

	pipeline := prodsync.NewPipeline(store, catalogRegistry, vectors, reg, cfg.Providers.Embeddings, metrics)

	a := &App{
		cfg:      cfg,
		registry: reg,
		tools:    toolRegistry,
		store:    store,
		vectors:  vectors,
		mcpHost:  host,
		metrics:  metrics,
		sessions: session.NewManager(0),
		pipeline: pipeline,
	}

	a.sessions.Start(ctx, session.DefaultReapInterval)
	a.pipelineCtx, a.pipelineCancel = context.WithCancel(ctx)
	a.pipeline.Start(a.pipelineCtx, prodsync.DefaultScanInterval)

	return a, nil
}

// NewCall resolves agentID's persona and tool bindings, constructs the
// per-agent provider set, and returns a [turn.Orchestrator] bound to media,
// ready to have [turn.Orchestrator.Run] called on it by the transport adapter
// that owns the call.
func (a *App) NewCall(ctx context.Context, agentID string, media audio.Session) (*turn.Orchestrator, error) {
	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("app: load agent %q: %w", agentID, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("app: agent %q not found", agentID)
	}

	sttP, err := a.registry.CreateSTT(config.ProviderEntryFromMap(agent.STTProvider, agent.STTConfig))
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider: %w", err)
	}
	llmP, err := a.registry.CreateLLM(config.ProviderEntryFromMap(agent.LLMProvider, agent.LLMConfig))
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider: %w", err)
	}
	ttsP, err := a.registry.CreateTTS(config.ProviderEntryFromMap(agent.TTSProvider, agent.TTSConfig))
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider: %w", err)
	}

	bindings, err := a.store.ListAgentTools(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("app: list agent tools: %w", err)
	}
	executor := tools.NewExecutor(a.tools, bindings)

	sess, err := a.sessions.Create(uuid.NewString(), *agent, executor)
	if err != nil {
		return nil, fmt.Errorf("app: create session: %w", err)
	}

	vadEngine, err := a.registry.CreateVAD(a.cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad engine: %w", err)
	}
	vadSession, err := vadEngine.NewSession(vadprovider.Config{
		SampleRate:       16000,
		FrameSizeMs:      vadgate.FrameSizeMs,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})
	if err != nil {
		return nil, fmt.Errorf("app: start vad session: %w", err)
	}
	gate := vadgate.New(vadSession, vadgate.Config{SampleRate: 16000})

	mix := mixer.New(func(frame []byte) {
		select {
		case media.OutboundStream() <- audio.AudioFrame{
			Data:       frame,
			SampleRate: turn.DefaultTTSSampleRate,
			Channels:   turn.DefaultTTSChannels,
			Timestamp:  time.Duration(0),
		}:
		default:
		}
	})

	opts := []turn.Option{
		turn.WithMetrics(a.metrics),
		turn.WithMCPHost(a.mcpHost, mcp.BudgetStandard),
	}
	if retriever, namespace, ok := a.buildRetriever(ctx, *agent); ok {
		opts = append(opts, turn.WithRAG(retriever, namespace))
	}

	voice := types.VoiceProfile{ID: agent.ID, Name: agent.ID, Provider: agent.TTSProvider}

	orch := turn.New(sess, media, mix, gate, sttP, llmP, ttsP, voice, opts...)
	return orch, nil
}

// buildRetriever resolves the RAG retriever for agent, if rag_config_id is
// set, honoring the per-agent embedding-model override the same way
// [prodsync.Pipeline.resolveRAG] does.
func (a *App) buildRetriever(ctx context.Context, agent postgres.Agent) (*rag.Retriever, string, bool) {
	if agent.RAGConfigID == "" {
		return nil, "", false
	}
	ragConfig, err := a.store.GetRAGConfig(ctx, agent.RAGConfigID)
	if err != nil || ragConfig == nil {
		slog.Warn("app: load rag config failed, disabling rag for call", "agent_id", agent.ID, "error", err)
		return nil, "", false
	}

	entry := a.cfg.Providers.Embeddings
	if model := ragConfig.EmbeddingModel(); model != "" {
		entry.Model = model
	}
	embedder, err := a.registry.CreateEmbeddings(entry)
	if err != nil {
		slog.Warn("app: create embeddings provider failed, disabling rag for call", "agent_id", agent.ID, "error", err)
		return nil, "", false
	}

	return rag.New(embedder, a.vectors, ragConfig.CollectionName(), rag.DefaultTopK), "", true
}

// Serve accepts inbound calls from bridge in a loop, starting one
// [turn.Orchestrator] per accepted [audio.Session] and routing it to
// defaultAgentID. Blocks until ctx is cancelled or bridge.Accept returns a
// non-context error. Which agent answers a given call is not decided here:
// every call is routed to the same configured agent.
func (a *App) Serve(ctx context.Context, bridge audio.Bridge, defaultAgentID string) error {
	for {
		media, err := bridge.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: accept call: %w", err)
		}

		go func() {
			orch, err := a.NewCall(ctx, defaultAgentID, media)
			if err != nil {
				slog.Error("app: start call failed", "error", err)
				_ = media.Hangup()
				return
			}
			if err := orch.Run(ctx); err != nil {
				slog.Warn("app: call ended with error", "error", err)
			}
		}()
	}
}

// Shutdown stops the background session reaper and sync pipeline, closes the
// MCP host, and waits for both background goroutines to exit or ctx to expire.
func (a *App) Shutdown(ctx context.Context) error {
	a.sessions.Stop()
	if a.pipelineCancel != nil {
		a.pipelineCancel()
	}

	done := make(chan struct{})
	go func() {
		a.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := a.sessions.CloseAll(); err != nil {
		slog.Warn("app: close sessions", "error", err)
	}
	if a.mcpHost != nil {
		return a.mcpHost.Close()
	}
	return nil
}
