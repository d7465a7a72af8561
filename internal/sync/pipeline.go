package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voicebroker/internal/config"
	"github.com/MrWong99/voicebroker/internal/observe"
	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/store/vectorstore"
	"github.com/MrWong99/voicebroker/internal/sync/catalog"
	"github.com/MrWong99/voicebroker/pkg/provider/embeddings"
)

// DefaultIndexBatch is the number of rows Stage B embeds per pass before
// re-checking whether any unindexed rows remain (§4.8 Stage B step 1).
const DefaultIndexBatch = 500

// DefaultScanInterval is how often [Pipeline.Run] walks the working set of
// RAG-sync bindings to decide whether each is due.
const DefaultScanInterval = 5 * time.Minute

// PipelineStore is the relational surface the scheduler needs beyond what
// Stage A/B/C's own narrower interfaces already require: the working set of
// bindings due for a sync, and the agent/rag_config rows that pick a
// binding's collection and embedder.
type PipelineStore interface {
	Store
	RelationalStore
	ListRAGSyncTools(ctx context.Context) ([]postgres.AgentTool, error)
	GetAgent(ctx context.Context, id string) (*postgres.Agent, error)
	GetRAGConfig(ctx context.Context, id string) (*postgres.RAGConfig, error)
}

// Pipeline ties Stage A (Syncer), Stage B (Embedder), and Stage C (Orphans)
// together into the scheduled, per-(agent,tool) service §4.8 describes,
// running each stage for every due binding on an interval.
//
// Grounded on the interval-driven background-task shape of glyphoxa's
// session consolidator (run a pass over a working set every tick, log and
// continue past a single item's failure rather than aborting the pass).
type Pipeline struct {
	store          PipelineStore
	syncer         *Syncer
	sources        *catalog.Registry
	vectors        vectorstore.Store
	embeddings     *config.Registry
	embeddingsBase config.ProviderEntry
	indexBatch     int
	metrics        *observe.Metrics

	done chan struct{}
}

// NewPipeline constructs a Pipeline. embeddingsBase is the process-wide
// default embeddings provider entry (§2 "Providers" config); a binding's
// rag_config may override just the Model field, per config.go's documented
// per-agent embeddings override.
func NewPipeline(store PipelineStore, sources *catalog.Registry, vectors vectorstore.Store, embeddingsRegistry *config.Registry, embeddingsBase config.ProviderEntry, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{
		store:          store,
		syncer:         NewSyncer(store),
		sources:        sources,
		vectors:        vectors,
		embeddings:     embeddingsRegistry,
		embeddingsBase: embeddingsBase,
		indexBatch:     DefaultIndexBatch,
		metrics:        metrics,
	}
}

// RunOnce walks every binding flagged use_as_rag and is_enabled, running
// whichever of Stage A/B/C are due for each. Stage A failures are logged and
// skip that binding (§7: SyncError aborts the run, not the scheduler);
// Stage B/C failures are likewise non-fatal to the pass.
func (p *Pipeline) RunOnce(ctx context.Context, forceFull bool) {
	bindings, err := p.store.ListRAGSyncTools(ctx)
	if err != nil {
		slog.Error("sync: pipeline: list rag sync tools", "error", err)
		return
	}

	for _, binding := range bindings {
		p.runBinding(ctx, binding, forceFull)
	}
}

func (p *Pipeline) runBinding(ctx context.Context, binding postgres.AgentTool, forceFull bool) {
	logger := slog.With("agent_tool_id", binding.ID, "agent_id", binding.AgentID)

	due, incremental := p.isDue(binding, forceFull)
	if !due {
		return
	}

	source, err := p.sources.New(binding.IntegrationSlug, binding.IntegrationConfig)
	if err != nil {
		logger.Error("sync: pipeline: resolve catalog source", "integration", binding.IntegrationSlug, "error", err)
		return
	}

	agent, err := p.store.GetAgent(ctx, binding.AgentID)
	if err != nil || agent == nil {
		logger.Error("sync: pipeline: load agent", "error", err)
		return
	}
	ragConfig, embedder, collection, err := p.resolveRAG(ctx, *agent)
	if err != nil {
		logger.Error("sync: pipeline: resolve rag config", "error", err)
		return
	}
	_ = ragConfig

	var modifiedAfter *time.Time
	if incremental {
		modifiedAfter = binding.LastSyncAt
	}

	start := time.Now()
	result, err := p.syncer.Sync(ctx, binding, source, incremental, modifiedAfter)
	p.observeSync(ctx, time.Since(start), err)
	if err != nil {
		logger.Error("sync: pipeline: stage a failed", "error", err)
		return
	}
	logger.Info("sync: pipeline: stage a complete",
		"fetched", result.Fetched, "upserted", result.Upserted, "deleted", result.Deleted, "skipped", result.Skipped,
		"incremental", incremental)

	embedderInst := NewEmbedder(p.store, p.vectors, embedder, collection)
	indexBatch := p.indexBatch
	if indexBatch <= 0 {
		indexBatch = DefaultIndexBatch
	}
	for {
		embedStart := time.Now()
		embedResult, err := embedderInst.EmbedPending(ctx, binding.AgentID, binding.ID, indexBatch)
		p.observeEmbed(ctx, time.Since(embedStart), err)
		if err != nil {
			logger.Error("sync: pipeline: stage b failed", "error", err)
			break
		}
		if embedResult.Embedded == 0 {
			break
		}
		logger.Info("sync: pipeline: stage b batch embedded", "count", embedResult.Embedded)
		if embedResult.Embedded < indexBatch {
			break
		}
	}

	if !incremental && result.Deleted > 0 {
		orphans := NewOrphans(p.store, p.vectors, collection)
		orphanResult, err := orphans.Clean(ctx, binding.AgentID, binding.ID)
		if err != nil {
			logger.Warn("sync: pipeline: stage c failed (non-fatal)", "error", err)
		} else {
			logger.Info("sync: pipeline: stage c complete", "orphans_deleted", orphanResult.Deleted)
		}
	}
}

// isDue applies §4.8 Stage A step 1's skip rule and reports whether this
// binding should sync now, and if so whether as an incremental (modified-
// since) or full pass. forceFull always runs as a full sync.
func (p *Pipeline) isDue(binding postgres.AgentTool, forceFull bool) (due bool, incremental bool) {
	if forceFull {
		return true, false
	}
	interval := time.Duration(binding.SyncIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if binding.LastSyncAt == nil {
		return true, false
	}
	if time.Now().Before(binding.LastSyncAt.Add(interval)) {
		return false, false
	}
	return true, true
}

// resolveRAG picks the embedder and vector collection for agent, honoring a
// per-agent embedding_model override on top of the process-wide default
// provider entry.
func (p *Pipeline) resolveRAG(ctx context.Context, agent postgres.Agent) (*postgres.RAGConfig, embeddings.Provider, string, error) {
	if agent.RAGConfigID == "" {
		return nil, nil, "", nil
	}
	ragConfig, err := p.store.GetRAGConfig(ctx, agent.RAGConfigID)
	if err != nil || ragConfig == nil {
		return nil, nil, "", err
	}

	entry := p.embeddingsBase
	if model := ragConfig.EmbeddingModel(); model != "" {
		entry.Model = model
	}
	embedder, err := p.embeddings.CreateEmbeddings(entry)
	if err != nil {
		return nil, nil, "", err
	}
	return ragConfig, embedder, ragConfig.CollectionName(), nil
}

func (p *Pipeline) observeSync(ctx context.Context, d time.Duration, err error) {
	if p.metrics == nil || p.metrics.SyncDuration == nil {
		return
	}
	p.metrics.SyncDuration.Record(ctx, d.Seconds())
	_ = err
}

func (p *Pipeline) observeEmbed(ctx context.Context, d time.Duration, err error) {
	if p.metrics == nil || p.metrics.EmbedDuration == nil {
		return
	}
	p.metrics.EmbedDuration.Record(ctx, d.Seconds())
	_ = err
}

// Start launches a background goroutine that calls [Pipeline.RunOnce] every
// interval (zero selects [DefaultScanInterval]) until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx, false)
			}
		}
	}()
}

// Wait blocks until the goroutine started by [Pipeline.Start] has exited
// (its context was cancelled). Safe to call when Start was never called.
func (p *Pipeline) Wait() {
	if p.done == nil {
		return
	}
	<-p.done
}
