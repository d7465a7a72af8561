package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface, so the store doesn't care whether it
// runs against a pool or a single connection.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back if fn returns an error or panics. Used by the product sync pipeline's
// Stage A batch upsert and orphan deletion, which must land atomically.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Store is the relational store backing agents, their tool bindings, the
// synced product catalog, and RAG configuration.
type Store struct {
	db DB
}

// NewStore wraps an existing connection or pool.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the schema DDL. It is idempotent and safe to call on
// every process startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsDuplicateKeyError reports whether err represents a unique-constraint
// violation (Postgres error code 23505).
func IsDuplicateKeyError(err error) bool {
	return isDuplicateKeyError(err)
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ---- rag_configs ----

// CreateRAGConfig inserts a new RAG config and returns it with timestamps populated.
func (s *Store) CreateRAGConfig(ctx context.Context, cfg RAGConfig) (*RAGConfig, error) {
	pc, err := marshalJSON(cfg.ProviderConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal provider_config: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO rag_configs (id, provider_config)
		VALUES ($1, $2)
		RETURNING created_at, updated_at`,
		cfg.ID, pc)
	if err := row.Scan(&cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: create rag_config: %w", err)
	}
	return &cfg, nil
}

// GetRAGConfig fetches a RAG config by ID. Returns nil, nil if not found.
func (s *Store) GetRAGConfig(ctx context.Context, id string) (*RAGConfig, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, provider_config, created_at, updated_at
		FROM rag_configs WHERE id = $1`, id)
	var cfg RAGConfig
	var pc []byte
	if err := row.Scan(&cfg.ID, &pc, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get rag_config: %w", err)
	}
	m, err := unmarshalJSON(pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: unmarshal provider_config: %w", err)
	}
	cfg.ProviderConfig = m
	return &cfg, nil
}

// ---- agents ----

// CreateAgent inserts a new agent row.
func (s *Store) CreateAgent(ctx context.Context, a Agent) (*Agent, error) {
	sttCfg, err := marshalJSON(a.STTConfig)
	if err != nil {
		return nil, err
	}
	llmCfg, err := marshalJSON(a.LLMConfig)
	if err != nil {
		return nil, err
	}
	ttsCfg, err := marshalJSON(a.TTSConfig)
	if err != nil {
		return nil, err
	}
	var ragID any
	if a.RAGConfigID != "" {
		ragID = a.RAGConfigID
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO agents
			(id, system_prompt, stt_provider, llm_provider, tts_provider,
			 stt_config, llm_config, tts_config, rag_config_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		a.ID, a.SystemPrompt, a.STTProvider, a.LLMProvider, a.TTSProvider,
		sttCfg, llmCfg, ttsCfg, ragID)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: create agent: %w", err)
	}
	return &a, nil
}

// GetAgent fetches an agent by ID. Returns nil, nil if not found.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, system_prompt, stt_provider, llm_provider, tts_provider,
		       stt_config, llm_config, tts_config, COALESCE(rag_config_id, ''),
		       created_at, updated_at
		FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var sttCfg, llmCfg, ttsCfg []byte
	if err := row.Scan(&a.ID, &a.SystemPrompt, &a.STTProvider, &a.LLMProvider, &a.TTSProvider,
		&sttCfg, &llmCfg, &ttsCfg, &a.RAGConfigID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan agent: %w", err)
	}
	var err error
	if a.STTConfig, err = unmarshalJSON(sttCfg); err != nil {
		return nil, err
	}
	if a.LLMConfig, err = unmarshalJSON(llmCfg); err != nil {
		return nil, err
	}
	if a.TTSConfig, err = unmarshalJSON(ttsCfg); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAgent overwrites all mutable fields of an existing agent.
func (s *Store) UpdateAgent(ctx context.Context, a Agent) (*Agent, error) {
	sttCfg, err := marshalJSON(a.STTConfig)
	if err != nil {
		return nil, err
	}
	llmCfg, err := marshalJSON(a.LLMConfig)
	if err != nil {
		return nil, err
	}
	ttsCfg, err := marshalJSON(a.TTSConfig)
	if err != nil {
		return nil, err
	}
	var ragID any
	if a.RAGConfigID != "" {
		ragID = a.RAGConfigID
	}
	row := s.db.QueryRow(ctx, `
		UPDATE agents SET
			system_prompt = $2, stt_provider = $3, llm_provider = $4, tts_provider = $5,
			stt_config = $6, llm_config = $7, tts_config = $8, rag_config_id = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		a.ID, a.SystemPrompt, a.STTProvider, a.LLMProvider, a.TTSProvider,
		sttCfg, llmCfg, ttsCfg, ragID)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: update agent: agent %q not found", a.ID)
		}
		return nil, fmt.Errorf("postgres: update agent: %w", err)
	}
	return &a, nil
}

// DeleteAgent removes an agent and cascades to its tool bindings.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete agent: agent %q not found", id)
	}
	return nil
}

// ListAgents returns every agent, ordered by ID.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, system_prompt, stt_provider, llm_provider, tts_provider,
		       stt_config, llm_config, tts_config, COALESCE(rag_config_id, ''),
		       created_at, updated_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ---- agent_tools ----

// CreateAgentTool inserts a new tool binding for an agent.
func (s *Store) CreateAgentTool(ctx context.Context, t AgentTool) (*AgentTool, error) {
	cfg, err := marshalJSON(t.IntegrationConfig)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO agent_tools
			(id, agent_id, tool_slug, integration_slug, integration_config, is_enabled,
			 use_as_rag, sync_interval_hours, max_products)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		t.ID, t.AgentID, t.ToolSlug, t.IntegrationSlug, cfg, t.IsEnabled,
		t.UseAsRAG, t.SyncIntervalHours, t.MaxProducts)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: create agent_tool: %w", err)
	}
	return &t, nil
}

func scanAgentTool(row pgx.Row) (*AgentTool, error) {
	var t AgentTool
	var cfg []byte
	if err := row.Scan(&t.ID, &t.AgentID, &t.ToolSlug, &t.IntegrationSlug, &cfg, &t.IsEnabled,
		&t.UseAsRAG, &t.SyncIntervalHours, &t.MaxProducts, &t.LastSyncAt, &t.LastSyncCount,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan agent_tool: %w", err)
	}
	m, err := unmarshalJSON(cfg)
	if err != nil {
		return nil, err
	}
	t.IntegrationConfig = m
	return &t, nil
}

const agentToolColumns = `
	id, agent_id, tool_slug, integration_slug, integration_config, is_enabled,
	use_as_rag, sync_interval_hours, max_products, last_sync_at, last_sync_count,
	created_at, updated_at`

// GetAgentTool fetches a tool binding by ID. Returns nil, nil if not found.
func (s *Store) GetAgentTool(ctx context.Context, id string) (*AgentTool, error) {
	row := s.db.QueryRow(ctx, `SELECT `+agentToolColumns+` FROM agent_tools WHERE id = $1`, id)
	return scanAgentTool(row)
}

// ListAgentTools returns every tool binding for an agent.
func (s *Store) ListAgentTools(ctx context.Context, agentID string) ([]AgentTool, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentToolColumns+` FROM agent_tools WHERE agent_id = $1 ORDER BY tool_slug`, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agent_tools: %w", err)
	}
	defer rows.Close()

	var out []AgentTool
	for rows.Next() {
		t, err := scanAgentTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListRAGSyncTools returns every tool binding flagged use_as_rag across all
// agents, the working set for the product sync pipeline's scheduler.
func (s *Store) ListRAGSyncTools(ctx context.Context) ([]AgentTool, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentToolColumns+` FROM agent_tools WHERE use_as_rag AND is_enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rag sync tools: %w", err)
	}
	defer rows.Close()

	var out []AgentTool
	for rows.Next() {
		t, err := scanAgentTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteAgentTool removes a tool binding and cascades to its synced products.
func (s *Store) DeleteAgentTool(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM agent_tools WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent_tool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete agent_tool: %q not found", id)
	}
	return nil
}

// RecordSync updates the sync bookkeeping columns after a Stage A pass.
func (s *Store) RecordSync(ctx context.Context, agentToolID string, at time.Time, count int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_tools SET last_sync_at = $2, last_sync_count = $3, updated_at = now()
		WHERE id = $1`, agentToolID, at, count)
	if err != nil {
		return fmt.Errorf("postgres: record sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: record sync: agent_tool %q not found", agentToolID)
	}
	return nil
}
