package postgres

import "time"

// Agent is the immutable-during-a-session configuration row: identity, a
// system-prompt template, and the provider selections for STT/LLM/TTS.
type Agent struct {
	ID            string
	SystemPrompt  string
	STTProvider   string
	LLMProvider   string
	TTSProvider   string
	STTConfig     map[string]any
	LLMConfig     map[string]any
	TTSConfig     map[string]any
	RAGConfigID   string // empty means RAG is disabled for this agent
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AgentTool binds a tool slug to a concrete integration for one agent.
// tool_slug is unique per agent.
type AgentTool struct {
	ID                string
	AgentID           string
	ToolSlug          string
	IntegrationSlug   string
	IntegrationConfig map[string]any
	IsEnabled         bool

	// UseAsRAG marks this binding as a catalog-capable source for the
	// product sync pipeline's Stage A.
	UseAsRAG bool

	SyncIntervalHours int
	MaxProducts       *int
	LastSyncAt        *time.Time
	LastSyncCount     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is a single durable catalog row synced from a source integration.
type Product struct {
	ID              int64
	AgentToolID     string
	ExternalID      string
	Name            string
	Description     string
	LongDescription string
	Price           *float64
	Currency        string
	Category        string
	SKU             string
	URL             string
	ImageURL        string
	InStock         bool
	ExtraData       map[string]any
	ContentHash     string
	RAGIndexed      bool
	RAGIndexedAt    *time.Time
	QdrantPointID   string
	SourceUpdatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RAGConfig carries retrieval settings for an agent, at minimum a vector
// collection name and the embedding model identifier.
type RAGConfig struct {
	ID               string
	ProviderConfig   map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CollectionName returns the rag_configs.provider_config["collection_name"]
// value, or "" if unset.
func (c RAGConfig) CollectionName() string {
	v, _ := c.ProviderConfig["collection_name"].(string)
	return v
}

// EmbeddingModel returns the rag_configs.provider_config["embedding_model"]
// value, or "" if unset.
func (c RAGConfig) EmbeddingModel() string {
	v, _ := c.ProviderConfig["embedding_model"].(string)
	return v
}
