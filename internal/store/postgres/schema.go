// Package postgres implements the relational store backing agents, their
// tool bindings, the synced product catalog, and RAG configuration.
//
// This is the "agents(...)", "agent_tools(...)", "products(...)", and
// "rag_configs(...)" schema named in the external interfaces. It is a
// thin CRUD layer over pgx — no ORM, no migrations tooling beyond the DDL
// the store executes itself.
package postgres

// Schema is the SQL DDL for every table this store owns. Execute it via
// [Store.Migrate] during process startup.
const Schema = `
CREATE TABLE IF NOT EXISTS rag_configs (
    id               TEXT PRIMARY KEY,
    provider_config  JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agents (
    id              TEXT PRIMARY KEY,
    system_prompt   TEXT NOT NULL DEFAULT '',
    stt_provider    TEXT NOT NULL DEFAULT '',
    llm_provider    TEXT NOT NULL DEFAULT '',
    tts_provider    TEXT NOT NULL DEFAULT '',
    stt_config      JSONB NOT NULL DEFAULT '{}',
    llm_config      JSONB NOT NULL DEFAULT '{}',
    tts_config      JSONB NOT NULL DEFAULT '{}',
    rag_config_id   TEXT REFERENCES rag_configs(id) ON DELETE SET NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agent_tools (
    id                  TEXT PRIMARY KEY,
    agent_id            TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    tool_slug           TEXT NOT NULL,
    integration_slug    TEXT NOT NULL,
    integration_config  JSONB NOT NULL DEFAULT '{}',
    is_enabled          BOOLEAN NOT NULL DEFAULT true,
    use_as_rag          BOOLEAN NOT NULL DEFAULT false,
    sync_interval_hours INTEGER NOT NULL DEFAULT 24,
    max_products        INTEGER,
    last_sync_at        TIMESTAMPTZ,
    last_sync_count     INTEGER NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (agent_id, tool_slug)
);

CREATE TABLE IF NOT EXISTS products (
    id                 BIGSERIAL PRIMARY KEY,
    agent_tool_id      TEXT NOT NULL REFERENCES agent_tools(id) ON DELETE CASCADE,
    external_id        TEXT NOT NULL,
    name               TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    long_description   TEXT NOT NULL DEFAULT '',
    price              NUMERIC,
    currency           TEXT NOT NULL DEFAULT '',
    category           TEXT NOT NULL DEFAULT '',
    sku                TEXT NOT NULL DEFAULT '',
    url                TEXT NOT NULL DEFAULT '',
    image_url          TEXT NOT NULL DEFAULT '',
    in_stock           BOOLEAN NOT NULL DEFAULT true,
    extra_data         JSONB NOT NULL DEFAULT '{}',
    content_hash       TEXT NOT NULL DEFAULT '',
    rag_indexed        BOOLEAN NOT NULL DEFAULT false,
    rag_indexed_at     TIMESTAMPTZ,
    qdrant_point_id    TEXT,
    source_updated_at  TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (agent_tool_id, external_id)
);
CREATE INDEX IF NOT EXISTS idx_products_agent_tool ON products(agent_tool_id);
CREATE INDEX IF NOT EXISTS idx_products_rag_indexed ON products(agent_tool_id, rag_indexed) WHERE NOT rag_indexed;
`
