package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Migration tooling lives outside this service;
// the DDL here is idempotent so replicas can race on it safely.
const schema = `
DO $$ BEGIN
    CREATE TYPE scheduled_url_status AS ENUM ('1', '2', '3', '4');
EXCEPTION WHEN duplicate_object THEN NULL; END $$;

DO $$ BEGIN
    CREATE TYPE predefined_url_status AS ENUM ('1', '2', '3', '4');
EXCEPTION WHEN duplicate_object THEN NULL; END $$;

DO $$ BEGIN
    CREATE TYPE crawling_status AS ENUM ('0', '1', '2', '3', '4', '5', '6', '7', '8');
EXCEPTION WHEN duplicate_object THEN NULL; END $$;

CREATE TABLE IF NOT EXISTS scheduled_urls (
    id              BIGSERIAL PRIMARY KEY,
    url             TEXT NOT NULL,
    status          scheduled_url_status NOT NULL DEFAULT '1',
    task_data       JSONB NOT NULL,
    scheduled_time  TIMESTAMP NOT NULL,
    retry_count     INT NOT NULL DEFAULT 0,
    exception_info  TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_scheduled_urls_status ON scheduled_urls (status);
CREATE INDEX IF NOT EXISTS idx_scheduled_urls_due ON scheduled_urls (scheduled_time) WHERE status = '1';

CREATE TABLE IF NOT EXISTS predefined_urls (
    id              BIGSERIAL PRIMARY KEY,
    url             TEXT NOT NULL,
    status          predefined_url_status NOT NULL DEFAULT '1',
    task_data       JSONB NOT NULL,
    retry_count     INT NOT NULL DEFAULT 0,
    exception_info  TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_predefined_urls_status ON predefined_urls (status);

CREATE TABLE IF NOT EXISTS urls (
    id          BIGSERIAL PRIMARY KEY,
    url         TEXT NOT NULL,
    status      crawling_status NOT NULL DEFAULT '0',
    crawled_at  TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_urls_status ON urls (status);
CREATE INDEX IF NOT EXISTS idx_urls_url_lower ON urls (LOWER(url));

CREATE TABLE IF NOT EXISTS authors (
    id       BIGSERIAL PRIMARY KEY,
    url_id   BIGINT NOT NULL REFERENCES urls (id) ON DELETE CASCADE,
    name     TEXT NOT NULL,
    web_site TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contents (
    id      BIGSERIAL PRIMARY KEY,
    url_id  BIGINT NOT NULL REFERENCES urls (id) ON DELETE CASCADE,
    title   TEXT NOT NULL,
    content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metas (
    id           BIGSERIAL PRIMARY KEY,
    url_id       BIGINT NOT NULL REFERENCES urls (id) ON DELETE CASCADE,
    content_type TEXT NOT NULL,
    http_status  INT NOT NULL,
    author_id    BIGINT REFERENCES authors (id) ON DELETE SET NULL,
    published_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS indexes (
    id        BIGSERIAL PRIMARY KEY,
    url_id    BIGINT NOT NULL REFERENCES urls (id) ON DELETE CASCADE,
    keyword   TEXT NOT NULL,
    frequency INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_indexes_url_id ON indexes (url_id);
`

// EnsureSchema applies the embedded DDL.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
