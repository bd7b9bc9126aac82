package cache

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT 'bg-blue-500',
	doc_count   INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pages (
	id             BIGSERIAL PRIMARY KEY,
	slug           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	author         TEXT NOT NULL DEFAULT '',
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	content        TEXT NOT NULL DEFAULT '',
	content_html   TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'draft')),
	view_count     INTEGER NOT NULL DEFAULT 0,
	github_sha     TEXT NOT NULL DEFAULT '',
	github_url     TEXT NOT NULL DEFAULT '',
	last_synced_at TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_pages_category ON pages(category);
CREATE INDEX IF NOT EXISTS idx_pages_project ON pages(project_id);
CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status);
CREATE INDEX IF NOT EXISTS idx_pages_updated ON pages(updated_at);
CREATE INDEX IF NOT EXISTS idx_pages_title_trgm ON pages USING GIN (title gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_pages_content_trgm ON pages USING GIN (content gin_trgm_ops);

CREATE TABLE IF NOT EXISTS tags (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	color        TEXT NOT NULL DEFAULT '',
	usage_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS page_tags (
	page_id BIGINT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	tag_id  BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (page_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_page_tags_tag ON page_tags(tag_id);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT 'bg-blue-500',
	doc_count   INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	slug           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	author         TEXT NOT NULL DEFAULT '',
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	content        TEXT NOT NULL DEFAULT '',
	content_html   TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'draft')),
	view_count     INTEGER NOT NULL DEFAULT 0,
	github_sha     TEXT NOT NULL DEFAULT '',
	github_url     TEXT NOT NULL DEFAULT '',
	last_synced_at DATETIME,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_category ON pages(category);
CREATE INDEX IF NOT EXISTS idx_pages_project ON pages(project_id);
CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status);
CREATE INDEX IF NOT EXISTS idx_pages_updated ON pages(updated_at);

CREATE TABLE IF NOT EXISTS tags (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	color        TEXT NOT NULL DEFAULT '',
	usage_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS page_tags (
	page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (page_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_page_tags_tag ON page_tags(tag_id);
`
