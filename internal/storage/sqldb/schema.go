package sqldb

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		feature TEXT NOT NULL,
		message TEXT NOT NULL,
		response TEXT NOT NULL,
		provider_used TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		response_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_user_id ON interactions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_provider ON interactions(provider_used)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS interactions (
		id UUID PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		feature TEXT NOT NULL,
		message TEXT NOT NULL,
		response TEXT NOT NULL,
		provider_used VARCHAR(100) NOT NULL,
		succeeded BOOLEAN NOT NULL DEFAULT false,
		status VARCHAR(50) NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		response_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_user_id ON interactions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_provider ON interactions(provider_used)`,
}

const insertInteraction = `INSERT INTO interactions (
	id, request_id, user_id, feature, message, response, provider_used,
	succeeded, status, attempts, prompt_tokens, response_tokens, latency_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecent = `SELECT id, request_id, user_id, feature, message, response, provider_used,
	succeeded, status, attempts, prompt_tokens, response_tokens, latency_ms, created_at
FROM interactions ORDER BY created_at DESC LIMIT ?`
