package repository

// Schema definitions for the MuleRift analysis archive.
// Compatible with both SQLite and PostgreSQL.

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    ledger_path TEXT NOT NULL,
    ledger_digest TEXT,
    status TEXT NOT NULL,
    summary TEXT,
    result TEXT,
    error_kind TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_digest ON analyses(ledger_digest);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalyses,
	}
}
