package store

import (
	"database/sql"
	"fmt"
)

// migration is one schema version: either a raw SQL script or a function
// performing schema-plus-data evolution. Versions are monotonically
// increasing; applied versions are recorded in _migrations and skipped on
// re-run.
type migration struct {
	version int64
	name    string
	sql     string
	fn      func(*sql.DB) error
}

var migrations = []migration{
	{version: 1, name: "initial_schema", sql: schemaV1},
	{version: 2, name: "add_status_prompts", fn: migrateAddStatusPrompts},
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    agent_config TEXT NOT NULL DEFAULT '{}',
    base_path TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statuses (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    "group" TEXT NOT NULL CHECK ("group" IN ('Backlog','Unstarted','Started','Completed','Cancelled')),
    name TEXT NOT NULL,
    sort_order INTEGER NOT NULL,
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statuses_project ON statuses(project_id);

CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    parent_id TEXT REFERENCES cards(id) ON DELETE CASCADE,
    status_id TEXT NOT NULL REFERENCES statuses(id),
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    labels TEXT NOT NULL DEFAULT '[]',
    sort_order INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_project ON cards(project_id);
CREATE INDEX IF NOT EXISTS idx_cards_status ON cards(status_id);
CREATE INDEX IF NOT EXISTS idx_cards_parent ON cards(parent_id);

CREATE TABLE IF NOT EXISTS open_questions (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    question TEXT NOT NULL,
    resolution TEXT,
    source TEXT NOT NULL CHECK (source IN ('agent','user')),
    resolved_by TEXT,
    created_at TEXT NOT NULL,
    resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_questions_card ON open_questions(card_id);

CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'markdown',
    path TEXT NOT NULL,
    created_by TEXT NOT NULL CHECK (created_by IN ('agent','user')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_card ON artifacts(card_id);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    agent_type TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_conversations_card ON conversations(card_id);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user','agent')),
    content TEXT NOT NULL,
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id);

CREATE TABLE IF NOT EXISTS linked_directories (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    label TEXT NOT NULL,
    is_repo INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE (project_id, path)
);

CREATE TABLE IF NOT EXISTS agent_workspaces (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    agent_type TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('running','completed','failed')),
    session_id TEXT,
    pid INTEGER,
    worktree_path TEXT,
    branch_name TEXT,
    review_count INTEGER NOT NULL DEFAULT 0,
    attached_at TEXT NOT NULL,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_workspaces_card ON agent_workspaces(card_id);
CREATE INDEX IF NOT EXISTS idx_workspaces_status ON agent_workspaces(status);
`

func migrateAddStatusPrompts(db *sql.DB) error {
	ok, err := hasColumn(db, "statuses", "status_prompts")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := db.Exec(`ALTER TABLE statuses ADD COLUMN status_prompts TEXT NOT NULL DEFAULT '[]'`); err != nil {
			return fmt.Errorf("adding status_prompts column: %w", err)
		}
	}

	backfills := []struct{ name, prompts string }{
		{"Backlog", `["brainstorming"]`},
		{"In Progress", `["tdd","systematic-debugging","verification"]`},
		{"In Review", `["code-review","verification"]`},
	}
	for _, b := range backfills {
		if _, err := db.Exec(`UPDATE statuses SET status_prompts = ? WHERE name = ?`, b.prompts, b.name); err != nil {
			return fmt.Errorf("backfilling status_prompts for %s: %w", b.name, err)
		}
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// runMigrations applies every pending migration in order. Each migration is
// atomic: the version row is only recorded when its statements succeed, and
// both are committed together.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied := make(map[int64]bool)
	rows, err := db.Query(`SELECT version FROM _migrations ORDER BY version`)
	if err != nil {
		return fmt.Errorf("querying migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		if _, err := db.Exec("BEGIN IMMEDIATE"); err != nil {
			return fmt.Errorf("migration %d (%s): begin: %w", m.version, m.name, err)
		}

		var runErr error
		if m.fn != nil {
			runErr = m.fn(db)
		} else {
			_, runErr = db.Exec(m.sql)
		}
		if runErr == nil {
			_, runErr = db.Exec(`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, now())
		}

		if runErr != nil {
			db.Exec("ROLLBACK")
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, runErr)
		}
		if _, err := db.Exec("COMMIT"); err != nil {
			db.Exec("ROLLBACK")
			return fmt.Errorf("migration %d (%s): commit: %w", m.version, m.name, err)
		}
	}

	return nil
}
