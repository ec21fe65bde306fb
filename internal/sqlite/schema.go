package sqlite

// Schema DDL for all tables, in dependency order. Every statement is
// idempotent; bootstrap runs them on first use and never drops anything.
// Column types are limited to TEXT and BIGINT so the same statements run on
// SQLite and PostgreSQL.
const (
	createUsers = `CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    active_canvas_id TEXT,
    auto_save_interval_ms BIGINT NOT NULL DEFAULT 30000,
    max_backup_count BIGINT NOT NULL DEFAULT 10,
    save_on_exit BIGINT NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`

	createCanvases = `CREATE TABLE IF NOT EXISTS canvases (
    canvas_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    document TEXT NOT NULL,
    version BIGINT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`

	createNodes = `CREATE TABLE IF NOT EXISTS nodes (
    canvas_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    node_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    parent_node_id TEXT,
    ordinal BIGINT NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (canvas_id, node_id),
    FOREIGN KEY (canvas_id) REFERENCES canvases(canvas_id) ON DELETE CASCADE
)`

	createMessages = `CREATE TABLE IF NOT EXISTS messages (
    canvas_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    ordinal BIGINT NOT NULL,
    message_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (canvas_id, node_id, ordinal),
    FOREIGN KEY (canvas_id, node_id) REFERENCES nodes(canvas_id, node_id) ON DELETE CASCADE
)`

	createEdges = `CREATE TABLE IF NOT EXISTS edges (
    canvas_id TEXT NOT NULL,
    edge_id TEXT NOT NULL,
    from_node_id TEXT NOT NULL,
    to_node_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    ordinal BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (canvas_id, edge_id),
    FOREIGN KEY (canvas_id) REFERENCES canvases(canvas_id) ON DELETE CASCADE
)`

	// Backups are deliberately not foreign-keyed to canvases: they outlive
	// the canvas they captured.
	createBackups = `CREATE TABLE IF NOT EXISTS backups (
    backup_id TEXT PRIMARY KEY,
    canvas_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    backup_type TEXT NOT NULL,
    document TEXT NOT NULL,
    size_bytes BIGINT NOT NULL,
    version BIGINT NOT NULL,
    node_count BIGINT NOT NULL DEFAULT 0,
    edge_count BIGINT NOT NULL DEFAULT 0,
    message_count BIGINT NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
)`

	createConversationMetadata = `CREATE TABLE IF NOT EXISTS conversation_metadata (
    canvas_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    save_count BIGINT NOT NULL DEFAULT 0,
    conflict_count BIGINT NOT NULL DEFAULT 0,
    node_count BIGINT NOT NULL DEFAULT 0,
    edge_count BIGINT NOT NULL DEFAULT 0,
    message_count BIGINT NOT NULL DEFAULT 0,
    current_version BIGINT NOT NULL DEFAULT 0,
    last_save_type TEXT NOT NULL DEFAULT '',
    last_session_id TEXT NOT NULL DEFAULT '',
    last_saved_at TEXT NOT NULL DEFAULT '',
    backup_count BIGINT NOT NULL DEFAULT 0,
    last_backup_id TEXT NOT NULL DEFAULT '',
    last_backup_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (canvas_id, user_id),
    FOREIGN KEY (canvas_id) REFERENCES canvases(canvas_id) ON DELETE CASCADE
)`

	createSessions = `CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    canvas_id TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    last_activity_at TEXT NOT NULL,
    save_count BIGINT NOT NULL DEFAULT 0,
    error_count BIGINT NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT ''
)`

	createThreads = `CREATE TABLE IF NOT EXISTS conversation_threads (
    thread_id TEXT PRIMARY KEY,
    canvas_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (canvas_id) REFERENCES canvases(canvas_id) ON DELETE CASCADE
)`

	createCheckpoints = `CREATE TABLE IF NOT EXISTS thread_checkpoints (
    checkpoint_id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL,
    version BIGINT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    nodes TEXT NOT NULL,
    edges TEXT NOT NULL,
    viewport TEXT,
    created_at TEXT NOT NULL,
    UNIQUE (thread_id, version),
    FOREIGN KEY (thread_id) REFERENCES conversation_threads(thread_id) ON DELETE CASCADE
)`

	createThreadNodes = `CREATE TABLE IF NOT EXISTS thread_nodes (
    checkpoint_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    node_type TEXT NOT NULL,
    message_count BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (checkpoint_id, node_id),
    FOREIGN KEY (checkpoint_id) REFERENCES thread_checkpoints(checkpoint_id) ON DELETE CASCADE
)`
)

// Index DDL for common queries.
const (
	idxCanvasesUser       = `CREATE INDEX IF NOT EXISTS idx_canvases_user ON canvases(user_id, updated_at)`
	idxMessagesID         = `CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(canvas_id, message_id)`
	idxBackupsOwnerCanvas = `CREATE INDEX IF NOT EXISTS idx_backups_owner_canvas ON backups(user_id, canvas_id, created_at)`
	idxSessionsUser       = `CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`
	idxThreadsCanvas      = `CREATE INDEX IF NOT EXISTS idx_threads_canvas ON conversation_threads(canvas_id, user_id)`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createUsers,
	createCanvases,
	createNodes,
	createMessages,
	createEdges,
	createBackups,
	createConversationMetadata,
	createSessions,
	createThreads,
	createCheckpoints,
	createThreadNodes,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxCanvasesUser,
	idxMessagesID,
	idxBackupsOwnerCanvas,
	idxSessionsUser,
	idxThreadsCanvas,
}

// columnAddition is a column added after the table first shipped. Existing
// databases pick it up on the next bootstrap.
type columnAddition struct {
	table      string
	column     string
	definition string
}

// columnAdditions lists additive columns in the order they were introduced.
var columnAdditions = []columnAddition{
	{table: "nodes", column: "forked_from_message_id", definition: "TEXT"},
	{table: "users", column: "compression_enabled", definition: "BIGINT NOT NULL DEFAULT 0"},
	{table: "backups", column: "compression", definition: "TEXT NOT NULL DEFAULT 'none'"},
}
