package store

// schemaSQLite is the SQLite DDL for the graph store, executed once on
// open. It models the property graph in SPEC_FULL.md §6: fingerprints,
// action_graphs and their linear step chain, findings, and the
// REPAIRED_TO provenance relation between an old step and its
// replacement (SPEC_FULL.md §4.10/§4.12).
//
// Grounded on graph/store/sqlite.go's CREATE TABLE IF NOT EXISTS
// auto-migration pattern, retargeted from the teacher's
// workflow_steps/workflow_checkpoints tables to this domain's schema.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS fingerprints (
	hash             TEXT PRIMARY KEY,
	tech_stack       TEXT NOT NULL,
	auth_model       TEXT NOT NULL,
	endpoint_pattern TEXT NOT NULL,
	security_signals TEXT NOT NULL, -- JSON array
	observation_text TEXT NOT NULL,
	embedding        TEXT,          -- JSON array of float32, nullable
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS action_graphs (
	id                 TEXT PRIMARY KEY,
	fingerprint_hash   TEXT NOT NULL REFERENCES fingerprints(hash),
	vulnerability_type TEXT NOT NULL,
	description        TEXT NOT NULL,
	confidence         REAL NOT NULL,
	times_executed     INTEGER NOT NULL DEFAULT 0,
	times_succeeded    INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_graphs_fingerprint ON action_graphs(fingerprint_hash);

CREATE TABLE IF NOT EXISTS steps (
	id               TEXT PRIMARY KEY,
	graph_id         TEXT NOT NULL REFERENCES action_graphs(id),
	step_order       INTEGER NOT NULL,
	phase            TEXT NOT NULL,
	kind             TEXT NOT NULL,
	command          TEXT NOT NULL,
	parameters       TEXT NOT NULL, -- JSON object of ParamValue
	output_file      TEXT NOT NULL DEFAULT '',
	success_criteria TEXT NOT NULL DEFAULT '',
	deterministic    INTEGER NOT NULL DEFAULT 0,
	UNIQUE(graph_id, step_order)
);

CREATE TABLE IF NOT EXISTS findings (
	id            TEXT PRIMARY KEY,
	graph_id      TEXT NOT NULL REFERENCES action_graphs(id),
	observation   TEXT NOT NULL,
	severity      TEXT NOT NULL DEFAULT '',
	evidence      TEXT NOT NULL,
	target_url    TEXT NOT NULL,
	embedding     TEXT, -- JSON array of float32, nullable
	discovered_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_graph ON findings(graph_id);

CREATE TABLE IF NOT EXISTS repaired_to (
	old_step_id TEXT NOT NULL,
	new_step_id TEXT NOT NULL,
	repaired_at DATETIME NOT NULL,
	PRIMARY KEY (old_step_id, new_step_id)
);
`

// schemaMySQL is the MySQL/MariaDB equivalent DDL, differing only in
// types InnoDB requires (VARCHAR with explicit lengths for primary/foreign
// keys, DATETIME defaults). Grounded on graph/store/mysql.go's table
// definitions.
const schemaMySQL = `
CREATE TABLE IF NOT EXISTS fingerprints (
	hash             VARCHAR(64) PRIMARY KEY,
	tech_stack       TEXT NOT NULL,
	auth_model       VARCHAR(255) NOT NULL,
	endpoint_pattern TEXT NOT NULL,
	security_signals TEXT NOT NULL,
	observation_text TEXT NOT NULL,
	embedding        LONGTEXT,
	created_at       DATETIME NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS action_graphs (
	id                 VARCHAR(64) PRIMARY KEY,
	fingerprint_hash   VARCHAR(64) NOT NULL,
	vulnerability_type VARCHAR(255) NOT NULL,
	description        TEXT NOT NULL,
	confidence         DOUBLE NOT NULL,
	times_executed     INT NOT NULL DEFAULT 0,
	times_succeeded    INT NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	INDEX idx_action_graphs_fingerprint (fingerprint_hash),
	FOREIGN KEY (fingerprint_hash) REFERENCES fingerprints(hash)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS steps (
	id               VARCHAR(64) PRIMARY KEY,
	graph_id         VARCHAR(64) NOT NULL,
	step_order       INT NOT NULL,
	phase            VARCHAR(16) NOT NULL,
	kind             VARCHAR(32) NOT NULL,
	command          TEXT NOT NULL,
	parameters       LONGTEXT NOT NULL,
	output_file      VARCHAR(255) NOT NULL DEFAULT '',
	success_criteria TEXT NOT NULL,
	deterministic    TINYINT(1) NOT NULL DEFAULT 0,
	UNIQUE KEY uq_graph_order (graph_id, step_order),
	FOREIGN KEY (graph_id) REFERENCES action_graphs(id)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS findings (
	id            VARCHAR(64) PRIMARY KEY,
	graph_id      VARCHAR(64) NOT NULL,
	observation   TEXT NOT NULL,
	severity      VARCHAR(32) NOT NULL DEFAULT '',
	evidence      LONGTEXT NOT NULL,
	target_url    TEXT NOT NULL,
	embedding     LONGTEXT,
	discovered_at DATETIME NOT NULL,
	INDEX idx_findings_graph (graph_id),
	FOREIGN KEY (graph_id) REFERENCES action_graphs(id)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS repaired_to (
	old_step_id VARCHAR(64) NOT NULL,
	new_step_id VARCHAR(64) NOT NULL,
	repaired_at DATETIME NOT NULL,
	PRIMARY KEY (old_step_id, new_step_id)
) ENGINE=InnoDB;
`
