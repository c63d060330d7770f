package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/kestrelsec/attackgraph/graph"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the production Store backend for deployments that need a
// shared store across orchestrator replicas (SPEC_FULL.md §4.12 / spec.md
// §6: "concurrency across runs is safe provided... a transactional
// store").
//
// Grounded on graph/store/mysql.go's connection pool setup, retargeted to
// the schema in schema.go. Query shape mirrors SQLiteStore; differences
// are confined to dialect (INSERT ... ON DUPLICATE KEY UPDATE instead of
// ON CONFLICT DO NOTHING).
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn (e.g.
// "user:password@tcp(localhost:3306)/attackgraph?parseTime=true") and
// auto-migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	for _, stmt := range splitStatements(schemaMySQL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: create schema: %w", err)
		}
	}
	return s, nil
}

// splitStatements splits a multi-statement DDL block on ";\n" boundaries.
// go-sql-driver/mysql does not execute multiple statements per ExecContext
// call by default.
func splitStatements(ddl string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(ddl); i++ {
		if ddl[i] == ';' {
			stmt := trimSpace(ddl[start:i])
			if stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	if rest := trimSpace(ddl[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (s *MySQLStore) UpsertFingerprint(ctx context.Context, fp graph.Fingerprint) error {
	signals, err := marshalStrings(fp.SecuritySignals)
	if err != nil {
		return fmt.Errorf("store: marshal security_signals: %w", err)
	}
	embedding, err := marshalEmbedding(fp.Embedding)
	if err != nil {
		return fmt.Errorf("store: marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (hash, tech_stack, auth_model, endpoint_pattern, security_signals, observation_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE hash = hash
	`, fp.Hash, fp.TechStack, fp.AuthModel, fp.EndpointPattern, signals, fp.ObservationText, embedding, repairNowFunc())
	if err != nil {
		return fmt.Errorf("store: upsert fingerprint: %w", err)
	}
	return nil
}

func (s *MySQLStore) FingerprintByHash(ctx context.Context, hash string) (graph.Fingerprint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, tech_stack, auth_model, endpoint_pattern, security_signals, observation_text, embedding
		FROM fingerprints WHERE hash = ?
	`, hash)
	return scanFingerprint(row)
}

func (s *MySQLStore) SaveGraph(ctx context.Context, g graph.ActionGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save graph tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertGraphTx(ctx, tx, g); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *MySQLStore) MostRecentGraph(ctx context.Context, hash string) (graph.ActionGraph, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM action_graphs WHERE fingerprint_hash = ? ORDER BY created_at DESC LIMIT 1
	`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return graph.ActionGraph{}, ErrNotFound
	}
	if err != nil {
		return graph.ActionGraph{}, fmt.Errorf("store: most recent graph: %w", err)
	}
	return s.GraphByID(ctx, id)
}

func (s *MySQLStore) GraphByID(ctx context.Context, id string) (graph.ActionGraph, error) {
	var g graph.ActionGraph
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint_hash, vulnerability_type, description, confidence, times_executed, times_succeeded, created_at, updated_at
		FROM action_graphs WHERE id = ?
	`, id)
	if err := row.Scan(&g.ID, &g.FingerprintHash, &g.VulnerabilityType, &g.Description, &g.Confidence, &g.TimesExecuted, &g.TimesSucceeded, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return graph.ActionGraph{}, ErrNotFound
		}
		return graph.ActionGraph{}, fmt.Errorf("store: scan action_graph: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_order, phase, kind, command, parameters, output_file, success_criteria, deterministic
		FROM steps WHERE graph_id = ? ORDER BY step_order ASC
	`, id)
	if err != nil {
		return graph.ActionGraph{}, fmt.Errorf("store: query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st graph.Step
		var phase, kind, params string
		var det int
		if err := rows.Scan(&st.ID, &st.Order, &phase, &kind, &st.Command, &params, &st.OutputFile, &st.SuccessCriteria, &det); err != nil {
			return graph.ActionGraph{}, fmt.Errorf("store: scan step: %w", err)
		}
		st.Phase = graph.Phase(phase)
		st.Kind = graph.StepKind(kind)
		st.Deterministic = det != 0
		parameters, err := unmarshalParameters(params)
		if err != nil {
			return graph.ActionGraph{}, fmt.Errorf("store: unmarshal step parameters: %w", err)
		}
		st.Parameters = parameters
		g.Steps = append(g.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return graph.ActionGraph{}, fmt.Errorf("store: iterate steps: %w", err)
	}
	return g, nil
}

func (s *MySQLStore) AppendFinding(ctx context.Context, f graph.Finding) error {
	embedding, err := marshalEmbedding(f.Embedding)
	if err != nil {
		return fmt.Errorf("store: marshal finding embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO findings (id, graph_id, observation, severity, evidence, target_url, embedding, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.GraphID, f.Observation, f.Severity, f.Evidence, f.TargetURL, embedding, f.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("store: insert finding: %w", err)
	}
	return nil
}

func (s *MySQLStore) FindingsByGraph(ctx context.Context, graphID string) ([]graph.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, graph_id, observation, severity, evidence, target_url, embedding, discovered_at
		FROM findings WHERE graph_id = ? ORDER BY discovered_at ASC
	`, graphID)
	if err != nil {
		return nil, fmt.Errorf("store: query findings: %w", err)
	}
	defer rows.Close()

	var out []graph.Finding
	for rows.Next() {
		var f graph.Finding
		var embedding sql.NullString
		if err := rows.Scan(&f.ID, &f.GraphID, &f.Observation, &f.Severity, &f.Evidence, &f.TargetURL, &embedding, &f.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("store: scan finding: %w", err)
		}
		var embPtr *string
		if embedding.Valid {
			embPtr = &embedding.String
		}
		emb, err := unmarshalEmbedding(embPtr)
		if err != nil {
			return nil, fmt.Errorf("store: unmarshal finding embedding: %w", err)
		}
		f.Embedding = emb
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *MySQLStore) IncrementCounters(ctx context.Context, graphID string, executed, succeeded bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_graphs SET
			times_executed = times_executed + ?,
			times_succeeded = times_succeeded + ?
		WHERE id = ?
	`, boolToInt(executed), boolToInt(succeeded), graphID)
	if err != nil {
		return fmt.Errorf("store: increment counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: increment counters rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) RepairGraph(ctx context.Context, oldGraphID string, newGraph graph.ActionGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin repair tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	oldSteps, err := queryStepsTx(ctx, tx, oldGraphID)
	if err != nil {
		return err
	}
	if len(oldSteps) == 0 {
		return ErrNotFound
	}

	if err := insertGraphTx(ctx, tx, newGraph); err != nil {
		return err
	}

	newByOrder := make(map[int]graph.Step, len(newGraph.Steps))
	for _, st := range newGraph.Steps {
		newByOrder[st.Order] = st
	}
	now := repairNowFunc()
	for _, oldStep := range oldSteps {
		newStep, ok := newByOrder[oldStep.Order]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO repaired_to (old_step_id, new_step_id, repaired_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE old_step_id = old_step_id
		`, oldStep.ID, newStep.ID, now)
		if err != nil {
			return fmt.Errorf("store: insert repaired_to: %w", err)
		}
	}
	return tx.Commit()
}

func (s *MySQLStore) RepairLineage(ctx context.Context, graphID string) ([]RepairEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.old_step_id, r.new_step_id, r.repaired_at
		FROM repaired_to r
		JOIN steps s ON s.id = r.old_step_id
		WHERE s.graph_id = ?
		ORDER BY r.repaired_at ASC
	`, graphID)
	if err != nil {
		return nil, fmt.Errorf("store: query repair lineage: %w", err)
	}
	defer rows.Close()

	var out []RepairEdge
	for rows.Next() {
		var e RepairEdge
		if err := rows.Scan(&e.OldStepID, &e.NewStepID, &e.RepairedAt); err != nil {
			return nil, fmt.Errorf("store: scan repair edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
