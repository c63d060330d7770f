package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kestrelsec/attackgraph/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default, zero-setup Store backend, using the pure-Go
// modernc.org/sqlite driver. Single-file database, WAL mode, a
// single-writer connection pool, and schema auto-migration on open.
//
// Grounded on graph/store/sqlite.go's connection setup and migration
// pattern, retargeted to the fingerprints/action_graphs/steps/findings/
// repaired_to schema in schema.go.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path.
// Pass ":memory:" for an ephemeral in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) UpsertFingerprint(ctx context.Context, fp graph.Fingerprint) error {
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
		ON CONFLICT(hash) DO NOTHING
	`, fp.Hash, fp.TechStack, fp.AuthModel, fp.EndpointPattern, signals, fp.ObservationText, embedding, repairNowFunc())
	if err != nil {
		return fmt.Errorf("store: upsert fingerprint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FingerprintByHash(ctx context.Context, hash string) (graph.Fingerprint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, tech_stack, auth_model, endpoint_pattern, security_signals, observation_text, embedding
		FROM fingerprints WHERE hash = ?
	`, hash)
	return scanFingerprint(row)
}

func scanFingerprint(row *sql.Row) (graph.Fingerprint, error) {
	var fp graph.Fingerprint
	var signals string
	var embedding sql.NullString
	if err := row.Scan(&fp.Hash, &fp.TechStack, &fp.AuthModel, &fp.EndpointPattern, &signals, &fp.ObservationText, &embedding); err != nil {
		if err == sql.ErrNoRows {
			return graph.Fingerprint{}, ErrNotFound
		}
		return graph.Fingerprint{}, fmt.Errorf("store: scan fingerprint: %w", err)
	}
	sigs, err := unmarshalStrings(signals)
	if err != nil {
		return graph.Fingerprint{}, fmt.Errorf("store: unmarshal security_signals: %w", err)
	}
	fp.SecuritySignals = sigs
	var embPtr *string
	if embedding.Valid {
		embPtr = &embedding.String
	}
	emb, err := unmarshalEmbedding(embPtr)
	if err != nil {
		return graph.Fingerprint{}, fmt.Errorf("store: unmarshal embedding: %w", err)
	}
	fp.Embedding = emb
	return fp, nil
}

func (s *SQLiteStore) SaveGraph(ctx context.Context, g graph.ActionGraph) error {
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

func insertGraphTx(ctx context.Context, tx *sql.Tx, g graph.ActionGraph) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO action_graphs (id, fingerprint_hash, vulnerability_type, description, confidence, times_executed, times_succeeded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.FingerprintHash, g.VulnerabilityType, g.Description, g.Confidence, g.TimesExecuted, g.TimesSucceeded, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert action_graph: %w", err)
	}

	for _, st := range g.Steps {
		params, err := marshalParameters(st.Parameters)
		if err != nil {
			return fmt.Errorf("store: marshal step parameters: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO steps (id, graph_id, step_order, phase, kind, command, parameters, output_file, success_criteria, deterministic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, g.ID, st.Order, string(st.Phase), string(st.Kind), st.Command, params, st.OutputFile, st.SuccessCriteria, boolToInt(st.Deterministic))
		if err != nil {
			return fmt.Errorf("store: insert step %d: %w", st.Order, err)
		}
	}
	return nil
}

func (s *SQLiteStore) MostRecentGraph(ctx context.Context, hash string) (graph.ActionGraph, error) {
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

func (s *SQLiteStore) GraphByID(ctx context.Context, id string) (graph.ActionGraph, error) {
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

func (s *SQLiteStore) AppendFinding(ctx context.Context, f graph.Finding) error {
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

func (s *SQLiteStore) FindingsByGraph(ctx context.Context, graphID string) ([]graph.Finding, error) {
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

func (s *SQLiteStore) IncrementCounters(ctx context.Context, graphID string, executed, succeeded bool) error {
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

func (s *SQLiteStore) RepairGraph(ctx context.Context, oldGraphID string, newGraph graph.ActionGraph) error {
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
			ON CONFLICT(old_step_id, new_step_id) DO NOTHING
		`, oldStep.ID, newStep.ID, now)
		if err != nil {
			return fmt.Errorf("store: insert repaired_to: %w", err)
		}
	}
	return tx.Commit()
}

func queryStepsTx(ctx context.Context, tx *sql.Tx, graphID string) ([]graph.Step, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, step_order FROM steps WHERE graph_id = ? ORDER BY step_order ASC`, graphID)
	if err != nil {
		return nil, fmt.Errorf("store: query steps for repair: %w", err)
	}
	defer rows.Close()
	var out []graph.Step
	for rows.Next() {
		var st graph.Step
		if err := rows.Scan(&st.ID, &st.Order); err != nil {
			return nil, fmt.Errorf("store: scan step for repair: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RepairLineage(ctx context.Context, graphID string) ([]RepairEdge, error) {
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

// NearestFingerprints returns the k fingerprints with the highest cosine
// similarity to embedding, brute-force (SPEC_FULL.md §10 item 3: no extra
// vector-index dependency, since the pack had none suited to this scale).
func (s *SQLiteStore) NearestFingerprints(ctx context.Context, embedding []float32, k int) ([]graph.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, tech_stack, auth_model, endpoint_pattern, security_signals, observation_text, embedding
		FROM fingerprints WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query fingerprints for similarity scan: %w", err)
	}
	defer rows.Close()

	type scored struct {
		fp    graph.Fingerprint
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var fp graph.Fingerprint
		var signals string
		var embStr sql.NullString
		if err := rows.Scan(&fp.Hash, &fp.TechStack, &fp.AuthModel, &fp.EndpointPattern, &signals, &fp.ObservationText, &embStr); err != nil {
			return nil, fmt.Errorf("store: scan fingerprint for similarity scan: %w", err)
		}
		sigs, err := unmarshalStrings(signals)
		if err != nil {
			return nil, fmt.Errorf("store: unmarshal security_signals: %w", err)
		}
		fp.SecuritySignals = sigs
		var embPtr *string
		if embStr.Valid {
			embPtr = &embStr.String
		}
		emb, err := unmarshalEmbedding(embPtr)
		if err != nil {
			return nil, fmt.Errorf("store: unmarshal embedding: %w", err)
		}
		fp.Embedding = emb
		if len(emb) != len(embedding) || len(emb) == 0 {
			continue
		}
		candidates = append(candidates, scored{fp: fp, score: cosineSimilarity(emb, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate fingerprints for similarity scan: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]graph.Fingerprint, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].fp
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
