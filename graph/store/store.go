// Package store provides persistence implementations for the graph
// package's Fingerprint/ActionGraph/Finding model (SPEC_FULL.md §4.12).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelsec/attackgraph/graph"
)

// ErrNotFound is returned when a requested fingerprint hash, graph ID, or
// step ID does not exist.
var ErrNotFound = errors.New("not found")

// Store persists the property graph the spec describes in §6: fingerprints
// identify targets, each fingerprint accumulates zero or more compiled
// ActionGraphs, each graph accumulates Findings from its OBSERVE steps, and
// a repair replaces a graph while recording REPAIRED_TO provenance from
// each old step to its replacement.
//
// Implementations: MemoryStore (tests), SQLiteStore (default, zero-setup),
// MySQLStore (shared store across orchestrator replicas).
type Store interface {
	// UpsertFingerprint inserts fp, or is a no-op if fp.Hash already
	// exists (a fingerprint's hash is derived solely from tech_stack,
	// auth_model, and endpoint_pattern, and never changes once computed).
	UpsertFingerprint(ctx context.Context, fp graph.Fingerprint) error

	// FingerprintByHash retrieves a previously upserted fingerprint.
	// Returns ErrNotFound if hash is unknown.
	FingerprintByHash(ctx context.Context, hash string) (graph.Fingerprint, error)

	// SaveGraph persists g and its full linear step chain as one
	// transaction. g.FingerprintHash must already exist via
	// UpsertFingerprint.
	SaveGraph(ctx context.Context, g graph.ActionGraph) error

	// MostRecentGraph returns the most recently created (or most
	// recently repaired-to) ActionGraph for a fingerprint hash, the
	// warm-start lookup the Run Dispatcher uses on a cache hit. Returns
	// ErrNotFound if no graph exists for hash.
	MostRecentGraph(ctx context.Context, hash string) (graph.ActionGraph, error)

	// GraphByID retrieves a single graph (with its steps) by ID.
	GraphByID(ctx context.Context, id string) (graph.ActionGraph, error)

	// AppendFinding persists a Finding produced by an OBSERVE-phase
	// match. Satisfies graph.FindingSink.
	AppendFinding(ctx context.Context, f graph.Finding) error

	// FindingsByGraph returns all findings recorded against graphID,
	// ordered by DiscoveredAt ascending.
	FindingsByGraph(ctx context.Context, graphID string) ([]graph.Finding, error)

	// IncrementCounters records a run's outcome against a graph:
	// times_executed is always incremented by one when executed is
	// true, times_succeeded only when succeeded is also true. Satisfies
	// graph.CounterSink. Maintains invariant 3 (times_succeeded <=
	// times_executed) by construction.
	IncrementCounters(ctx context.Context, graphID string, executed, succeeded bool) error

	// RepairGraph persists newGraph and writes a RepairEdge from each of
	// oldGraphID's step IDs to newGraph's corresponding step at the same
	// Order, in the same transaction as the graph write (SPEC_FULL.md
	// §4.10/§4.12). Steps present in the old chain but absent past
	// newGraph's length are left without a replacement edge.
	RepairGraph(ctx context.Context, oldGraphID string, newGraph graph.ActionGraph) error

	// RepairLineage returns the RepairEdges recorded for graphID's
	// steps, i.e. the edges where old_step_id belongs to graphID.
	RepairLineage(ctx context.Context, graphID string) ([]RepairEdge, error)

	// Close releases any underlying connection. Safe to call once.
	Close() error
}

// RepairEdge is a persisted REPAIRED_TO relation from an old step to the
// step that replaced it after a SYSTEMIC failure triggered repair.
type RepairEdge struct {
	OldStepID  string
	NewStepID  string
	RepairedAt time.Time
}
