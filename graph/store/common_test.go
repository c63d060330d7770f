package store

import (
	"context"
	"testing"
)

// storeFactories enumerates every in-process-testable Store backend so the
// shared behavioral tests below run against all of them. MySQLStore is
// exercised separately in mysql_integration_test.go since it needs a real
// server.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"MemoryStore": func() Store { return NewMemoryStore() },
		"SQLiteStore": func() Store {
			s, err := NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// TestStore_CounterInvariantAcrossBackends verifies invariant 3
// (times_succeeded <= times_executed) holds identically across every
// Store implementation after a mixed sequence of IncrementCounters calls.
func TestStore_CounterInvariantAcrossBackends(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			fp := testFingerprint()
			if err := s.UpsertFingerprint(ctx, fp); err != nil {
				t.Fatalf("UpsertFingerprint: %v", err)
			}
			g := testGraph(fp, "graph-1")
			if err := s.SaveGraph(ctx, g); err != nil {
				t.Fatalf("SaveGraph: %v", err)
			}

			for _, succeeded := range []bool{true, false, true, false, false} {
				if err := s.IncrementCounters(ctx, "graph-1", true, succeeded); err != nil {
					t.Fatalf("IncrementCounters: %v", err)
				}
			}

			got, err := s.GraphByID(ctx, "graph-1")
			if err != nil {
				t.Fatalf("GraphByID: %v", err)
			}
			if got.TimesSucceeded > got.TimesExecuted {
				t.Errorf("invariant violated: times_succeeded=%d > times_executed=%d", got.TimesSucceeded, got.TimesExecuted)
			}
			if got.TimesExecuted != 5 || got.TimesSucceeded != 2 {
				t.Errorf("got executed=%d succeeded=%d, want 5/2", got.TimesExecuted, got.TimesSucceeded)
			}
		})
	}
}

// TestStore_FingerprintNotFoundAcrossBackends verifies ErrNotFound is
// returned consistently by every backend for an unknown hash.
func TestStore_FingerprintNotFoundAcrossBackends(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			if _, err := s.FingerprintByHash(context.Background(), "no-such-hash"); err != ErrNotFound {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

// TestStore_RepairGraphLineageAcrossBackends verifies RepairGraph produces
// one RepairEdge per matched step order across every backend.
func TestStore_RepairGraphLineageAcrossBackends(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			fp := testFingerprint()
			_ = s.UpsertFingerprint(ctx, fp)
			oldGraph := testGraph(fp, "graph-old")
			if err := s.SaveGraph(ctx, oldGraph); err != nil {
				t.Fatalf("SaveGraph: %v", err)
			}
			newGraph := testGraph(fp, "graph-new")

			if err := s.RepairGraph(ctx, "graph-old", newGraph); err != nil {
				t.Fatalf("RepairGraph: %v", err)
			}
			lineage, err := s.RepairLineage(ctx, "graph-old")
			if err != nil {
				t.Fatalf("RepairLineage: %v", err)
			}
			if len(lineage) != len(oldGraph.Steps) {
				t.Errorf("expected %d repair edges, got %d", len(oldGraph.Steps), len(lineage))
			}
		})
	}
}
