package emit

import (
	"context"
	"testing"
)

func TestEmitter_InterfaceContract(t *testing.T) {
	var _ Emitter = (*mockEmitter)(nil)
}

// mockEmitter is a minimal Emitter implementation for testing the interface contract.
type mockEmitter struct {
	events []Event
}

func (m *mockEmitter) Emit(event Event) {
	m.events = append(m.events, event)
}

func (m *mockEmitter) EmitBatch(_ context.Context, events []Event) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEmitter) Flush(_ context.Context) error { return nil }

func TestEmitter_Emit(t *testing.T) {
	t.Run("emit single event", func(t *testing.T) {
		emitter := &mockEmitter{}

		emitter.Emit(Event{RunID: "run-001", StepOrder: 1, Msg: "step_dispatched"})

		if len(emitter.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(emitter.events))
		}
		if emitter.events[0].Msg != "step_dispatched" {
			t.Errorf("expected Msg = 'step_dispatched', got %q", emitter.events[0].Msg)
		}
	})

	t.Run("emit multiple events", func(t *testing.T) {
		emitter := &mockEmitter{}

		events := []Event{
			{RunID: "run-001", StepOrder: 1, Msg: "Event 1"},
			{RunID: "run-001", StepOrder: 2, Msg: "Event 2"},
			{RunID: "run-001", StepOrder: 3, Msg: "Event 3"},
		}
		for _, event := range events {
			emitter.Emit(event)
		}

		if len(emitter.events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(emitter.events))
		}
		for i, event := range emitter.events {
			expectedStep := i + 1
			if event.StepOrder != expectedStep {
				t.Errorf("event %d: expected StepOrder = %d, got %d", i, expectedStep, event.StepOrder)
			}
		}
	})

	t.Run("emit with metadata", func(t *testing.T) {
		emitter := &mockEmitter{}

		emitter.Emit(Event{
			RunID:     "run-001",
			StepOrder: 1,
			Msg:       "compile_round_completed",
			Meta: map[string]interface{}{
				"tokens_in": 150,
				"cost_usd":  0.02,
			},
		})

		if len(emitter.events) != 1 {
			t.Fatal("expected 1 event")
		}
		meta := emitter.events[0].Meta
		if meta["tokens_in"] != 150 {
			t.Errorf("expected tokens_in = 150, got %v", meta["tokens_in"])
		}
	})

	t.Run("emit zero value event", func(t *testing.T) {
		emitter := &mockEmitter{}
		emitter.Emit(Event{})

		if len(emitter.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(emitter.events))
		}
	})

	t.Run("EmitBatch appends events in order", func(t *testing.T) {
		emitter := &mockEmitter{}

		err := emitter.EmitBatch(context.Background(), []Event{
			{RunID: "run-001", Msg: "a"},
			{RunID: "run-001", Msg: "b"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(emitter.events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(emitter.events))
		}
	})
}

func TestEmitter_Patterns(t *testing.T) {
	t.Run("buffering emitter", func(t *testing.T) {
		emitter := &mockEmitter{events: make([]Event, 0, 10)}

		for i := 1; i <= 5; i++ {
			emitter.Emit(Event{RunID: "run-001", StepOrder: i, Msg: "step_dispatched"})
		}

		if len(emitter.events) != 5 {
			t.Errorf("expected 5 buffered events, got %d", len(emitter.events))
		}
	})

	t.Run("filtering by category", func(t *testing.T) {
		var captured []Event
		emit := func(event Event) {
			if event.Category == "SYSTEMIC" {
				captured = append(captured, event)
			}
		}

		emit(Event{Msg: "step_failed", Category: "TRANSIENT"})
		emit(Event{Msg: "step_failed", Category: "SYSTEMIC"})

		if len(captured) != 1 {
			t.Errorf("expected 1 SYSTEMIC event, got %d", len(captured))
		}
		if captured[0].Msg != "step_failed" {
			t.Errorf("expected 'step_failed', got %q", captured[0].Msg)
		}
	})
}
