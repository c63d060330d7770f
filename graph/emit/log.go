// Package emit provides event emission and observability for ActionGraph
// compilation and execution.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer, in either human-readable text or JSONL.
//
// Grounded on the teacher project's LogEmitter, adapted to the attack-graph
// Event shape (StepOrder/Phase/Kind/Category instead of a generic
// Step/NodeID pair).
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. writer defaults to os.Stdout if nil.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes a single event.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] runID=%s step=%d", event.Msg, event.RunID, event.StepOrder)
	if event.Kind != "" {
		_, _ = fmt.Fprintf(l.writer, " kind=%s", event.Kind)
	}
	if event.Phase != "" {
		_, _ = fmt.Fprintf(l.writer, " phase=%s", event.Phase)
	}
	if event.Category != "" {
		_, _ = fmt.Fprintf(l.writer, " category=%s", event.Category)
	}
	if event.StatusCode != 0 {
		_, _ = fmt.Fprintf(l.writer, " status=%d", event.StatusCode)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes each event in order, exactly as repeated Emit calls
// would.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal
// buffering. Wrap writer in a bufio.Writer and flush it directly if that's
// needed.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
