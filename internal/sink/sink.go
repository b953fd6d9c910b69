// Package sink delivers outcomes and passthrough records to local writers
// and fans them out to several destinations.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ignite/contact-sync/internal/contactsync"
	"github.com/ignite/contact-sync/internal/domain"
)

// JSONLEmitter writes one JSON object per outcome.
type JSONLEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLEmitter(w io.Writer) *JSONLEmitter {
	return &JSONLEmitter{enc: json.NewEncoder(w)}
}

func (e *JSONLEmitter) Emit(_ context.Context, o domain.Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(o); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

// rawLine is how a passthrough record is written locally.
type rawLine struct {
	Stream string          `json:"stream"`
	Record json.RawMessage `json:"record"`
}

// JSONLRawWriter writes passthrough records as {"stream", "record"} lines.
type JSONLRawWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLRawWriter(w io.Writer) *JSONLRawWriter {
	return &JSONLRawWriter{enc: json.NewEncoder(w)}
}

func (w *JSONLRawWriter) WriteRaw(_ context.Context, stream string, records []json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := w.enc.Encode(rawLine{Stream: stream, Record: r}); err != nil {
			return fmt.Errorf("write %s record: %w", stream, err)
		}
	}
	return nil
}

// Multi sends every outcome to each emitter in order. All emitters are tried;
// their errors are joined.
type Multi []contactsync.Emitter

func (m Multi) Emit(ctx context.Context, o domain.Outcome) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiRaw fans passthrough records out to several writers.
type MultiRaw []contactsync.RawWriter

func (m MultiRaw) WriteRaw(ctx context.Context, stream string, records []json.RawMessage) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteRaw(ctx, stream, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
