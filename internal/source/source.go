// Package source reads upstream contact records and groups them into batches
// per stream. Sources know nothing about the provider; they hand raw JSON
// objects to the router.
package source

import (
	"context"
	"encoding/json"
	"errors"
)

// DefaultMaxBatchRecords caps an upstream batch.
const DefaultMaxBatchRecords = 10000

// DefaultStream names records that arrive without a stream.
const DefaultStream = "contacts"

// ErrUnsupportedKind is returned by Open for an unknown source kind.
var ErrUnsupportedKind = errors.New("unsupported source kind")

// Batch is one upstream batch of a single stream.
type Batch struct {
	Stream  string
	Records []json.RawMessage
}

// Source yields batches until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}
