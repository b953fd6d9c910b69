package contactsync

import (
	"context"
	"encoding/json"

	"github.com/ignite/contact-sync/internal/checkpoint"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
)

// SchemaProvider is the subset of the provider API the schema cache needs.
type SchemaProvider interface {
	GetMergeFields(ctx context.Context, listID string) ([]mailchimp.MergeField, error)
	AddMergeField(ctx context.Context, listID string, field mailchimp.MergeField) (mailchimp.MergeField, error)
	ListInterestCategories(ctx context.Context, listID string) ([]mailchimp.InterestCategory, error)
	ListInterests(ctx context.Context, listID, categoryID string) ([]mailchimp.Interest, error)
	CreateInterest(ctx context.Context, listID, categoryID, name string) (mailchimp.Interest, error)
}

// BatchProvider sends member batches.
type BatchProvider interface {
	BatchUpsertMembers(ctx context.Context, listID string, req mailchimp.BatchRequest) (*mailchimp.BatchResponse, error)
}

// Provider is every remote capability a sync session uses.
// *mailchimp.Client satisfies it.
type Provider interface {
	SchemaProvider
	BatchProvider
	ListLists(ctx context.Context) ([]mailchimp.List, error)
}

// Emitter receives one outcome per processed record.
type Emitter interface {
	Emit(ctx context.Context, outcome domain.Outcome) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, outcome domain.Outcome) error

func (f EmitterFunc) Emit(ctx context.Context, outcome domain.Outcome) error { return f(ctx, outcome) }

// StateSaver persists the running checkpoint after each sub-batch.
type StateSaver interface {
	Save(ctx context.Context, state checkpoint.State) error
}

// RawWriter receives records of streams that bypass the contact engine.
type RawWriter interface {
	WriteRaw(ctx context.Context, stream string, records []json.RawMessage) error
}
