package contactsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// DefaultContactStreams are the stream names handled by the contact engine.
var DefaultContactStreams = []string{"customers", "contacts", "customer", "contact"}

// RouterOptions selects which streams reach the engine.
type RouterOptions struct {
	ContactStreams  []string
	UseFallbackSink bool
}

// Router sends contact streams through the orchestrator and everything else
// to the raw writer, or nowhere when the fallback sink is disabled.
type Router struct {
	engine   *Orchestrator
	raw      RawWriter
	contacts map[string]bool
	fallback bool
	log      *logger.Logger
}

func NewRouter(engine *Orchestrator, raw RawWriter, opts RouterOptions, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Default()
	}
	streams := opts.ContactStreams
	if len(streams) == 0 {
		streams = DefaultContactStreams
	}
	contacts := make(map[string]bool, len(streams))
	for _, s := range streams {
		contacts[streamKey(s)] = true
	}
	return &Router{engine: engine, raw: raw, contacts: contacts, fallback: opts.UseFallbackSink, log: log}
}

func streamKey(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

// IsContactStream reports whether records of stream go through the engine.
func (r *Router) IsContactStream(stream string) bool {
	return r.contacts[streamKey(stream)]
}

// Tracked reports whether records of stream produce outcomes and so count
// towards the checkpoint.
func (r *Router) Tracked(stream string) bool {
	return r.IsContactStream(stream) || (r.fallback && r.raw != nil)
}

// Route delivers one upstream batch of stream. Nothing is delivered once the
// engine has aborted.
func (r *Router) Route(ctx context.Context, stream string, records []json.RawMessage) error {
	if err := r.engine.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if r.IsContactStream(stream) {
		return r.routeContacts(ctx, records)
	}

	if !r.fallback || r.raw == nil {
		r.log.Info("stream skipped: not a contact stream", "stream", stream, "records", len(records))
		return nil
	}
	if err := r.raw.WriteRaw(ctx, stream, records); err != nil {
		return fmt.Errorf("write %s records: %w", stream, err)
	}
	outcomes := make([]domain.Outcome, 0, len(records))
	for _, raw := range records {
		outcomes = append(outcomes, domain.Succeeded("", rawIdentity(raw)))
	}
	return r.engine.Record(ctx, outcomes)
}

// routeContacts hands records to the engine in source-contiguous chunks of at
// most one sub-batch, so the checkpoint's consumed count always covers a
// prefix of the source.
func (r *Router) routeContacts(ctx context.Context, records []json.RawMessage) error {
	size := r.engine.SubBatchSize()
	for start := 0; start < len(records); {
		parsed := make([]domain.InputRecord, 0, size)
		var unreadable []domain.Outcome
		end := start
		for ; end < len(records) && len(parsed) < size; end++ {
			rec, err := domain.ParseRecord(records[end])
			if err != nil {
				identity := rawIdentity(records[end])
				r.log.Warn("record skipped: unreadable", "external_id", identity, "error", err)
				unreadable = append(unreadable, domain.Failed(identity, err.Error(), ""))
				continue
			}
			parsed = append(parsed, rec)
		}

		if err := r.engine.ProcessBatch(ctx, parsed); err != nil {
			return err
		}
		if len(unreadable) > 0 {
			if err := r.engine.Record(ctx, unreadable); err != nil {
				return err
			}
		}
		start = end
	}
	return nil
}

// rawIdentity picks externalId, then email_address, then email out of an
// undecoded record.
func rawIdentity(raw json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return ""
	}
	for _, key := range []string{"externalId", "email_address", "email"} {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case bool:
			return fmt.Sprint(v)
		}
	}
	return ""
}
