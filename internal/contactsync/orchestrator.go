package contactsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/contact-sync/internal/checkpoint"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// Phase is the orchestrator's position in a batch cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListResolving
	PhaseMapping
	PhaseDispatching
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseListResolving:
		return "list_resolving"
	case PhaseMapping:
		return "mapping"
	case PhaseDispatching:
		return "dispatching"
	case PhaseReconciling:
		return "reconciling"
	default:
		return "idle"
	}
}

// Default orchestrator settings.
const (
	DefaultTransientRetries = 2
	DefaultRetryBackoff     = 2 * time.Second
)

// Options configures a sync session.
type Options struct {
	RunID  string
	Stream string

	// ListID skips list resolution when set.
	ListID   string
	ListName string

	SubscribeStatus  domain.MemberStatus
	SubBatchSize     int
	TransientRetries int
	RetryBackoff     time.Duration
}

func (o *Options) applyDefaults() {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.SubscribeStatus == "" {
		o.SubscribeStatus = domain.StatusSubscribed
	}
	if o.SubBatchSize <= 0 || o.SubBatchSize > MaxSubBatch {
		o.SubBatchSize = MaxSubBatch
	}
	if o.TransientRetries < 0 {
		o.TransientRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
}

// Orchestrator drives batch cycles for one sync session. It is not safe for
// concurrent use; batches must be handed to it one at a time.
type Orchestrator struct {
	provider Provider
	emitter  Emitter
	saver    StateSaver
	opts     Options
	log      *logger.Logger
	now      func() time.Time

	phase      Phase
	listID     string
	index      *ExternalIDIndex
	schema     *SchemaCache
	mapper     *Mapper
	dispatcher *Dispatcher
	reconciler *Reconciler
	state      checkpoint.State
	aborted    error
}

// NewOrchestrator creates a session. Options.TransientRetries is used as
// given; callers wanting the default pass DefaultTransientRetries.
func NewOrchestrator(provider Provider, emitter Emitter, opts Options, log *logger.Logger) *Orchestrator {
	opts.applyDefaults()
	if log == nil {
		log = logger.Default()
	}
	log = log.With("run_id", opts.RunID)

	o := &Orchestrator{
		provider:   provider,
		emitter:    emitter,
		opts:       opts,
		log:        log,
		now:        time.Now,
		index:      NewExternalIDIndex(),
		dispatcher: NewDispatcher(provider, log),
	}
	o.reconciler = NewReconciler(o.index)
	o.state = checkpoint.New(opts.RunID, o.now())
	o.state.Stream = opts.Stream
	if opts.ListID != "" {
		o.bindList(opts.ListID)
	}
	return o
}

// SetStateSaver persists the checkpoint after every sub-batch.
func (o *Orchestrator) SetStateSaver(saver StateSaver) {
	o.saver = saver
}

// Resume continues counting from a previously saved checkpoint of the same run.
func (o *Orchestrator) Resume(state checkpoint.State) {
	o.state = state.Clone()
	if o.listID == "" && state.ListID != "" {
		o.bindList(state.ListID)
	}
}

// Phase reports where the current batch cycle is.
func (o *Orchestrator) Phase() Phase { return o.phase }

// ListID returns the destination list, empty until resolved.
func (o *Orchestrator) ListID() string { return o.listID }

func (o *Orchestrator) RunID() string { return o.opts.RunID }

// SubBatchSize is the number of members sent per provider call.
func (o *Orchestrator) SubBatchSize() int { return o.opts.SubBatchSize }

// Checkpoint returns a copy of the running state.
func (o *Orchestrator) Checkpoint() checkpoint.State { return o.state.Clone() }

// Err returns the fatal error that ended the session, if any.
func (o *Orchestrator) Err() error { return o.aborted }

func (o *Orchestrator) bindList(listID string) {
	o.listID = listID
	o.state.ListID = listID
	o.schema = NewSchemaCache(o.provider, listID, o.log)
	o.mapper = NewMapper(o.schema, o.index, o.opts.SubscribeStatus, o.log)
}

func (o *Orchestrator) abort(err error) error {
	if !IsFatal(err) {
		err = &FatalError{Err: err}
	}
	o.aborted = err
	o.phase = PhaseIdle
	o.log.Error("sync aborted", "error", err)
	return err
}

// ProcessBatch runs one upstream batch through the engine. Large batches are
// split into provider-sized sub-batches handled in order; each completed
// sub-batch has its outcomes emitted and the checkpoint saved before the next
// one starts. After a fatal error every further call returns that error.
func (o *Orchestrator) ProcessBatch(ctx context.Context, records []domain.InputRecord) error {
	if o.aborted != nil {
		return o.aborted
	}
	if len(records) == 0 {
		return nil
	}
	defer func() { o.phase = PhaseIdle }()

	if o.listID == "" {
		o.phase = PhaseListResolving
		listID, err := ResolveListID(ctx, o.provider, o.opts.ListName)
		if err != nil {
			if IsFatal(err) {
				return o.abort(err)
			}
			return err
		}
		o.bindList(listID)
		o.log.Info("list resolved", "list_name", o.opts.ListName, "list_id", listID)
	}

	size := o.opts.SubBatchSize
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		if err := o.processSubBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processSubBatch(ctx context.Context, records []domain.InputRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.phase = PhaseMapping
	var (
		payloads   []domain.MemberPayload
		rejections []domain.RejectedRecord
	)
	err := o.withRetry(ctx, "mapping", func() error {
		var err error
		payloads, rejections, err = o.mapRecords(ctx, records)
		return err
	})
	if err != nil {
		switch Classify(err) {
		case DispositionFatal:
			return o.abort(err)
		case DispositionCancelled:
			return err
		default:
			return fmt.Errorf("map sub-batch: %w", err)
		}
	}

	o.phase = PhaseDispatching
	var resp *mailchimp.BatchResponse
	err = o.withRetry(ctx, "sub-batch", func() error {
		var err error
		resp, err = o.dispatcher.Dispatch(ctx, o.listID, payloads)
		return err
	})
	if err != nil {
		switch Classify(err) {
		case DispositionFatal:
			return o.abort(err)
		case DispositionNoState:
			o.log.Warn("sub-batch rejected as a whole, no record state available",
				"members", len(payloads), "error", err)
			o.state.RecordLost(len(payloads), err.Error(), o.now())
			resp = nil
		case DispositionCancelled:
			return err
		default:
			return fmt.Errorf("dispatch sub-batch: %w", err)
		}
	}

	o.phase = PhaseReconciling
	if err := o.record(ctx, o.reconciler.Reconcile(resp, rejections)); err != nil {
		return err
	}

	o.state.Consumed += len(records)
	o.state.Touch(o.now())
	if err := o.save(ctx); err != nil {
		return err
	}
	o.log.Info("sub-batch complete",
		"records", len(records),
		"sent", len(payloads),
		"rejected", len(rejections),
		"processed", o.state.Processed)
	return nil
}

// mapRecords maps every record of a sub-batch. A provider refusing a field or
// interest name fails that record only; any other provider error stops the
// sub-batch.
func (o *Orchestrator) mapRecords(ctx context.Context, records []domain.InputRecord) ([]domain.MemberPayload, []domain.RejectedRecord, error) {
	payloads := make([]domain.MemberPayload, 0, len(records))
	var rejections []domain.RejectedRecord
	for _, rec := range records {
		payload, rejected, err := o.mapper.Map(ctx, rec)
		switch {
		case err != nil:
			if Classify(err) != DispositionNoState {
				return nil, nil, err
			}
			identity := recordIdentity(rec)
			o.log.Warn("record not mapped: schema provisioning refused", "external_id", identity, "error", err)
			rejections = append(rejections, domain.RejectedRecord{Error: err.Error(), ExternalID: identity})
		case rejected != nil:
			rejections = append(rejections, *rejected)
		default:
			payloads = append(payloads, *payload)
		}
	}
	return payloads, rejections, nil
}

// withRetry runs call again on transient provider failures, up to
// TransientRetries times with linear backoff. The schema cache only changes
// after a successful call and the upsert matches on email, so both mapping and
// dispatch can be repeated.
func (o *Orchestrator) withRetry(ctx context.Context, what string, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil || Classify(err) != DispositionRetry || attempt >= o.opts.TransientRetries {
			return err
		}

		wait := o.opts.RetryBackoff * time.Duration(attempt+1)
		o.log.Warn("transient provider failure, retrying "+what,
			"attempt", attempt+1, "wait", wait.String(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Record emits outcomes produced outside the contact path and folds them
// into the checkpoint, one outcome per source record. An aborted session
// refuses them.
func (o *Orchestrator) Record(ctx context.Context, outcomes []domain.Outcome) error {
	if o.aborted != nil {
		return o.aborted
	}
	if err := o.record(ctx, outcomes); err != nil {
		return err
	}
	o.state.Consumed += len(outcomes)
	o.state.UpdatedAt = o.now().UTC()
	return o.save(ctx)
}

func (o *Orchestrator) record(ctx context.Context, outcomes []domain.Outcome) error {
	for _, out := range outcomes {
		if o.emitter != nil {
			if err := o.emitter.Emit(ctx, out); err != nil {
				return fmt.Errorf("emit outcome: %w", err)
			}
		}
		o.state.Fold(out)
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context) error {
	if o.saver == nil {
		return nil
	}
	if err := o.saver.Save(ctx, o.state.Clone()); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// recordIdentity is the externalId of rec, or its email when absent.
func recordIdentity(rec domain.InputRecord) string {
	return firstNonEmpty(rec.ExternalID.String(), rec.EmailAddress.String(), rec.Email.String())
}
