package contactsync

import (
	"context"
	"fmt"

	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// MaxSubBatch is the provider's limit on members per batch call.
const MaxSubBatch = 500

// Dispatcher sends validated payloads as one upsert call.
type Dispatcher struct {
	provider BatchProvider
	log      *logger.Logger
}

func NewDispatcher(provider BatchProvider, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{provider: provider, log: log}
}

// Dispatch upserts payloads into listID, matching existing members by email.
// An empty batch makes no call. A provider failure is returned unchanged;
// callers route it through Classify.
func (d *Dispatcher) Dispatch(ctx context.Context, listID string, payloads []domain.MemberPayload) (*mailchimp.BatchResponse, error) {
	if len(payloads) == 0 {
		return &mailchimp.BatchResponse{}, nil
	}
	if listID == "" {
		return nil, fatal("dispatch: %w", ErrNoListID)
	}
	if len(payloads) > MaxSubBatch {
		return nil, fmt.Errorf("dispatch: %d members exceeds the provider limit of %d", len(payloads), MaxSubBatch)
	}

	resp, err := d.provider.BatchUpsertMembers(ctx, listID, mailchimp.BatchRequest{
		Members:        payloads,
		UpdateExisting: true,
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("batch dispatched",
		"list_id", listID,
		"members", len(payloads),
		"created", resp.TotalCreated,
		"updated", resp.TotalUpdated,
		"errors", resp.ErrorCount)
	return resp, nil
}
