package contactsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/contact-sync/internal/mailchimp"
)

// Sentinel errors for the sync engine.
var (
	// ErrNoListID means no destination list could be resolved. Fatal.
	ErrNoListID = errors.New("no list id resolvable")

	// ErrGroupTitleNotFound is returned by SchemaCache.ResolveGroup for an
	// unknown interest category title.
	ErrGroupTitleNotFound = errors.New("group title not found")
)

// FatalError aborts the whole run; no further batches are attempted.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborts the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Disposition is what the orchestrator does with a failed provider call.
type Disposition int

const (
	// DispositionPropagate returns the error to the caller with its message.
	DispositionPropagate Disposition = iota
	// DispositionFatal aborts the run.
	DispositionFatal
	// DispositionNoState drops record-level state for the sub-batch.
	DispositionNoState
	// DispositionRetry resends the same sub-batch.
	DispositionRetry
	// DispositionCancelled stops without producing outcomes.
	DispositionCancelled
)

func (d Disposition) String() string {
	switch d {
	case DispositionFatal:
		return "fatal"
	case DispositionNoState:
		return "no_state"
	case DispositionRetry:
		return "retry"
	case DispositionCancelled:
		return "cancelled"
	default:
		return "propagate"
	}
}

// Classify maps any error raised by a provider call onto a disposition. List
// resolution, schema provisioning and batch dispatch all go through it.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return DispositionPropagate
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return DispositionCancelled
	case errors.Is(err, ErrNoListID):
		return DispositionFatal
	}

	switch mailchimp.KindOf(err) {
	case mailchimp.KindInvalidCredentials:
		return DispositionFatal
	case mailchimp.KindInvalidPayload:
		return DispositionNoState
	case mailchimp.KindTransient:
		return DispositionRetry
	default:
		return DispositionPropagate
	}
}

func fatal(format string, err error) error {
	return &FatalError{Err: fmt.Errorf(format, err)}
}
