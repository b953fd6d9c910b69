package contactsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/checkpoint"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
)

type stateRecorder struct {
	saved []checkpoint.State
}

func (s *stateRecorder) Save(_ context.Context, st checkpoint.State) error {
	s.saved = append(s.saved, st)
	return nil
}

func newTestOrchestrator(p *fakeProvider, opts Options) (*Orchestrator, *outcomeRecorder, *stateRecorder) {
	if opts.RunID == "" {
		opts.RunID = "run-test"
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	out := &outcomeRecorder{}
	saver := &stateRecorder{}
	o := NewOrchestrator(p, out, opts, quietLogger())
	o.SetStateSaver(saver)
	return o, out, saver
}

func contactRecords(t *testing.T, n int, extra string) []domain.InputRecord {
	recs := make([]domain.InputRecord, n)
	for i := range recs {
		recs[i] = mustRecord(t, fmt.Sprintf(`{"externalId":"c-%d","email":"user%d@x.com"%s}`, i, i, extra))
	}
	return recs
}

func TestProcessBatch_SplitsIntoSubBatches(t *testing.T) {
	p := newFakeProvider().withGroup("cat-vip", "VIP", "Gold")
	o, out, saver := newTestOrchestrator(p, Options{SubBatchSize: 500})

	recs := contactRecords(t, 1200, `,"lists":["VIP/Gold"],"custom_fields":[{"name":"Tier","value":"A"}]`)
	require.NoError(t, o.ProcessBatch(context.Background(), recs))

	assert.Equal(t, 3, p.calls["BatchUpsertMembers"])
	require.Len(t, p.batches, 3)
	assert.Len(t, p.batches[0].Members, 500)
	assert.Len(t, p.batches[1].Members, 500)
	assert.Len(t, p.batches[2].Members, 200)

	assert.Equal(t, 1, p.calls["ListLists"])
	assert.Equal(t, 1, p.calls["ListInterestCategories"])
	assert.Equal(t, 1, p.calls["ListInterests"])
	assert.Equal(t, 1, p.calls["GetMergeFields"])
	assert.Equal(t, 1, p.calls["AddMergeField"])

	assert.Len(t, out.outcomes, 1200)
	byID := out.byExternalID()
	assert.Equal(t, "mc-user1199@x.com", byID["c-1199"].ID)

	cp := o.Checkpoint()
	assert.Equal(t, "list-1", cp.ListID)
	assert.Equal(t, 3, cp.SubBatches)
	assert.Equal(t, 1200, cp.Succeeded)
	assert.Equal(t, 1200, cp.Consumed)
	require.Len(t, saver.saved, 3)
	assert.Equal(t, 500, saver.saved[0].Processed)
	assert.Equal(t, PhaseIdle, o.Phase())
}

func TestProcessBatch_SchemaPersistsAcrossBatches(t *testing.T) {
	p := newFakeProvider().withGroup("cat-vip", "VIP")
	o, _, _ := newTestOrchestrator(p, Options{})
	ctx := context.Background()

	require.NoError(t, o.ProcessBatch(ctx, contactRecords(t, 2, `,"lists":["VIP/Gold"]`)))
	require.NoError(t, o.ProcessBatch(ctx, contactRecords(t, 2, `,"lists":["VIP/Gold"]`)))

	assert.Equal(t, 1, p.calls["ListLists"])
	assert.Equal(t, 1, p.calls["ListInterestCategories"])
	assert.Equal(t, 1, p.calls["CreateInterest"])
	assert.Equal(t, 2, p.calls["BatchUpsertMembers"])
}

func TestProcessBatch_ListNameCaseInsensitive(t *testing.T) {
	p := newFakeProvider()
	p.lists = []mailchimp.List{{ID: "l-a", Name: "Prospects"}, {ID: "l-b", Name: "Newsletter"}}
	o, _, _ := newTestOrchestrator(p, Options{ListName: "newsLETTER"})

	require.NoError(t, o.ProcessBatch(context.Background(), contactRecords(t, 1, "")))
	assert.Equal(t, "l-b", o.ListID())
}

func TestProcessBatch_UnknownListIsFatal(t *testing.T) {
	p := newFakeProvider()
	o, out, _ := newTestOrchestrator(p, Options{ListName: "Nope"})

	err := o.ProcessBatch(context.Background(), contactRecords(t, 3, ""))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrNoListID))
	assert.Empty(t, out.outcomes)

	// A fatal error ends the session.
	again := o.ProcessBatch(context.Background(), contactRecords(t, 1, ""))
	assert.Equal(t, err, again)
	assert.Equal(t, 1, p.calls["ListLists"])
	assert.Zero(t, p.calls["BatchUpsertMembers"])
}

func TestProcessBatch_InvalidCredentialsAbort(t *testing.T) {
	p := newFakeProvider()
	p.batchErrs = []error{apiErr(401, "API key invalid")}
	o, out, saver := newTestOrchestrator(p, Options{SubBatchSize: 2})

	err := o.ProcessBatch(context.Background(), contactRecords(t, 4, ""))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, mailchimp.ErrInvalidCredentials))
	assert.Equal(t, 1, p.calls["BatchUpsertMembers"], "no further sub-batches")
	assert.Empty(t, out.outcomes)
	assert.Empty(t, saver.saved)
	assert.Equal(t, err, o.Err())
}

func TestProcessBatch_InvalidPayloadLosesSubBatchOnly(t *testing.T) {
	p := newFakeProvider()
	p.batchErrs = []error{apiErr(400, "Invalid Resource"), nil}
	o, out, saver := newTestOrchestrator(p, Options{SubBatchSize: 3})

	recs := contactRecords(t, 6, "")
	recs[0] = mustRecord(t, `{"externalId":"no-mail"}`)
	require.NoError(t, o.ProcessBatch(context.Background(), recs))

	// First sub-batch: only the local rejection survives.
	byID := out.byExternalID()
	assert.Len(t, out.outcomes, 4)
	assert.Equal(t, domain.ErrCodeEmailRequired, byID["no-mail"].ErrorCode)
	for i := 3; i < 6; i++ {
		assert.True(t, byID[fmt.Sprintf("c-%d", i)].Success)
	}

	cp := o.Checkpoint()
	require.Len(t, cp.LostBatches, 1)
	assert.Equal(t, 2, cp.LostBatches[0].Records)
	assert.Contains(t, cp.LostBatches[0].Reason, "Invalid Resource")
	assert.Equal(t, 2, cp.SubBatches)
	assert.Len(t, saver.saved, 2)
}

func TestProcessBatch_TransientRetried(t *testing.T) {
	p := newFakeProvider()
	p.batchErrs = []error{apiErr(502, "Bad Gateway"), apiErr(502, "Bad Gateway")}
	o, out, _ := newTestOrchestrator(p, Options{TransientRetries: 2})

	require.NoError(t, o.ProcessBatch(context.Background(), contactRecords(t, 2, "")))
	assert.Equal(t, 3, p.calls["BatchUpsertMembers"])
	assert.Len(t, out.outcomes, 2)
	assert.Equal(t, p.batches[0].Members, p.batches[2].Members, "same sub-batch resent")
}

func TestProcessBatch_TransientExhausted(t *testing.T) {
	p := newFakeProvider()
	p.batchErrs = []error{apiErr(502, "Bad Gateway"), apiErr(502, "Bad Gateway")}
	o, out, _ := newTestOrchestrator(p, Options{TransientRetries: 1})

	err := o.ProcessBatch(context.Background(), contactRecords(t, 2, ""))
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.True(t, errors.Is(err, mailchimp.ErrTransient))
	assert.Equal(t, 2, p.calls["BatchUpsertMembers"])
	assert.Empty(t, out.outcomes)
	assert.Nil(t, o.Err())
}

func TestProcessBatch_GenericProviderErrorPropagated(t *testing.T) {
	p := newFakeProvider()
	p.batchErrs = []error{apiErr(500, "internal failure")}
	o, _, _ := newTestOrchestrator(p, Options{})

	err := o.ProcessBatch(context.Background(), contactRecords(t, 1, ""))
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "internal failure")
}

func TestProcessBatch_CancelledProducesNoOutcomes(t *testing.T) {
	p := newFakeProvider()
	o, out, _ := newTestOrchestrator(p, Options{ListID: "list-1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := o.ProcessBatch(ctx, contactRecords(t, 2, ""))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.outcomes)
	assert.Zero(t, p.calls["ListLists"])
	assert.Zero(t, p.calls["BatchUpsertMembers"])
}

func TestProcessBatch_ProvisioningRefusalIsolatedToRecord(t *testing.T) {
	p := newFakeProvider()
	p.addFieldErr = apiErr(400, "invalid merge field name")
	o, out, _ := newTestOrchestrator(p, Options{})

	recs := []domain.InputRecord{
		mustRecord(t, `{"externalId":"ok","email":"ok@x.com"}`),
		mustRecord(t, `{"externalId":"bad","email":"bad@x.com","custom_fields":[{"name":"New","value":1}]}`),
	}
	require.NoError(t, o.ProcessBatch(context.Background(), recs))

	byID := out.byExternalID()
	assert.True(t, byID["ok"].Success)
	assert.False(t, byID["bad"].Success)
	assert.Contains(t, byID["bad"].Error, "invalid merge field name")
	assert.Empty(t, byID["bad"].ErrorCode)
	assert.Len(t, p.batches[0].Members, 1)
}

func TestProcessBatch_ProvisioningErrorPropagated(t *testing.T) {
	p := newFakeProvider()
	p.addFieldErr = apiErr(500, "cannot add field")
	o, out, saver := newTestOrchestrator(p, Options{TransientRetries: 2})

	recs := []domain.InputRecord{
		mustRecord(t, `{"externalId":"ok","email":"ok@x.com"}`),
		mustRecord(t, `{"externalId":"bad","email":"bad@x.com","custom_fields":[{"name":"New","value":1}]}`),
	}
	err := o.ProcessBatch(context.Background(), recs)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "cannot add field")
	assert.Equal(t, 1, p.calls["AddMergeField"], "only transient failures are retried")
	assert.Zero(t, p.calls["BatchUpsertMembers"])
	assert.Empty(t, out.outcomes)
	assert.Empty(t, saver.saved)
	assert.Nil(t, o.Err())
}

func TestProcessBatch_ProvisioningTransientRetried(t *testing.T) {
	p := newFakeProvider().withGroup("cat-vip", "VIP", "Gold")
	p.categoryErrs = []error{apiErr(502, "bad gateway")}
	o, out, saver := newTestOrchestrator(p, Options{TransientRetries: 2})

	recs := []domain.InputRecord{
		mustRecord(t, `{"externalId":"a","email":"a@x.com","lists":["VIP/Gold"]}`),
		mustRecord(t, `{"externalId":"b","email":"b@x.com","lists":["VIP/Gold"]}`),
	}
	require.NoError(t, o.ProcessBatch(context.Background(), recs))

	assert.Equal(t, 2, p.calls["ListInterestCategories"])
	assert.Equal(t, 1, p.calls["BatchUpsertMembers"])
	byID := out.byExternalID()
	assert.True(t, byID["a"].Success)
	assert.True(t, byID["b"].Success)
	assert.Equal(t, map[string]bool{"cat-vip-gold": true}, p.batches[0].Members[1].Interests)
	require.Len(t, saver.saved, 1)
	assert.Zero(t, saver.saved[0].Failed)
}

func TestProcessBatch_ProvisioningTransientExhausted(t *testing.T) {
	p := newFakeProvider().withGroup("cat-vip", "VIP", "Gold")
	p.categoryErr = apiErr(502, "bad gateway")
	o, out, saver := newTestOrchestrator(p, Options{TransientRetries: 2})

	recs := []domain.InputRecord{
		mustRecord(t, `{"externalId":"a","email":"a@x.com","lists":["VIP/Gold"]}`),
		mustRecord(t, `{"externalId":"b","email":"b@x.com","lists":["VIP/Gold"]}`),
	}
	err := o.ProcessBatch(context.Background(), recs)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.True(t, errors.Is(err, mailchimp.ErrTransient))
	assert.Equal(t, 3, p.calls["ListInterestCategories"])
	assert.Zero(t, p.calls["BatchUpsertMembers"])
	assert.Empty(t, out.outcomes)
	assert.Empty(t, saver.saved)
	assert.Nil(t, o.Err())
}

func TestRecord_RefusedAfterAbort(t *testing.T) {
	p := newFakeProvider()
	o, out, saver := newTestOrchestrator(p, Options{ListName: "Nope"})

	err := o.ProcessBatch(context.Background(), contactRecords(t, 1, ""))
	require.True(t, IsFatal(err))

	assert.Equal(t, err, o.Record(context.Background(), []domain.Outcome{domain.Succeeded("", "o-1")}))
	assert.Empty(t, out.outcomes)
	assert.Empty(t, saver.saved)
}

func TestProcessBatch_ProviderRecordErrorsKeepSiblings(t *testing.T) {
	p := newFakeProvider()
	p.memberErrors = map[string]mailchimp.BatchError{
		"user1@x.com": {Error: "user1@x.com looks fake or invalid, please enter a real email address.", ErrorCode: "ERROR_GENERIC"},
	}
	o, out, _ := newTestOrchestrator(p, Options{})

	require.NoError(t, o.ProcessBatch(context.Background(), contactRecords(t, 3, "")))

	byID := out.byExternalID()
	assert.True(t, byID["c-0"].Success)
	assert.True(t, byID["c-2"].Success)
	assert.False(t, byID["c-1"].Success)
	assert.Equal(t, domain.ErrCodeInvalidEmail, byID["c-1"].ErrorCode)

	cp := o.Checkpoint()
	assert.Equal(t, 2, cp.Succeeded)
	assert.Equal(t, 1, cp.ByErrorCode["InvalidEmail"])
}

func TestProcessBatch_AllRejectedMakesNoDispatch(t *testing.T) {
	p := newFakeProvider()
	o, out, _ := newTestOrchestrator(p, Options{})

	recs := []domain.InputRecord{mustRecord(t, `{"externalId":"a"}`), mustRecord(t, `{"externalId":"b"}`)}
	require.NoError(t, o.ProcessBatch(context.Background(), recs))

	assert.Zero(t, p.calls["BatchUpsertMembers"])
	assert.Len(t, out.outcomes, 2)
}

func TestResume(t *testing.T) {
	p := newFakeProvider()
	o, _, _ := newTestOrchestrator(p, Options{RunID: "run-5"})

	prev := checkpoint.New("run-5", time.Now())
	prev.ListID = "list-9"
	prev.Processed, prev.Succeeded = 10, 10
	o.Resume(prev)

	require.NoError(t, o.ProcessBatch(context.Background(), contactRecords(t, 1, "")))
	assert.Zero(t, p.calls["ListLists"])
	assert.Equal(t, "list-9", o.ListID())
	assert.Equal(t, 11, o.Checkpoint().Processed)
}
