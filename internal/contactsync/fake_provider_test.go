package contactsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
)

// fakeProvider is an in-memory Provider that counts every call.
type fakeProvider struct {
	lists      []mailchimp.List
	fields     []mailchimp.MergeField
	categories []mailchimp.InterestCategory
	interests  map[string][]mailchimp.Interest // keyed by category id

	// memberErrors makes the batch call report these emails as failed.
	memberErrors map[string]mailchimp.BatchError

	listErr      error
	mergeErr     error
	addFieldErr  error
	categoryErr  error
	categoryErrs []error // consumed one per category fetch before categoryErr
	batchErrs    []error // consumed one per batch call; nil entries succeed
	nextID       int
	calls        map[string]int
	batches      []mailchimp.BatchRequest
	createdNames []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		lists:     []mailchimp.List{{ID: "list-1", Name: "Customers"}},
		interests: make(map[string][]mailchimp.Interest),
		calls:     make(map[string]int),
	}
}

func (f *fakeProvider) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeProvider) ListLists(_ context.Context) ([]mailchimp.List, error) {
	f.calls["ListLists"]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.lists, nil
}

func (f *fakeProvider) GetMergeFields(_ context.Context, _ string) ([]mailchimp.MergeField, error) {
	f.calls["GetMergeFields"]++
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	return f.fields, nil
}

func (f *fakeProvider) AddMergeField(_ context.Context, _ string, field mailchimp.MergeField) (mailchimp.MergeField, error) {
	f.calls["AddMergeField"]++
	if f.addFieldErr != nil {
		return mailchimp.MergeField{}, f.addFieldErr
	}
	field.Tag = fmt.Sprintf("MMERGE%d", len(f.fields)+1)
	f.fields = append(f.fields, field)
	f.createdNames = append(f.createdNames, field.Name)
	return field, nil
}

func (f *fakeProvider) ListInterestCategories(_ context.Context, _ string) ([]mailchimp.InterestCategory, error) {
	f.calls["ListInterestCategories"]++
	if len(f.categoryErrs) > 0 {
		err := f.categoryErrs[0]
		f.categoryErrs = f.categoryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.categoryErr != nil {
		return nil, f.categoryErr
	}
	return f.categories, nil
}

func (f *fakeProvider) ListInterests(_ context.Context, _, categoryID string) ([]mailchimp.Interest, error) {
	f.calls["ListInterests"]++
	return f.interests[categoryID], nil
}

func (f *fakeProvider) CreateInterest(_ context.Context, _, categoryID, name string) (mailchimp.Interest, error) {
	f.calls["CreateInterest"]++
	in := mailchimp.Interest{ID: f.id("int"), CategoryID: categoryID, Name: name}
	f.interests[categoryID] = append(f.interests[categoryID], in)
	f.createdNames = append(f.createdNames, name)
	return in, nil
}

func (f *fakeProvider) BatchUpsertMembers(_ context.Context, _ string, req mailchimp.BatchRequest) (*mailchimp.BatchResponse, error) {
	f.calls["BatchUpsertMembers"]++
	f.batches = append(f.batches, req)
	if len(f.batchErrs) > 0 {
		err := f.batchErrs[0]
		f.batchErrs = f.batchErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	resp := &mailchimp.BatchResponse{}
	for _, m := range req.Members {
		if be, ok := f.memberErrors[strings.ToLower(m.EmailAddress)]; ok {
			be.EmailAddress = m.EmailAddress
			resp.Errors = append(resp.Errors, be)
			continue
		}
		resp.NewMembers = append(resp.NewMembers, mailchimp.MemberResult{
			ID:           "mc-" + strings.ToLower(m.EmailAddress),
			EmailAddress: m.EmailAddress,
			Status:       string(m.Status),
		})
	}
	resp.TotalCreated = len(resp.NewMembers)
	resp.ErrorCount = len(resp.Errors)
	return resp, nil
}

// withGroup registers a known interest category and its interests.
func (f *fakeProvider) withGroup(catID, title string, names ...string) *fakeProvider {
	f.categories = append(f.categories, mailchimp.InterestCategory{ID: catID, Title: title})
	for _, n := range names {
		f.interests[catID] = append(f.interests[catID], mailchimp.Interest{ID: catID + "-" + strings.ToLower(n), CategoryID: catID, Name: n})
	}
	return f
}

func apiErr(status int, detail string) error {
	return &mailchimp.APIError{Kind: mailchimp.Classify(status), Status: status, Detail: detail}
}

// outcomeRecorder collects emitted outcomes.
type outcomeRecorder struct {
	outcomes []domain.Outcome
}

func (r *outcomeRecorder) Emit(_ context.Context, o domain.Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *outcomeRecorder) byExternalID() map[string]domain.Outcome {
	m := make(map[string]domain.Outcome, len(r.outcomes))
	for _, o := range r.outcomes {
		m[o.ExternalID] = o
	}
	return m
}

func mustRecord(t interface{ Fatalf(string, ...any) }, js string) domain.InputRecord {
	rec, err := domain.ParseRecord([]byte(js))
	if err != nil {
		t.Fatalf("parse record: %v", err)
	}
	return rec
}
