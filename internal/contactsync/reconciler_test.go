package contactsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
)

func TestReconcile_AllSections(t *testing.T) {
	index := NewExternalIDIndex()
	index.Put("new@x.com", "ext-new")
	index.Put("Upd@x.com", "ext-upd")
	index.Put("bad@x.com", "ext-bad")
	r := NewReconciler(index)

	resp := &mailchimp.BatchResponse{
		NewMembers:     []mailchimp.MemberResult{{ID: "m1", EmailAddress: "New@X.com"}},
		UpdatedMembers: []mailchimp.MemberResult{{ID: "m2", EmailAddress: "upd@x.com"}},
		Errors: []mailchimp.BatchError{{
			EmailAddress: "bad@x.com",
			Error:        "Bad address",
			Field:        "ADDRESS",
			FieldMessage: "zip is missing",
		}},
	}
	rejections := []domain.RejectedRecord{{
		Error:      "email is required",
		ErrorCode:  domain.ErrCodeEmailRequired,
		ExternalID: "ext-none",
	}}

	out := r.Reconcile(resp, rejections)
	require.Len(t, out, 4)

	assert.Equal(t, domain.Outcome{Success: true, ID: "m1", ExternalID: "ext-new"}, out[0])
	assert.Equal(t, domain.Outcome{Success: true, ID: "m2", ExternalID: "ext-upd"}, out[1])
	assert.False(t, out[2].Success)
	assert.Equal(t, "ext-bad", out[2].ExternalID)
	assert.Equal(t, "Bad address (field: ADDRESS, value: zip is missing)", out[2].Error)
	assert.Equal(t, domain.ErrCodeAddressFormat, out[2].ErrorCode)
	assert.Equal(t, domain.Outcome{ExternalID: "ext-none", Error: "email is required", ErrorCode: domain.ErrCodeEmailRequired}, out[3])
}

func TestReconcile_ProviderEmailRequired(t *testing.T) {
	index := NewExternalIDIndex()
	index.Put("A@x.com", "crm-77")
	r := NewReconciler(index)

	out := r.Reconcile(&mailchimp.BatchResponse{
		Errors: []mailchimp.BatchError{{EmailAddress: "a@x.com", Error: "An email address is required", ErrorCode: "HG_EMAIL_REQUIRED"}},
	}, nil)

	require.Len(t, out, 1)
	assert.Equal(t, "crm-77", out[0].ExternalID)
	assert.Equal(t, domain.ErrCodeEmailRequired, out[0].ErrorCode)
	assert.Equal(t, "An email address is required", out[0].Error)
}

func TestReconcile_UnindexedFallsBackToEmail(t *testing.T) {
	r := NewReconciler(NewExternalIDIndex())
	out := r.Reconcile(&mailchimp.BatchResponse{
		NewMembers: []mailchimp.MemberResult{{ID: "m1", EmailAddress: "who@x.com"}},
	}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "who@x.com", out[0].ExternalID)
}

func TestReconcile_NilResponseKeepsRejections(t *testing.T) {
	r := NewReconciler(NewExternalIDIndex())
	out := r.Reconcile(nil, []domain.RejectedRecord{{Error: "bad", ErrorCode: domain.ErrCodeListItemFormat, ExternalID: "e"}})
	require.Len(t, out, 1)
	assert.Equal(t, domain.ErrCodeListItemFormat, out[0].ErrorCode)
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		in   mailchimp.BatchError
		want domain.ErrorCode
	}{
		{"enum code", mailchimp.BatchError{ErrorCode: "EmailRequired"}, domain.ErrCodeEmailRequired},
		{"prefixed code", mailchimp.BatchError{ErrorCode: "ERROR_INVALID_EMAIL"}, domain.ErrCodeInvalidEmail},
		{"hg code", mailchimp.BatchError{ErrorCode: "HG_LIST_ITEM_FORMAT_ERROR"}, domain.ErrCodeListItemFormat},
		{"alias", mailchimp.BatchError{ErrorCode: "ERROR_EMAIL_MISSING"}, domain.ErrCodeEmailRequired},
		{"generic code with address field", mailchimp.BatchError{ErrorCode: "ERROR_GENERIC", Field: "address"}, domain.ErrCodeAddressFormat},
		{"fake email wording", mailchimp.BatchError{ErrorCode: "ERROR_GENERIC", Error: "x@y.com looks fake or invalid, please enter a real email address."}, domain.ErrCodeInvalidEmail},
		{"compliance wording", mailchimp.BatchError{Error: "x@y.com is in a compliance state due to unsubscribe, bounce, or compliance review and cannot be subscribed."}, domain.ErrCodeComplianceState},
		{"merge wording", mailchimp.BatchError{Error: "Your merge fields were invalid."}, domain.ErrCodeMergeFieldInvalid},
		{"unknown", mailchimp.BatchError{ErrorCode: "ERROR_GENERIC", Error: "Something else"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyProviderError(tt.in))
		})
	}
}

func TestComposeError(t *testing.T) {
	assert.Equal(t, "plain", composeError(mailchimp.BatchError{Error: "plain"}))
	assert.Equal(t, "bad (field: TIER)", composeError(mailchimp.BatchError{Error: "bad", Field: "TIER"}))
	assert.Equal(t, "field: TIER, value: too long", composeError(mailchimp.BatchError{Field: "TIER", FieldMessage: "too long"}))
}
