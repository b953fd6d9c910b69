package contactsync

import (
	"strings"

	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
)

// Reconciler turns a batch response plus local rejections into outcomes.
type Reconciler struct {
	index *ExternalIDIndex
}

func NewReconciler(index *ExternalIDIndex) *Reconciler {
	return &Reconciler{index: index}
}

// Reconcile returns one outcome per created, updated or failed member and per
// local rejection. Order follows the response sections, not input order.
func (r *Reconciler) Reconcile(resp *mailchimp.BatchResponse, rejections []domain.RejectedRecord) []domain.Outcome {
	var outcomes []domain.Outcome
	if resp != nil {
		outcomes = make([]domain.Outcome, 0, len(resp.NewMembers)+len(resp.UpdatedMembers)+len(resp.Errors)+len(rejections))
		for _, m := range resp.NewMembers {
			outcomes = append(outcomes, domain.Succeeded(m.ID, r.index.Resolve(m.EmailAddress)))
		}
		for _, m := range resp.UpdatedMembers {
			outcomes = append(outcomes, domain.Succeeded(m.ID, r.index.Resolve(m.EmailAddress)))
		}
		for _, e := range resp.Errors {
			outcomes = append(outcomes, domain.Failed(
				r.index.Resolve(e.EmailAddress),
				composeError(e),
				ClassifyProviderError(e),
			))
		}
	}

	for _, rj := range rejections {
		outcomes = append(outcomes, domain.Failed(rj.ExternalID, rj.Error, rj.ErrorCode))
	}
	return outcomes
}

// composeError joins the error text with the offending field and its message.
func composeError(e mailchimp.BatchError) string {
	msg := strings.TrimSpace(e.Error)
	var details []string
	if e.Field != "" {
		details = append(details, "field: "+e.Field)
	}
	if e.FieldMessage != "" {
		details = append(details, "value: "+e.FieldMessage)
	}
	if len(details) == 0 {
		return msg
	}
	if msg == "" {
		return strings.Join(details, ", ")
	}
	return msg + " (" + strings.Join(details, ", ") + ")"
}

// messageSignatures map known provider wording to error codes. Matching is
// case-insensitive on the error text.
var messageSignatures = []struct {
	fragment string
	code     domain.ErrorCode
}{
	{"email address is required", domain.ErrCodeEmailRequired},
	{"email_address: this value should not be blank", domain.ErrCodeEmailRequired},
	{"looks fake or invalid", domain.ErrCodeInvalidEmail},
	{"provide a valid email address", domain.ErrCodeInvalidEmail},
	{"compliance state", domain.ErrCodeComplianceState},
	{"merge fields were invalid", domain.ErrCodeMergeFieldInvalid},
	{"invalid interest", domain.ErrCodeGroupTitleNotFound},
}

// normalizeCode reduces "ERROR_INVALID_EMAIL", "HG_EMAIL_REQUIRED" and
// "EmailRequired" to a comparable "INVALIDEMAIL"/"EMAILREQUIRED" form.
func normalizeCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	for _, prefix := range []string{"ERROR_", "HG_"} {
		c = strings.TrimPrefix(c, prefix)
	}
	return strings.ReplaceAll(c, "_", "")
}

// codeAliases covers provider codes whose names differ from ours.
var codeAliases = map[string]domain.ErrorCode{
	"EMAILMISSING":    domain.ErrCodeEmailRequired,
	"ADDRESSINVALID":  domain.ErrCodeAddressFormat,
	"ADDRESSFORMAT":   domain.ErrCodeAddressFormat,
	"LISTITEMFORMAT":  domain.ErrCodeListItemFormat,
	"INVALIDINTEREST": domain.ErrCodeGroupTitleNotFound,
}

// ClassifyProviderError returns the error code for a recognised provider
// error, or "" when none matches. Codes are tried first, then field, then
// message wording.
func ClassifyProviderError(e mailchimp.BatchError) domain.ErrorCode {
	if norm := normalizeCode(e.ErrorCode); norm != "" {
		for _, code := range []domain.ErrorCode{
			domain.ErrCodeEmailRequired, domain.ErrCodeAddressFormat,
			domain.ErrCodeListItemFormat, domain.ErrCodeGroupTitleNotFound,
			domain.ErrCodeInvalidEmail, domain.ErrCodeComplianceState,
			domain.ErrCodeMergeFieldInvalid,
		} {
			if norm == normalizeCode(string(code)) {
				return code
			}
		}
		if code, ok := codeAliases[norm]; ok {
			return code
		}
	}

	if strings.EqualFold(e.Field, domain.TagAddress) {
		return domain.ErrCodeAddressFormat
	}

	text := strings.ToLower(e.Error + " " + e.FieldMessage)
	for _, sig := range messageSignatures {
		if strings.Contains(text, sig.fragment) {
			return sig.code
		}
	}
	return ""
}
