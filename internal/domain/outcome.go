package domain

// ErrorCode classifies a per-record failure. The first four values are
// produced locally by the mapper; the rest are provider-side signatures
// recognised when reconciling a batch response.
type ErrorCode string

const (
	ErrCodeEmailRequired      ErrorCode = "EmailRequired"
	ErrCodeAddressFormat      ErrorCode = "AddressFormatError"
	ErrCodeListItemFormat     ErrorCode = "ListItemFormatError"
	ErrCodeGroupTitleNotFound ErrorCode = "GroupTitleNotFound"
	ErrCodeInvalidEmail       ErrorCode = "InvalidEmail"
	ErrCodeComplianceState    ErrorCode = "ComplianceState"
	ErrCodeMergeFieldInvalid  ErrorCode = "MergeFieldInvalid"
)

// RejectedRecord is a record that failed local validation and was never sent.
type RejectedRecord struct {
	Error      string    `json:"error"`
	ErrorCode  ErrorCode `json:"error_code"`
	ExternalID string    `json:"externalId"`
	// Email is the identity the record was keyed by, when one was resolved.
	Email string `json:"-"`
}

// Outcome is the per-record event handed to the checkpoint layer.
type Outcome struct {
	Success    bool      `json:"success"`
	ID         string    `json:"id,omitempty"`
	ExternalID string    `json:"externalId"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  ErrorCode `json:"hg_error_class,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(id, externalID string) Outcome {
	return Outcome{Success: true, ID: id, ExternalID: externalID}
}

// Failed builds a failure outcome.
func Failed(externalID, msg string, code ErrorCode) Outcome {
	return Outcome{ExternalID: externalID, Error: msg, ErrorCode: code}
}
