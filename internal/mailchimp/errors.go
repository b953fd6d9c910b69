package mailchimp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the closed classification of a failed provider call.
type ErrorKind int

const (
	KindProvider ErrorKind = iota
	KindInvalidCredentials
	KindInvalidPayload
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindTransient:
		return "transient"
	default:
		return "provider_error"
	}
}

// Sentinels matched by errors.Is against an *APIError of the same kind.
var (
	ErrInvalidCredentials = errors.New("mailchimp: invalid credentials")
	ErrInvalidPayload     = errors.New("mailchimp: invalid payload")
	ErrTransient          = errors.New("mailchimp: transient failure")
)

// Classify maps an HTTP status to an ErrorKind. It is the only place status
// codes are interpreted; every endpoint goes through it.
func Classify(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredentials
	case http.StatusBadRequest:
		return KindInvalidPayload
	case http.StatusBadGateway:
		return KindTransient
	default:
		return KindProvider
	}
}

// FieldError is one entry of a problem document's "errors" array.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Kind        ErrorKind
	Status      int
	Type        string       `json:"type"`
	Title       string       `json:"title"`
	Detail      string       `json:"detail"`
	Instance    string       `json:"instance"`
	FieldErrors []FieldError `json:"errors"`
	Body        string       `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = e.Body
	}
	if len(e.FieldErrors) > 0 {
		parts := make([]string, 0, len(e.FieldErrors))
		for _, fe := range e.FieldErrors {
			parts = append(parts, fe.Field+": "+fe.Message)
		}
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return fmt.Sprintf("mailchimp: %s (status %d): %s", e.Kind, e.Status, msg)
}

// Is lets errors.Is(err, ErrInvalidCredentials) and friends match by kind.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Kind == KindInvalidCredentials
	case ErrInvalidPayload:
		return e.Kind == KindInvalidPayload
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// newAPIError builds an APIError from a response, decoding the problem
// document when the body is one.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr = &APIError{}
	}
	apiErr.Kind = Classify(status)
	apiErr.Status = status
	apiErr.Body = strings.TrimSpace(string(body))
	return apiErr
}

// KindOf returns the classification of err, or KindProvider when err is not
// an APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindProvider
}
