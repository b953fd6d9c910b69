package mailchimp

import (
	"time"

	"github.com/ignite/contact-sync/internal/domain"
)

// Config holds Mailchimp API configuration
type Config struct {
	AccessToken string        // OAuth access token
	APIKey      string        // Alternative to AccessToken; "<key>-<dc>"
	Server      string        // Data centre ("us6"); resolved when empty
	BaseURL     string        // Overrides https://<dc>.api.mailchimp.com/3.0
	MetadataURL string        // OAuth metadata endpoint
	Timeout     time.Duration // Per-request timeout
	MaxRetries  int
}

// DefaultMetadataURL is where an OAuth token's data centre is looked up.
const DefaultMetadataURL = "https://login.mailchimp.com/oauth2/metadata"

// collectionCount is requested on every list endpoint so a single page covers
// the whole taxonomy.
const collectionCount = 1000

// List is an audience.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listsResponse struct {
	Lists      []List `json:"lists"`
	TotalItems int    `json:"total_items"`
}

// MergeField is a list's custom field definition.
type MergeField struct {
	MergeID int    `json:"merge_id,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

type mergeFieldsResponse struct {
	MergeFields []MergeField `json:"merge_fields"`
	TotalItems  int          `json:"total_items"`
}

// InterestCategory is a group title.
type InterestCategory struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

type categoriesResponse struct {
	Categories []InterestCategory `json:"categories"`
	TotalItems int                `json:"total_items"`
}

// Interest is a group name within a category.
type Interest struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id,omitempty"`
	Name       string `json:"name"`
}

type interestsResponse struct {
	Interests  []Interest `json:"interests"`
	TotalItems int        `json:"total_items"`
}

// BatchRequest is the body of a batch subscribe/update call.
type BatchRequest struct {
	Members        []domain.MemberPayload `json:"members"`
	UpdateExisting bool                   `json:"update_existing"`
}

// MemberResult is a created or updated member in a batch response.
type MemberResult struct {
	ID            string `json:"id"`
	EmailAddress  string `json:"email_address"`
	UniqueEmailID string `json:"unique_email_id,omitempty"`
	Status        string `json:"status,omitempty"`
}

// BatchError is a per-member failure in a batch response.
type BatchError struct {
	EmailAddress string `json:"email_address"`
	Error        string `json:"error"`
	ErrorCode    string `json:"error_code"`
	Field        string `json:"field,omitempty"`
	FieldMessage string `json:"field_message,omitempty"`
}

// BatchResponse is the result of a batch subscribe/update call. Every
// submitted member appears in exactly one of the three slices.
type BatchResponse struct {
	NewMembers     []MemberResult `json:"new_members"`
	UpdatedMembers []MemberResult `json:"updated_members"`
	Errors         []BatchError   `json:"errors"`
	TotalCreated   int            `json:"total_created"`
	TotalUpdated   int            `json:"total_updated"`
	ErrorCount     int            `json:"error_count"`
}

type metadataResponse struct {
	DC          string `json:"dc"`
	APIEndpoint string `json:"api_endpoint"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}
