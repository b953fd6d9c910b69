package domain

// MemberStatus is the subscription status sent for a list member.
type MemberStatus string

const (
	StatusSubscribed    MemberStatus = "subscribed"
	StatusUnsubscribed  MemberStatus = "unsubscribed"
	StatusCleaned       MemberStatus = "cleaned"
	StatusPending       MemberStatus = "pending"
	StatusTransactional MemberStatus = "transactional"
)

// Standard merge tags every list carries.
const (
	TagFirstName = "FNAME"
	TagLastName  = "LNAME"
	TagAddress   = "ADDRESS"
	TagPhone     = "PHONE"
)

// Location is the geo block of a member. Zero values are meaningful and are
// always sent.
type Location struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	GMTOff      int     `json:"gmtoff"`
	DSTOff      int     `json:"dstoff"`
	CountryCode string  `json:"country_code"`
	Timezone    string  `json:"timezone"`
	Region      string  `json:"region"`
}

// MemberPayload is the provider-shaped member sent in a batch upsert.
// MergeFields values are plain JSON values (string, number, bool, nested
// map); nil entries are removed by Prune before dispatch.
type MemberPayload struct {
	EmailAddress string          `json:"email_address"`
	Status       MemberStatus    `json:"status"`
	MergeFields  map[string]any  `json:"merge_fields"`
	Location     Location        `json:"location"`
	Interests    map[string]bool `json:"interests,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
}
