package contactsync

import "strings"

// ExternalIDIndex maps lowercased emails to the caller's record identity.
// Provider responses are keyed by email only, so this is how an outcome gets
// its externalId back. Entries are never removed during a run.
type ExternalIDIndex struct {
	byEmail map[string]string
}

func NewExternalIDIndex() *ExternalIDIndex {
	return &ExternalIDIndex{byEmail: make(map[string]string)}
}

func indexKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Put records the identity for email. An empty externalID stores the
// normalised email itself.
func (x *ExternalIDIndex) Put(email, externalID string) {
	key := indexKey(email)
	if externalID == "" {
		externalID = key
	}
	x.byEmail[key] = externalID
}

// Lookup returns the identity recorded for email.
func (x *ExternalIDIndex) Lookup(email string) (string, bool) {
	id, ok := x.byEmail[indexKey(email)]
	return id, ok
}

// Resolve returns the identity recorded for email, or email itself.
func (x *ExternalIDIndex) Resolve(email string) string {
	if id, ok := x.Lookup(email); ok {
		return id
	}
	return email
}

func (x *ExternalIDIndex) Len() int { return len(x.byEmail) }
