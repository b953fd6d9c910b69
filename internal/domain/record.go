package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FlexString is a string type that can unmarshal from both string and number JSON values
type FlexString string

// UnmarshalJSON implements json.Unmarshaler for FlexString
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlexString(fmt.Sprintf("%t", b))
		return nil
	}

	return fmt.Errorf("FlexString: cannot unmarshal %s", string(data))
}

// String returns the string value
func (f FlexString) String() string {
	return string(f)
}

// InputRecord is one upstream contact record.
//
// Scalar fields are decoded leniently. Collection fields are kept as raw JSON
// because their shape is part of what the mapper validates (an "addresses"
// value that is not an array must be rejected, not silently dropped).
// Keys not listed here are ignored.
type InputRecord struct {
	ExternalID      FlexString `json:"externalId"`
	Name            FlexString `json:"name"`
	FirstName       FlexString `json:"first_name"`
	LastName        FlexString `json:"last_name"`
	Email           FlexString `json:"email"`
	EmailAddress    FlexString `json:"email_address"`
	SubscribeStatus FlexString `json:"subscribe_status"`

	Addresses    json.RawMessage `json:"addresses"`
	PhoneNumbers json.RawMessage `json:"phone_numbers"`
	CustomFields json.RawMessage `json:"custom_fields"`
	Lists        json.RawMessage `json:"lists"`
	Tags         json.RawMessage `json:"tags"`
}

// ParseRecord decodes a JSON object into an InputRecord.
func ParseRecord(data []byte) (InputRecord, error) {
	var rec InputRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return InputRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// RecordFromMap converts a generic mapping (as produced by a JSON decoder or
// a SQL row scan) into an InputRecord.
func RecordFromMap(m map[string]any) (InputRecord, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return InputRecord{}, fmt.Errorf("encode record: %w", err)
	}
	return ParseRecord(data)
}

// Present reports whether a raw collection field was supplied with a non-null value.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Address is one element of the "addresses" sequence. Both camelCase and
// snake_case postal code keys are accepted upstream.
type Address struct {
	Line1      FlexString `json:"line1"`
	Line2      FlexString `json:"line2"`
	City       FlexString `json:"city"`
	State      FlexString `json:"state"`
	PostalCode FlexString `json:"postalCode"`
	PostalAlt  FlexString `json:"postal_code"`
	Country    FlexString `json:"country"`
	Latitude   FlexString `json:"latitude"`
	Longitude  FlexString `json:"longitude"`
}

// Zip returns the postal code, preferring postalCode over postal_code.
func (a Address) Zip() string {
	if z := strings.TrimSpace(a.PostalCode.String()); z != "" {
		return z
	}
	return strings.TrimSpace(a.PostalAlt.String())
}

// PhoneNumber is one element of the "phone_numbers" sequence.
type PhoneNumber struct {
	Number FlexString `json:"number"`
	Type   FlexString `json:"type"`
}

// CustomField is one element of the "custom_fields" sequence.
type CustomField struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}
