package contactsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// Mapper turns InputRecords into member payloads. Validation runs in a fixed
// order and the first failure wins; nothing after it is evaluated, so a
// record without an email never touches the schema cache.
type Mapper struct {
	schema        *SchemaCache
	index         *ExternalIDIndex
	defaultStatus domain.MemberStatus
	log           *logger.Logger
}

// NewMapper creates a mapper sharing the session's cache and index.
func NewMapper(schema *SchemaCache, index *ExternalIDIndex, defaultStatus domain.MemberStatus, log *logger.Logger) *Mapper {
	if defaultStatus == "" {
		defaultStatus = domain.StatusSubscribed
	}
	if log == nil {
		log = logger.Default()
	}
	return &Mapper{schema: schema, index: index, defaultStatus: defaultStatus, log: log}
}

// rejection is a local validation failure carried through the mapping steps.
type rejection struct {
	code domain.ErrorCode
	msg  string
}

func (r *rejection) Error() string { return r.msg }

func reject(code domain.ErrorCode, format string, args ...any) error {
	return &rejection{code: code, msg: fmt.Sprintf(format, args...)}
}

// Map converts one record. Exactly one of payload, rejected and err is set:
// rejected for records that fail validation, err for provider failures while
// provisioning schema.
func (m *Mapper) Map(ctx context.Context, rec domain.InputRecord) (*domain.MemberPayload, *domain.RejectedRecord, error) {
	externalID := strings.TrimSpace(rec.ExternalID.String())

	payload, err := m.build(ctx, rec)
	if err != nil {
		var rj *rejection
		if errors.As(err, &rj) {
			identity := externalID
			if identity == "" && payload != nil {
				identity = payload.EmailAddress
			}
			email := ""
			if payload != nil {
				email = payload.EmailAddress
			}
			return nil, &domain.RejectedRecord{
				Error:      rj.msg,
				ErrorCode:  rj.code,
				ExternalID: identity,
				Email:      email,
			}, nil
		}
		return nil, nil, err
	}

	m.index.Put(payload.EmailAddress, externalID)
	return payload, nil, nil
}

// build runs the mapping steps. On a rejection after the identity step it
// still returns the partial payload so the caller can key the rejection.
func (m *Mapper) build(ctx context.Context, rec domain.InputRecord) (*domain.MemberPayload, error) {
	// 1. identity
	email := firstNonEmpty(rec.EmailAddress.String(), rec.Email.String())
	if email == "" {
		return nil, reject(domain.ErrCodeEmailRequired, "email is required")
	}

	p := &domain.MemberPayload{
		EmailAddress: email,
		MergeFields:  map[string]any{},
	}

	// 2. name
	first, last := splitName(rec)
	p.MergeFields[domain.TagFirstName] = first
	p.MergeFields[domain.TagLastName] = last

	// 3. address and location
	if err := m.mapAddress(rec, p); err != nil {
		return p, err
	}

	// 4. status
	p.Status = m.defaultStatus
	if s := strings.TrimSpace(rec.SubscribeStatus.String()); s != "" {
		p.Status = domain.MemberStatus(s)
	}

	// 5. phone
	if phone := firstPhone(rec, m.log); phone != "" {
		p.MergeFields[domain.TagPhone] = phone
	}

	// 6. custom fields
	if err := m.mapCustomFields(ctx, rec, p); err != nil {
		return p, err
	}

	// 7. segments
	if err := m.mapLists(ctx, rec, p); err != nil {
		return p, err
	}

	m.mapTags(rec, p)

	// 8. prune
	prunePayload(p)
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func splitName(rec domain.InputRecord) (string, string) {
	if parts := strings.Fields(rec.Name.String()); len(parts) > 0 {
		return parts[0], strings.Join(parts[1:], " ")
	}
	return strings.TrimSpace(rec.FirstName.String()), strings.TrimSpace(rec.LastName.String())
}

func (m *Mapper) mapAddress(rec domain.InputRecord, p *domain.MemberPayload) error {
	p.Location = domain.Location{}
	if !domain.Present(rec.Addresses) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rec.Addresses, &items); err != nil {
		return reject(domain.ErrCodeAddressFormat, "addresses must be a list of address objects")
	}
	if len(items) == 0 {
		return nil
	}

	// One address per contact: only the first is used.
	var src domain.Address
	if err := json.Unmarshal(items[0], &src); err != nil {
		return reject(domain.ErrCodeAddressFormat, "address must be an object: %v", err)
	}

	p.Location.CountryCode = strings.TrimSpace(src.Country.String())
	p.Location.Region = strings.TrimSpace(src.State.String())
	p.Location.Latitude = parseFloat(src.Latitude.String())
	p.Location.Longitude = parseFloat(src.Longitude.String())

	addr := map[string]any{
		"addr1": strings.TrimSpace(src.Line1.String()),
		"city":  strings.TrimSpace(src.City.String()),
		"state": strings.TrimSpace(src.State.String()),
		"zip":   src.Zip(),
	}
	for _, key := range []string{"addr1", "city", "state", "zip"} {
		if addr[key] == "" {
			m.log.Warn("address omitted: required part missing",
				"email", p.EmailAddress, "missing", key)
			return nil
		}
	}
	if line2 := strings.TrimSpace(src.Line2.String()); line2 != "" {
		addr["addr2"] = line2
	}
	if country := strings.TrimSpace(src.Country.String()); country != "" {
		addr["country"] = country
	}
	p.MergeFields[domain.TagAddress] = addr
	return nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func firstPhone(rec domain.InputRecord, log *logger.Logger) string {
	if !domain.Present(rec.PhoneNumbers) {
		return ""
	}
	var phones []domain.PhoneNumber
	if err := json.Unmarshal(rec.PhoneNumbers, &phones); err != nil {
		log.Warn("phone_numbers ignored: unexpected shape", "error", err)
		return ""
	}
	if len(phones) == 0 {
		return ""
	}
	return strings.TrimSpace(phones[0].Number.String())
}

func (m *Mapper) mapCustomFields(ctx context.Context, rec domain.InputRecord, p *domain.MemberPayload) error {
	if !domain.Present(rec.CustomFields) {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rec.CustomFields, &entries); err != nil {
		m.log.Warn("custom_fields ignored: not a list", "email", p.EmailAddress)
		return nil
	}

	for i, raw := range entries {
		var cf domain.CustomField
		if err := json.Unmarshal(raw, &cf); err != nil || strings.TrimSpace(cf.Name) == "" {
			m.log.Warn("custom field skipped: expected {name, value}", "email", p.EmailAddress, "index", i)
			continue
		}
		switch cf.Value.(type) {
		case map[string]any, []any:
			m.log.Warn("custom field skipped: value is not a scalar", "email", p.EmailAddress, "name", cf.Name)
			continue
		}

		tag, err := m.schema.ResolveMergeField(ctx, strings.TrimSpace(cf.Name))
		if err != nil {
			return err
		}
		p.MergeFields[tag] = cf.Value
	}
	return nil
}

func (m *Mapper) mapLists(ctx context.Context, rec domain.InputRecord, p *domain.MemberPayload) error {
	if !domain.Present(rec.Lists) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rec.Lists, &items); err != nil {
		return reject(domain.ErrCodeListItemFormat, "lists must be a list of \"group title/group name\" strings")
	}

	interests := make(map[string]bool, len(items))
	for _, raw := range items {
		var item string
		if err := json.Unmarshal(raw, &item); err != nil {
			return reject(domain.ErrCodeListItemFormat, "list item %s is not a string", string(raw))
		}
		parts := strings.Split(item, "/")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return reject(domain.ErrCodeListItemFormat, "list item %q must be in the form \"group title/group name\"", item)
		}

		id, err := m.schema.ResolveGroup(ctx, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		if errors.Is(err, ErrGroupTitleNotFound) {
			return reject(domain.ErrCodeGroupTitleNotFound, "group title %q not found", strings.TrimSpace(parts[0]))
		}
		if err != nil {
			return err
		}
		interests[id] = true
	}
	p.Interests = interests
	return nil
}

func (m *Mapper) mapTags(rec domain.InputRecord, p *domain.MemberPayload) {
	if !domain.Present(rec.Tags) {
		return
	}
	var tags []string
	if err := json.Unmarshal(rec.Tags, &tags); err != nil {
		m.log.Warn("tags ignored: expected a list of strings", "email", p.EmailAddress)
		return
	}
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			p.Tags = append(p.Tags, t)
		}
	}
}
