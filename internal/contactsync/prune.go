package contactsync

import "github.com/ignite/contact-sync/internal/domain"

// PruneNulls returns a copy of m without nil values, descending into nested
// maps and lists of maps. Zero values ("", 0, false) are kept: an explicit
// empty value means "clear it" on the remote side, an absent one means
// "leave it alone". Applying it twice yields the same result.
func PruneNulls(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = pruneValue(v)
	}
	return out
}

func pruneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return PruneNulls(val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, pruneValue(item))
		}
		return out
	default:
		return v
	}
}

// prunePayload applies PruneNulls to the payload's merge fields and drops
// empty optional collections.
func prunePayload(p *domain.MemberPayload) {
	p.MergeFields = PruneNulls(p.MergeFields)
	if p.MergeFields == nil {
		p.MergeFields = map[string]any{}
	}
	if len(p.Interests) == 0 {
		p.Interests = nil
	}
	if len(p.Tags) == 0 {
		p.Tags = nil
	}
}
