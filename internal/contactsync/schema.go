package contactsync

import (
	"context"
	"fmt"

	"github.com/ignite/contact-sync/internal/mailchimp"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// mergeFieldType is the type given to merge fields provisioned on demand.
const mergeFieldType = "text"

type groupEntry struct {
	id    string
	names map[string]string // interest name -> interest id
}

// SchemaCache holds a list's merge fields and interest taxonomy for the
// lifetime of a sync session. Each taxonomy is fetched on first use and only
// grows afterwards; a cached mapping is trusted until the session ends.
//
// Remote calls happen only on a cache miss, and the cache is updated only
// after the call has returned successfully.
type SchemaCache struct {
	provider SchemaProvider
	listID   string
	log      *logger.Logger

	fields map[string]string // field name -> tag; nil until loaded
	tags   map[string]string // tag -> field name
	groups map[string]*groupEntry

	provisioned int
}

// NewSchemaCache creates an empty cache for listID.
func NewSchemaCache(provider SchemaProvider, listID string, log *logger.Logger) *SchemaCache {
	if log == nil {
		log = logger.Default()
	}
	return &SchemaCache{provider: provider, listID: listID, log: log}
}

// LoadMergeFields seeds the merge field taxonomy, replacing any lazy fetch.
func (c *SchemaCache) LoadMergeFields(fields []mailchimp.MergeField) {
	c.fields = make(map[string]string, len(fields))
	c.tags = make(map[string]string, len(fields))
	for _, f := range fields {
		c.fields[f.Name] = f.Tag
		c.tags[f.Tag] = f.Name
	}
}

// LoadGroups seeds the interest taxonomy. interests is keyed by category id.
func (c *SchemaCache) LoadGroups(categories []mailchimp.InterestCategory, interests map[string][]mailchimp.Interest) {
	c.groups = make(map[string]*groupEntry, len(categories))
	for _, cat := range categories {
		entry := &groupEntry{id: cat.ID, names: make(map[string]string)}
		for _, in := range interests[cat.ID] {
			entry.names[in.Name] = in.ID
		}
		c.groups[cat.Title] = entry
	}
}

// Provisioned returns how many merge fields and interests this session created.
func (c *SchemaCache) Provisioned() int { return c.provisioned }

func (c *SchemaCache) ensureMergeFields(ctx context.Context) error {
	if c.fields != nil {
		return nil
	}
	fields, err := c.provider.GetMergeFields(ctx, c.listID)
	if err != nil {
		return fmt.Errorf("get merge fields: %w", err)
	}
	c.LoadMergeFields(fields)
	c.log.Debug("merge fields loaded", "list_id", c.listID, "count", len(fields))
	return nil
}

// ResolveMergeField returns the merge tag for a custom field name, creating a
// text merge field when neither a tag nor a field name matches.
func (c *SchemaCache) ResolveMergeField(ctx context.Context, name string) (string, error) {
	if err := c.ensureMergeFields(ctx); err != nil {
		return "", err
	}
	if _, ok := c.tags[name]; ok {
		return name, nil
	}
	if tag, ok := c.fields[name]; ok {
		return tag, nil
	}

	created, err := c.provider.AddMergeField(ctx, c.listID, mailchimp.MergeField{Name: name, Type: mergeFieldType})
	if err != nil {
		return "", fmt.Errorf("add merge field %q: %w", name, err)
	}
	if created.Tag == "" {
		return "", fmt.Errorf("add merge field %q: provider returned no tag", name)
	}

	c.fields[name] = created.Tag
	c.tags[created.Tag] = name
	c.provisioned++
	c.log.Info("merge field provisioned", "list_id", c.listID, "name", name, "tag", created.Tag)
	return created.Tag, nil
}

func (c *SchemaCache) ensureGroups(ctx context.Context) error {
	if c.groups != nil {
		return nil
	}
	categories, err := c.provider.ListInterestCategories(ctx, c.listID)
	if err != nil {
		return fmt.Errorf("list interest categories: %w", err)
	}

	// Build into locals so a failure part-way leaves the cache unloaded.
	interests := make(map[string][]mailchimp.Interest, len(categories))
	for _, cat := range categories {
		items, err := c.provider.ListInterests(ctx, c.listID, cat.ID)
		if err != nil {
			return fmt.Errorf("list interests for %q: %w", cat.Title, err)
		}
		interests[cat.ID] = items
	}

	c.LoadGroups(categories, interests)
	c.log.Debug("interest taxonomy loaded", "list_id", c.listID, "categories", len(categories))
	return nil
}

// ResolveGroup returns the interest id for title/name. An unknown title fails
// with ErrGroupTitleNotFound; an unknown name under a known title is created.
func (c *SchemaCache) ResolveGroup(ctx context.Context, title, name string) (string, error) {
	if err := c.ensureGroups(ctx); err != nil {
		return "", err
	}

	entry, ok := c.groups[title]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrGroupTitleNotFound, title)
	}
	if id, ok := entry.names[name]; ok {
		return id, nil
	}

	created, err := c.provider.CreateInterest(ctx, c.listID, entry.id, name)
	if err != nil {
		return "", fmt.Errorf("create interest %q under %q: %w", name, title, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create interest %q under %q: provider returned no id", name, title)
	}

	entry.names[name] = created.ID
	c.provisioned++
	c.log.Info("interest provisioned", "list_id", c.listID, "title", title, "name", name, "id", created.ID)
	return created.ID, nil
}
