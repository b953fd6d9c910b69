package contactsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/contact-sync/internal/mailchimp"
)

// ListLister lists the audiences visible to the credentials.
type ListLister interface {
	ListLists(ctx context.Context) ([]mailchimp.List, error)
}

// ResolveListID finds the list whose name matches name case-insensitively.
// An empty name selects the first list returned. Failing to find a list, or
// being refused by the provider for bad credentials, is fatal.
func ResolveListID(ctx context.Context, lister ListLister, name string) (string, error) {
	lists, err := lister.ListLists(ctx)
	if err != nil {
		if Classify(err) == DispositionFatal {
			return "", fatal("resolve list: %w", err)
		}
		return "", fmt.Errorf("resolve list: %w", err)
	}
	if len(lists) == 0 {
		return "", fatal("resolve list: %w", fmt.Errorf("%w: account has no lists", ErrNoListID))
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return lists[0].ID, nil
	}
	for _, l := range lists {
		if strings.EqualFold(strings.TrimSpace(l.Name), name) {
			return l.ID, nil
		}
	}
	return "", fatal("resolve list: %w", fmt.Errorf("%w: no list named %q", ErrNoListID, name))
}
