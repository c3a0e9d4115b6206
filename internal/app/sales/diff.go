package sales

import "github.com/coachpo/wgg/internal/domain/promotion"

// Diff is the symmetric difference between two flattened promotion listings.
type Diff struct {
	Added   []promotion.Item `json:"added"`
	Removed []promotion.Item `json:"removed"`
	// Healed lists sale groups that were unchanged in the listing but missing from the derived
	// sale cache, and were rebuilt.
	Healed []string `json:"healed,omitempty"`
}

// Empty reports whether the refresh found nothing to reconcile.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Healed) == 0
}

// AddedGroups returns the sale groups among the added items.
func (d Diff) AddedGroups() []promotion.SaleGroupLimited {
	return groupsOf(d.Added)
}

// RemovedIDs returns the ids of every removed item.
func (d Diff) RemovedIDs() []string {
	ids := make([]string, 0, len(d.Removed))
	for _, item := range d.Removed {
		ids = append(ids, item.ID())
	}
	return ids
}

// diffItems compares listings by structural value. The pairwise scan is quadratic, which is
// fine at the low hundreds of items a vendor listing carries.
func diffItems(previous, current []promotion.Item) Diff {
	var d Diff
	for _, item := range current {
		if !containsItem(previous, item) {
			d.Added = append(d.Added, item)
		}
	}
	for _, item := range previous {
		if !containsItem(current, item) {
			d.Removed = append(d.Removed, item)
		}
	}
	return d
}

func containsItem(items []promotion.Item, target promotion.Item) bool {
	for _, item := range items {
		if item.Equal(target) {
			return true
		}
	}
	return false
}

func groupsOf(items []promotion.Item) []promotion.SaleGroupLimited {
	var out []promotion.SaleGroupLimited
	for _, item := range items {
		if item.Kind == promotion.ItemGroup && item.Group != nil {
			out = append(out, *item.Group)
		}
	}
	return out
}
