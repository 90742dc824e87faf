package repository

import "github.com/sumire/userlink/internal/domain"

// LinkKey identifies a persisted link row for one user.
type LinkKey struct {
	Provider     string
	IdentifierID string
}

// LinkState is the persisted state of a link row.
type LinkState struct {
	LinkKey
	Deleted bool
}

// Plan lists the statements needed to bring persisted links in line with a
// desired identifier set.
type Plan struct {
	SoftDelete []LinkKey
	Restore    []domain.Identifier
	Refresh    []domain.Identifier
	Insert     []domain.Identifier
}

// Empty reports whether the plan has nothing to apply.
func (p Plan) Empty() bool {
	return len(p.SoftDelete) == 0 && len(p.Restore) == 0 && len(p.Refresh) == 0 && len(p.Insert) == 0
}

// Reconcile diffs existing link rows, soft-deleted ones included, against
// the desired identifiers.
//
// Rows sharing a key collapse into one state; if any of them is active the
// key counts as active. Existing keys missing from desired are
// soft-deleted unless already deleted. Desired keys are restored, refreshed
// or inserted depending on what exists.
func Reconcile(existing []LinkState, desired []domain.Identifier) Plan {
	var plan Plan

	state := make(map[LinkKey]bool, len(existing)) // key -> deleted
	var order []LinkKey
	for _, row := range existing {
		deleted, seen := state[row.LinkKey]
		if !seen {
			order = append(order, row.LinkKey)
			state[row.LinkKey] = row.Deleted
			continue
		}
		state[row.LinkKey] = deleted && row.Deleted
	}

	wanted := make(map[LinkKey]struct{}, len(desired))
	for _, id := range desired {
		key := LinkKey{Provider: id.Provider(), IdentifierID: id.ID()}
		if _, dup := wanted[key]; dup {
			continue
		}
		wanted[key] = struct{}{}

		deleted, exists := state[key]
		switch {
		case !exists:
			plan.Insert = append(plan.Insert, id)
		case deleted:
			plan.Restore = append(plan.Restore, id)
		default:
			plan.Refresh = append(plan.Refresh, id)
		}
	}

	for _, key := range order {
		if _, ok := wanted[key]; ok {
			continue
		}
		if !state[key] {
			plan.SoftDelete = append(plan.SoftDelete, key)
		}
	}

	return plan
}
