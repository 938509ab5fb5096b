package sdc

import (
	"slices"

	"gitlab.com/tozd/go/mediawiki"
)

// Merge combines a proposed statement list into an existing one without
// destroying curation already present on the file (§4.3).
//
// For each proposed statement:
//   - if an existing statement has a value-equal MainSnak, the existing
//     statement is kept verbatim — its qualifiers and references are never
//     overlaid with the proposed statement's. Only the first such match
//     matters; later duplicates in existing are left untouched too.
//   - otherwise the proposed statement is genuinely new: it is appended with
//     its own qualifiers and references (deduplicating structurally
//     equivalent references against each other first).
//
// Output order is existing statements in their original order, followed by
// newly-introduced statements in proposed order.
func Merge(existing, proposed []mediawiki.Statement) []mediawiki.Statement {
	merged := make([]mediawiki.Statement, len(existing))
	copy(merged, existing)

	for _, p := range proposed {
		if findMatch(existing, p.MainSnak) != nil {
			continue
		}
		merged = append(merged, dedupeReferences(p))
	}

	return merged
}

// MergeQualifiers grows an existing qualifier map with newSnaks, in order,
// used when building a brand-new statement (no existing mainsnak match) that
// still wants qualifier growth. existingQ/existingOrder are left unchanged
// structurally — a fresh map and order slice are returned — so callers never
// need to worry about aliasing the statement they started from.
//
//  1. Start from existingQ, existingOrder unchanged.
//  2. For each snak N in newSnaks, in order:
//     - if N.Property is already in existingQ and some entry is value-equal
//     to N, skip it.
//     - else if N.Property is already in existingQ, append N to that
//     property's list, preserving its existing order position.
//     - else append N.Property to the order list and create its entry.
func MergeQualifiers(existingQ map[string][]mediawiki.Snak, existingOrder []string, newSnaks []mediawiki.Snak) (map[string][]mediawiki.Snak, []string) {
	merged := make(map[string][]mediawiki.Snak, len(existingQ))
	for property, snaks := range existingQ {
		merged[property] = append([]mediawiki.Snak(nil), snaks...)
	}
	order := append([]string(nil), existingOrder...)

	for _, n := range newSnaks {
		snaks, exists := merged[n.Property]
		if exists {
			duplicate := false
			for _, s := range snaks {
				if ValueEqual(s, n) {
					duplicate = true
					break
				}
			}
			if duplicate {
				continue
			}
			merged[n.Property] = append(snaks, n)
			continue
		}
		merged[n.Property] = []mediawiki.Snak{n}
		order = append(order, n.Property)
	}

	return merged, order
}

func findMatch(existing []mediawiki.Statement, mainSnak mediawiki.Snak) *mediawiki.Statement {
	for i := range existing {
		if ValueEqual(existing[i].MainSnak, mainSnak) {
			return &existing[i]
		}
	}
	return nil
}

// dedupeReferences collapses structurally-equal references within a single
// statement's reference list, keeping the first occurrence of each.
func dedupeReferences(statement mediawiki.Statement) mediawiki.Statement {
	if len(statement.References) < 2 { //nolint:mnd
		return statement
	}

	var kept []mediawiki.Reference
	for _, ref := range statement.References {
		duplicate := false
		for _, k := range kept {
			if ReferencesEqual(ref, k) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, ref)
		}
	}
	statement.References = kept
	return statement
}

// ReferencesEqual reports whether two references are structurally equal: the
// same SnaksOrder, and for each property the same snaks, pairwise
// value-equal in the same order.
func ReferencesEqual(a, b mediawiki.Reference) bool {
	if !slices.Equal(a.SnaksOrder, b.SnaksOrder) || len(a.Snaks) != len(b.Snaks) {
		return false
	}
	for property, aSnaks := range a.Snaks {
		bSnaks, ok := b.Snaks[property]
		if !ok || len(aSnaks) != len(bSnaks) {
			return false
		}
		for i := range aSnaks {
			if !ValueEqual(aSnaks[i], bSnaks[i]) {
				return false
			}
		}
	}
	return true
}
