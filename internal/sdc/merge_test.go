package sdc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/tozd/go/mediawiki"

	"gitlab.com/daxserver/curator/internal/sdc"
)

func itemStatement(property, qid string) mediawiki.Statement {
	return mediawiki.Statement{
		Type: "statement",
		Rank: mediawiki.Normal,
		MainSnak: mediawiki.Snak{
			SnakType: mediawiki.Value,
			Property: property,
			DataValue: &mediawiki.DataValue{
				Value: mediawiki.WikiBaseEntityIDValue{Type: mediawiki.ItemType, ID: qid},
			},
		},
	}
}

// TestMergePreservesExistingWithoutQualifiers covers the rule that an
// existing statement whose mainsnak matches a proposed one wins verbatim —
// a human-added qualifier on the existing statement must survive, and the
// proposed statement's own qualifiers/references must never be overlaid.
func TestMergePreservesExistingWithoutQualifiers(t *testing.T) {
	t.Parallel()

	existing := itemStatement(sdc.PropertySourceOfFile, sdc.ItemFileAvailableOnInternet)
	existing.Qualifiers = map[string][]mediawiki.Snak{
		"P2076": {mediawiki.Snak{SnakType: mediawiki.Value, Property: "P2076"}},
	}
	existing.QualifiersOrder = []string{"P2076"}

	proposed := itemStatement(sdc.PropertySourceOfFile, sdc.ItemFileAvailableOnInternet)
	proposed.Qualifiers = map[string][]mediawiki.Snak{
		sdc.PropertyOperator: {mediawiki.Snak{SnakType: mediawiki.Value, Property: sdc.PropertyOperator}},
	}
	proposed.QualifiersOrder = []string{sdc.PropertyOperator}

	merged := sdc.Merge([]mediawiki.Statement{existing}, []mediawiki.Statement{proposed})

	assert.Len(t, merged, 1)
	assert.Equal(t, existing, merged[0], "existing statement must be kept verbatim, not overlaid with proposed qualifiers")
}

// TestMergeAppendsGenuinelyNewStatement covers the rule that a proposed
// statement whose mainsnak has no existing match is appended with its own
// qualifiers and references intact.
func TestMergeAppendsGenuinelyNewStatement(t *testing.T) {
	t.Parallel()

	existing := itemStatement(sdc.PropertySourceOfFile, sdc.ItemFileAvailableOnInternet)
	proposed := itemStatement(sdc.PropertyCopyrightLicense, "Q20007257")

	merged := sdc.Merge([]mediawiki.Statement{existing}, []mediawiki.Statement{proposed})

	assert.Equal(t, []mediawiki.Statement{existing, proposed}, merged, "output order is existing then new-in-proposed-order")
}

func TestMergeDedupesStructurallyEqualReferences(t *testing.T) {
	t.Parallel()

	proposed := itemStatement(sdc.PropertyCopyrightLicense, "Q20007257")
	ref := mediawiki.Reference{
		Snaks: map[string][]mediawiki.Snak{
			sdc.PropertyURL: {mediawiki.Snak{
				SnakType:  mediawiki.Value,
				Property:  sdc.PropertyURL,
				DataValue: &mediawiki.DataValue{Value: mediawiki.StringValue("https://example.com/photo")},
			}},
		},
		SnaksOrder: []string{sdc.PropertyURL},
	}
	proposed.References = []mediawiki.Reference{ref, ref}

	merged := sdc.Merge(nil, []mediawiki.Statement{proposed})

	assert.Len(t, merged, 1)
	assert.Len(t, merged[0].References, 1)
}

// TestMergeIdempotent covers the round-trip law merge(X, X) == X: merging a
// statement list into itself must not change it.
func TestMergeIdempotent(t *testing.T) {
	t.Parallel()

	statements := []mediawiki.Statement{
		itemStatement(sdc.PropertySourceOfFile, sdc.ItemFileAvailableOnInternet),
		itemStatement(sdc.PropertyCopyrightLicense, "Q20007257"),
	}

	merged := sdc.Merge(statements, statements)

	assert.Equal(t, statements, merged)
}

func stringSnak(property, value string) mediawiki.Snak {
	return mediawiki.Snak{
		SnakType:  mediawiki.Value,
		Property:  property,
		DataValue: &mediawiki.DataValue{Value: mediawiki.StringValue(value)},
	}
}

// TestMergeQualifiersOnNewMainsnak covers boundary scenario 4: starting from
// an empty qualifier map, two new snaks on distinct properties are both
// appended, in order, each as a singleton list.
func TestMergeQualifiersOnNewMainsnak(t *testing.T) {
	t.Parallel()

	newSnaks := []mediawiki.Snak{
		stringSnak(sdc.PropertyAuthorNameString, "alice"),
		stringSnak(sdc.PropertyURL, "https://example.com/alice"),
	}

	merged, order := sdc.MergeQualifiers(nil, nil, newSnaks)

	assert.Equal(t, []string{sdc.PropertyAuthorNameString, sdc.PropertyURL}, order)
	assert.Len(t, merged[sdc.PropertyAuthorNameString], 1)
	assert.Len(t, merged[sdc.PropertyURL], 1)
}

// TestMergeQualifiersSkipsValueEqualDuplicate covers the "already present,
// value-equal" branch: a new snak for a property that already carries an
// equal value is dropped, not appended.
func TestMergeQualifiersSkipsValueEqualDuplicate(t *testing.T) {
	t.Parallel()

	existingQ := map[string][]mediawiki.Snak{
		sdc.PropertyAuthorNameString: {stringSnak(sdc.PropertyAuthorNameString, "alice")},
	}
	existingOrder := []string{sdc.PropertyAuthorNameString}

	merged, order := sdc.MergeQualifiers(existingQ, existingOrder, []mediawiki.Snak{
		stringSnak(sdc.PropertyAuthorNameString, "alice"),
	})

	assert.Equal(t, existingOrder, order)
	assert.Len(t, merged[sdc.PropertyAuthorNameString], 1)
}

// TestMergeQualifiersAppendsDistinctValueToExistingProperty covers the
// "already present, not value-equal" branch: the new snak is appended to
// the property's existing list without disturbing order.
func TestMergeQualifiersAppendsDistinctValueToExistingProperty(t *testing.T) {
	t.Parallel()

	existingQ := map[string][]mediawiki.Snak{
		sdc.PropertyAuthorNameString: {stringSnak(sdc.PropertyAuthorNameString, "alice")},
	}
	existingOrder := []string{sdc.PropertyAuthorNameString}

	merged, order := sdc.MergeQualifiers(existingQ, existingOrder, []mediawiki.Snak{
		stringSnak(sdc.PropertyAuthorNameString, "bob"),
	})

	assert.Equal(t, existingOrder, order)
	assert.Len(t, merged[sdc.PropertyAuthorNameString], 2)
}

func TestValueEqualIgnoresHashAndID(t *testing.T) {
	t.Parallel()

	a := itemStatement(sdc.PropertySourceOfFile, sdc.ItemFileAvailableOnInternet).MainSnak
	b := a
	b.Hash = "different-hash"

	assert.True(t, sdc.ValueEqual(a, b))
}

func TestValueEqualDetectsDifferentEntity(t *testing.T) {
	t.Parallel()

	a := itemStatement(sdc.PropertyCopyrightLicense, "Q20007257").MainSnak
	b := itemStatement(sdc.PropertyCopyrightLicense, "Q18199165").MainSnak

	assert.False(t, sdc.ValueEqual(a, b))
}
