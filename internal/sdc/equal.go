// Package sdc implements the SDC Merge Engine (C4): value equality over
// Wikibase Snaks, and the non-destructive merge of a proposed claim list
// into a pre-existing one (§4.3).
package sdc

import (
	"gitlab.com/tozd/go/mediawiki"
)

// ValueEqual reports whether two Snaks are value-equal per §4.3: same
// property and structurally equal datavalue by type-specific rules. hash and
// statement id are never part of equality.
func ValueEqual(a, b mediawiki.Snak) bool {
	if a.Property != b.Property {
		return false
	}
	if a.SnakType != b.SnakType {
		return false
	}
	if a.SnakType != mediawiki.Value {
		// SomeValue/NoValue snaks of the same property and snak type are equal
		// regardless of any (absent) datavalue.
		return true
	}
	if a.DataValue == nil || b.DataValue == nil {
		return a.DataValue == b.DataValue
	}
	return dataValueEqual(a.DataValue.Value, b.DataValue.Value)
}

func dataValueEqual(a, b interface{}) bool { //nolint:cyclop
	switch av := a.(type) {
	case mediawiki.StringValue:
		bv, ok := b.(mediawiki.StringValue)
		return ok && av == bv
	case mediawiki.WikiBaseEntityIDValue:
		bv, ok := b.(mediawiki.WikiBaseEntityIDValue)
		return ok && av.Type == bv.Type && av.ID == bv.ID
	case mediawiki.GlobeCoordinateValue:
		bv, ok := b.(mediawiki.GlobeCoordinateValue)
		if !ok {
			return false
		}
		return av.Latitude == bv.Latitude &&
			av.Longitude == bv.Longitude &&
			floatPtrEqual(av.Altitude, bv.Altitude) &&
			floatPtrEqual(av.Precision, bv.Precision) &&
			av.Globe == bv.Globe
	case mediawiki.TimeValue:
		bv, ok := b.(mediawiki.TimeValue)
		return ok && av.Time == bv.Time && av.Precision == bv.Precision &&
			av.CalendarModel == bv.CalendarModel && av.Timezone == bv.Timezone
	case mediawiki.QuantityValue:
		bv, ok := b.(mediawiki.QuantityValue)
		if !ok {
			return false
		}
		return amountEqual(av.Amount, bv.Amount) &&
			av.Unit == bv.Unit &&
			amountEqual(av.LowerBound, bv.LowerBound) &&
			amountEqual(av.UpperBound, bv.UpperBound)
	case mediawiki.MonolingualTextValue:
		bv, ok := b.(mediawiki.MonolingualTextValue)
		return ok && av.Language == bv.Language && av.Text == bv.Text
	case mediawiki.ErrorValue:
		bv, ok := b.(mediawiki.ErrorValue)
		return ok && av == bv
	default:
		return false
	}
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func amountEqual(a, b *mediawiki.Amount) bool {
	if a == nil || b == nil {
		return a == b
	}
	af, _ := a.Float64()
	bf, _ := b.Float64()
	return af == bf
}
