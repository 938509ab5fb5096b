package sdc

import (
	"time"

	"gitlab.com/tozd/go/mediawiki"
)

// Wikibase property and item ids used when constructing SDC claims, taken
// from the set of Commons/Wikidata structured-data properties the curated
// handlers populate.
const (
	PropertyCreator          = "P170"
	PropertyAuthorNameString = "P2093"
	PropertyURL              = "P2699"
	PropertyMapillaryPhotoID = "P1947"
	PropertyFlickrPhotoID    = "P12120"
	PropertyFlickrUserID     = "P3267"
	PropertyPublishedIn      = "P1433"
	PropertyInception        = "P571"
	PropertySourceOfFile     = "P7482"
	PropertyOperator         = "P137"
	PropertyCopyrightLicense = "P275"

	ItemFileAvailableOnInternet = "Q74228490"
	ItemMapillary               = "Q17985544"
	ItemMapillaryDatabase       = "Q26757498"
	ItemFlickr                  = "Q103204"
)

// SourceInfo is what a handler's BuildSDC step supplies about one uploaded
// image, independent of which upstream service it came from.
type SourceInfo struct {
	AuthorUsername string
	AuthorURL      string
	CapturedAt     *time.Time
	LicenseQID     string // Wikidata item id of the applicable license, if known
}

// BuildMapillarySDC constructs the proposed statement list for an image
// sourced from Mapillary: an unattributed creator statement qualified with
// the photographer's username and profile URL, the Mapillary photo id, the
// published-in claim, the capture date, and a source-of-file claim
// qualified with the Mapillary operator.
func BuildMapillarySDC(photoID string, info SourceInfo) []mediawiki.Statement {
	statements := buildCreatorAndSource(info, ItemMapillary)
	statements = append(statements, stringStatement(PropertyMapillaryPhotoID, photoID))
	statements = append(statements, itemStatement(PropertyPublishedIn, ItemMapillaryDatabase))
	return statements
}

// BuildFlickrSDC constructs the proposed statement list for an image sourced
// from Flickr: the same creator/source-of-file shape as Mapillary, plus the
// Flickr photo id and uploader user id claims.
func BuildFlickrSDC(photoID, userID string, info SourceInfo) []mediawiki.Statement {
	statements := buildCreatorAndSource(info, ItemFlickr)
	statements = append(statements, stringStatement(PropertyFlickrPhotoID, photoID))
	if userID != "" {
		statements = append(statements, stringStatement(PropertyFlickrUserID, userID))
	}
	return statements
}

func buildCreatorAndSource(info SourceInfo, operatorQID string) []mediawiki.Statement {
	creator := mediawiki.Statement{
		Type: "statement",
		Rank: mediawiki.Normal,
		MainSnak: mediawiki.Snak{
			SnakType: mediawiki.SomeValue,
			Property: PropertyCreator,
		},
	}
	creator.Qualifiers = map[string][]mediawiki.Snak{}
	if info.AuthorUsername != "" {
		creator.Qualifiers[PropertyAuthorNameString] = []mediawiki.Snak{valueSnak(PropertyAuthorNameString, mediawiki.StringValue(info.AuthorUsername))}
		creator.QualifiersOrder = append(creator.QualifiersOrder, PropertyAuthorNameString)
	}
	if info.AuthorURL != "" {
		creator.Qualifiers[PropertyURL] = []mediawiki.Snak{valueSnak(PropertyURL, mediawiki.StringValue(info.AuthorURL))}
		creator.QualifiersOrder = append(creator.QualifiersOrder, PropertyURL)
	}

	source := itemStatement(PropertySourceOfFile, ItemFileAvailableOnInternet)
	source.Qualifiers = map[string][]mediawiki.Snak{
		PropertyOperator: {itemSnak(PropertyOperator, operatorQID)},
	}
	source.QualifiersOrder = []string{PropertyOperator}

	statements := []mediawiki.Statement{creator}
	if info.CapturedAt != nil {
		statements = append(statements, timeStatement(PropertyInception, *info.CapturedAt))
	}
	statements = append(statements, source)

	if info.LicenseQID != "" {
		statements = append(statements, itemStatement(PropertyCopyrightLicense, info.LicenseQID))
	}

	return statements
}

func itemStatement(property, qid string) mediawiki.Statement {
	return mediawiki.Statement{
		Type:     "statement",
		Rank:     mediawiki.Normal,
		MainSnak: itemSnak(property, qid),
	}
}

func stringStatement(property, value string) mediawiki.Statement {
	return mediawiki.Statement{
		Type:     "statement",
		Rank:     mediawiki.Normal,
		MainSnak: valueSnak(property, mediawiki.StringValue(value)),
	}
}

func timeStatement(property string, t time.Time) mediawiki.Statement {
	return mediawiki.Statement{
		Type:     "statement",
		Rank:     mediawiki.Normal,
		MainSnak: dayPrecisionTimeSnak(property, t),
	}
}

func itemSnak(property, qid string) mediawiki.Snak {
	return valueSnak(property, mediawiki.WikiBaseEntityIDValue{Type: mediawiki.ItemType, ID: qid})
}

func valueSnak(property string, value interface{}) mediawiki.Snak {
	return mediawiki.Snak{
		SnakType:  mediawiki.Value,
		Property:  property,
		DataValue: &mediawiki.DataValue{Value: value},
	}
}

// dayPrecisionTimeSnak builds a Wikibase time value at day precision, the
// granularity fetch_image_metadata's capture timestamps are normalized to.
func dayPrecisionTimeSnak(property string, t time.Time) mediawiki.Snak {
	return valueSnak(property, mediawiki.TimeValue{
		Time:          "+" + t.UTC().Format("2006-01-02T00:00:00Z"),
		Precision:     11, //nolint:mnd // day precision per Wikibase time-value convention
		CalendarModel: "http://www.wikidata.org/entity/Q1985727",
	})
}
