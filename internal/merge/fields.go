package merge

// Multi-valued fields that identify a contact. Donor values are unioned
// into the canonical record, deduplicated by a normalized key.
var identityFields = map[string]bool{
	"TEL":      true,
	"EMAIL":    true,
	"IMPP":     true,
	"URL":      true,
	"NICKNAME": true,
	"ADR":      true,
	"PHOTO":    true,
	"LOGO":     true,
}

// Single-valued fields. The canonical value survives unless a donor's is
// strictly more complete.
var scalarFields = map[string]bool{
	"N":           true,
	"ORG":         true,
	"TITLE":       true,
	"ROLE":        true,
	"BDAY":        true,
	"ANNIVERSARY": true,
	"GENDER":      true,
	"KIND":        true,
	"TZ":          true,
	"GEO":         true,
	"PRODID":      true,
}

// Multi-valued fields without a dedicated normalizer; compared case-folded.
var listFields = map[string]bool{
	"CATEGORIES": true,
	"RELATED":    true,
	"MEMBER":     true,
	"KEY":        true,
	"LANG":       true,
	"SOURCE":     true,
	"CALURI":     true,
	"FBURL":      true,
	"CALADRURI":  true,
	"SOUND":      true,
}

// Fields owned by the canonical record.
var canonicalFields = map[string]bool{
	"UID":     true,
	"VERSION": true,
	"REV":     true,
}

// Fields whose value is a comma separated list merged element by element.
var elementFields = map[string]bool{
	"NICKNAME":   true,
	"CATEGORIES": true,
}

func multiValued(field string) bool {
	return identityFields[field] || listFields[field]
}

// maxPref is the bottom PREF rank.
const maxPref = 100
