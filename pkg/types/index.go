package types

import "time"

// IndexedItem is the summary cache row for one record.
type IndexedItem struct {
	UID      string    `json:"uid"`
	Path     string    `json:"path"`
	FN       string    `json:"fn"`
	FNNorm   string    `json:"-"`
	Rev      string    `json:"rev,omitempty"`
	HasPhoto bool      `json:"has_photo"`
	HasLogo  bool      `json:"has_logo"`
	Hash     []byte    `json:"-"`
	ModTime  time.Time `json:"mtime"`
	LangPref string    `json:"lang_pref,omitempty"`
	ReadOnly bool      `json:"read_only"`
}

// IndexedProp is one flattened property row. Seq disambiguates repeated
// instances of the same field and preserves their order.
type IndexedProp struct {
	UID       string `json:"uid"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	ValueNorm string `json:"-"`
	Params    string `json:"params"`
	Seq       int    `json:"seq"`
}

// IndexedRecord is everything the cache holds for one record.
type IndexedRecord struct {
	Item  IndexedItem   `json:"item"`
	Props []IndexedProp `json:"props"`
}

// ContactSummary is a search result row.
type ContactSummary struct {
	UID  string `json:"uid"`
	FN   string `json:"fn"`
	Path string `json:"path"`
}

// EmailMatch is a row of an email query: one address with its owner.
type EmailMatch struct {
	Email string `json:"email"`
	FN    string `json:"fn"`
	Type  string `json:"type,omitempty"`
}
