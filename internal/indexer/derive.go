// Package indexer keeps the cache in step with the record directory.
// Derive is the pure mapping from one file to its cache rows; Indexer
// decides which files need it.
package indexer

import (
	"encoding/json"
	"strings"

	"github.com/mesh-intelligence/addrbook/internal/normalize"
	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Fields whose structured components are joined with spaces when flattened.
var structuredFields = map[string]bool{
	"N":   true,
	"ADR": true,
	"ORG": true,
}

// Derive computes the cache rows for rec as read from the file described
// by st. lang is the active display language used to break display name
// ties. The result depends only on its arguments.
func Derive(st vdir.FileState, rec *vcard.Record, lang string) types.IndexedRecord {
	fn, fnLang := DisplayName(rec, lang)

	item := types.IndexedItem{
		UID:      rec.UID(),
		Path:     st.Path,
		FN:       fn,
		FNNorm:   normalize.SearchKey(fn),
		HasPhoto: rec.Has("PHOTO"),
		HasLogo:  rec.Has("LOGO"),
		Hash:     st.Hash,
		ModTime:  st.ModTime,
		LangPref: fnLang,
		ReadOnly: rec.Version() != vcard.Version4,
	}
	if rev := rec.Get("REV"); rev != nil {
		item.Rev = strings.TrimSpace(rev.Text())
	}

	seq := make(map[string]int)
	var props []types.IndexedProp
	for _, p := range rec.Props {
		field := p.Field()
		if field == "VERSION" {
			continue
		}
		value := flatten(p)
		props = append(props, types.IndexedProp{
			UID:       item.UID,
			Field:     field,
			Value:     value,
			ValueNorm: normalize.SearchKey(value),
			Params:    paramsJSON(p),
			Seq:       seq[field],
		})
		seq[field]++
	}
	return types.IndexedRecord{Item: item, Props: props}
}

// DisplayName picks the FN instance to show: lowest explicit PREF first,
// then a LANGUAGE matching lang, then the first one. It falls back to the
// structured name, organization, and email when there is no FN. The
// second result is the chosen instance's LANGUAGE.
func DisplayName(rec *vcard.Record, lang string) (string, string) {
	var (
		best     *vcard.Property
		bestRank int
		bestLang bool
	)
	for _, p := range rec.All("FN") {
		if strings.TrimSpace(p.Text()) == "" {
			continue
		}
		rank := p.Pref()
		if rank == 0 {
			rank = 101
		}
		match := languageMatches(p.Language(), lang)
		if best == nil || rank < bestRank || (rank == bestRank && match && !bestLang) {
			best, bestRank, bestLang = p, rank, match
		}
	}
	if best != nil {
		return strings.TrimSpace(best.Text()), best.Language()
	}

	if n := rec.Get("N"); n != nil {
		c := n.Components()
		var parts []string
		for _, i := range []int{3, 1, 2, 0, 4} {
			if i < len(c) && strings.TrimSpace(c[i]) != "" {
				parts = append(parts, strings.TrimSpace(c[i]))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " "), ""
		}
	}
	if org := rec.Get("ORG"); org != nil {
		if c := org.Components(); len(c) > 0 && c[0] != "" {
			return c[0], ""
		}
	}
	if email := rec.Get("EMAIL"); email != nil {
		return email.Text(), ""
	}
	return "", ""
}

// languageMatches compares primary subtags, so "en" matches "en-GB".
func languageMatches(tag, lang string) bool {
	if tag == "" || lang == "" {
		return false
	}
	primary := func(s string) string {
		if i := strings.IndexAny(s, "-_"); i >= 0 {
			s = s[:i]
		}
		return strings.ToLower(s)
	}
	return primary(tag) == primary(lang)
}

func flatten(p *vcard.Property) string {
	if !structuredFields[p.Field()] {
		return p.Text()
	}
	var parts []string
	for _, c := range p.Components() {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

func paramsJSON(p *vcard.Property) string {
	if len(p.Params) == 0 && p.Group == "" {
		return "{}"
	}
	m := make(map[string][]string, len(p.Params)+1)
	for _, prm := range p.Params {
		name := strings.ToUpper(prm.Name)
		m[name] = append(m[name], prm.Values()...)
	}
	if p.Group != "" {
		m["GROUP"] = []string{p.Group}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
