// Package vcard decodes and encodes vCard records while keeping every
// property, parameter, and value exactly as written. Values are held in
// their escaped wire form; helpers decode them on demand so properties the
// package does not understand render back unchanged.
package vcard

import (
	"strconv"
	"strings"
	"time"
)

// Version4 is the only format version records are written in.
const Version4 = "4.0"

// revLayout is the timestamp form used for REV.
const revLayout = "20060102T150405Z"

// Param is one property parameter. Raw is the text after '=' exactly as it
// appeared, quotes included. Bare parameters (vCard 2.1 style "TEL;HOME:")
// have no '=' at all.
type Param struct {
	Name string
	Raw  string
	Bare bool
}

// Values splits Raw on unquoted commas, strips quotes, and decodes caret
// escapes.
func (p Param) Values() []string {
	if p.Bare {
		return nil
	}
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	for i := 0; i < len(p.Raw); i++ {
		c := p.Raw[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			out = append(out, decodeCaret(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(out, decodeCaret(cur.String()))
}

// Property is a single content line of a record.
type Property struct {
	Group  string
	Name   string
	Params []Param
	Value  string
}

// Field returns the property name in upper case.
func (p *Property) Field() string {
	return strings.ToUpper(p.Name)
}

// Is reports whether the property has the given name, ignoring case.
func (p *Property) Is(name string) bool {
	return strings.EqualFold(p.Name, name)
}

// Text returns the value with text escapes decoded.
func (p *Property) Text() string {
	return unescapeText(p.Value)
}

// SetText stores s as an escaped text value.
func (p *Property) SetText(s string) {
	p.Value = escapeText(s)
}

// Components splits a structured value (N, ADR, ORG) on unescaped
// semicolons and decodes each component.
func (p *Property) Components() []string {
	parts := splitUnescaped(p.Value, ';')
	for i, s := range parts {
		parts[i] = unescapeText(s)
	}
	return parts
}

// SetComponents stores a structured value.
func (p *Property) SetComponents(parts []string) {
	enc := make([]string, len(parts))
	for i, s := range parts {
		enc[i] = escapeText(s)
	}
	p.Value = strings.Join(enc, ";")
}

// ListValues splits a comma separated value (NICKNAME, CATEGORIES) and
// decodes each element.
func (p *Property) ListValues() []string {
	parts := splitUnescaped(p.Value, ',')
	out := parts[:0]
	for _, s := range parts {
		if s = unescapeText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SetListValues stores a comma separated value.
func (p *Property) SetListValues(vals []string) {
	enc := make([]string, len(vals))
	for i, s := range vals {
		enc[i] = escapeText(s)
	}
	p.Value = strings.Join(enc, ",")
}

// Param returns the first parameter with the given name.
func (p *Property) Param(name string) (Param, bool) {
	for _, prm := range p.Params {
		if strings.EqualFold(prm.Name, name) {
			return prm, true
		}
	}
	return Param{}, false
}

// ParamValues returns the values of every parameter with the given name.
func (p *Property) ParamValues(name string) []string {
	var out []string
	for _, prm := range p.Params {
		if strings.EqualFold(prm.Name, name) {
			out = append(out, prm.Values()...)
		}
	}
	return out
}

// SetParam replaces the first parameter called name, keeping its position,
// and drops any later duplicates. It appends when the parameter is absent.
func (p *Property) SetParam(name string, values ...string) {
	raw := encodeParamValues(values)
	idx := -1
	kept := p.Params[:0]
	for _, prm := range p.Params {
		if strings.EqualFold(prm.Name, name) {
			if idx >= 0 {
				continue
			}
			idx = len(kept)
			prm.Raw = raw
			prm.Bare = false
		}
		kept = append(kept, prm)
	}
	p.Params = kept
	if idx < 0 {
		p.Params = append(p.Params, Param{Name: strings.ToUpper(name), Raw: raw})
	}
}

// DelParam removes every parameter called name.
func (p *Property) DelParam(name string) {
	kept := p.Params[:0]
	for _, prm := range p.Params {
		if !strings.EqualFold(prm.Name, name) {
			kept = append(kept, prm)
		}
	}
	p.Params = kept
}

// Types returns the TYPE values in lower case.
func (p *Property) Types() []string {
	vals := p.ParamValues("TYPE")
	for i, v := range vals {
		vals[i] = strings.ToLower(v)
	}
	return vals
}

// Pref returns the PREF rank, or 0 when the property has none.
func (p *Property) Pref() int {
	prm, ok := p.Param("PREF")
	if !ok {
		return 0
	}
	vals := prm.Values()
	if len(vals) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(vals[0]))
	if err != nil || n < 1 || n > 100 {
		return 0
	}
	return n
}

// SetPref sets the PREF rank.
func (p *Property) SetPref(n int) {
	p.SetParam("PREF", strconv.Itoa(n))
}

// Language returns the LANGUAGE parameter.
func (p *Property) Language() string {
	if vals := p.ParamValues("LANGUAGE"); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Clone returns a deep copy.
func (p *Property) Clone() *Property {
	cp := *p
	cp.Params = append([]Param(nil), p.Params...)
	return &cp
}

// Record is one vCard: an ordered list of properties. VERSION is kept as an
// ordinary property.
type Record struct {
	Props []*Property
}

// Get returns the first property with the given name, or nil.
func (r *Record) Get(name string) *Property {
	for _, p := range r.Props {
		if p.Is(name) {
			return p
		}
	}
	return nil
}

// All returns every property with the given name in order.
func (r *Record) All(name string) []*Property {
	var out []*Property
	for _, p := range r.Props {
		if p.Is(name) {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether any property has the given name.
func (r *Record) Has(name string) bool {
	return r.Get(name) != nil
}

// Add appends a property.
func (r *Record) Add(p *Property) {
	r.Props = append(r.Props, p)
}

// Set replaces the text value of the first property called name, or appends
// a new one.
func (r *Record) Set(name, text string) *Property {
	if p := r.Get(name); p != nil {
		p.SetText(text)
		return p
	}
	p := &Property{Name: strings.ToUpper(name)}
	p.SetText(text)
	r.Add(p)
	return p
}

// Remove deletes the given property instance.
func (r *Record) Remove(target *Property) {
	kept := r.Props[:0]
	for _, p := range r.Props {
		if p != target {
			kept = append(kept, p)
		}
	}
	r.Props = kept
}

// RemoveAll deletes every property called name.
func (r *Record) RemoveAll(name string) {
	kept := r.Props[:0]
	for _, p := range r.Props {
		if !p.Is(name) {
			kept = append(kept, p)
		}
	}
	r.Props = kept
}

// Version returns the VERSION value, or "" when missing.
func (r *Record) Version() string {
	if p := r.Get("VERSION"); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// UID returns the UID value, or "" when missing.
func (r *Record) UID() string {
	if p := r.Get("UID"); p != nil {
		return strings.TrimSpace(p.Text())
	}
	return ""
}

// SetUID sets the UID.
func (r *Record) SetUID(uid string) {
	r.Set("UID", uid)
}

// TouchRev sets REV to t in UTC.
func (r *Record) TouchRev(t time.Time) {
	r.Set("REV", t.UTC().Format(revLayout))
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := &Record{Props: make([]*Property, len(r.Props))}
	for i, p := range r.Props {
		cp.Props[i] = p.Clone()
	}
	return cp
}

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

var textEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, ",", `\,`, ";", `\;`, "\r", "")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// splitUnescaped splits s on sep, skipping separators preceded by a
// backslash. Escapes are left in place.
func splitUnescaped(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func decodeCaret(s string) string {
	if !strings.Contains(s, "^") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '^' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case '^':
			b.WriteByte('^')
			i++
		case '\'':
			b.WriteByte('"')
			i++
		default:
			b.WriteByte('^')
		}
	}
	return b.String()
}

func encodeParamValues(values []string) string {
	enc := make([]string, len(values))
	for i, v := range values {
		v = strings.NewReplacer("^", "^^", "\n", "^n", `"`, "^'").Replace(v)
		if strings.ContainsAny(v, ",;:") {
			v = `"` + v + `"`
		}
		enc[i] = v
	}
	return strings.Join(enc, ",")
}
