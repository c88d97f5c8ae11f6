// Package merge folds duplicate contact records into one. The fold is a
// pure function over records; writing the result and deleting donors is
// the caller's job.
package merge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/addrbook/internal/normalize"
	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Label policies for repeated same-category values.
const (
	// LabelRepeat leaves repeated categories as they are; PREF alone tells
	// them apart.
	LabelRepeat = types.LabelRepeat
	// LabelSuffix appends an ordinal to the first TYPE of later instances
	// of the same category ("cell", "cell2", ...).
	LabelSuffix = types.LabelSuffix
)

// Normalizers are the key functions used to decide that two values are
// the same. Image also ranks matching pictures by pixel count; with the
// default content digest a match is always the same picture at the same
// size, so the larger-variant rule needs a perceptual ImageHasher.
type Normalizers struct {
	Phone func(string) string
	Email func(string) string
	URI   func(string) string
	Image normalize.ImageHasher
}

// DefaultNormalizers reads phone numbers without a country code in region.
func DefaultNormalizers(region string) Normalizers {
	return Normalizers{
		Phone: func(s string) string { return normalize.Phone(s, region) },
		Email: normalize.Email,
		URI:   normalize.URI,
		Image: normalize.Image,
	}
}

// Engine merges records.
type Engine struct {
	Normalizers Normalizers
	LabelPolicy string
	// Now stamps REV on the merged record.
	Now func() time.Time
}

// NewEngine returns an Engine with the given normalizers and label policy.
// An empty policy means LabelRepeat.
func NewEngine(n Normalizers, labelPolicy string) *Engine {
	if labelPolicy == "" {
		labelPolicy = LabelRepeat
	}
	return &Engine{Normalizers: n, LabelPolicy: labelPolicy, Now: time.Now}
}

// Result is a completed merge.
type Result struct {
	// Record is the updated canonical record.
	Record *vcard.Record
	// Donors are the records folded in; their files are to be deleted.
	Donors []*vcard.Record
}

// Merge folds records[1:] into records[0] in order. The inputs are not
// modified.
func (e *Engine) Merge(records []*vcard.Record) (Result, error) {
	if len(records) < 2 {
		return Result{}, fmt.Errorf("%w: got %d", types.ErrMergeTooFew, len(records))
	}
	return Result{
		Record: e.Fold(records[0], records[1:]),
		Donors: records[1:],
	}, nil
}

// Fold reduces donors into canonical one at a time and returns the result.
// Merging [C, D1, D2] gives the same record as folding D2 into the result
// of merging [C, D1].
func (e *Engine) Fold(canonical *vcard.Record, donors []*vcard.Record) *vcard.Record {
	w := e.start(canonical)
	for _, d := range donors {
		w = e.foldDonor(w, d)
	}
	return e.finish(w)
}

// working is the record under construction plus the comparison keys of
// its identity values.
type working struct {
	rec    *vcard.Record
	keys   map[*vcard.Property]string
	pixels map[*vcard.Property]int
}

func (e *Engine) start(canonical *vcard.Record) working {
	w := working{
		rec:    canonical.Clone(),
		keys:   make(map[*vcard.Property]string),
		pixels: make(map[*vcard.Property]int),
	}
	for _, p := range w.rec.Props {
		if keyedField(p.Field()) {
			w.keys[p], w.pixels[p] = e.identityKey(p)
		}
	}
	return w
}

func (e *Engine) foldDonor(w working, donor *vcard.Record) working {
	plans := e.planGroups(w, donor)
	for _, p := range donor.Props {
		field := p.Field()
		if p.Group != "" {
			plan := plans[strings.ToLower(p.Group)]
			if plan.absorbed && !keyedField(field) {
				continue
			}
			if plan.rename != "" {
				p = p.Clone()
				p.Group = plan.rename
			}
		}
		switch {
		case canonicalFields[field]:
		case field == "FN":
			foldName(w, p)
		case elementFields[field]:
			foldElements(w, p)
		case identityFields[field]:
			e.foldIdentity(w, p)
		case scalarFields[field]:
			foldScalar(w, p)
		case field == "NOTE":
			foldNote(w, p)
		case listFields[field]:
			foldList(w, p)
		default:
			foldUnknown(w, p)
		}
	}
	return w
}

func (e *Engine) finish(w working) *vcard.Record {
	seen := make(map[string]bool)
	for _, p := range w.rec.Props {
		field := p.Field()
		if !multiValued(field) || seen[field] {
			continue
		}
		seen[field] = true
		resolvePref(w.rec.All(field))
		if e.LabelPolicy == LabelSuffix && identityFields[field] {
			suffixLabels(w.rec.All(field))
		}
	}
	// REV goes last so folding in two steps lays out the same record as
	// folding in one.
	w.rec.RemoveAll("REV")
	w.rec.TouchRev(e.Now())
	return w.rec
}

func (e *Engine) identityKey(p *vcard.Property) (string, int) {
	switch p.Field() {
	case "TEL":
		return e.Normalizers.Phone(p.Text()), 0
	case "EMAIL":
		return e.Normalizers.Email(p.Text()), 0
	case "IMPP", "URL":
		return e.Normalizers.URI(p.Text()), 0
	case "PHOTO", "LOGO":
		return e.Normalizers.Image.ImageKey(strings.TrimSpace(p.Value))
	case "ADR":
		parts := p.Components()
		empty := true
		for i, c := range parts {
			parts[i] = strings.TrimSpace(c)
			if parts[i] != "" {
				empty = false
			}
		}
		if empty {
			return "", 0
		}
		return normalize.Fold(strings.Join(parts, ";")), 0
	}
	return normalize.Fold(p.Text()), 0
}

func (e *Engine) foldIdentity(w working, p *vcard.Property) {
	key, pixels := e.identityKey(p)
	if key == "" {
		return
	}
	for _, q := range w.rec.All(p.Field()) {
		if w.keys[q] != key {
			continue
		}
		unionTypes(q, p)
		if q.Pref() == 0 && p.Pref() > 0 {
			q.SetPref(p.Pref())
		}
		if pixels > w.pixels[q] && q.Value != p.Value {
			q.Value = p.Value
			if mt := p.ParamValues("MEDIATYPE"); len(mt) > 0 {
				q.SetParam("MEDIATYPE", mt...)
			}
			w.pixels[q] = pixels
		}
		return
	}
	cp := p.Clone()
	w.rec.Add(cp)
	w.keys[cp], w.pixels[cp] = key, pixels
}

// foldName keeps the canonical display name. A different donor name is
// kept as a nickname.
func foldName(w working, p *vcard.Property) {
	name := strings.TrimSpace(p.Text())
	if name == "" {
		return
	}
	fns := w.rec.All("FN")
	if len(fns) == 0 {
		w.rec.Add(p.Clone())
		return
	}
	for _, fn := range fns {
		if normalize.Fold(fn.Text()) == normalize.Fold(name) {
			return
		}
	}
	nick := &vcard.Property{Name: "NICKNAME"}
	nick.SetListValues([]string{name})
	foldElements(w, nick)
}

// foldElements adds the list elements of p that are not present yet.
func foldElements(w working, p *vcard.Property) {
	have := make(map[string]bool)
	for _, q := range w.rec.All(p.Field()) {
		for _, v := range q.ListValues() {
			have[normalize.Fold(v)] = true
		}
	}
	var fresh []string
	for _, v := range p.ListValues() {
		k := normalize.Fold(v)
		if k == "" || have[k] {
			continue
		}
		have[k] = true
		fresh = append(fresh, strings.TrimSpace(v))
	}
	if len(fresh) == 0 {
		return
	}
	cp := p.Clone()
	cp.SetListValues(fresh)
	w.rec.Add(cp)
}

func foldScalar(w working, p *vcard.Property) {
	for i, q := range w.rec.Props {
		if !q.Is(p.Name) {
			continue
		}
		if completeness(p) > completeness(q) {
			w.rec.Props[i] = p.Clone()
		}
		return
	}
	w.rec.Add(p.Clone())
}

// completeness counts populated components.
func completeness(p *vcard.Property) int {
	n := 0
	for _, c := range p.Components() {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func foldNote(w working, p *vcard.Property) {
	have := make(map[string]bool)
	for _, q := range w.rec.All("NOTE") {
		for _, para := range paragraphs(q.Text()) {
			have[para] = true
		}
	}
	var fresh []string
	for _, para := range paragraphs(p.Text()) {
		if !have[para] {
			have[para] = true
			fresh = append(fresh, para)
		}
	}
	if len(fresh) == 0 {
		return
	}
	note := w.rec.Get("NOTE")
	if note == nil {
		cp := p.Clone()
		cp.SetText(strings.Join(fresh, "\n\n"))
		w.rec.Add(cp)
		return
	}
	text := strings.TrimRight(note.Text(), " \t\r\n")
	if text != "" {
		text += "\n\n"
	}
	note.SetText(text + strings.Join(fresh, "\n\n"))
}

// paragraphs splits text on blank lines.
func paragraphs(text string) []string {
	var (
		out []string
		cur []string
	)
	flush := func() {
		if para := strings.TrimSpace(strings.Join(cur, "\n")); para != "" {
			out = append(out, para)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

func foldList(w working, p *vcard.Property) {
	key := normalize.Fold(p.Text())
	if key == "" {
		return
	}
	for _, q := range w.rec.All(p.Field()) {
		if normalize.Fold(q.Text()) == key {
			unionTypes(q, p)
			return
		}
	}
	w.rec.Add(p.Clone())
}

// foldUnknown keeps every property nothing else understands, skipping
// exact duplicate lines.
func foldUnknown(w working, p *vcard.Property) {
	line := vcard.ContentLine(p)
	for _, q := range w.rec.Props {
		if vcard.ContentLine(q) == line {
			return
		}
	}
	w.rec.Add(p.Clone())
}

// unionTypes adds the TYPE values of src missing from dst.
func unionTypes(dst, src *vcard.Property) {
	current := dst.ParamValues("TYPE")
	have := make(map[string]bool, len(current))
	for _, t := range current {
		have[strings.ToLower(t)] = true
	}
	added := false
	for _, t := range src.ParamValues("TYPE") {
		if !have[strings.ToLower(t)] {
			have[strings.ToLower(t)] = true
			current = append(current, t)
			added = true
		}
	}
	if added {
		dst.SetParam("TYPE", current...)
	}
}

// groupPlan says what happens to one property group of a donor.
type groupPlan struct {
	// rename is the group's new name, or empty to keep it.
	rename string
	// absorbed groups only describe values the record already has.
	absorbed bool
}

// planGroups maps each donor group, lower-cased, to its plan. A group is
// absorbed when the record already has an identical group, or when every
// keyed value in it is already present. Other groups whose names are taken
// in the record get a fresh itemN name so labels stay with their values.
func (e *Engine) planGroups(w working, donor *vcard.Record) map[string]groupPlan {
	donorGroups, order := groupsOf(donor)
	if len(order) == 0 {
		return nil
	}
	have, _ := groupsOf(w.rec)
	taken := make(map[string]bool, len(have)+len(order))
	identical := make(map[string]bool, len(have))
	for g, members := range have {
		taken[g] = true
		identical[groupSignature(members)] = true
	}
	for _, g := range order {
		taken[g] = true
	}

	plans := make(map[string]groupPlan, len(order))
	for _, g := range order {
		members := donorGroups[g]
		plan := groupPlan{absorbed: identical[groupSignature(members)] || e.allPresent(w, members)}
		if _, clash := have[g]; clash && !plan.absorbed {
			plan.rename = freshGroup(taken)
			taken[plan.rename] = true
		}
		plans[g] = plan
	}
	return plans
}

// allPresent reports whether members hold at least one keyed value and
// every one of them matches a value of the record.
func (e *Engine) allPresent(w working, members []*vcard.Property) bool {
	found := false
	for _, p := range members {
		if !keyedField(p.Field()) {
			continue
		}
		found = true
		key, _ := e.identityKey(p)
		if key == "" {
			continue
		}
		match := false
		for _, q := range w.rec.All(p.Field()) {
			if w.keys[q] == key {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return found
}

// groupsOf collects grouped properties by lower-cased group name, with
// the groups in order of first appearance.
func groupsOf(r *vcard.Record) (map[string][]*vcard.Property, []string) {
	groups := make(map[string][]*vcard.Property)
	var order []string
	for _, p := range r.Props {
		if p.Group == "" {
			continue
		}
		g := strings.ToLower(p.Group)
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], p)
	}
	return groups, order
}

// groupSignature identifies a group by its content lines without the
// group name.
func groupSignature(members []*vcard.Property) string {
	lines := make([]string, len(members))
	for i, p := range members {
		lines[i] = strings.TrimPrefix(vcard.ContentLine(p), p.Group+".")
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func freshGroup(taken map[string]bool) string {
	for n := 1; ; n++ {
		if g := "item" + strconv.Itoa(n); !taken[g] {
			return g
		}
	}
}

// keyedField reports whether values of field are deduplicated by an
// identity key.
func keyedField(field string) bool {
	return identityFields[field] && !elementFields[field]
}

// resolvePref leaves a single instance at the best PREF in use. The
// earliest one keeps it: canonical values come before donor values, and
// donors keep their merge order. The others move one rank down, or lose
// PREF when already at the bottom rank.
func resolvePref(props []*vcard.Property) {
	top := 0
	for _, p := range props {
		if n := p.Pref(); n > 0 && (top == 0 || n < top) {
			top = n
		}
	}
	if top == 0 {
		return
	}
	winner := false
	for _, p := range props {
		if p.Pref() != top {
			continue
		}
		if !winner {
			winner = true
			continue
		}
		if top == maxPref {
			p.DelParam("PREF")
			continue
		}
		p.SetPref(top + 1)
	}
}

// suffixLabels renames the first TYPE of repeated categories: the second
// "cell" becomes "cell2", the third "cell3".
func suffixLabels(props []*vcard.Property) {
	count := make(map[string]int)
	for _, p := range props {
		ts := p.ParamValues("TYPE")
		if len(ts) == 0 {
			continue
		}
		label := strings.ToLower(ts[0])
		base := strings.TrimRight(label, "0123456789")
		if base == "" {
			continue
		}
		count[base]++
		if label != base || count[base] == 1 {
			continue
		}
		ts[0] += strconv.Itoa(count[base])
		p.SetParam("TYPE", ts...)
	}
}
