package merge

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/addrbook/internal/normalize"
	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

var fixedNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func testEngine(policy string) *Engine {
	e := NewEngine(DefaultNormalizers("US"), policy)
	e.Now = func() time.Time { return fixedNow }
	return e
}

func card(t *testing.T, uid, fn string, props ...string) *vcard.Record {
	t.Helper()
	lines := []string{"BEGIN:VCARD", "VERSION:4.0", "UID:" + uid, "FN:" + fn}
	lines = append(lines, props...)
	lines = append(lines, "END:VCARD")
	rec, err := vcard.ParseOne([]byte(strings.Join(lines, "\r\n")))
	require.NoError(t, err)
	return rec
}

func texts(r *vcard.Record, field string) []string {
	var out []string
	for _, p := range r.All(field) {
		out = append(out, p.Text())
	}
	return out
}

func prefs(r *vcard.Record, field string) []int {
	var out []int
	for _, p := range r.All(field) {
		out = append(out, p.Pref())
	}
	return out
}

func TestMergeNeedsTwoRecords(t *testing.T) {
	_, err := testEngine("").Merge([]*vcard.Record{card(t, "a", "A")})
	assert.ErrorIs(t, err, types.ErrMergeTooFew)
}

func TestMergeScenarioPhonesAndEmail(t *testing.T) {
	a := card(t, "a", "Ada Lovelace",
		"TEL;TYPE=cell;PREF=1:+1 (555) 123-4567",
		"TEL;TYPE=home:+1 555 987 6543",
	)
	b := card(t, "b", "Ada Lovelace",
		"TEL;TYPE=voice:5551234567",
		"EMAIL:ada@example.org",
	)

	res, err := testEngine("").Merge([]*vcard.Record{a, b})
	require.NoError(t, err)
	r := res.Record

	assert.Equal(t, "a", r.UID())
	assert.Equal(t, []string{"+1 (555) 123-4567", "+1 555 987 6543"}, texts(r, "TEL"))
	assert.Equal(t, []int{1, 0}, prefs(r, "TEL"))
	assert.Equal(t, []string{"cell", "voice"}, r.All("TEL")[0].Types())
	assert.Equal(t, []string{"ada@example.org"}, texts(r, "EMAIL"))
	assert.Equal(t, "20260506T070809Z", r.Get("REV").Text())
	require.Len(t, res.Donors, 1)
	assert.Equal(t, "b", res.Donors[0].UID())

	// Inputs are untouched.
	assert.Len(t, a.All("TEL"), 2)
	assert.Nil(t, a.Get("EMAIL"))
}

func TestMergeDedupesPhoneFormatting(t *testing.T) {
	a := card(t, "a", "A", "TEL:+1 (555) 123-4567")
	b := card(t, "b", "A", "TEL:5551234567", "TEL:tel:+1-555-123-4567")

	res, err := testEngine("").Merge([]*vcard.Record{a, b})
	require.NoError(t, err)
	assert.Len(t, res.Record.All("TEL"), 1)
}

func TestMergeDedupesEmailAndURI(t *testing.T) {
	a := card(t, "a", "A", "EMAIL:Ada@Example.ORG", "URL:https://example.org/")
	b := card(t, "b", "A", "EMAIL:Ada@example.org", "EMAIL:ada@example.org", "URL:HTTPS://EXAMPLE.ORG")

	res, err := testEngine("").Merge([]*vcard.Record{a, b})
	require.NoError(t, err)
	// Local parts are compared verbatim.
	assert.Equal(t, []string{"Ada@Example.ORG", "ada@example.org"}, texts(res.Record, "EMAIL"))
	assert.Len(t, res.Record.All("URL"), 1)
}

func TestMergeIsDeterministicAcrossSteps(t *testing.T) {
	c := card(t, "c", "Carol",
		"TEL;PREF=1:+1 555 000 0001",
		"EMAIL;PREF=2:carol@a.example",
		"NOTE:first",
		"X-A:1",
	)
	d1 := card(t, "d1", "Caroline",
		"TEL;PREF=1:+1 555 000 0002",
		"EMAIL;PREF=1:carol@b.example",
		`NOTE:second\n\nfirst`,
		"ORG:Acme;Research",
		"X-A:2",
	)
	d2 := card(t, "d2", "Caz",
		"TEL;PREF=1:+1 555 000 0003",
		"EMAIL;PREF=1:carol@c.example",
		"NICKNAME:Caroline",
		"NOTE:third",
		"ORG:Acme",
		"X-A:1",
	)

	e := testEngine("")
	all, err := e.Merge([]*vcard.Record{c, d1, d2})
	require.NoError(t, err)

	step, err := e.Merge([]*vcard.Record{c, d1})
	require.NoError(t, err)
	twice, err := e.Merge([]*vcard.Record{step.Record, d2})
	require.NoError(t, err)

	assert.Equal(t, string(vcard.Render(all.Record)), string(vcard.Render(twice.Record)))
}

func TestMergeLeavesOneTopPref(t *testing.T) {
	c := card(t, "c", "C", "TEL;PREF=1:1001", "EMAIL:c@x.example", "URL;PREF=1:https://a.example")
	d := card(t, "d", "C", "TEL;PREF=1:1002", "EMAIL;PREF=1:d@x.example", "EMAIL;PREF=1:e@x.example", "URL;PREF=1:https://b.example")

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)

	for _, field := range []string{"TEL", "EMAIL", "URL"} {
		top := 0
		for _, p := range prefs(res.Record, field) {
			if p == 1 {
				top++
			}
		}
		assert.Equal(t, 1, top, "%s has %d top-ranked values", field, top)
	}
	// The canonical choice wins; without one the first donor value does.
	assert.Equal(t, []int{1, 2}, prefs(res.Record, "TEL"))
	assert.Equal(t, []int{0, 1, 2}, prefs(res.Record, "EMAIL"))
}

func TestMergeResolvesLowestPrefTie(t *testing.T) {
	tests := []struct {
		name   string
		c      []string
		donors [][]string
		want   []int
	}{
		{
			name:   "tie below the top rank",
			c:      []string{"TEL;PREF=2:1001"},
			donors: [][]string{{"TEL;PREF=2:1002"}},
			want:   []int{2, 3},
		},
		{
			name:   "three way tie",
			c:      []string{"TEL;PREF=2:1001"},
			donors: [][]string{{"TEL;PREF=2:1002"}, {"TEL;PREF=2:1003"}},
			want:   []int{2, 3, 3},
		},
		{
			name:   "donor holds the best rank",
			c:      []string{"TEL;PREF=5:1001", "TEL:1004"},
			donors: [][]string{{"TEL;PREF=3:1002", "TEL;PREF=3:1003"}},
			want:   []int{5, 0, 3, 4},
		},
		{
			name:   "tie at the bottom rank",
			c:      []string{"TEL;PREF=100:1001"},
			donors: [][]string{{"TEL;PREF=100:1002"}},
			want:   []int{100, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []*vcard.Record{card(t, "c", "C", tt.c...)}
			for i, d := range tt.donors {
				records = append(records, card(t, "d"+strconv.Itoa(i), "C", d...))
			}
			e := testEngine("")
			all, err := e.Merge(records)
			require.NoError(t, err)
			assert.Equal(t, tt.want, prefs(all.Record, "TEL"))

			// Folding one donor at a time ranks the same way.
			step := records[0]
			for _, d := range records[1:] {
				res, err := e.Merge([]*vcard.Record{step, d})
				require.NoError(t, err)
				step = res.Record
			}
			assert.Equal(t, tt.want, prefs(step, "TEL"))
		})
	}
}

func TestMergeCarriesDonorPrefOntoDedupedValue(t *testing.T) {
	c := card(t, "c", "C", "EMAIL:ada@example.org", "EMAIL;PREF=2:ada@work.example", "TEL;PREF=4:1001")
	d := card(t, "d", "C", "EMAIL;PREF=1:ada@EXAMPLE.org", "TEL;PREF=1:1001")

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, prefs(res.Record, "EMAIL"))
	// A canonical rank is kept.
	assert.Equal(t, []int{4}, prefs(res.Record, "TEL"))
}

func TestMergeKeepsDonorGroupsApart(t *testing.T) {
	c := card(t, "c", "X",
		"item1.URL:https://a.example",
		"item1.X-ABLABEL:blog",
	)
	d := card(t, "d", "X",
		"item1.URL:https://b.example",
		"item1.X-ABLABEL:shop",
		"item2.EMAIL:x@b.example",
		"item2.X-ABLABEL:orders",
		"item3.URL:HTTPS://A.EXAMPLE",
		"item3.X-ABLABEL:homepage",
	)

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)

	var lines []string
	for _, p := range res.Record.Props {
		lines = append(lines, vcard.ContentLine(p))
	}
	assert.Contains(t, lines, "item1.URL:https://a.example")
	assert.Contains(t, lines, "item1.X-ABLABEL:blog")
	// item1 to item3 are taken, so the donor's item1 becomes item4.
	assert.Contains(t, lines, "item4.URL:https://b.example")
	assert.Contains(t, lines, "item4.X-ABLABEL:shop")
	assert.Contains(t, lines, "item2.EMAIL:x@b.example")
	assert.Contains(t, lines, "item2.X-ABLABEL:orders")
	// The duplicate URL is dropped together with its label.
	assert.NotContains(t, lines, "item3.X-ABLABEL:homepage")
	assert.Len(t, res.Record.All("URL"), 2)
	assert.Len(t, res.Record.All("X-ABLABEL"), 3)
}

func TestMergeWithItselfIsIdempotent(t *testing.T) {
	c := card(t, "c", "Carol",
		"N:Doe;Carol;;;",
		"TEL;TYPE=cell;PREF=1:+1 555 000 0001",
		"EMAIL:carol@example.org",
		"NICKNAME:Caz,Carrie",
		"CATEGORIES:friends",
		`NOTE:one\n\ntwo`,
		"item1.X-ABLABEL:custom",
	)
	e := testEngine("")
	first, err := e.Merge([]*vcard.Record{c, c.Clone()})
	require.NoError(t, err)
	second, err := e.Merge([]*vcard.Record{first.Record, first.Record.Clone()})
	require.NoError(t, err)

	assert.Equal(t, vcard.Render(first.Record), vcard.Render(second.Record))

	want := c.Clone()
	want.TouchRev(fixedNow)
	assert.Equal(t, string(vcard.Render(want)), string(vcard.Render(first.Record)))
}

func TestMergeScalars(t *testing.T) {
	tests := []struct {
		name      string
		canonical []string
		donor     []string
		field     string
		want      string
	}{
		{name: "canonical wins", canonical: []string{"TITLE:Boss"}, donor: []string{"TITLE:Intern"}, field: "TITLE", want: "Boss"},
		{name: "absent canonical takes donor", donor: []string{"TITLE:Intern"}, field: "TITLE", want: "Intern"},
		{name: "more complete donor wins", canonical: []string{"N:Doe;;;;"}, donor: []string{"N:Doe;Jane;;Dr.;"}, field: "N", want: "Doe;Jane;;Dr.;"},
		{name: "equally complete keeps canonical", canonical: []string{"N:Doe;John;;;"}, donor: []string{"N:Roe;Jane;;;"}, field: "N", want: "Doe;John;;;"},
		{name: "organization units count", canonical: []string{"ORG:Acme"}, donor: []string{"ORG:Acme;Labs"}, field: "ORG", want: "Acme;Labs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := testEngine("").Merge([]*vcard.Record{
				card(t, "c", "X", tt.canonical...),
				card(t, "d", "X", tt.donor...),
			})
			require.NoError(t, err)
			require.Len(t, res.Record.All(tt.field), 1)
			assert.Equal(t, tt.want, res.Record.Get(tt.field).Value)
		})
	}
}

func TestMergeNotes(t *testing.T) {
	c := card(t, "c", "X", `NOTE:met at conf\n\nlikes tea`)
	d := card(t, "d", "X", `NOTE:likes tea\n\nowes me lunch`)

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	assert.Equal(t, []string{"met at conf\n\nlikes tea\n\nowes me lunch"}, texts(res.Record, "NOTE"))
}

func TestMergeDisplayNameBecomesNickname(t *testing.T) {
	c := card(t, "c", "Robert Smith", "NICKNAME:Bob")
	d1 := card(t, "d1", "Bobby Smith")
	d2 := card(t, "d2", "robert smith", "NICKNAME:bob,Rob")

	res, err := testEngine("").Merge([]*vcard.Record{c, d1, d2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Robert Smith"}, texts(res.Record, "FN"))

	var nicks []string
	for _, p := range res.Record.All("NICKNAME") {
		nicks = append(nicks, p.ListValues()...)
	}
	assert.Equal(t, []string{"Bob", "Bobby Smith", "Rob"}, nicks)
}

func TestMergeKeepsUnknownFields(t *testing.T) {
	c := card(t, "c", "X", "X-CRM-ID;X-SRC=a:1", "item1.X-ABLABEL:_$!<Other>!$_")
	d := card(t, "d", "X", "X-CRM-ID;X-SRC=a:1", "X-CRM-ID;X-SRC=b:2", "CLIENTPIDMAP:1;urn:uuid:x")

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)

	var lines []string
	for _, p := range res.Record.Props {
		lines = append(lines, vcard.ContentLine(p))
	}
	assert.Contains(t, lines, "X-CRM-ID;X-SRC=a:1")
	assert.Contains(t, lines, "X-CRM-ID;X-SRC=b:2")
	assert.Contains(t, lines, "item1.X-ABLABEL:_$!<Other>!$_")
	assert.Contains(t, lines, "CLIENTPIDMAP:1;urn:uuid:x")
	assert.Len(t, res.Record.All("X-CRM-ID"), 2)
}

func TestMergeListFields(t *testing.T) {
	c := card(t, "c", "X", "CATEGORIES:Friends,work", "RELATED;TYPE=friend:urn:uuid:1")
	d := card(t, "d", "X", "CATEGORIES:friends,Climbing", "RELATED;TYPE=colleague:urn:uuid:1")

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)

	var cats []string
	for _, p := range res.Record.All("CATEGORIES") {
		cats = append(cats, p.ListValues()...)
	}
	assert.Equal(t, []string{"Friends", "work", "Climbing"}, cats)
	require.Len(t, res.Record.All("RELATED"), 1)
	assert.Equal(t, []string{"friend", "colleague"}, res.Record.Get("RELATED").Types())
}

func TestMergeImagesPreferLargerVariant(t *testing.T) {
	// Keys group pictures by name; the size after '@' is the resolution.
	hasher := normalize.ImageHasherFunc(func(v string) (string, int) {
		name, size, _ := strings.Cut(strings.TrimPrefix(v, "https://img.example/"), "@")
		px := 0
		for _, r := range size {
			px = px*10 + int(r-'0')
		}
		return name, px
	})
	e := testEngine("")
	e.Normalizers.Image = hasher

	c := card(t, "c", "X", "PHOTO:https://img.example/face@100")
	d := card(t, "d", "X", "PHOTO;MEDIATYPE=image/png:https://img.example/face@400", "PHOTO:https://img.example/dog@50", "LOGO:https://img.example/logo@1")

	res, err := e.Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.example/face@400", "https://img.example/dog@50"}, texts(res.Record, "PHOTO"))
	assert.Equal(t, []string{"image/png"}, res.Record.Get("PHOTO").ParamValues("MEDIATYPE"))
	assert.Len(t, res.Record.All("LOGO"), 1)

	// A smaller variant never replaces a larger one.
	res, err = e.Merge([]*vcard.Record{res.Record, card(t, "e", "X", "PHOTO:https://img.example/face@10")})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/face@400", res.Record.Get("PHOTO").Value)
}

func TestMergeDefaultImageKeyMatchesSameBytesOnly(t *testing.T) {
	c := card(t, "c", "X", "PHOTO:data:image/png;base64,AAECAw==")
	d := card(t, "d", "X", "PHOTO:data:IMAGE/PNG;base64,AAECAw==", "PHOTO:data:image/png;base64,BAUGBw==")

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	assert.Equal(t, []string{"data:image/png;base64,AAECAw==", "data:image/png;base64,BAUGBw=="}, texts(res.Record, "PHOTO"))
}

func TestMergeAddresses(t *testing.T) {
	c := card(t, "c", "X", "ADR;TYPE=home:;;1 Main St;Springfield;;12345;USA")
	d := card(t, "d", "X", "ADR;TYPE=postal:;;1 main st; springfield;;12345;usa", "ADR;TYPE=work:;;9 Elm St;Shelbyville;;;")

	res, err := testEngine("").Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	require.Len(t, res.Record.All("ADR"), 2)
	assert.Equal(t, []string{"home", "postal"}, res.Record.Get("ADR").Types())
}

func TestLabelPolicy(t *testing.T) {
	c := card(t, "c", "X", "TEL;TYPE=cell:1001")
	d := card(t, "d", "X", "TEL;TYPE=cell:1002", "TEL;TYPE=cell,voice:1003")

	repeat, err := testEngine(LabelRepeat).Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	for _, p := range repeat.Record.All("TEL") {
		assert.Equal(t, "cell", p.Types()[0])
	}

	suffix, err := testEngine(LabelSuffix).Merge([]*vcard.Record{c, d})
	require.NoError(t, err)
	var first []string
	for _, p := range suffix.Record.All("TEL") {
		first = append(first, p.Types()[0])
	}
	assert.Equal(t, []string{"cell", "cell2", "cell3"}, first)
	assert.Equal(t, []string{"cell3", "voice"}, suffix.Record.All("TEL")[2].Types())
}
