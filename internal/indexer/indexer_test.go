package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

type fixture struct {
	dir    string
	dbPath string
	store  *sqlite.Store
	ix     *Indexer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:    t.TempDir(),
		dbPath: filepath.Join(t.TempDir(), sqlite.DBFileName),
	}
	f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	s, err := sqlite.Open(f.dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.store = s
	f.ix = New(osfs.New(f.dir), s, "en", nil)
}

func (f *fixture) write(t *testing.T, name string, lines ...string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\r\n")+"\r\n"), 0o600))
}

func card(uid, fn string, extra ...string) []string {
	lines := []string{"BEGIN:VCARD", "VERSION:4.0", "UID:" + uid, "FN:" + fn}
	lines = append(lines, extra...)
	return append(lines, "END:VCARD")
}

func (f *fixture) snapshot(t *testing.T) ([]types.IndexedItem, []types.IndexedProp) {
	t.Helper()
	ctx := context.Background()
	items, err := f.store.Items(ctx)
	require.NoError(t, err)
	props, err := f.store.AllProps(ctx)
	require.NoError(t, err)
	return items, props
}

func TestReindexIndexesEveryFile(t *testing.T) {
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada Lovelace", "EMAIL:ada@example.org", "X-CUSTOM;X-P=1:kept")...)
	f.write(t, "sub/b.vcf", card("b", "Bob")...)

	report, err := f.ix.Reindex(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, []string{"a.vcf", "sub/b.vcf"}, report.Reindexed)
	assert.Empty(t, report.Failures)

	got, err := f.store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Item.FN)
	var fields []string
	for _, p := range got.Props {
		fields = append(fields, p.Field)
	}
	assert.Equal(t, []string{"UID", "FN", "EMAIL", "X-CUSTOM"}, fields)
}

func TestCacheIsRebuildable(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada", "TEL;TYPE=cell;PREF=1:+15551234567", "TEL:+15559876543", "NOTE:hi")...)
	f.write(t, "b.vcf", card("b", "Bob", "ORG:Acme;Widgets")...)

	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	wantItems, wantProps := f.snapshot(t)

	require.NoError(t, f.store.Close())
	require.NoError(t, os.Remove(f.dbPath))
	f.open(t)

	_, err = f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	gotItems, gotProps := f.snapshot(t)
	assert.Equal(t, wantItems, gotItems)
	assert.Equal(t, wantProps, gotProps)
}

func TestTouchWithoutContentChangeDoesNotReparse(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada")...)

	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, "a.vcf"), later, later))

	report, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Reindexed)
	assert.Equal(t, []string{"a.vcf"}, report.Touched)

	states, err := f.store.StoredStates(ctx)
	require.NoError(t, err)
	assert.True(t, states["a.vcf"].ModTime.Equal(later))

	// Nothing left to do.
	report, err = f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Reindexed)
	assert.Empty(t, report.Touched)
}

func TestOneByteChangeReparsesExactlyThatFile(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada")...)
	f.write(t, "b.vcf", card("b", "Bob")...)
	f.write(t, "c.vcf", card("c", "Cy")...)

	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)

	f.write(t, "b.vcf", card("b", "Bab")...)
	report, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.vcf"}, report.Reindexed)

	got, err := f.store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Bab", got.Item.FN)
}

func TestForceReparsesEverything(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada")...)
	f.write(t, "b.vcf", card("b", "Bob")...)

	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)

	report, err := f.ix.Reindex(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.vcf", "b.vcf"}, report.Reindexed)
}

func TestParseFailureKeepsRows(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada")...)
	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)

	f.write(t, "a.vcf", "BEGIN:VCARD", "UID:a", "FN:Ada")
	report, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], types.ErrParse)
	assert.Empty(t, report.Removed)

	got, err := f.store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Item.FN)
}

func TestDeletedFilesAreRemoved(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada")...)
	f.write(t, "b.vcf", card("b", "Bob")...)
	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "b.vcf")))
	report, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.vcf"}, report.Removed)

	_, err = f.store.Get(ctx, "b")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRenamedFileKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "old.vcf", card("a", "Ada")...)
	_, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(f.dir, "old.vcf"), filepath.Join(f.dir, "new.vcf")))
	report, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)

	path, err := f.store.PathOf(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new.vcf", path)
}

func TestDuplicateUIDIsReported(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("same", "First")...)
	f.write(t, "b.vcf", card("same", "Second")...)

	report, err := f.ix.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.vcf"}, report.Reindexed)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], types.ErrDuplicateUID)
}

func TestMissingUIDIsReported(t *testing.T) {
	f := setup(t)
	f.write(t, "a.vcf", "BEGIN:VCARD", "VERSION:4.0", "FN:Nobody", "END:VCARD")

	report, err := f.ix.Reindex(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], types.ErrMissingUID)
}

func TestIndexFile(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.write(t, "a.vcf", card("a", "Ada")...)

	ir, err := f.ix.IndexFile(ctx, "a.vcf")
	require.NoError(t, err)
	assert.Equal(t, "a", ir.Item.UID)

	path, err := f.store.PathOf(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.vcf", path)
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		props    []string
		lang     string
		want     string
		wantLang string
	}{
		{
			name:  "first wins without pref or language",
			props: []string{"FN:One", "FN:Two"},
			want:  "One",
		},
		{
			name:  "lowest pref wins",
			props: []string{"FN;PREF=5:Five", "FN;PREF=2:Two", "FN:None"},
			want:  "Two",
		},
		{
			name:     "language breaks pref tie",
			props:    []string{"FN;PREF=1;LANGUAGE=fr:Jean", "FN;PREF=1;LANGUAGE=en-GB:John"},
			lang:     "en",
			want:     "John",
			wantLang: "en-GB",
		},
		{
			name:     "language does not beat pref",
			props:    []string{"FN;PREF=1;LANGUAGE=fr:Jean", "FN;PREF=2;LANGUAGE=en:John"},
			lang:     "en",
			want:     "Jean",
			wantLang: "fr",
		},
		{
			name:  "structured name fallback",
			props: []string{"N:Lovelace;Ada;;Countess;"},
			want:  "Countess Ada Lovelace",
		},
		{
			name:  "organization fallback",
			props: []string{"ORG:Acme;Widgets"},
			want:  "Acme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := append([]string{"BEGIN:VCARD", "VERSION:4.0"}, tt.props...)
			lines = append(lines, "END:VCARD")
			rec, err := vcard.ParseOne([]byte(strings.Join(lines, "\r\n")))
			require.NoError(t, err)

			got, gotLang := DisplayName(rec, tt.lang)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantLang, gotLang)
		})
	}
}

func TestDeriveFlattensProps(t *testing.T) {
	rec, err := vcard.ParseOne([]byte(strings.Join(card("u", "Ada",
		"TEL;TYPE=cell:+1 555",
		"TEL:+1 666",
		"ORG:Analytical Engines;R&D",
		"item1.X-ABLABEL:Other",
		"PHOTO:https://example.org/a.png",
	), "\r\n")))
	require.NoError(t, err)

	st := vdir.FileState{Path: "u.vcf", Hash: []byte{1}, ModTime: time.Unix(5, 0)}
	ir := Derive(st, rec, "en")

	assert.True(t, ir.Item.HasPhoto)
	assert.False(t, ir.Item.HasLogo)
	assert.False(t, ir.Item.ReadOnly)
	assert.Equal(t, "u.vcf", ir.Item.Path)

	byField := map[string][]types.IndexedProp{}
	for _, p := range ir.Props {
		byField[p.Field] = append(byField[p.Field], p)
	}
	require.Len(t, byField["TEL"], 2)
	assert.Equal(t, 0, byField["TEL"][0].Seq)
	assert.Equal(t, 1, byField["TEL"][1].Seq)
	assert.Equal(t, `{"TYPE":["cell"]}`, byField["TEL"][0].Params)
	assert.Equal(t, "Analytical Engines R&D", byField["ORG"][0].Value)
	assert.Equal(t, `{"GROUP":["item1"]}`, byField["X-ABLABEL"][0].Params)
	assert.NotContains(t, byField, "VERSION")
}
