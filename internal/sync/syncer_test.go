package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

func card(uid, fn string) []byte {
	return []byte(strings.Join([]string{"BEGIN:VCARD", "VERSION:4.0", "UID:" + uid, "FN:" + fn, "END:VCARD"}, "\r\n") + "\r\n")
}

// memSink is an in-memory address book and state store.
type memSink struct {
	files  map[string][]byte
	states map[string]sqlite.SyncState
	next   int
}

func newMemSink() *memSink {
	return &memSink{files: map[string][]byte{}, states: map[string]sqlite.SyncState{}}
}

func (m *memSink) LocalFiles(ctx context.Context) ([]vdir.FileState, error) {
	out := make([]vdir.FileState, 0, len(m.files))
	for p, data := range m.files {
		out = append(out, vdir.FileState{Path: p, Hash: vdir.Hash(data), Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memSink) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, types.ErrNotFound
	}
	return data, nil
}

func (m *memSink) StoreFile(ctx context.Context, path string, data []byte) (vdir.FileState, error) {
	if path == "" {
		m.next++
		path = fmt.Sprintf("local-%d.vcf", m.next)
	}
	m.files[path] = data
	return vdir.FileState{Path: path, Hash: vdir.Hash(data)}, nil
}

func (m *memSink) RemoveFile(ctx context.Context, path string) error {
	delete(m.files, path)
	return nil
}

func (m *memSink) SyncStates(ctx context.Context, remote string) ([]sqlite.SyncState, error) {
	var out []sqlite.SyncState
	for _, st := range m.states {
		if st.Remote == remote {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Href < out[j].Href })
	return out, nil
}

func (m *memSink) PutSyncState(ctx context.Context, st sqlite.SyncState) error {
	m.states[st.Href] = st
	return nil
}

func (m *memSink) DeleteSyncState(ctx context.Context, remote, href string) error {
	delete(m.states, href)
	return nil
}

type syncFixture struct {
	remoteFS billy.Filesystem
	sink     *memSink
}

func newSyncFixture() *syncFixture {
	return &syncFixture{remoteFS: memfs.New(), sink: newMemSink()}
}

func (f *syncFixture) syncer(conflict string) *Syncer {
	remote := NewDirRemote(f.remoteFS, vdir.NewWriter(f.remoteFS))
	s := NewSyncer("mirror", remote, f.sink, f.sink, conflict, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }
	return s
}

func (f *syncFixture) putRemote(t *testing.T, href string, data []byte) {
	t.Helper()
	require.NoError(t, util.WriteFile(f.remoteFS, href, data, 0o644))
}

func (f *syncFixture) remoteData(t *testing.T, href string) string {
	t.Helper()
	data, err := util.ReadFile(f.remoteFS, href)
	require.NoError(t, err)
	return string(data)
}

func (f *syncFixture) remoteHrefs(t *testing.T) []string {
	t.Helper()
	paths, err := vdir.ListRecordFiles(f.remoteFS)
	require.NoError(t, err)
	return paths
}

func (f *syncFixture) run(t *testing.T, conflict string, pullOnly bool) Result {
	t.Helper()
	res, err := f.syncer(conflict).Sync(context.Background(), pullOnly)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	return res
}

func TestSyncExchangesNewRecords(t *testing.T) {
	f := newSyncFixture()
	f.putRemote(t, "r1.vcf", card("r1", "Remote One"))
	f.sink.files["l1.vcf"] = card("l1", "Local One")

	res := f.run(t, Ours, false)
	assert.Equal(t, []string{"r1.vcf"}, res.Downloaded)
	assert.Equal(t, []string{"l1.vcf"}, res.Uploaded)
	assert.Equal(t, string(card("r1", "Remote One")), string(f.sink.files["local-1.vcf"]))

	uploaded := vdir.IdentifierHex("l1") + vdir.RecordExt
	assert.ElementsMatch(t, []string{"r1.vcf", uploaded}, f.remoteHrefs(t))
	assert.Equal(t, string(card("l1", "Local One")), f.remoteData(t, uploaded))

	// Nothing moves once both sides agree.
	res = f.run(t, Ours, false)
	assert.Empty(t, res.Downloaded)
	assert.Empty(t, res.Uploaded)
	assert.Empty(t, res.DeletedLocal)
	assert.Empty(t, res.DeletedRemote)
}

func TestSyncPropagatesChangesAndDeletions(t *testing.T) {
	f := newSyncFixture()
	f.putRemote(t, "r1.vcf", card("r1", "Remote One"))
	f.sink.files["l1.vcf"] = card("l1", "Local One")
	f.run(t, Ours, false)
	uploaded := vdir.IdentifierHex("l1") + vdir.RecordExt

	f.putRemote(t, "r1.vcf", card("r1", "Remote One Edited"))
	f.sink.files["l1.vcf"] = card("l1", "Local One Edited")
	res := f.run(t, Ours, false)
	assert.Equal(t, []string{"r1.vcf"}, res.Downloaded)
	assert.Equal(t, []string{"l1.vcf"}, res.Uploaded)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, string(card("r1", "Remote One Edited")), string(f.sink.files["local-1.vcf"]))
	assert.Equal(t, string(card("l1", "Local One Edited")), f.remoteData(t, uploaded))

	require.NoError(t, f.remoteFS.Remove("r1.vcf"))
	delete(f.sink.files, "l1.vcf")
	res = f.run(t, Ours, false)
	assert.Equal(t, []string{"local-1.vcf"}, res.DeletedLocal)
	assert.Equal(t, []string{uploaded}, res.DeletedRemote)
	assert.Empty(t, f.sink.files)
	assert.Empty(t, f.remoteHrefs(t))
	assert.Empty(t, f.sink.states)
}

func TestSyncConflicts(t *testing.T) {
	tests := []struct {
		name       string
		conflict   string
		wantLocal  string
		wantRemote string
	}{
		{name: "ours", conflict: Ours, wantLocal: "Local Edit", wantRemote: "Local Edit"},
		{name: "theirs", conflict: Theirs, wantLocal: "Remote Edit", wantRemote: "Remote Edit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture()
			f.putRemote(t, "a.vcf", card("a", "Original"))
			f.run(t, tt.conflict, false)
			require.Contains(t, f.sink.files, "local-1.vcf")

			f.putRemote(t, "a.vcf", card("a", "Remote Edit"))
			f.sink.files["local-1.vcf"] = card("a", "Local Edit")

			res := f.run(t, tt.conflict, false)
			assert.Equal(t, []string{"a.vcf"}, res.Conflicts)
			assert.Equal(t, string(card("a", tt.wantLocal)), string(f.sink.files["local-1.vcf"]))
			assert.Equal(t, string(card("a", tt.wantRemote)), f.remoteData(t, "a.vcf"))

			res = f.run(t, tt.conflict, false)
			assert.Empty(t, res.Conflicts)
			assert.Empty(t, res.Downloaded)
			assert.Empty(t, res.Uploaded)
		})
	}
}

func TestSyncRemoteDeletionOfModifiedRecord(t *testing.T) {
	tests := []struct {
		name      string
		conflict  string
		wantLocal bool
	}{
		{name: "ours keeps and re-uploads", conflict: Ours, wantLocal: true},
		{name: "theirs deletes", conflict: Theirs, wantLocal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture()
			f.putRemote(t, "a.vcf", card("a", "Original"))
			f.run(t, tt.conflict, false)

			require.NoError(t, f.remoteFS.Remove("a.vcf"))
			f.sink.files["local-1.vcf"] = card("a", "Local Edit")

			res := f.run(t, tt.conflict, false)
			assert.Equal(t, []string{"a.vcf"}, res.Conflicts)
			_, kept := f.sink.files["local-1.vcf"]
			assert.Equal(t, tt.wantLocal, kept)
			if tt.wantLocal {
				assert.Equal(t, []string{"local-1.vcf"}, res.Uploaded)
				assert.Equal(t, string(card("a", "Local Edit")), f.remoteData(t, "a.vcf"))
			} else {
				assert.Empty(t, f.remoteHrefs(t))
			}
		})
	}
}

func TestSyncPullOnly(t *testing.T) {
	f := newSyncFixture()
	f.putRemote(t, "r1.vcf", card("r1", "Remote One"))
	f.sink.files["l1.vcf"] = card("l1", "Local One")

	res := f.run(t, Ours, true)
	assert.Equal(t, []string{"r1.vcf"}, res.Downloaded)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, []string{"r1.vcf"}, f.remoteHrefs(t))
}

func TestDirRemote(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()
	r := NewDirRemote(fs, vdir.NewWriter(fs))

	items, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	item, err := r.Put(ctx, "", card("u1", "One"))
	require.NoError(t, err)
	assert.Equal(t, vdir.IdentifierHex("u1")+vdir.RecordExt, item.Href)

	items, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item, items[0])

	fetched, err := r.Fetch(ctx, []string{item.Href})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, item.ETag, fetched[0].ETag)
	assert.Equal(t, card("u1", "One"), fetched[0].Data)

	changed, err := r.Put(ctx, item.Href, card("u1", "One Changed"))
	require.NoError(t, err)
	assert.Equal(t, item.Href, changed.Href)
	assert.NotEqual(t, item.ETag, changed.ETag)

	_, err = r.Put(ctx, "", []byte("BEGIN:VCARD\r\nVERSION:4.0\r\nFN:No UID\r\nEND:VCARD\r\n"))
	assert.ErrorIs(t, err, types.ErrMissingUID)

	require.NoError(t, r.Delete(ctx, item.Href))
	require.NoError(t, r.Delete(ctx, item.Href))
	items, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
