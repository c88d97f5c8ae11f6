package vdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

func card(lines ...string) string {
	all := append([]string{"BEGIN:VCARD"}, lines...)
	all = append(all, "END:VCARD")
	return strings.Join(all, "\r\n") + "\r\n"
}

func put(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, path, []byte(content), 0o644))
}

func snapshot(t *testing.T, fs billy.Filesystem) map[string]string {
	t.Helper()
	paths, err := ListRecordFiles(fs)
	require.NoError(t, err)
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := util.ReadFile(fs, p)
		require.NoError(t, err)
		out[p] = string(data)
	}
	return out
}

func testNormalizer(fs billy.Filesystem) *Normalizer {
	n := NewNormalizer(fs, NewWriter(fs), slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	seq := 0
	n.NewUID = func() string {
		seq++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", seq)
	}
	return n
}

func TestNormalizeSplitsMultiRecordFile(t *testing.T) {
	fs := memfs.New()
	put(t, fs, "all.vcf",
		card("VERSION:4.0", "UID:6f1c2a3b-4d5e-4f60-8a7b-9c0d1e2f3a4b", "FN:Ada")+
			card("VERSION:4.0", "FN:Grace"))

	report, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)

	files := snapshot(t, fs)
	require.Len(t, files, 2)
	assert.Contains(t, files, "6f1c2a3b4d5e.vcf")
	assert.Contains(t, files, "000000000000.vcf")
	assert.NotContains(t, files, "all.vcf")
	assert.Equal(t, []string{"all.vcf"}, report.Removed)
	assert.True(t, IsNormalized(fs))

	grace, err := vcard.ParseOne([]byte(files["000000000000.vcf"]))
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", grace.UID())
	assert.Equal(t, "20260102T030405Z", grace.Get("REV").Value)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	fs := memfs.New()
	put(t, fs, "one.vcf", card("VERSION:3.0", "FN:One", "TEL;TYPE=pref:1"))
	put(t, fs, filepath.Join("work", "two.vcf"), card("VERSION:4.0", "UID:two", "FN:Two"))
	put(t, fs, "three.vcf", card("VERSION:4.0", "FN:Three")+card("VERSION:4.0", "FN:Four"))

	_, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)
	first := snapshot(t, fs)
	marker, err := util.ReadFile(fs, MarkerName)
	require.NoError(t, err)

	report, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Written)
	assert.Empty(t, report.Removed)
	assert.Equal(t, first, snapshot(t, fs))
	markerAgain, err := util.ReadFile(fs, MarkerName)
	require.NoError(t, err)
	assert.Equal(t, marker, markerAgain)

	uids := map[string]string{}
	for path, content := range first {
		rec, err := vcard.ParseOne([]byte(content))
		require.NoError(t, err)
		prev, dup := uids[rec.UID()]
		assert.False(t, dup, "UID %s in both %s and %s", rec.UID(), prev, path)
		uids[rec.UID()] = path
	}
	assert.Len(t, uids, 4)
}

func TestNormalizeSkippedByGate(t *testing.T) {
	fs := memfs.New()
	put(t, fs, "all.vcf", card("VERSION:4.0", "FN:A")+card("VERSION:4.0", "FN:B"))
	before := snapshot(t, fs)

	report, err := testNormalizer(fs).Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, before, snapshot(t, fs))
	assert.False(t, IsNormalized(fs))
}

func TestNormalizeLeavesUnupgradableFileUntouched(t *testing.T) {
	fs := memfs.New()
	legacy := card("VERSION:2.1", "FN:Old", "TEL;HOME:123") + card("VERSION:4.0", "FN:New")
	put(t, fs, "legacy.vcf", legacy)

	report, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy.vcf"}, report.NeedsUpgrade)
	assert.Equal(t, map[string]string{"legacy.vcf": legacy}, snapshot(t, fs))
}

func TestNormalizeReportsParseFailures(t *testing.T) {
	fs := memfs.New()
	put(t, fs, "broken.vcf", "BEGIN:VCARD\r\nFN:No end\r\n")

	report, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken.vcf", report.Failures[0].Path)
	assert.ErrorIs(t, report.Failures[0], types.ErrParse)
	assert.Contains(t, snapshot(t, fs), "broken.vcf")
}

func TestNormalizeKeepsCanonicalNames(t *testing.T) {
	fs := memfs.New()
	content := card("VERSION:4.0", "UID:6f1c2a3b-4d5e-4f60-8a7b-9c0d1e2f3a4b", "FN:Ada")
	put(t, fs, "6f1c2a3b4d5e4f60.vcf", content)

	report, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Written)
	assert.Equal(t, map[string]string{"6f1c2a3b4d5e4f60.vcf": content}, snapshot(t, fs))
}

func TestNormalizeReassignsDuplicateUIDs(t *testing.T) {
	fs := memfs.New()
	put(t, fs, "a.vcf", card("VERSION:4.0", "UID:same", "FN:A"))
	put(t, fs, "b.vcf", card("VERSION:4.0", "UID:same", "FN:B"))

	report, err := testNormalizer(fs).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.vcf"}, report.Reassigned)

	seen := map[string]bool{}
	for _, content := range snapshot(t, fs) {
		rec, err := vcard.ParseOne([]byte(content))
		require.NoError(t, err)
		assert.False(t, seen[rec.UID()])
		seen[rec.UID()] = true
	}
	assert.True(t, seen["same"])
}

func TestNormalizeWriteFailureLeavesNoMarker(t *testing.T) {
	base := memfs.New()
	put(t, base, "all.vcf", card("VERSION:4.0", "FN:A")+card("VERSION:4.0", "FN:B"))
	fs := &faultFS{Filesystem: base, renameErr: errors.New("disk full")}

	_, err := testNormalizer(fs).Run(context.Background(), false)
	require.ErrorIs(t, err, types.ErrIO)
	assert.False(t, IsNormalized(base))
	assert.Equal(t, []string{"all.vcf"}, keys(snapshot(t, base)))
}

func keys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestCanonicalStem(t *testing.T) {
	hexID := "0123456789abcdef0123456789abcdef"
	none := func(string) bool { return false }

	tests := []struct {
		name    string
		current string
		taken   func(string) bool
		want    string
		wantErr error
	}{
		{name: "shortest prefix when free", current: "contacts", taken: none, want: "0123456789ab"},
		{name: "keeps current canonical stem", current: "0123456789ABCDEF", taken: none, want: "0123456789abcdef"},
		{
			name:    "lengthens on collision",
			current: "x",
			taken:   func(s string) bool { return len(s) < 20 },
			want:    "0123456789abcdef0123",
		},
		{
			name:    "exhausted identifier",
			current: "x",
			taken:   func(string) bool { return true },
			wantErr: types.ErrFilenameCollision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalStem(hexID, tt.current, tt.taken)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentifierHex(t *testing.T) {
	assert.Equal(t, "6f1c2a3b4d5e4f608a7b9c0d1e2f3a4b", IdentifierHex("urn:uuid:6f1c2a3b-4d5e-4f60-8a7b-9c0d1e2f3a4b"))
	assert.Equal(t, IdentifierHex("not-a-uuid"), IdentifierHex("not-a-uuid"))
	assert.Len(t, IdentifierHex("not-a-uuid"), 32)
}
