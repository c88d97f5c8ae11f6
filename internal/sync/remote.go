// Package sync reconciles the local record directory with a remote
// collection. It plans which records move in which direction from the
// last recorded agreement between the two sides, then applies the plan.
// Transports plug in through Remote.
package sync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// RemoteItem names one remote resource and its current version tag.
type RemoteItem struct {
	Href string
	ETag string
}

// RemoteRecord is a fetched remote resource.
type RemoteRecord struct {
	RemoteItem
	Data []byte
}

// Remote is a collection of records on another system.
type Remote interface {
	List(ctx context.Context) ([]RemoteItem, error)
	Fetch(ctx context.Context, hrefs []string) ([]RemoteRecord, error)
	// Put stores data at href, or at a new href when href is empty, and
	// returns where it went.
	Put(ctx context.Context, href string, data []byte) (RemoteItem, error)
	Delete(ctx context.Context, href string) error
}

// DirRemote is a Remote backed by another record directory, such as a
// folder kept in step by a file sync tool. ETags are content hashes.
type DirRemote struct {
	fs     billy.Filesystem
	writer *vdir.Writer
}

// NewDirRemote returns a Remote over fs.
func NewDirRemote(fs billy.Filesystem, w *vdir.Writer) *DirRemote {
	return &DirRemote{fs: fs, writer: w}
}

// List returns every record file in the directory.
func (r *DirRemote) List(ctx context.Context) ([]RemoteItem, error) {
	paths, err := vdir.ListRecordFiles(r.fs)
	if err != nil {
		return nil, err
	}
	items := make([]RemoteItem, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, st, err := vdir.ReadFile(r.fs, p)
		if err != nil {
			return nil, err
		}
		items = append(items, RemoteItem{Href: p, ETag: etag(st.Hash)})
	}
	return items, nil
}

// Fetch reads the given files.
func (r *DirRemote) Fetch(ctx context.Context, hrefs []string) ([]RemoteRecord, error) {
	out := make([]RemoteRecord, 0, len(hrefs))
	for _, href := range hrefs {
		data, st, err := vdir.ReadFile(r.fs, href)
		if err != nil {
			return nil, err
		}
		out = append(out, RemoteRecord{RemoteItem: RemoteItem{Href: href, ETag: etag(st.Hash)}, Data: data})
	}
	return out, nil
}

// Put writes data atomically. New files are named after the record's UID.
func (r *DirRemote) Put(ctx context.Context, href string, data []byte) (RemoteItem, error) {
	if href == "" {
		rec, err := vcard.Parse(data)
		if err != nil {
			return RemoteItem{}, err
		}
		uid := rec[0].UID()
		if uid == "" {
			return RemoteItem{}, types.ErrMissingUID
		}
		stem, err := vdir.CanonicalStem(vdir.IdentifierHex(uid), "", func(s string) bool {
			_, err := r.fs.Stat(s + vdir.RecordExt)
			return err == nil
		})
		if err != nil {
			return RemoteItem{}, err
		}
		href = stem + vdir.RecordExt
	}
	if err := r.writer.Write(href, data); err != nil {
		return RemoteItem{}, err
	}
	return RemoteItem{Href: href, ETag: etag(vdir.Hash(data))}, nil
}

// Delete removes a file. Deleting a missing file succeeds.
func (r *DirRemote) Delete(ctx context.Context, href string) error {
	if err := r.writer.Remove(href); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func etag(hash []byte) string {
	return fmt.Sprintf("%q", hex.EncodeToString(hash))
}

var _ Remote = (*DirRemote)(nil)

