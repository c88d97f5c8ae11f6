package vdir

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const (
	// RecordExt is the extension of record files.
	RecordExt = ".vcf"

	// MarkerName is the file at the directory root that records a completed
	// normalization pass.
	MarkerName = ".addrbook_normalized"
)

// FileState is the change-detection metadata of one record file. It never
// identifies a record.
type FileState struct {
	Path    string
	Hash    []byte
	ModTime time.Time
	Size    int64
}

// ListRecordFiles returns every record file under the filesystem root,
// sorted. Hidden files and directories are skipped.
func ListRecordFiles(fs billy.Filesystem) ([]string, error) {
	if _, err := fs.Stat("."); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat record directory: %w", err)
	}

	var paths []string
	err := util.Walk(fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if info.IsDir() {
			if path != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), RecordExt) {
			return nil
		}
		paths = append(paths, filepath.Clean(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking record directory: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns the content of path together with its FileState.
func ReadFile(fs billy.Filesystem, path string) ([]byte, FileState, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, FileState{}, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, FileState{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, FileState{
		Path:    path,
		Hash:    Hash(data),
		ModTime: info.ModTime(),
		Size:    int64(len(data)),
	}, nil
}

// Hash returns the content hash used for change detection.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// IsNormalized reports whether the normalization marker exists.
func IsNormalized(fs billy.Filesystem) bool {
	_, err := fs.Stat(MarkerName)
	return err == nil
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
