package vdir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// NormalizeReport describes what a normalization pass did.
type NormalizeReport struct {
	Skipped      bool              `json:"skipped"`
	Files        int               `json:"files"`
	Written      []string          `json:"written,omitempty"`
	Removed      []string          `json:"removed,omitempty"`
	Reassigned   []string          `json:"reassigned,omitempty"`
	NeedsUpgrade []string          `json:"needs_upgrade,omitempty"`
	Failures     []types.FileError `json:"failures,omitempty"`
}

// Normalizer brings a directory into canonical shape: one vCard 4.0 record
// per file, every record with a UID, every file named after its UID.
type Normalizer struct {
	fs     billy.Filesystem
	writer *Writer
	logger *slog.Logger

	// Now and NewUID are replaceable for tests.
	Now    func() time.Time
	NewUID func() string
}

// NewNormalizer returns a Normalizer that writes through w.
func NewNormalizer(fs billy.Filesystem, w *Writer, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		fs:     fs,
		writer: w,
		logger: logger,
		Now:    time.Now,
		NewUID: NewUID,
	}
}

// Run normalizes every record file unless alreadyNormalized is set, in
// which case it returns immediately. Parse failures and records that
// cannot be upgraded are reported and their files left alone. Any write
// failure aborts the pass; the marker is written only when the pass
// completes.
func (n *Normalizer) Run(ctx context.Context, alreadyNormalized bool) (NormalizeReport, error) {
	if alreadyNormalized {
		return NormalizeReport{Skipped: true}, nil
	}

	paths, err := ListRecordFiles(n.fs)
	if err != nil {
		return NormalizeReport{}, err
	}

	st := &normalizeState{
		used:    make(map[string]bool, len(paths)),
		seenUID: make(map[string]string, len(paths)),
	}
	for _, p := range paths {
		st.used[strings.ToLower(Stem(p))] = true
	}

	report := NormalizeReport{Files: len(paths)}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := n.normalizeFile(p, st, &report); err != nil {
			n.logger.Error("normalization aborted",
				"component", "vdir",
				"action", "normalize",
				"path", p,
				"error", err,
			)
			return report, err
		}
	}

	if !IsNormalized(n.fs) {
		stamp := []byte(n.Now().UTC().Format(time.RFC3339) + "\n")
		if err := n.writer.Write(MarkerName, stamp); err != nil {
			return report, fmt.Errorf("writing normalization marker: %w", err)
		}
	}

	n.logger.Info("normalization completed",
		"component", "vdir",
		"action", "normalize",
		"files", report.Files,
		"written", len(report.Written),
		"removed", len(report.Removed),
		"needs_upgrade", len(report.NeedsUpgrade),
		"failures", len(report.Failures),
	)
	return report, nil
}

type normalizeState struct {
	used    map[string]bool
	seenUID map[string]string
}

func (n *Normalizer) normalizeFile(path string, st *normalizeState, report *NormalizeReport) error {
	data, err := util.ReadFile(n.fs, path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", types.ErrIO, path, err)
	}

	records, err := vcard.Parse(data)
	if err != nil {
		n.logger.Warn("skipping unparseable file",
			"component", "vdir",
			"action", "normalize",
			"path", path,
			"error", err,
		)
		report.Failures = append(report.Failures, types.FileError{Path: path, Err: err})
		return nil
	}

	// Upgrade everything first; a file holding any record that cannot be
	// upgraded is left exactly as it is.
	changed := make([]bool, len(records))
	for i, rec := range records {
		c, err := vcard.Coerce(rec)
		if errors.Is(err, types.ErrVersionMismatch) {
			n.logger.Warn("record needs upgrade",
				"component", "vdir",
				"action", "normalize",
				"path", path,
				"error", err,
			)
			report.NeedsUpgrade = append(report.NeedsUpgrade, path)
			return nil
		}
		changed[i] = c
	}

	dir := filepath.Dir(path)
	current := Stem(path)
	wroteOriginal, moved := false, false

	for i, rec := range records {
		uid := rec.UID()
		if uid == "" {
			uid = n.NewUID()
			rec.SetUID(uid)
			changed[i] = true
		} else if owner, dup := st.seenUID[uid]; dup {
			n.logger.Warn("duplicate UID reassigned",
				"component", "vdir",
				"action", "normalize",
				"path", path,
				"uid", uid,
				"first_seen", owner,
			)
			uid = n.NewUID()
			rec.SetUID(uid)
			changed[i] = true
			report.Reassigned = append(report.Reassigned, path)
		}
		st.seenUID[uid] = path

		if changed[i] {
			rec.TouchRev(n.Now())
		}

		stem, err := CanonicalStem(IdentifierHex(uid), current, func(s string) bool { return st.used[s] })
		if err != nil {
			return err
		}
		st.used[stem] = true

		target := filepath.Join(dir, stem+RecordExt)
		out := vcard.Render(rec)
		if target == path && len(records) == 1 && bytes.Equal(out, data) {
			continue
		}
		if err := n.writer.Write(target, out); err != nil {
			return err
		}
		report.Written = append(report.Written, target)
		if target == path {
			wroteOriginal = true
		} else {
			moved = true
		}
	}

	if (len(records) > 1 || moved) && !wroteOriginal {
		if err := n.writer.Remove(path); err != nil {
			return err
		}
		report.Removed = append(report.Removed, path)
	}
	return nil
}
