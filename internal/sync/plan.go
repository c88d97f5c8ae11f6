package sync

import (
	"bytes"
	"sort"

	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Conflict preferences.
const (
	// Ours keeps the local copy when both sides changed.
	Ours = types.ConflictOurs
	// Theirs takes the remote copy when both sides changed.
	Theirs = types.ConflictTheirs
)

// PullPlan is what a pull will do.
type PullPlan struct {
	// Download lists hrefs that are new or whose ETag changed.
	Download []string
	// DeleteLocal lists records removed remotely and not modified locally,
	// or modified locally when the preference is Theirs.
	DeleteLocal []sqlite.SyncState
	// Conflicts lists hrefs changed on both sides, whatever the outcome.
	Conflicts []string
}

// PushPlan is what a push will do.
type PushPlan struct {
	Upload       []Upload
	DeleteRemote []sqlite.SyncState
}

// Upload is one local file to send. Href is empty for files never synced.
type Upload struct {
	Path string
	Href string
}

// localIndex maps path to content hash.
func localIndex(local []vdir.FileState) map[string][]byte {
	m := make(map[string][]byte, len(local))
	for _, f := range local {
		m[f.Path] = f.Hash
	}
	return m
}

// modified reports whether the local file drifted from what was last
// synced. A missing local file is not modified; it was deleted.
func modified(st sqlite.SyncState, local map[string][]byte) bool {
	h, ok := local[st.Path]
	return ok && !bytes.Equal(h, st.Hash)
}

// PlanPull compares the remote listing with the recorded states.
func PlanPull(remote []RemoteItem, states []sqlite.SyncState, local []vdir.FileState, pref string) PullPlan {
	byHref := make(map[string]sqlite.SyncState, len(states))
	for _, st := range states {
		byHref[st.Href] = st
	}
	files := localIndex(local)

	var plan PullPlan
	listed := make(map[string]bool, len(remote))
	for _, item := range remote {
		listed[item.Href] = true
		st, known := byHref[item.Href]
		switch {
		case !known:
			plan.Download = append(plan.Download, item.Href)
		case st.ETag != item.ETag:
			if modified(st, files) {
				plan.Conflicts = append(plan.Conflicts, item.Href)
				if pref != Theirs {
					continue
				}
			}
			plan.Download = append(plan.Download, item.Href)
		}
	}

	for _, st := range states {
		if listed[st.Href] {
			continue
		}
		if modified(st, files) {
			plan.Conflicts = append(plan.Conflicts, st.Href)
			if pref != Theirs {
				continue
			}
		}
		plan.DeleteLocal = append(plan.DeleteLocal, st)
	}

	sort.Strings(plan.Download)
	sort.Strings(plan.Conflicts)
	return plan
}

// PlanPush compares local files with the recorded states.
func PlanPush(local []vdir.FileState, states []sqlite.SyncState) PushPlan {
	byPath := make(map[string]sqlite.SyncState, len(states))
	for _, st := range states {
		byPath[st.Path] = st
	}
	files := localIndex(local)

	var plan PushPlan
	for _, f := range local {
		st, known := byPath[f.Path]
		switch {
		case !known:
			plan.Upload = append(plan.Upload, Upload{Path: f.Path})
		case !bytes.Equal(st.Hash, f.Hash):
			plan.Upload = append(plan.Upload, Upload{Path: f.Path, Href: st.Href})
		}
	}
	for _, st := range states {
		if _, ok := files[st.Path]; !ok {
			plan.DeleteRemote = append(plan.DeleteRemote, st)
		}
	}
	return plan
}
