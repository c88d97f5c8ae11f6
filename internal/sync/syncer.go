package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/addrbook/internal/sqlite"
	"github.com/mesh-intelligence/addrbook/internal/vdir"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Sink is the local side of a sync: the address book.
type Sink interface {
	LocalFiles(ctx context.Context) ([]vdir.FileState, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// StoreFile writes a downloaded record. An empty path lets the sink
	// pick the file name. It returns the state of the file as written.
	StoreFile(ctx context.Context, path string, data []byte) (vdir.FileState, error)
	RemoveFile(ctx context.Context, path string) error
}

// StateStore keeps the last agreed state per remote resource.
type StateStore interface {
	SyncStates(ctx context.Context, remote string) ([]sqlite.SyncState, error)
	PutSyncState(ctx context.Context, st sqlite.SyncState) error
	DeleteSyncState(ctx context.Context, remote, href string) error
}

// Result summarizes a sync run. Per-record failures are collected in
// Errors and do not stop the run.
type Result struct {
	Downloaded    []string          `json:"downloaded,omitempty"`
	Uploaded      []string          `json:"uploaded,omitempty"`
	DeletedLocal  []string          `json:"deleted_local,omitempty"`
	DeletedRemote []string          `json:"deleted_remote,omitempty"`
	Conflicts     []string          `json:"conflicts,omitempty"`
	Errors        []types.FileError `json:"errors,omitempty"`
}

// Syncer runs pulls and pushes against one remote.
type Syncer struct {
	name     string
	remote   Remote
	sink     Sink
	states   StateStore
	conflict string
	logger   *slog.Logger

	// Now stamps sync states.
	Now func() time.Time
}

// NewSyncer returns a Syncer. name identifies the remote in the state
// store.
func NewSyncer(name string, remote Remote, sink Sink, states StateStore, conflict string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if conflict == "" {
		conflict = Ours
	}
	return &Syncer{
		name:     name,
		remote:   remote,
		sink:     sink,
		states:   states,
		conflict: conflict,
		logger:   logger,
		Now:      time.Now,
	}
}

// Sync pulls remote changes, then pushes local ones unless pullOnly.
func (s *Syncer) Sync(ctx context.Context, pullOnly bool) (Result, error) {
	var res Result
	if err := s.pull(ctx, &res); err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}
	if !pullOnly {
		if err := s.push(ctx, &res); err != nil {
			return res, fmt.Errorf("push: %w", err)
		}
	}

	s.logger.Info("sync completed",
		"component", "sync",
		"action", "sync",
		"remote", s.name,
		"downloaded", len(res.Downloaded),
		"uploaded", len(res.Uploaded),
		"deleted_local", len(res.DeletedLocal),
		"deleted_remote", len(res.DeletedRemote),
		"conflicts", len(res.Conflicts),
		"errors", len(res.Errors),
	)
	return res, nil
}

func (s *Syncer) pull(ctx context.Context, res *Result) error {
	items, err := s.remote.List(ctx)
	if err != nil {
		return fmt.Errorf("listing remote: %w", err)
	}
	states, err := s.states.SyncStates(ctx, s.name)
	if err != nil {
		return err
	}
	local, err := s.sink.LocalFiles(ctx)
	if err != nil {
		return err
	}

	plan := PlanPull(items, states, local, s.conflict)
	res.Conflicts = append(res.Conflicts, plan.Conflicts...)

	pathOf := make(map[string]string, len(states))
	for _, st := range states {
		pathOf[st.Href] = st.Path
	}

	if len(plan.Download) > 0 {
		records, err := s.remote.Fetch(ctx, plan.Download)
		if err != nil {
			return fmt.Errorf("fetching: %w", err)
		}
		for _, rr := range records {
			written, err := s.sink.StoreFile(ctx, pathOf[rr.Href], rr.Data)
			if err != nil {
				res.Errors = append(res.Errors, types.FileError{Path: rr.Href, Err: err})
				continue
			}
			st := sqlite.SyncState{
				Remote:     s.name,
				Href:       rr.Href,
				Path:       written.Path,
				ETag:       rr.ETag,
				Hash:       written.Hash,
				LastSynced: s.Now(),
			}
			if err := s.states.PutSyncState(ctx, st); err != nil {
				return err
			}
			res.Downloaded = append(res.Downloaded, rr.Href)
		}
	}

	for _, st := range plan.DeleteLocal {
		if err := s.sink.RemoveFile(ctx, st.Path); err != nil {
			res.Errors = append(res.Errors, types.FileError{Path: st.Path, Err: err})
			continue
		}
		if err := s.states.DeleteSyncState(ctx, s.name, st.Href); err != nil {
			return err
		}
		res.DeletedLocal = append(res.DeletedLocal, st.Path)
	}
	return nil
}

func (s *Syncer) push(ctx context.Context, res *Result) error {
	states, err := s.states.SyncStates(ctx, s.name)
	if err != nil {
		return err
	}
	local, err := s.sink.LocalFiles(ctx)
	if err != nil {
		return err
	}

	plan := PlanPush(local, states)
	for _, up := range plan.Upload {
		data, err := s.sink.ReadFile(ctx, up.Path)
		if err != nil {
			res.Errors = append(res.Errors, types.FileError{Path: up.Path, Err: err})
			continue
		}
		item, err := s.remote.Put(ctx, up.Href, data)
		if err != nil {
			res.Errors = append(res.Errors, types.FileError{Path: up.Path, Err: err})
			continue
		}
		st := sqlite.SyncState{
			Remote:     s.name,
			Href:       item.Href,
			Path:       up.Path,
			ETag:       item.ETag,
			Hash:       vdir.Hash(data),
			LastSynced: s.Now(),
		}
		if err := s.states.PutSyncState(ctx, st); err != nil {
			return err
		}
		res.Uploaded = append(res.Uploaded, up.Path)
	}

	for _, st := range plan.DeleteRemote {
		if err := s.remote.Delete(ctx, st.Href); err != nil {
			res.Errors = append(res.Errors, types.FileError{Path: st.Href, Err: err})
			continue
		}
		if err := s.states.DeleteSyncState(ctx, s.name, st.Href); err != nil {
			return err
		}
		res.DeletedRemote = append(res.DeletedRemote, st.Href)
	}
	return nil
}
