package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// LockFileName is the advisory lock next to the cache.
const LockFileName = "index.lock"

// Lock is an exclusive advisory lock on a data directory. It keeps a second
// process from working on the same directory and cache.
type Lock struct {
	file *os.File
}

// AcquireLock takes the lock in dataDir without blocking. It returns
// types.ErrIndexLocked when another holder has it.
func AcquireLock(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dataDir, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open index lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, types.ErrIndexLocked
		}
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	return &Lock{file: f}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
