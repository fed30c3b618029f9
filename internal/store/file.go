package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the plaintext credentials file inside the store directory.
const FileName = "credentials.json"

// LockTimeout is the maximum time to wait for the cross-process file lock.
// If exceeded, operations proceed without locking (fail-open) to avoid CLI hangs.
const LockTimeout = 100 * time.Millisecond

// File stores every key in one JSON object on disk, written atomically at
// 0600. A flock on a sibling lock file serializes read-modify-write cycles
// across processes.
type File struct {
	mu  sync.Mutex
	dir string
}

// NewFile creates a file store rooted at dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Path returns the credentials file path.
func (f *File) Path() string {
	return filepath.Join(f.dir, FileName)
}

func (f *File) lockPath() string {
	return filepath.Join(f.dir, ".lock")
}

func (f *File) Get(ctx context.Context, key string) (string, error) {
	var (
		v  string
		ok bool
	)
	err := f.withLock(ctx, func() error {
		all, err := f.loadAll()
		if err != nil {
			return err
		}
		v, ok = all[key]
		return nil
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	return f.update(ctx, func(all map[string]string) bool {
		all[key] = value
		return true
	})
}

func (f *File) Remove(ctx context.Context, key string) error {
	return f.RemoveMany(ctx, key)
}

func (f *File) RemoveMany(ctx context.Context, keys ...string) error {
	return f.update(ctx, func(all map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := all[k]; ok {
				delete(all, k)
				changed = true
			}
		}
		return changed
	})
}

// Entries returns a copy of every stored key and value.
func (f *File) Entries(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := f.withLock(ctx, func() error {
		all, err := f.loadAll()
		out = all
		return err
	})
	return out, err
}

// Delete removes the credentials file entirely.
func (f *File) Delete(ctx context.Context) error {
	return f.withLock(ctx, func() error {
		if err := os.Remove(f.Path()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// update runs fn over the current contents and saves the result when fn
// reports a change.
func (f *File) update(ctx context.Context, fn func(map[string]string) bool) error {
	return f.withLock(ctx, func() error {
		all, err := f.loadAll()
		if err != nil {
			return err
		}
		if !fn(all) {
			return nil
		}
		return f.saveAll(all)
	})
}

// withLock holds the in-process mutex and, when obtainable within
// LockTimeout, the cross-process flock.
func (f *File) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return err
	}

	fl := flock.New(f.lockPath())
	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()

	// TryLockContext retries every 10ms until the context expires
	locked, err := fl.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil && lockCtx.Err() != context.DeadlineExceeded {
		return err
	}
	if locked {
		defer func() { _ = fl.Unlock() }()
	}

	return fn()
}

func (f *File) loadAll() (map[string]string, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	all := make(map[string]string)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (f *File) saveAll(all map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(f.dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Windows: rename fails when the destination exists.
	destPath := f.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
