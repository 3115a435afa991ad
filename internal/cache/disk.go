package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ptrun/internal/fsutil"
	appLog "ptrun/internal/log"
)

const entrySuffix = ".json"

// DiskStore keeps one JSON envelope per entry under
// <dir>/<namespace>/<first two hex chars>/<digest>.json.
type DiskStore struct {
	dir string
	now func() time.Time
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) path(key string) (string, error) {
	ns, digest, err := SplitKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, ns, digest[:2], digest+entrySuffix), nil
}

func (s *DiskStore) Get(_ context.Context, key string) (Entry, bool) {
	p, err := s.path(key)
	if err != nil {
		appLog.Warn("cache get rejected key", "key", key, "err", err)
		return Entry{}, false
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("cache read failed", "key", key, "err", err)
		}
		return Entry{}, false
	}

	e, err := decodeEntry(key, data)
	if err != nil {
		appLog.Warn("cache entry corrupted, removing", "key", key, "err", err)
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			appLog.Error("cache remove failed", rmErr, "key", key)
		}
		return Entry{}, false
	}
	return e, true
}

func (s *DiskStore) Put(_ context.Context, key string, body []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(newEntry(key, body, s.now()))
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(p, data, 0o600)
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// walk visits every entry file of namespace (or all namespaces).
func (s *DiskStore) walk(namespace string, fn func(key, path string, size int64) error) error {
	namespaces := []string{namespace}
	if namespace == "" {
		dirs, err := os.ReadDir(s.dir)
		if err != nil {
			return err
		}
		namespaces = namespaces[:0]
		for _, d := range dirs {
			if d.IsDir() {
				namespaces = append(namespaces, d.Name())
			}
		}
	}

	for _, ns := range namespaces {
		ns := ns
		root := filepath.Join(s.dir, ns)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), entrySuffix) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			key := ns + "/" + strings.TrimSuffix(d.Name(), entrySuffix)
			return fn(key, p, info.Size())
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *DiskStore) Stats(_ context.Context, namespace string) (Stats, error) {
	st := Stats{Namespace: namespace}
	err := s.walk(namespace, func(_, _ string, size int64) error {
		st.Entries++
		st.Bytes += size
		return nil
	})
	return st, err
}

func (s *DiskStore) Clear(_ context.Context, namespace string) (int, error) {
	n := 0
	err := s.walk(namespace, func(_, p string, _ int64) error {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (s *DiskStore) Keys(_ context.Context, namespace string) ([]string, error) {
	var keys []string
	err := s.walk(namespace, func(key, _ string, _ int64) error {
		keys = append(keys, key)
		return nil
	})
	return keys, err
}
