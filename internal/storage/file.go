package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const fileSuffix = ".json"

// FileConfig places one file per key under Dir. QuotaBytes caps the summed
// size of those files when positive.
type FileConfig struct {
	Dir        string
	QuotaBytes int64
}

// FileMedium stores each key as a file on an afero filesystem. Writes go to a
// temporary sibling first and are renamed into place.
type FileMedium struct {
	fs    afero.Fs
	dir   string
	quota int64

	mu      sync.Mutex
	written map[string][sha256.Size]byte
}

func NewFile(fsys afero.Fs, cfg FileConfig) (*FileMedium, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("storage: file directory required")
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	dir := filepath.Clean(cfg.Dir)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &FileMedium{fs: fsys, dir: dir, quota: cfg.QuotaBytes, written: make(map[string][sha256.Size]byte)}, nil
}

func (m *FileMedium) Name() string { return "file" }

// Dir is the directory holding the key files.
func (m *FileMedium) Dir() string { return m.dir }

// Path returns the file backing key.
func (m *FileMedium) Path(key string) string {
	return filepath.Join(m.dir, url.PathEscape(key)+fileSuffix)
}

// KeyForPath maps a file under Dir back to its key.
func (m *FileMedium) KeyForPath(path string) (string, bool) {
	if filepath.Dir(filepath.Clean(path)) != m.dir {
		return "", false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	name, ok := strings.CutSuffix(base, fileSuffix)
	if !ok {
		return "", false
	}
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}

func (m *FileMedium) Get(_ context.Context, key string) (string, bool, error) {
	data, err := afero.ReadFile(m.fs, m.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: read %s: %w: %w", key, ErrUnavailable, err)
	}
	return string(data), true, nil
}

func (m *FileMedium) Set(_ context.Context, key, value string) error {
	target := m.Path(key)
	if m.quota > 0 {
		used, err := m.usedExcept(target)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > m.quota {
			return ErrQuotaExceeded
		}
	}
	tmp := filepath.Join(m.dir, "."+filepath.Base(target)+".tmp")
	if err := afero.WriteFile(m.fs, tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	// Record the digest before the rename lands so a watcher never sees our
	// own write as foreign.
	m.mu.Lock()
	m.written[key] = sha256.Sum256([]byte(value))
	m.mu.Unlock()
	if err := m.fs.Rename(tmp, target); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("storage: rename %s: %w", key, err)
	}
	return nil
}

func (m *FileMedium) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.written, key)
	m.mu.Unlock()
	if err := m.fs.Remove(m.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

// Foreign reports whether the file for key differs from what this medium last
// wrote or observed, i.e. another process changed it. The observed content is
// remembered so one change is reported once.
func (m *FileMedium) Foreign(key string) bool {
	data, err := afero.ReadFile(m.fs, m.Path(key))
	m.mu.Lock()
	defer m.mu.Unlock()
	last, known := m.written[key]
	if err != nil {
		delete(m.written, key)
		return known
	}
	digest := sha256.Sum256(data)
	if known && digest == last {
		return false
	}
	m.written[key] = digest
	return true
}

func (m *FileMedium) Close() error { return nil }

func (m *FileMedium) usedExcept(target string) (int64, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("storage: list %s: %w", m.dir, err)
	}
	var used int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		if filepath.Join(m.dir, entry.Name()) == target {
			continue
		}
		used += entry.Size()
	}
	return used, nil
}
