package scan

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

type scannerOptions struct {
	extensions []string
	recursive  bool
	cacheTTL   time.Duration
}

type Option func(*scannerOptions)

// WithExtensions restricts the scan to the given extensions (with or
// without leading dot, case-insensitive).
func WithExtensions(exts ...string) Option {
	return func(o *scannerOptions) {
		normalized := make([]string, 0, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			normalized = append(normalized, ext)
		}
		o.extensions = normalized
	}
}

func WithRecursive(recursive bool) Option {
	return func(o *scannerOptions) {
		o.recursive = recursive
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *scannerOptions) {
		o.cacheTTL = ttl
	}
}

type scanCache struct {
	version uint64
	scanned time.Time
	entries []FileEntry
}

// Scanner produces the ordered working set for a directory. Results are
// cached for a short TTL so repeated scans triggered in quick succession
// do not hit the filesystem every time.
type Scanner struct {
	root       string
	extensions []string
	recursive  bool

	mu            sync.RWMutex
	cacheTTL      time.Duration
	cache         *scanCache
	configVersion uint64
}

func NewScanner(root string, opts ...Option) *Scanner {
	options := scannerOptions{
		cacheTTL: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Scanner{
		root:       root,
		extensions: options.extensions,
		recursive:  options.recursive,
		cacheTTL:   options.cacheTTL,
	}
}

func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.configVersion++
	s.mu.Unlock()
}

// Scan walks the root directory and returns its files as pending entries,
// sorted by basename for a deterministic batch order.
func (s *Scanner) Scan(ctx context.Context) ([]FileEntry, error) {
	s.mu.RLock()
	version := s.configVersion
	cacheTTL := s.cacheTTL
	if s.cache != nil && s.cache.version == version && (cacheTTL <= 0 || time.Since(s.cache.scanned) < cacheTTL) {
		cached := slices.Clone(s.cache.entries)
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	if _, err := os.Stat(s.root); err != nil {
		return nil, err
	}

	ret := make([]FileEntry, 0)
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			if !s.recursive && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.matchesExtension(path) {
			return nil
		}
		entry, err := NewFileEntry(path)
		if err != nil {
			// File vanished between the walk and the stat; skip it.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		ret = append(ret, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})

	s.mu.Lock()
	if s.configVersion == version {
		s.cache = &scanCache{
			version: version,
			scanned: time.Now(),
			entries: slices.Clone(ret),
		}
	}
	s.mu.Unlock()

	return ret, nil
}

func (s *Scanner) matchesExtension(path string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(s.extensions, ext)
}
