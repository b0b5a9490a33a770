// Package cache is a TTL- and size-bounded store for upstream responses.
//
// Each entry lives in its own JSON file named after its key. Reads never
// fail: a missing, stale or corrupt entry is a miss, and the bad file is
// dropped. Writes never fail either: an unwritable directory only logs a
// warning. Write recency is tracked in memory so the size cap can keep the
// most recently written entries.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/issuemirror/lru"
)

const fileExt = ".json"

// Options configures a Store.
type Options struct {
	// MaxEntries caps the number of entries; 0 disables the cap.
	MaxEntries int
	// DefaultTTL is used when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// entry is the on-disk format. Times are Unix milliseconds.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
	Expires   int64           `json:"expires"`
}

func (e *entry) valid() bool {
	return len(e.Data) > 0 && e.Expires > e.Timestamp
}

// Store is a file-backed response cache.
type Store struct {
	dir    string
	opts   Options
	now    func() time.Time
	index  *lru.Cache[string, int64] // key → expires, ordered by write
	logger zerolog.Logger
}

// New opens the cache in dir, sweeping expired and corrupt entries.
// The directory is created lazily on first write.
func New(dir string, opts Options, logger zerolog.Logger) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.MaxEntries < 0 {
		opts.MaxEntries = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		dir:    dir,
		opts:   opts,
		now:    now,
		index:  lru.New[string, int64](0),
		logger: logger.With().Str("component", "cache").Logger(),
	}

	swept := s.SweepExpired()
	s.loadIndex()
	s.index.OnEvict(func(key string, _ int64) {
		s.removeFile(key)
	})
	if opts.MaxEntries > 0 {
		s.index.Resize(opts.MaxEntries)
	}

	s.logger.Debug().Str("dir", dir).Int("entries", s.index.Len()).Int("swept", swept).Msg("cache opened")
	return s
}

// Key derives a cache key from a namespace and request parameters. The
// parameters are rendered as JSON with sorted object keys, so two
// semantically equal parameter values always yield the same key. Parameters
// that do not marshal have no key; callers should not cache them.
func Key(namespace string, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", namespace, err)
	}
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return raw, nil
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return raw, nil
	}
	return out, nil
}

// Get returns the cached payload when present and not expired.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	key = fileKey(key)
	e, ok := s.read(key)
	if !ok {
		return nil, false
	}
	if s.now().UnixMilli() >= e.Expires {
		s.Delete(key)
		return nil, false
	}
	return e.Data, true
}

// GetInto decodes the cached payload into v. A payload that does not
// decode is dropped and reported as a miss.
func (s *Store) GetInto(key string, v any) bool {
	data, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		s.Delete(key)
		return false
	}
	return true
}

// Set stores value under key. A ttl <= 0 uses the default TTL. Failures are
// logged and otherwise ignored.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	key = fileKey(key)
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}

	var data []byte
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache value not serializable")
			return
		}
		data = b
	}

	// Entries are stored with millisecond precision.
	ttlMillis := max(ttl.Milliseconds(), 1)
	ts := s.now().UnixMilli()
	e := entry{
		Data:      data,
		Timestamp: ts,
		TTL:       ttlMillis,
		Expires:   ts + ttlMillis,
	}
	b, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache entry not serializable")
		return
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.dir).Msg("cache directory not writable")
		return
	}
	if err := atomic.WriteFile(s.path(key), bytes.NewReader(b)); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}

	// Put evicts past MaxEntries through the OnEvict hook.
	s.index.Put(key, e.Expires)
}

// Delete removes an entry.
func (s *Store) Delete(key string) {
	key = fileKey(key)
	s.index.Delete(key)
	s.removeFile(key)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.index.Clear()
	for _, name := range s.entryFiles() {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", name).Msg("failed to remove cache file")
		}
	}
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	return s.index.Len()
}

// SweepExpired removes expired and corrupt entry files and returns how many
// were removed.
func (s *Store) SweepExpired() int {
	now := s.now().UnixMilli()
	removed := 0
	for _, name := range s.entryFiles() {
		key := strings.TrimSuffix(name, fileExt)
		e, ok := s.read(key)
		if ok && now < e.Expires {
			continue
		}
		if ok {
			s.Delete(key)
		}
		// read already dropped corrupt files
		removed++
	}
	return removed
}

// EnforceSizeCap keeps the max most recently written entries and evicts the
// rest. max becomes the cap for later writes. Returns the eviction count.
func (s *Store) EnforceSizeCap(max int) int {
	if max <= 0 {
		return 0
	}
	s.opts.MaxEntries = max
	return len(s.index.Resize(max))
}

// read loads and validates an entry file; corrupt files are removed.
func (s *Store) read(key string) (*entry, bool) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		s.index.Delete(key)
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil || !e.valid() {
		s.logger.Warn().Str("key", key).Msg("dropping corrupt cache entry")
		s.Delete(key)
		return nil, false
	}
	return &e, true
}

// loadIndex seeds write recency from the persisted timestamps.
func (s *Store) loadIndex() {
	type seen struct {
		key     string
		ts      int64
		expires int64
	}
	var all []seen
	for _, name := range s.entryFiles() {
		key := strings.TrimSuffix(name, fileExt)
		e, ok := s.read(key)
		if !ok {
			continue
		}
		all = append(all, seen{key: key, ts: e.Timestamp, expires: e.Expires})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts < all[j].ts })
	for _, e := range all {
		s.index.Put(e.key, e.expires)
	}
}

func (s *Store) entryFiles() []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("dir", s.dir).Msg("cache directory unreadable")
		}
		return nil
	}
	var out []string
	for _, de := range ents {
		if de.Type().IsRegular() && strings.HasSuffix(de.Name(), fileExt) {
			out = append(out, de.Name())
		}
	}
	return out
}

func (s *Store) removeFile(key string) {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to remove cache file")
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// fileKey maps a key to a safe file name. Keys that are not plain file
// names are hashed.
func fileKey(key string) string {
	if safeName(key) {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func safeName(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
