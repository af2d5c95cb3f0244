// Package credstore persists credential bundles on disk, one JSON file per
// derived (tenant, client, scope-set) key. Entries carry a fixed cache
// window; expiry is lazy, enforced and cleaned up at load time. Files are
// optionally encrypted at rest when the store is built with a passphrase.
package credstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/logging"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
)

const (
	// storeDirPerm is the permission mode for the cache directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for credential files.
	storeFilePerm = fs.FileMode(0o600)

	// keyHashLen is the number of hex characters of the identity hash
	// kept in the derived key.
	keyHashLen = 16
)

// Store is a disk-backed credential cache. Save overwrites, Load enforces
// TTL and removes stale or unreadable entries, Clear/ClearAll are
// idempotent. All methods are safe for concurrent use.
type Store struct {
	dir        string
	ttl        time.Duration
	passphrase string
	logger     *slog.Logger

	mu sync.Mutex
}

// New creates a store rooted at dir, creating the directory if needed.
// When passphrase is non-empty, file bodies are encrypted at rest.
func New(dir string, ttl time.Duration, passphrase string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating credential cache directory: %w", err)
	}

	return &Store{
		dir:        dir,
		ttl:        ttl,
		passphrase: passphrase,
		logger:     logger,
	}, nil
}

// DeriveKey computes the deterministic cache key for a (tenant, client,
// scope-set) triple. Scopes are NFKC-normalized and sorted before hashing,
// so request-time ordering never affects the key. The raw tenant and
// client feed the hash too: sanitizing them for the filename is lossy
// ("a/b" and "a:b" both sanitize to "a-b"), and distinct identities must
// never share a key.
func DeriveKey(tenant, client string, scopes []string) string {
	sorted := make([]string, len(scopes))
	for i, s := range scopes {
		sorted[i] = norm.NFKC.String(s)
	}
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(norm.NFKC.String(tenant)))
	h.Write([]byte{0})
	h.Write([]byte(norm.NFKC.String(client)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	identityHash := hex.EncodeToString(h.Sum(nil))[:keyHashLen]

	return sanitize(tenant) + "_" + sanitize(client) + "_" + identityHash
}

// sanitize makes an identifier safe for use in a filename.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save serializes the bundle to disk at the derived key's path,
// overwriting any existing entry. The bundle's cache window and metadata
// are stamped here: Timestamp is now, Expiry is now plus the store TTL.
func (s *Store) Save(bundle *models.CredentialBundle, tenant, client string, scopes []string) error {
	now := time.Now()
	bundle.Timestamp = now.UnixMilli()
	bundle.Expiry = now.Add(s.ttl).UnixMilli()
	bundle.Metadata = models.BundleMetadata{
		Tenant:       tenant,
		Client:       client,
		Scopes:       append([]string(nil), scopes...),
		CacheVersion: models.CacheVersion,
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling credential bundle: %w", err)
	}

	key := DeriveKey(tenant, client, scopes)

	if s.passphrase != "" {
		data, err = seal(s.passphrase, key, data)
		if err != nil {
			return fmt.Errorf("encrypting credential bundle: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temp file in the same directory, then rename, so a
	// crash mid-write never leaves a truncated entry at the final path.
	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}

	tmpName := tmp.Name()

	if err := tmp.Chmod(storeFilePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("setting credential file permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing credential file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing credential file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming credential file: %w", err)
	}

	return nil
}

// Load reads the cached bundle for the key, or nil when absent. Expired
// entries are deleted and reported as a miss. Unreadable or corrupt
// entries are likewise deleted and treated as a miss, never as a fatal
// error.
func (s *Store) Load(tenant, client string, scopes []string) (*models.CredentialBundle, error) {
	key := DeriveKey(tenant, client, scopes)

	s.mu.Lock()
	defer s.mu.Unlock()

	bundle, ok := s.read(key)
	if !ok {
		return nil, nil
	}

	if bundle.Expired(time.Now()) {
		s.logger.Debug("credential cache entry expired", slog.String("key", key))
		s.removeLocked(key)

		return nil, nil
	}

	return bundle, nil
}

// read loads and parses one entry. Returns ok=false after removing the
// file when it is missing, undecryptable, corrupt, or from a different
// cache version.
func (s *Store) read(key string) (*models.CredentialBundle, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading credential cache entry",
				slog.String("key", key), slog.String("error", err.Error()))
		}

		return nil, false
	}

	if isEncrypted(data) {
		if s.passphrase == "" {
			s.logger.Warn("encrypted credential cache entry but no passphrase configured",
				slog.String("key", key))
			s.removeLocked(key)

			return nil, false
		}

		data, err = open(s.passphrase, key, data)
		if err != nil {
			s.logger.Warn("decrypting credential cache entry failed, discarding",
				slog.String("key", key), slog.String("error", err.Error()))
			s.removeLocked(key)

			return nil, false
		}
	}

	var bundle models.CredentialBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		s.logger.Warn("credential cache entry corrupt, discarding",
			slog.String("key", key), slog.String("error", err.Error()))
		s.removeLocked(key)

		return nil, false
	}

	if bundle.Metadata.CacheVersion != models.CacheVersion {
		s.logger.Debug("credential cache entry from different cache version, discarding",
			slog.String("key", key), slog.String("version", bundle.Metadata.CacheVersion))
		s.removeLocked(key)

		return nil, false
	}

	return &bundle, true
}

func (s *Store) removeLocked(key string) {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing credential cache entry",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Clear removes the entry for the given key. Removing a missing entry is
// not an error.
func (s *Store) Clear(tenant, client string, scopes []string) error {
	key := DeriveKey(tenant, client, scopes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credential cache entry: %w", err)
	}

	return nil
}

// ClearAll removes every entry in the store. Idempotent.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("listing credential cache directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing credential cache entry %s: %w", e.Name(), err)
		}
	}

	return nil
}

// EntryStats describes one cached entry for observability. Token values
// are never included.
type EntryStats struct {
	Key          string
	Username     string
	RemainingTTL time.Duration
	Expired      bool
	Audiences    map[models.Audience]bool
}

// CacheStats summarizes the store contents.
type CacheStats struct {
	Dir     string
	Entries []EntryStats
}

// Stats enumerates cache entries with remaining TTL and per-audience
// token presence. Unparseable entries are skipped, not removed; Stats is
// read-only.
func (s *Store) Stats() (CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := CacheStats{Dir: s.dir}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}

		return stats, fmt.Errorf("listing credential cache directory: %w", err)
	}

	now := time.Now()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		key := strings.TrimSuffix(e.Name(), ".json")

		bundle, ok := s.statRead(key)
		if !ok {
			continue
		}

		es := EntryStats{
			Key:       key,
			Expired:   bundle.Expired(now),
			Audiences: bundle.Availability(),
		}

		if bundle.Account != nil {
			es.Username = bundle.Account.Username
		}

		if !es.Expired {
			es.RemainingTTL = time.UnixMilli(bundle.Expiry).Sub(now)
		}

		stats.Entries = append(stats.Entries, es)
	}

	return stats, nil
}

// statRead parses an entry without the removal side effects of read.
func (s *Store) statRead(key string) (*models.CredentialBundle, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}

	if isEncrypted(data) {
		if s.passphrase == "" {
			return nil, false
		}

		data, err = open(s.passphrase, key, data)
		if err != nil {
			return nil, false
		}
	}

	var bundle models.CredentialBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, false
	}

	return &bundle, true
}

// Path returns the on-disk path for a derived key. Exposed for tests and
// status output.
func (s *Store) Path(tenant, client string, scopes []string) string {
	return s.path(DeriveKey(tenant, client, scopes))
}
