package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// storeIDPattern is the strict validation regex from §4.7: it both rejects
// illegal ids and, by construction, prevents path traversal - there is no
// "sanitize" step, only accept-or-reject.
var storeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateStoreID reports whether id is an acceptable KV store key.
func ValidateStoreID(id string) bool {
	return id != "" && storeIDPattern.MatchString(id)
}

// KVStore is the filesystem-backed {storeId -> JSON document} store used for
// cross-redirect OAuth state. No library in the retrieval pack offers a
// closer fit for local atomic blob storage than the standard library's
// os/path-filepath primitives (see DESIGN.md); the atomic write algorithm
// follows §9: write to a temp file "<id>.json.tmp-<random>" in the same
// directory, fsync, rename to "<id>.json", chmod 0600.
type KVStore struct {
	root string
}

// NewKVStore creates a KVStore rooted at root. The directory is created
// lazily on first write, not here.
func NewKVStore(root string) *KVStore {
	return &KVStore{root: root}
}

func (s *KVStore) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

// Get returns the stored document for id, or "{}" if no file exists
// (absence is equivalent to an empty document).
func (s *KVStore) Get(id string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return json.RawMessage(`{}`), nil
		}
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return json.RawMessage(data), nil
}

// Put overwrites the document for id, creating the storage directory as
// needed, writing atomically (temp file + rename), and best-effort chmod
// 0600 (ignored on platforms without POSIX permissions).
func (s *KVStore) Put(id string, doc json.RawMessage) error {
	if err := os.MkdirAll(s.root, 0700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, id+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	dest := s.path(id)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	_ = os.Chmod(dest, 0600) // best effort; ignored where POSIX modes don't apply

	return nil
}

// Delete removes the document for id. Missing file is success (idempotent).
func (s *KVStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
