package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Kind identifies one of the persisted credential records.
type Kind string

const (
	// KindClientIdentity is the OAuth2 client id/secret record.
	KindClientIdentity Kind = "client"
	// KindTokenPair is the OAuth2 access/refresh token record.
	KindTokenPair Kind = "tokens"
	// KindMediaCredentials is the OAuth 1.0a media credential record.
	KindMediaCredentials Kind = "media_credentials"
	// KindFlowState is the ephemeral authorization attempt record.
	KindFlowState Kind = "flow_state"
)

// fileNames maps each record kind to its file under the store directory.
var fileNames = map[Kind]string{
	KindClientIdentity:   "client.json",
	KindTokenPair:        "tokens.json",
	KindMediaCredentials: "media_credentials.json",
	KindFlowState:        "flow_state.json",
}

// ErrNotFound is returned by Load when a record is absent or unreadable.
// Corrupt records are deliberately collapsed into ErrNotFound: the caller
// re-runs the relevant setup instead of attempting partial recovery.
var ErrNotFound = errors.New("credstore: record not found")

// Store persists credential records using the filesystem as backing storage.
// Every write goes to a temporary file created with owner-only permissions
// and is atomically renamed into place, so a crash mid-write never leaves a
// truncated record observable by Load. Writers to the store are serialized.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// NewStore creates a credential store rooted at the given directory.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the directory holding the credential records.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path returns the file path backing the given record kind.
func (s *Store) Path(kind Kind) string {
	return filepath.Join(s.baseDir, fileNames[kind])
}

// Load reads the record of the given kind into out. It returns ErrNotFound
// when the file is absent or its content cannot be parsed.
func (s *Store) Load(kind Kind, out any) error {
	data, err := os.ReadFile(s.Path(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("credstore: read %s failed: %w", kind, err)
	}
	if err = json.Unmarshal(data, out); err != nil {
		log.Warnf("credstore: %s record is corrupt, treating as absent", kind)
		return ErrNotFound
	}
	return nil
}

// Save persists the record of the given kind. The record is marshaled to
// JSON, written to a temporary file created 0600, and renamed into place.
// Permissions are set at creation, never widened then restricted.
func (s *Store) Save(kind Kind, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("credstore: create dir failed: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("credstore: marshal %s failed: %w", kind, err)
	}

	path := s.Path(kind)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("credstore: create temp file failed: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("credstore: write %s failed: %w", kind, err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credstore: close %s failed: %w", kind, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credstore: rename %s failed: %w", kind, err)
	}
	return nil
}

// Delete removes the record of the given kind. Deleting a missing record is
// not an error.
func (s *Store) Delete(kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(kind)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credstore: delete %s failed: %w", kind, err)
	}
	return nil
}

// ClientIdentity loads the stored OAuth2 client identity.
func (s *Store) ClientIdentity() (*ClientIdentity, error) {
	record := &ClientIdentity{}
	if err := s.Load(KindClientIdentity, record); err != nil {
		return nil, err
	}
	return record, nil
}

// TokenPair loads the stored OAuth2 token pair.
func (s *Store) TokenPair() (*TokenPair, error) {
	record := &TokenPair{}
	if err := s.Load(KindTokenPair, record); err != nil {
		return nil, err
	}
	return record, nil
}

// MediaCredentials loads the stored OAuth 1.0a media credential set.
func (s *Store) MediaCredentials() (*MediaCredentials, error) {
	record := &MediaCredentials{}
	if err := s.Load(KindMediaCredentials, record); err != nil {
		return nil, err
	}
	return record, nil
}

// FlowState loads the outstanding authorization attempt, if any.
func (s *Store) FlowState() (*FlowState, error) {
	record := &FlowState{}
	if err := s.Load(KindFlowState, record); err != nil {
		return nil, err
	}
	return record, nil
}
