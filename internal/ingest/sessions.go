package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
)

const (
	partsDirName  = "parts"
	metaFileName  = "meta.json"
	stateFileName = "state.json"
	partPrefix    = "part_"
	partSuffix    = ".ts"

	finishedRetention = time.Hour
)

var errSessionNotFound = errors.New("upload session not found")

// sessionStore owns the on-disk session directories.
type sessionStore struct {
	root string
	now  func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	finished map[string]Session
}

func newSessionStore(root string, now func() time.Time) *sessionStore {
	return &sessionStore{
		root:     root,
		now:      now,
		locks:    make(map[string]*sync.Mutex),
		finished: make(map[string]Session),
	}
}

// validUploadID accepts the 32-character lowercase hex ids this package issues.
func validUploadID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (s *sessionStore) dir(id string) string       { return filepath.Join(s.root, id) }
func (s *sessionStore) partsDir(id string) string  { return filepath.Join(s.dir(id), partsDirName) }
func (s *sessionStore) metaPath(id string) string  { return filepath.Join(s.dir(id), metaFileName) }
func (s *sessionStore) statePath(id string) string { return filepath.Join(s.dir(id), stateFileName) }

func (s *sessionStore) partPath(id string, index int) string {
	return filepath.Join(s.partsDir(id), fmt.Sprintf("%s%05d%s", partPrefix, index, partSuffix))
}

func (s *sessionStore) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *sessionStore) exists(id string) bool {
	if !validUploadID(id) {
		return false
	}
	info, err := os.Stat(s.partsDir(id))
	return err == nil && info.IsDir()
}

func (s *sessionStore) create(meta Meta, initial Session) error {
	if err := os.MkdirAll(s.partsDir(meta.UploadID), 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := fileutil.WriteJSONAtomic(s.metaPath(meta.UploadID), meta); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	lock := s.lock(meta.UploadID)
	lock.Lock()
	defer lock.Unlock()
	return s.saveLocked(meta.UploadID, initial)
}

func (s *sessionStore) loadMeta(id string) (Meta, error) {
	var meta Meta
	if !s.exists(id) {
		return meta, errSessionNotFound
	}
	if err := fileutil.ReadJSON(s.metaPath(id), &meta); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, errSessionNotFound
		}
		return meta, err
	}
	return meta, nil
}

func (s *sessionStore) loadLocked(id string) (Session, bool) {
	var session Session
	if err := fileutil.ReadJSON(s.statePath(id), &session); err != nil {
		return Session{}, false
	}
	return session, true
}

func (s *sessionStore) saveLocked(id string, session Session) error {
	now := s.now().UTC()
	session.UpdatedAt = &now
	return fileutil.WriteJSONAtomic(s.statePath(id), session)
}

// update applies fn to the current state.json under the session lock.
func (s *sessionStore) update(id string, fn func(*Session)) (Session, error) {
	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()

	session, _ := s.loadLocked(id)
	fn(&session)
	if err := s.saveLocked(id, session); err != nil {
		return session, fmt.Errorf("write session state: %w", err)
	}
	return session, nil
}

func (s *sessionStore) read(id string) (Session, bool) {
	s.mu.Lock()
	if done, ok := s.finished[id]; ok {
		s.mu.Unlock()
		return done, true
	}
	s.mu.Unlock()

	if !s.exists(id) {
		return Session{}, false
	}
	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(id)
}

// parts lists the part indices present on disk in ascending order.
func (s *sessionStore) parts(id string) ([]int, error) {
	entries, err := os.ReadDir(s.partsDir(id))
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if index, ok := parsePartName(entry.Name()); ok {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

func parsePartName(name string) (int, bool) {
	if !strings.HasPrefix(name, partPrefix) || !strings.HasSuffix(name, partSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, partPrefix), partSuffix)
	index, err := strconv.Atoi(digits)
	if err != nil || index < 1 {
		return 0, false
	}
	return index, true
}

// finish records the terminal session in memory and removes its directory.
func (s *sessionStore) finish(id string, session Session) error {
	s.mu.Lock()
	cutoff := s.now().Add(-finishedRetention)
	for key, entry := range s.finished {
		if entry.UpdatedAt != nil && entry.UpdatedAt.Before(cutoff) {
			delete(s.finished, key)
		}
	}
	s.finished[id] = session
	delete(s.locks, id)
	s.mu.Unlock()
	return os.RemoveAll(s.dir(id))
}
