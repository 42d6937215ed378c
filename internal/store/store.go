package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrFolderDepth is returned when a folder would nest below the two-level cap.
var ErrFolderDepth = errors.New("folders cannot nest deeper than one level of subfolders")

// ErrFolderNotFound is returned when a mutation names an unknown folder id.
var ErrFolderNotFound = errors.New("folder not found")

// EntityAssign names one entity in a batch assignment.
type EntityAssign struct {
	Key   string
	Title string
}

// Store owns the in-memory StorageState as the single source of truth.
// Every mutation reads the active scoped state, produces a new one, and
// commits the whole root through the KV boundary - there are no partial
// field-level writes.
type Store struct {
	mu  sync.Mutex
	kv  KV
	key string
	log *zap.Logger

	state  State
	loaded bool
}

// New creates a Store over the given KV. Call Load before anything else.
func New(kv KV, key string, log *zap.Logger) *Store {
	return &Store{kv: kv, key: key, log: log}
}

// Load reads and migrates the persisted state. A stale schema is re-persisted
// in the current shape immediately so later loads skip migration. Corrupt or
// absent data silently becomes the default state.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		return State{}, fmt.Errorf("load state: %w", err)
	}

	var probeVersion int
	if ok {
		var probe struct {
			Version int `json:"version"`
		}
		_ = json.Unmarshal(raw, &probe)
		probeVersion = probe.Version
	}

	s.state = Parse(raw)
	s.loaded = true

	if !ok || probeVersion != CurrentVersion {
		if err := s.persistLocked(); err != nil {
			return State{}, fmt.Errorf("re-persist migrated state: %w", err)
		}
		s.log.Info("storage state migrated",
			zap.Int("from_version", probeVersion),
			zap.Int("to_version", CurrentVersion))
	}

	return s.state.clone(), nil
}

// Save persists the given root wholesale, replacing the in-memory state.
func (s *Store) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.clone()
	s.loaded = true
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return s.kv.Set(s.key, data)
}

func (s *Store) commitLocked(next State) error {
	s.state = next
	return s.persistLocked()
}

// ActiveContextID returns the context scope mutations currently apply to.
func (s *Store) ActiveContextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveContextID
}

// Scoped returns a copy of the active context's organization state.
func (s *Store) Scoped() ScopedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.state.ByContext[s.state.ActiveContextID]
	if !ok {
		return EmptyScope()
	}
	return scope.clone()
}

// SetActiveContext switches the scope for subsequent mutations, creating an
// empty scope for identifiers seen for the first time. Other contexts'
// state is untouched.
func (s *Store) SetActiveContext(contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.New("store not loaded")
	}

	id := strings.TrimSpace(contextID)
	if id == "" {
		id = DefaultContextID
	}

	next := s.state.clone()
	next.ActiveContextID = id
	if _, ok := next.ByContext[id]; !ok {
		next.ByContext[id] = EmptyScope()
	}
	return s.commitLocked(next)
}

func (s *Store) activeScopeLocked(root State) ScopedState {
	if scope, ok := root.ByContext[root.ActiveContextID]; ok {
		return scope
	}
	return EmptyScope()
}

func (s *Store) commitScopeLocked(scope ScopedState) error {
	next := s.state.clone()
	next.ByContext[next.ActiveContextID] = scope
	return s.commitLocked(next)
}

// CreateFolder adds a folder to the active scope. Root folders pass a nil
// parent; a parent that itself has a parent is rejected (depth cap).
func (s *Store) CreateFolder(name string, parentID *string) (Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return Folder{}, errors.New("store not loaded")
	}

	scope := s.activeScopeLocked(s.state).clone()

	if parentID != nil && *parentID != "" {
		for _, f := range scope.Folders {
			if f.ID == *parentID && f.ParentID != nil {
				return Folder{}, ErrFolderDepth
			}
		}
	} else {
		parentID = nil
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "Untitled"
	}

	folder := Folder{
		ID:        uuid.NewString(),
		Name:      trimmed,
		ParentID:  parentID,
		Collapsed: false,
		CreatedAt: time.Now().UnixMilli(),
	}
	scope.Folders = append(scope.Folders, folder)

	if err := s.commitScopeLocked(scope); err != nil {
		return Folder{}, err
	}
	return folder, nil
}

// RenameFolder updates a folder's display name. Blank names are ignored.
func (s *Store) RenameFolder(folderID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.New("store not loaded")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil
	}

	scope := s.activeScopeLocked(s.state).clone()
	found := false
	for i := range scope.Folders {
		if scope.Folders[i].ID == folderID {
			scope.Folders[i].Name = trimmed
			found = true
		}
	}
	if !found {
		return ErrFolderNotFound
	}
	return s.commitScopeLocked(scope)
}

// DeleteFolder removes a folder and all its descendants; every assignment
// (by key or by title) pointing at a removed folder becomes unassigned.
func (s *Store) DeleteFolder(folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.New("store not loaded")
	}

	scope := s.activeScopeLocked(s.state).clone()

	removed := descendantIDs(scope.Folders, folderID)
	removed[folderID] = true

	remaining := scope.Folders[:0:0]
	for _, f := range scope.Folders {
		if !removed[f.ID] {
			remaining = append(remaining, f)
		}
	}
	scope.Folders = remaining

	for key, id := range scope.FolderByKey {
		if id != "" && removed[id] {
			scope.FolderByKey[key] = ""
		}
	}
	for title, id := range scope.FolderByTitle {
		if id != "" && removed[id] {
			scope.FolderByTitle[title] = ""
		}
	}

	return s.commitScopeLocked(scope)
}

// ToggleFolderCollapsed flips a folder's collapsed flag.
func (s *Store) ToggleFolderCollapsed(folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.New("store not loaded")
	}

	scope := s.activeScopeLocked(s.state).clone()
	found := false
	for i := range scope.Folders {
		if scope.Folders[i].ID == folderID {
			scope.Folders[i].Collapsed = !scope.Folders[i].Collapsed
			found = true
		}
	}
	if !found {
		return ErrFolderNotFound
	}
	return s.commitScopeLocked(scope)
}

// AssignEntity maps an entity to a folder ("" unassigns). The key map is
// always written; the title map only when a title is supplied, keeping the
// fallback channel current.
func (s *Store) AssignEntity(key, folderID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.New("store not loaded")
	}
	if key == "" {
		return errors.New("entity key is required")
	}

	scope := s.activeScopeLocked(s.state).clone()
	scope.FolderByKey[key] = folderID
	if strings.TrimSpace(title) != "" {
		scope.FolderByTitle[title] = folderID
	}
	return s.commitScopeLocked(scope)
}

// AssignBatch maps several entities to the same folder in one commit.
func (s *Store) AssignBatch(entities []EntityAssign, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return errors.New("store not loaded")
	}
	if len(entities) == 0 {
		return nil
	}

	scope := s.activeScopeLocked(s.state).clone()
	for _, e := range entities {
		if e.Key == "" {
			continue
		}
		scope.FolderByKey[e.Key] = folderID
		if strings.TrimSpace(e.Title) != "" {
			scope.FolderByTitle[e.Title] = folderID
		}
	}
	return s.commitScopeLocked(scope)
}

// ResolveFolder returns the folder id an entity belongs to, key mapping
// first, title mapping as fallback. Empty means unassigned.
func (s *Store) ResolveFolder(key, title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := s.activeScopeLocked(s.state)
	if id, ok := scope.FolderByKey[key]; ok && id != "" {
		return id
	}
	if id, ok := scope.FolderByTitle[title]; ok && id != "" {
		return id
	}
	return ""
}

func descendantIDs(folders []Folder, folderID string) map[string]bool {
	byParent := map[string][]string{}
	for _, f := range folders {
		if f.ParentID == nil {
			continue
		}
		byParent[*f.ParentID] = append(byParent[*f.ParentID], f.ID)
	}

	out := map[string]bool{}
	stack := append([]string(nil), byParent[folderID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[id] {
			continue
		}
		out[id] = true
		stack = append(stack, byParent[id]...)
	}
	return out
}
