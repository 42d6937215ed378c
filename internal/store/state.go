// Package store holds the durable folder/organization model: a versioned
// state document scoped per active context identifier, persisted through a
// key-value boundary with forward-only schema migration.
package store

import (
	"bytes"
	"encoding/json"
)

// CurrentVersion is the only schema shape active at runtime. Older persisted
// versions are migrated forward on load and re-persisted; they are never
// written again.
const CurrentVersion = 3

// DefaultContextID scopes data that predates per-context scoping, and serves
// as the scope when no context identifier can be derived.
const DefaultContextID = "default"

// Folder is one organizational node. Nesting is capped at two levels: a
// folder whose parent already has a parent is rejected at creation time.
type Folder struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ParentID  *string `json:"parentId"`
	Collapsed bool    `json:"collapsed"`
	CreatedAt int64   `json:"createdAt"`
}

// AssignmentMap maps an entity key or title to a folder id. The empty string
// represents "assigned to no folder" and round-trips as JSON null, matching
// the persisted shape of every schema version.
type AssignmentMap map[string]string

func (m AssignmentMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		if v == "" {
			out[k] = nil
			continue
		}
		id := v
		out[k] = &id
	}
	return json.Marshal(out)
}

func (m *AssignmentMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = AssignmentMap{}
		return nil
	}
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(AssignmentMap, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = *v
	}
	*m = out
	return nil
}

func (m AssignmentMap) clone() AssignmentMap {
	out := make(AssignmentMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ScopedState is the organization model for one context: its folders plus
// the key-keyed and title-keyed entity assignments. The two maps may
// disagree; the key map wins when resolving an entity's folder.
type ScopedState struct {
	Folders       []Folder      `json:"folders"`
	FolderByKey   AssignmentMap `json:"notebookFolderByKey"`
	FolderByTitle AssignmentMap `json:"notebookFolderByTitle"`
}

// EmptyScope returns a fresh scoped state with no folders or assignments.
func EmptyScope() ScopedState {
	return ScopedState{
		Folders:       []Folder{},
		FolderByKey:   AssignmentMap{},
		FolderByTitle: AssignmentMap{},
	}
}

func (s ScopedState) clone() ScopedState {
	folders := make([]Folder, len(s.Folders))
	copy(folders, s.Folders)
	return ScopedState{
		Folders:       folders,
		FolderByKey:   s.FolderByKey.clone(),
		FolderByTitle: s.FolderByTitle.clone(),
	}
}

func (s ScopedState) sanitized() ScopedState {
	if s.Folders == nil {
		s.Folders = []Folder{}
	}
	if s.FolderByKey == nil {
		s.FolderByKey = AssignmentMap{}
	}
	if s.FolderByTitle == nil {
		s.FolderByTitle = AssignmentMap{}
	}
	return s
}

// State is the durable root document.
type State struct {
	Version         int                    `json:"version"`
	ByContext       map[string]ScopedState `json:"byNotebook"`
	ActiveContextID string                 `json:"activeNotebookId,omitempty"`
}

// DefaultState returns an empty current-version state with one default context.
func DefaultState() State {
	return State{
		Version:         CurrentVersion,
		ByContext:       map[string]ScopedState{DefaultContextID: EmptyScope()},
		ActiveContextID: DefaultContextID,
	}
}

func (s State) clone() State {
	by := make(map[string]ScopedState, len(s.ByContext))
	for k, v := range s.ByContext {
		by[k] = v.clone()
	}
	return State{Version: s.Version, ByContext: by, ActiveContextID: s.ActiveContextID}
}

// Historical shapes. Version 1 kept a flat folder list and title-keyed
// assignments only; version 2 added the key-keyed map; version 3 wrapped
// everything per context.
type stateV1 struct {
	Folders       []Folder      `json:"folders"`
	FolderByTitle AssignmentMap `json:"notebookFolderByTitle"`
}

type stateV2 struct {
	Folders       []Folder      `json:"folders"`
	FolderByKey   AssignmentMap `json:"notebookFolderByKey"`
	FolderByTitle AssignmentMap `json:"notebookFolderByTitle"`
}

// Parse decodes a persisted state document, migrating earlier versions
// forward. Unknown, absent, or corrupt input yields the default state;
// persisted data is never a reason to fail startup.
func Parse(raw []byte) State {
	if len(bytes.TrimSpace(raw)) == 0 {
		return DefaultState()
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return DefaultState()
	}

	switch probe.Version {
	case 3:
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return DefaultState()
		}
		if st.ByContext == nil {
			st.ByContext = map[string]ScopedState{}
		}
		for id, scope := range st.ByContext {
			st.ByContext[id] = scope.sanitized()
		}
		if len(st.ByContext) == 0 {
			st.ByContext[DefaultContextID] = EmptyScope()
		}
		if st.ActiveContextID == "" {
			st.ActiveContextID = DefaultContextID
		}
		if _, ok := st.ByContext[st.ActiveContextID]; !ok {
			st.ActiveContextID = DefaultContextID
			if _, ok := st.ByContext[DefaultContextID]; !ok {
				st.ByContext[DefaultContextID] = EmptyScope()
			}
		}
		st.Version = CurrentVersion
		return st

	case 2:
		var legacy stateV2
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return DefaultState()
		}
		scope := ScopedState{
			Folders:       legacy.Folders,
			FolderByKey:   legacy.FolderByKey,
			FolderByTitle: legacy.FolderByTitle,
		}.sanitized()
		return State{
			Version:         CurrentVersion,
			ByContext:       map[string]ScopedState{DefaultContextID: scope},
			ActiveContextID: DefaultContextID,
		}

	case 1:
		var legacy stateV1
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return DefaultState()
		}
		scope := ScopedState{
			Folders:       legacy.Folders,
			FolderByTitle: legacy.FolderByTitle,
		}.sanitized()
		return State{
			Version:         CurrentVersion,
			ByContext:       map[string]ScopedState{DefaultContextID: scope},
			ActiveContextID: DefaultContextID,
		}

	default:
		return DefaultState()
	}
}
