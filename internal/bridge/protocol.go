// Package bridge defines the typed message protocol between the daemon and
// the injected surface, and the WebSocket server that carries it.
package bridge

import (
	"encoding/json"
	"fmt"

	"studiobridge/internal/entity"
	"studiobridge/internal/store"
)

// ProtocolVersion is the only envelope version this build speaks. Envelopes
// carrying any other version are rejected, never half-interpreted.
const ProtocolVersion = 1

// Message types, surface-bound unless noted.
const (
	// Daemon -> surface.
	TypeEntitiesSync  = "entities-sync"
	TypeActiveContext = "active-context"
	TypeFoldersSync   = "folders-sync"
	TypeBatchProgress = "delete-batch-progress"
	TypeBatchComplete = "delete-batch-complete"
	TypeNativeDrop    = "native-drop"

	// Surface -> daemon.
	TypeSurfaceReady     = "surface-ready"
	TypeOpenEntity       = "open-entity"
	TypeOpenEntityMenu   = "open-entity-menu"
	TypeDeleteEntity     = "delete-entity"
	TypeDeleteBatch      = "delete-batch"
	TypeAddEntity        = "add-entity"
	TypeVisibilityUpdate = "visibility-update"
	TypeFolderCreate     = "folder-create"
	TypeFolderRename     = "folder-rename"
	TypeFolderDelete     = "folder-delete"
	TypeFolderToggle     = "folder-toggle"
	TypeAssignEntity     = "assign-entity"
	TypeAssignBatch      = "assign-batch"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload in a current-version envelope.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		raw = data
	}
	return Envelope{V: ProtocolVersion, Type: msgType, Payload: raw}, nil
}

// EntityRef targets one host entity by list position with a title for
// verification and index-drift fallback. Key travels along so the daemon can
// touch assignments for the same entity.
type EntityRef struct {
	Index int    `json:"index"`
	Title string `json:"title,omitempty"`
	Key   string `json:"key,omitempty"`
}

// EntitiesSyncPayload is the full-snapshot list sync pushed to the surface.
type EntitiesSyncPayload struct {
	Entities  []entity.Entity `json:"entities"`
	Timestamp int64           `json:"timestamp"`
}

// ActiveContextPayload announces the current context identifier.
type ActiveContextPayload struct {
	ContextID string `json:"contextId"`
}

// FoldersSyncPayload pushes the active scope's organization state.
type FoldersSyncPayload struct {
	Folders       []store.Folder      `json:"folders"`
	FolderByKey   store.AssignmentMap `json:"folderByKey"`
	FolderByTitle store.AssignmentMap `json:"folderByTitle"`
}

// BatchProgressPayload reports per-item progress during a batch delete.
// Current increases by exactly one per emission.
type BatchProgressPayload struct {
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	CurrentTitle string `json:"currentTitle,omitempty"`
}

// BatchCompletePayload closes out a batch delete. Success means no item
// failed.
type BatchCompletePayload struct {
	Success      bool     `json:"success"`
	DeletedCount int      `json:"deletedCount"`
	FailedCount  int      `json:"failedCount"`
	Errors       []string `json:"errors"`
}

// NativeDropPayload forwards a drag released over the native host list.
type NativeDropPayload struct {
	Keys   []string `json:"keys"`
	Titles []string `json:"titles"`
}

// VisibilityPayload carries the surface's title-keyed folder assignments so
// the daemon can hide natively-listed entities that are filed into folders.
// Null values mean unassigned and keep the entity visible.
type VisibilityPayload struct {
	FolderByTitle store.AssignmentMap `json:"folderByTitle"`
}

// Surface -> daemon payloads. Targeting resolves by index first and falls
// back to title when the index is absent or invalid.

type OpenEntityPayload struct {
	Index *int   `json:"index,omitempty"`
	Title string `json:"title,omitempty"`
}

type OpenEntityMenuPayload struct {
	Index *int     `json:"index,omitempty"`
	Title string   `json:"title,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
}

type DeleteEntityPayload struct {
	Index *int   `json:"index,omitempty"`
	Title string `json:"title,omitempty"`
}

type DeleteBatchPayload struct {
	Entities []EntityRef `json:"entities"`
}

type FolderCreatePayload struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId,omitempty"`
}

type FolderRenamePayload struct {
	FolderID string `json:"folderId"`
	Name     string `json:"name"`
}

type FolderDeletePayload struct {
	FolderID string `json:"folderId"`
}

type FolderTogglePayload struct {
	FolderID string `json:"folderId"`
}

type AssignEntityPayload struct {
	Key      string `json:"key"`
	Title    string `json:"title,omitempty"`
	FolderID string `json:"folderId"`
}

type AssignBatchPayload struct {
	Entities []AssignEntityPayload `json:"entities"`
	FolderID string                `json:"folderId"`
}

// Command is the closed set of surface-originated requests. Every concrete
// command type lives in this package; dispatch is an exhaustive type switch,
// not string comparison at call sites.
type Command interface {
	commandType() string
}

type SurfaceReady struct{}

type OpenEntity struct {
	Index *int
	Title string
}

type OpenEntityMenu struct {
	Index *int
	Title string
	X, Y  *float64
}

type DeleteEntity struct {
	Index *int
	Title string
}

type DeleteBatch struct{ Entities []EntityRef }

type AddEntity struct{}

type VisibilityUpdate struct{ FolderByTitle store.AssignmentMap }

type FolderCreate struct {
	Name     string
	ParentID *string
}

type FolderRename struct {
	FolderID string
	Name     string
}

type FolderDelete struct{ FolderID string }

type FolderToggle struct{ FolderID string }

type AssignEntity struct {
	Key      string
	Title    string
	FolderID string
}

type AssignBatch struct {
	Entities []AssignEntityPayload
	FolderID string
}

func (SurfaceReady) commandType() string     { return TypeSurfaceReady }
func (OpenEntity) commandType() string       { return TypeOpenEntity }
func (OpenEntityMenu) commandType() string   { return TypeOpenEntityMenu }
func (DeleteEntity) commandType() string     { return TypeDeleteEntity }
func (DeleteBatch) commandType() string      { return TypeDeleteBatch }
func (AddEntity) commandType() string        { return TypeAddEntity }
func (VisibilityUpdate) commandType() string { return TypeVisibilityUpdate }
func (FolderCreate) commandType() string     { return TypeFolderCreate }
func (FolderRename) commandType() string     { return TypeFolderRename }
func (FolderDelete) commandType() string     { return TypeFolderDelete }
func (FolderToggle) commandType() string     { return TypeFolderToggle }
func (AssignEntity) commandType() string     { return TypeAssignEntity }
func (AssignBatch) commandType() string      { return TypeAssignBatch }

// DecodeCommand turns an inbound envelope into a typed command. Unknown types
// and version mismatches are errors the caller logs and drops; a malformed
// payload for a known type is likewise rejected whole.
func DecodeCommand(env Envelope) (Command, error) {
	if env.V != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", env.V)
	}

	switch env.Type {
	case TypeSurfaceReady:
		return SurfaceReady{}, nil

	case TypeOpenEntity:
		var p OpenEntityPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return OpenEntity{Index: p.Index, Title: p.Title}, nil

	case TypeOpenEntityMenu:
		var p OpenEntityMenuPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return OpenEntityMenu{Index: p.Index, Title: p.Title, X: p.X, Y: p.Y}, nil

	case TypeDeleteEntity:
		var p DeleteEntityPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return DeleteEntity{Index: p.Index, Title: p.Title}, nil

	case TypeDeleteBatch:
		var p DeleteBatchPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return DeleteBatch{Entities: p.Entities}, nil

	case TypeAddEntity:
		return AddEntity{}, nil

	case TypeVisibilityUpdate:
		var p VisibilityPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return VisibilityUpdate{FolderByTitle: p.FolderByTitle}, nil

	case TypeFolderCreate:
		var p FolderCreatePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return FolderCreate{Name: p.Name, ParentID: p.ParentID}, nil

	case TypeFolderRename:
		var p FolderRenamePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return FolderRename{FolderID: p.FolderID, Name: p.Name}, nil

	case TypeFolderDelete:
		var p FolderDeletePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return FolderDelete{FolderID: p.FolderID}, nil

	case TypeFolderToggle:
		var p FolderTogglePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return FolderToggle{FolderID: p.FolderID}, nil

	case TypeAssignEntity:
		var p AssignEntityPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return AssignEntity{Key: p.Key, Title: p.Title, FolderID: p.FolderID}, nil

	case TypeAssignBatch:
		var p AssignBatchPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return AssignBatch{Entities: p.Entities, FolderID: p.FolderID}, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func decodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", env.Type, err)
	}
	return nil
}
