// Package entity models one host-application document as summarized for the
// injected surface, and normalizes raw DOM extraction rows into snapshots.
package entity

import (
	"fmt"
	"strings"
)

const (
	defaultIcon  = "sticky_note_2"
	defaultColor = "grey"
)

// Entity is one host document summarized for the surface. Index is the
// position in the host list at extraction time and is what the automator
// targets; Key is the stable identity used for folder assignment.
type Entity struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Color   string `json:"color,omitempty"`
}

// Raw is one title-bearing row as extracted from the host list, before
// normalization. ID carries a host-provided identifier when one exists.
type Raw struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
}

// DeriveKey returns the stable identity for an entity. A host-provided id
// wins; otherwise the key is synthesized as "index:title". Synthesized keys
// survive re-extraction as long as index and title do not both change at
// once; when they do, the title-keyed assignment map is the fallback.
func DeriveKey(id string, index int, title string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return fmt.Sprintf("%d:%s", index, title)
}

// Normalize turns extraction rows into a snapshot: rows keep document order
// (which defines Index), empty and whitespace-only titles are rejected, and
// keys are made unique within the snapshot. Host-provided ids that collide
// fall back to the synthesized form.
func Normalize(rows []Raw) []Entity {
	out := make([]Entity, 0, len(rows))
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		title := strings.TrimSpace(row.Title)
		if title == "" {
			continue
		}

		index := len(out)
		key := DeriveKey(row.ID, index, title)
		if seen[key] {
			key = DeriveKey("", index, title)
		}
		seen[key] = true

		out = append(out, Entity{
			Index:   index,
			Key:     key,
			Title:   title,
			Details: strings.TrimSpace(row.Details),
			Icon:    defaultIcon,
			Color:   defaultColor,
		})
	}
	return out
}

// SnapshotsEqual reports whether two snapshots describe the same list state.
// Used to suppress redundant re-emissions caused by drains that observed no
// actual list change.
func SnapshotsEqual(a, b []Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
