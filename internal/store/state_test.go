package store

import (
	"encoding/json"
	"testing"
)

func TestParseEmptyAndCorrupt(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"not json", "{nope"},
		{"wrong type", `"a string"`},
		{"unknown future version", `{"version": 9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Parse([]byte(tt.raw))
			if st.Version != CurrentVersion {
				t.Errorf("expected version %d, got %d", CurrentVersion, st.Version)
			}
			if st.ActiveContextID != DefaultContextID {
				t.Errorf("expected default context, got %q", st.ActiveContextID)
			}
			if _, ok := st.ByContext[DefaultContextID]; !ok {
				t.Error("default scope missing")
			}
		})
	}
}

func TestParseV1(t *testing.T) {
	raw := `{
		"version": 1,
		"folders": [{"id": "f1", "name": "Work", "parentId": null, "collapsed": false, "createdAt": 100}],
		"notebookFolderByTitle": {"A": "f1", "B": null}
	}`

	st := Parse([]byte(raw))
	if st.Version != CurrentVersion {
		t.Fatalf("expected version %d, got %d", CurrentVersion, st.Version)
	}
	scope, ok := st.ByContext[DefaultContextID]
	if !ok {
		t.Fatal("v1 data should land in the default context")
	}
	if len(scope.Folders) != 1 || scope.Folders[0].Name != "Work" {
		t.Errorf("folders not carried over: %+v", scope.Folders)
	}
	if scope.FolderByTitle["A"] != "f1" {
		t.Errorf("title assignment lost: %+v", scope.FolderByTitle)
	}
	if v, ok := scope.FolderByTitle["B"]; !ok || v != "" {
		t.Errorf("null assignment should survive as unassigned, got %q ok=%v", v, ok)
	}
	if scope.FolderByKey == nil || len(scope.FolderByKey) != 0 {
		t.Errorf("v1 has no key map; expected empty, got %+v", scope.FolderByKey)
	}
}

func TestParseV2(t *testing.T) {
	raw := `{
		"version": 2,
		"folders": [{"id": "f1", "name": "Work", "parentId": null, "collapsed": true, "createdAt": 5}],
		"notebookFolderByKey": {"0:A": "f1"},
		"notebookFolderByTitle": {"A": "f1"}
	}`

	st := Parse([]byte(raw))
	scope := st.ByContext[DefaultContextID]
	if scope.FolderByKey["0:A"] != "f1" {
		t.Errorf("key assignment lost: %+v", scope.FolderByKey)
	}
	if scope.FolderByTitle["A"] != "f1" {
		t.Errorf("title assignment lost: %+v", scope.FolderByTitle)
	}
	if !scope.Folders[0].Collapsed {
		t.Error("collapsed flag lost in migration")
	}
}

func TestParseV3RoundTrip(t *testing.T) {
	st := DefaultState()
	st.ByContext["ctx-1"] = ScopedState{
		Folders:       []Folder{{ID: "f1", Name: "Ideas", CreatedAt: 9}},
		FolderByKey:   AssignmentMap{"0:A": "f1", "1:B": ""},
		FolderByTitle: AssignmentMap{"A": "f1"},
	}
	st.ActiveContextID = "ctx-1"

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got := Parse(data)
	if got.ActiveContextID != "ctx-1" {
		t.Errorf("active context lost: %q", got.ActiveContextID)
	}
	scope := got.ByContext["ctx-1"]
	if scope.FolderByKey["0:A"] != "f1" {
		t.Errorf("assignment lost: %+v", scope.FolderByKey)
	}
	if v, ok := scope.FolderByKey["1:B"]; !ok || v != "" {
		t.Errorf("unassigned entry should round-trip, got %q ok=%v", v, ok)
	}

	// A second parse of the re-marshalled form must be a fixed point.
	data2, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	again := Parse(data2)
	d1, _ := json.Marshal(got)
	d2, _ := json.Marshal(again)
	if string(d1) != string(d2) {
		t.Errorf("migration not idempotent:\n%s\n%s", d1, d2)
	}
}

func TestParseV3DanglingActive(t *testing.T) {
	raw := `{"version": 3, "byNotebook": {"ctx-1": {"folders": [], "notebookFolderByKey": {}, "notebookFolderByTitle": {}}}, "activeNotebookId": "gone"}`
	st := Parse([]byte(raw))
	if st.ActiveContextID != DefaultContextID {
		t.Errorf("dangling active context should reset to default, got %q", st.ActiveContextID)
	}
	if _, ok := st.ByContext[DefaultContextID]; !ok {
		t.Error("default scope should be created for the reset active context")
	}
	if _, ok := st.ByContext["ctx-1"]; !ok {
		t.Error("existing context must not be dropped")
	}
}

func TestAssignmentMapNullEncoding(t *testing.T) {
	m := AssignmentMap{"keep": "f1", "drop": ""}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["keep"] == nil || *raw["keep"] != "f1" {
		t.Errorf("assigned entry mangled: %v", raw["keep"])
	}
	if raw["drop"] != nil {
		t.Errorf("unassigned entry must encode as null, got %q", *raw["drop"])
	}

	var back AssignmentMap
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if v, ok := back["drop"]; !ok || v != "" {
		t.Errorf("null should decode to empty string, got %q ok=%v", v, ok)
	}
}
