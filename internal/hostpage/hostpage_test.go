package hostpage

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap"

	"studiobridge/internal/config"
	"studiobridge/internal/entity"
)

// fakeEvaluator returns canned results per call, in order.
type fakeEvaluator struct {
	results []string
	errs    []error
	calls   int
	lastJS  string
}

func (f *fakeEvaluator) Eval(_ context.Context, js string, _ ...any) (json.RawMessage, error) {
	f.lastJS = js
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return json.RawMessage(f.results[i]), nil
	}
	return json.RawMessage(`null`), nil
}

func TestTrackerDerivesFromPattern(t *testing.T) {
	tr := NewTracker(regexp.MustCompile(`/notebook/([0-9a-fA-F-]{8,})`))

	tests := []struct {
		name        string
		url         string
		expected    string
		wantChanged bool
	}{
		{"first match", "https://notebooklm.google.com/notebook/abcd1234-ef", "abcd1234-ef", true},
		{"same context", "https://notebooklm.google.com/notebook/abcd1234-ef?tab=2", "abcd1234-ef", false},
		{"different context", "https://notebooklm.google.com/notebook/ffff0000-11", "ffff0000-11", true},
		{"no match falls back to full url", "https://notebooklm.google.com/", "https://notebooklm.google.com/", true},
		{"rematch", "https://notebooklm.google.com/notebook/ffff0000-11", "ffff0000-11", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, changed := tr.Update(tt.url)
			if id != tt.expected {
				t.Errorf("expected id %q, got %q", tt.expected, id)
			}
			if changed != tt.wantChanged {
				t.Errorf("expected changed=%v, got %v", tt.wantChanged, changed)
			}
		})
	}
}

func TestTrackerNilPattern(t *testing.T) {
	tr := NewTracker(nil)
	id, changed := tr.Update("https://example.com/a")
	if id != "https://example.com/a" || !changed {
		t.Errorf("nil pattern should use the full URL: %q changed=%v", id, changed)
	}
}

func TestObserverReduceKeepsNewestSnapshot(t *testing.T) {
	o := NewObserver(nil, time.Second, zap.NewNop())

	events := []PageEvent{
		{Kind: EventEntities, Rows: []entity.Raw{{Title: "stale"}}},
		{Kind: EventNavigation, URL: "https://x/1"},
		{Kind: EventEntities, Rows: []entity.Raw{{Title: "fresh"}}},
		{Kind: EventNavigation, URL: "https://x/2"},
	}

	triggers := o.reduce(events)
	if len(triggers) != 2 {
		t.Fatalf("expected nav + entities, got %d triggers", len(triggers))
	}
	if triggers[0].Kind != EventNavigation || triggers[0].URL != "https://x/2" {
		t.Errorf("expected only the last navigation, got %+v", triggers[0])
	}
	if triggers[1].Kind != EventEntities || len(triggers[1].Entities) != 1 || triggers[1].Entities[0].Title != "fresh" {
		t.Errorf("expected only the newest snapshot, got %+v", triggers[1])
	}
}

func TestObserverReduceSuspended(t *testing.T) {
	o := NewObserver(nil, time.Second, zap.NewNop())
	o.Suspend()

	triggers := o.reduce([]PageEvent{
		{Kind: EventEntities, Rows: []entity.Raw{{Title: "A"}}},
		{Kind: EventNativeDrop, Keys: []string{"0:A"}, Titles: []string{"A"}},
	})
	if len(triggers) != 1 || triggers[0].Kind != EventNativeDrop {
		t.Fatalf("suspension must drop entity triggers but keep drops: %+v", triggers)
	}

	o.Resume()
	triggers = o.reduce([]PageEvent{{Kind: EventEntities, Rows: []entity.Raw{{Title: "A"}}}})
	if len(triggers) != 1 || triggers[0].Kind != EventEntities {
		t.Fatalf("resume must restore entity triggers: %+v", triggers)
	}
}

func TestObserverReduceCoalescesDOMChanges(t *testing.T) {
	o := NewObserver(nil, time.Second, zap.NewNop())
	triggers := o.reduce([]PageEvent{
		{Kind: EventDOMChange},
		{Kind: EventDOMChange},
		{Kind: EventDOMChange},
	})
	if len(triggers) != 1 || triggers[0].Kind != EventDOMChange {
		t.Fatalf("dom churn must collapse to one trigger per drain: %+v", triggers)
	}
}

func TestObserverReduceDropOrder(t *testing.T) {
	o := NewObserver(nil, time.Second, zap.NewNop())
	triggers := o.reduce([]PageEvent{
		{Kind: EventNativeDrop, Titles: []string{"A"}},
		{Kind: EventNativeDrop, Titles: []string{"B"}},
	})
	if len(triggers) != 2 || triggers[0].Titles[0] != "A" || triggers[1].Titles[0] != "B" {
		t.Fatalf("drops must all forward in order: %+v", triggers)
	}
}

func TestObserverExtract(t *testing.T) {
	ev := &fakeEvaluator{results: []string{
		`[{"id": "", "title": "A", "details": "2 sources"}, {"id": "", "title": "  "}, {"title": "B"}]`,
	}}
	o := NewObserver(ev, time.Second, zap.NewNop())

	got, err := o.Extract(context.Background(), map[string]string{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("blank titles must be dropped, got %d", len(got))
	}
	if got[0].Key != "0:A" || got[1].Key != "1:B" {
		t.Errorf("normalization wrong: %+v", got)
	}
}

func TestMounterEnsurePass(t *testing.T) {
	ev := &fakeEvaluator{results: []string{
		`{"panelFound": true, "mounted": true, "surfaceCreated": true, "listAttached": true, "hooksInstalled": true}`,
		`{"panelFound": true, "mounted": true, "surfaceCreated": false, "listAttached": true, "hooksInstalled": false}`,
	}}
	m := NewMounter(ev, config.DefaultConfig().Host.Selectors, "http://127.0.0.1:8787/", zap.NewNop())

	first, err := m.EnsurePass(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !first.SurfaceCreated || !first.ListAttached {
		t.Errorf("first pass should create: %+v", first)
	}

	second, err := m.EnsurePass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.SurfaceCreated {
		t.Errorf("repeat pass must not re-create the surface: %+v", second)
	}
}

func TestMounterMissingAnchor(t *testing.T) {
	ev := &fakeEvaluator{results: []string{
		`{"panelFound": false, "mounted": false, "surfaceCreated": false, "listAttached": false, "hooksInstalled": true}`,
	}}
	m := NewMounter(ev, config.DefaultConfig().Host.Selectors, "http://127.0.0.1:8787/", zap.NewNop())

	res, err := m.EnsurePass(context.Background())
	if err != nil {
		t.Fatalf("missing anchor is not an error: %v", err)
	}
	if res.PanelFound || res.Mounted {
		t.Errorf("expected a no-op pass: %+v", res)
	}
}
