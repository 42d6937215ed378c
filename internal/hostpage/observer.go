package hostpage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"studiobridge/internal/entity"
)

// PageEvent is one decoded in-page event from the drain buffer.
type PageEvent struct {
	Kind   string       `json:"kind"`
	URL    string       `json:"url,omitempty"`
	Rows   []entity.Raw `json:"rows,omitempty"`
	Keys   []string     `json:"keys,omitempty"`
	Titles []string     `json:"titles,omitempty"`
}

// Event kinds produced by the in-page hooks.
const (
	EventEntities   = "entities"
	EventNavigation = "navigation"
	EventNativeDrop = "native-drop"
	EventDOMChange  = "dom-change"
)

// Trigger is what the observer hands the application core: a reason to
// re-evaluate, a fresh entity snapshot, or a forwarded drop.
type Trigger struct {
	Kind     string
	URL      string
	Entities []entity.Entity
	Keys     []string
	Titles   []string
}

// Observer drains the in-page event buffer on a fixed interval and turns the
// raw events into triggers. Within one drain only the newest entity snapshot
// is forwarded; intermediate snapshots describe states that no longer exist.
type Observer struct {
	ev        Evaluator
	interval  time.Duration
	log       *zap.Logger
	suspended atomic.Bool
}

// NewObserver returns a drain loop over the given evaluator.
func NewObserver(ev Evaluator, interval time.Duration, log *zap.Logger) *Observer {
	return &Observer{ev: ev, interval: interval, log: log}
}

// Suspend stops entity snapshots from being forwarded. Automation that
// mutates the list (batch deletes) suspends the observer so its own churn
// does not echo back as sync traffic. Navigation and drop events still flow.
func (o *Observer) Suspend() { o.suspended.Store(true) }

// Resume re-enables entity forwarding.
func (o *Observer) Resume() { o.suspended.Store(false) }

// Run drains until the context is cancelled, sending triggers to out. Drain
// failures are logged and retried on the next tick; a page mid-navigation
// routinely fails a drain or two.
func (o *Observer) Run(ctx context.Context, out chan<- Trigger) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := o.drain(ctx)
			if err != nil {
				o.log.Debug("event drain failed", zap.Error(err))
				continue
			}
			for _, trig := range o.reduce(events) {
				select {
				case out <- trig:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (o *Observer) drain(ctx context.Context) ([]PageEvent, error) {
	raw, err := o.ev.Eval(ctx, drainJS)
	if err != nil {
		return nil, err
	}
	var events []PageEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode drained events: %w", err)
	}
	return events, nil
}

// reduce collapses one drain's worth of events into triggers: the last
// entity snapshot (unless suspended), the last navigation URL, and every
// drop in order.
func (o *Observer) reduce(events []PageEvent) []Trigger {
	var out []Trigger
	var lastEntities *PageEvent
	var lastNav *PageEvent
	domChanged := false

	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case EventEntities:
			lastEntities = ev
		case EventNavigation:
			lastNav = ev
		case EventDOMChange:
			domChanged = true
		case EventNativeDrop:
			out = append(out, Trigger{Kind: EventNativeDrop, Keys: ev.Keys, Titles: ev.Titles})
		default:
			o.log.Debug("unknown page event", zap.String("kind", ev.Kind))
		}
	}

	if domChanged {
		out = append(out, Trigger{Kind: EventDOMChange})
	}
	if lastNav != nil {
		out = append(out, Trigger{Kind: EventNavigation, URL: lastNav.URL})
	}
	if lastEntities != nil && !o.suspended.Load() {
		out = append(out, Trigger{Kind: EventEntities, Entities: entity.Normalize(lastEntities.Rows)})
	}
	return out
}

// Extract pulls a snapshot directly, bypassing the buffer. Used for the
// initial sync after mount and the post-automation refresh.
func (o *Observer) Extract(ctx context.Context, sel map[string]string) ([]entity.Entity, error) {
	raw, err := o.ev.Eval(ctx, extractJS, sel)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	var rows []entity.Raw
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode extracted rows: %w", err)
	}
	return entity.Normalize(rows), nil
}

// drainJS swaps the buffer atomically so events arriving during the drain
// land in the next batch instead of being lost.
const drainJS = `() => {
	const buf = window.__studioBridgeEvents || [];
	window.__studioBridgeEvents = [];
	return buf;
}`

const extractJS = `(sel) => {
	const panel =
		document.querySelector(sel.panel) ||
		(sel.panelFallback ? document.querySelector(sel.panelFallback) : null);
	const panelRoot =
		(panel && panel.querySelector(sel.panelRoot)) ||
		document.querySelector(sel.panelRoot) ||
		panel;
	const list = panelRoot ? panelRoot.querySelector(sel.list) : null;
	if (!list) return [];
	const rows = [];
	for (const item of list.querySelectorAll(sel.listItem)) {
		const titleEl = item.querySelector(sel.itemTitle);
		const detailsEl = sel.itemDetails ? item.querySelector(sel.itemDetails) : null;
		rows.push({
			id: item.getAttribute("data-id") || item.id || "",
			title: titleEl ? titleEl.textContent.trim() : "",
			details: detailsEl ? detailsEl.textContent.trim() : "",
		});
	}
	return rows;
}`
