package hostpage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"studiobridge/internal/config"
)

// MountResult reports what a single mount pass did. Every field is safe to
// read on repeat passes; the pass is idempotent by construction.
type MountResult struct {
	PanelFound     bool `json:"panelFound"`
	Mounted        bool `json:"mounted"`
	SurfaceCreated bool `json:"surfaceCreated"`
	ListAttached   bool `json:"listAttached"`
	HooksInstalled bool `json:"hooksInstalled"`
}

// Mounter drives the single-pass mount routine: locate the anchor, ensure
// the host element and its shadow-DOM iframe exist, and (re)attach the list
// observer. Safe to call on every re-evaluation trigger.
type Mounter struct {
	ev         Evaluator
	sel        config.SelectorConfig
	surfaceURL string
	log        *zap.Logger
}

// NewMounter returns a mount controller for the given page evaluator.
func NewMounter(ev Evaluator, sel config.SelectorConfig, surfaceURL string, log *zap.Logger) *Mounter {
	return &Mounter{ev: ev, sel: sel, surfaceURL: surfaceURL, log: log}
}

// EnsurePass runs one mount pass. A missing anchor is not an error: the host
// page may still be loading or sitting on a route without the panel, and the
// next trigger retries.
func (m *Mounter) EnsurePass(ctx context.Context) (MountResult, error) {
	raw, err := m.ev.Eval(ctx, mountJS, m.selectorArg(), m.surfaceURL)
	if err != nil {
		return MountResult{}, fmt.Errorf("mount pass: %w", err)
	}
	var res MountResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return MountResult{}, fmt.Errorf("mount pass result: %w", err)
	}
	if res.SurfaceCreated {
		m.log.Info("surface mounted", zap.Bool("list_attached", res.ListAttached))
	}
	return res, nil
}

// Unmount removes the host element and disconnects the observers. Used on
// shutdown so the host page is left as found.
func (m *Mounter) Unmount(ctx context.Context) error {
	_, err := m.ev.Eval(ctx, unmountJS)
	return err
}

func (m *Mounter) selectorArg() map[string]string {
	return map[string]string{
		"panel":         m.sel.Panel,
		"panelFallback": m.sel.PanelFallback,
		"panelRoot":     m.sel.PanelRoot,
		"list":          m.sel.List,
		"listItem":      m.sel.ListItem,
		"itemTitle":     m.sel.ItemTitle,
		"itemDetails":   m.sel.ItemDetails,
	}
}

// mountJS is the whole idempotent mount pass. Existing pieces are detected
// and kept; only missing pieces are created. The in-page side communicates
// exclusively through the window.__studioBridgeEvents buffer, which the Go
// side drains on a timer.
const mountJS = `(sel, surfaceUrl) => {
	const HOST_ID = "studio-bridge-host";
	const BUFFER = "__studioBridgeEvents";
	const MAX_BUFFERED = 500;

	const result = {
		panelFound: false,
		mounted: false,
		surfaceCreated: false,
		listAttached: false,
		hooksInstalled: false,
	};

	const push = (ev) => {
		const buf = window[BUFFER] || (window[BUFFER] = []);
		if (buf.length >= MAX_BUFFERED) buf.shift();
		buf.push(ev);
	};

	// Page-wide hooks install once per document lifetime.
	if (!window.__studioBridgeHooked) {
		window.__studioBridgeHooked = true;
		window[BUFFER] = window[BUFFER] || [];

		const emitNav = () => push({ kind: "navigation", url: location.href });
		const origPush = history.pushState.bind(history);
		history.pushState = function (...args) {
			const r = origPush(...args);
			emitNav();
			return r;
		};
		const origReplace = history.replaceState.bind(history);
		history.replaceState = function (...args) {
			const r = origReplace(...args);
			emitNav();
			return r;
		};
		window.addEventListener("popstate", emitNav);
		window.addEventListener("hashchange", emitNav);

		// Structural watchdog: body-level mutations coalesce to at most one
		// re-evaluation hint per animation frame.
		let watchdogArmed = false;
		const watchdog = new MutationObserver(() => {
			if (watchdogArmed) return;
			watchdogArmed = true;
			requestAnimationFrame(() => {
				watchdogArmed = false;
				push({ kind: "dom-change" });
			});
		});
		watchdog.observe(document.body, { childList: true, subtree: true });

		result.hooksInstalled = true;
	}

	// Anchor: panel, then its scrollable root, with fallbacks.
	const panel =
		document.querySelector(sel.panel) ||
		(sel.panelFallback ? document.querySelector(sel.panelFallback) : null);
	const panelRoot =
		(panel && panel.querySelector(sel.panelRoot)) ||
		document.querySelector(sel.panelRoot) ||
		panel;
	if (!panelRoot) {
		// Anchor gone (navigation in progress): detach the list observer so
		// it cannot fire against a detached subtree.
		if (window.__studioBridgeListObserver) {
			window.__studioBridgeListObserver.disconnect();
			window.__studioBridgeListObserver = null;
			window.__studioBridgeObservedList = null;
		}
		return result;
	}
	result.panelFound = true;

	const list = panelRoot.querySelector(sel.list);

	const extractRows = () => {
		if (!list) return [];
		const rows = [];
		for (const item of list.querySelectorAll(sel.listItem)) {
			const titleEl = item.querySelector(sel.itemTitle);
			const title = titleEl ? titleEl.textContent.trim() : "";
			const detailsEl = sel.itemDetails ? item.querySelector(sel.itemDetails) : null;
			rows.push({
				id: item.getAttribute("data-id") || item.id || "",
				title: title,
				details: detailsEl ? detailsEl.textContent.trim() : "",
			});
		}
		return rows;
	};

	// Host element goes right before the native list so the surface renders
	// where the native list used to. No list yet means prepend and wait.
	let host = document.getElementById(HOST_ID);
	if (!host) {
		host = document.createElement("div");
		host.id = HOST_ID;
		host.style.display = "block";
		host.style.width = "100%";
		if (list && list.parentElement) {
			list.parentElement.insertBefore(host, list);
		} else {
			panelRoot.prepend(host);
		}
	} else if (list && list.parentElement && host.nextElementSibling !== list && host.parentElement !== list.parentElement) {
		list.parentElement.insertBefore(host, list);
	}
	result.mounted = true;

	// Shadow root isolates the surface from host styles; the iframe inside
	// it is created exactly once per host element.
	const shadow = host.shadowRoot || host.attachShadow({ mode: "open" });
	let frame = shadow.getElementById("studio-bridge-frame");
	if (!frame) {
		frame = document.createElement("iframe");
		frame.id = "studio-bridge-frame";
		frame.src = surfaceUrl;
		frame.style.border = "0";
		frame.style.width = "100%";
		frame.style.display = "block";
		shadow.appendChild(frame);
		result.surfaceCreated = true;

		host.addEventListener("dragover", (e) => e.preventDefault());
		host.addEventListener("drop", (e) => {
			e.preventDefault();
			const data = e.dataTransfer && e.dataTransfer.getData("application/x-studio-bridge");
			if (!data) return;
			try {
				const parsed = JSON.parse(data);
				push({ kind: "native-drop", keys: parsed.keys || [], titles: parsed.titles || [] });
			} catch (_) {}
		});
	}

	// Size the surface to the panel on every pass; the panel resizes with
	// the window and with host layout changes.
	const panelHeight = panelRoot.clientHeight;
	if (panelHeight > 0) {
		const want = Math.max(160, Math.floor(panelHeight * 0.5)) + "px";
		if (frame.style.height !== want) frame.style.height = want;
	} else if (!frame.style.height) {
		frame.style.height = "320px";
	}

	// Native items become drag sources so the user can file them into the
	// surface's folders; the drop lands on the host element above.
	if (list) {
		for (const item of list.querySelectorAll(sel.listItem)) {
			if (item.__studioBridgeDraggable) continue;
			item.__studioBridgeDraggable = true;
			item.draggable = true;
			item.addEventListener("dragstart", (e) => {
				const titleEl = item.querySelector(sel.itemTitle);
				const title = titleEl ? titleEl.textContent.trim() : "";
				e.dataTransfer.setData("application/x-studio-bridge", JSON.stringify({
					keys: [item.getAttribute("data-id") || item.id || ""],
					titles: [title],
				}));
				e.dataTransfer.effectAllowed = "move";
			});
		}
	}

	// List observer: many mutations in one task collapse into one snapshot
	// via the microtask debounce.
	if (list && window.__studioBridgeObservedList !== list) {
		if (window.__studioBridgeListObserver) {
			window.__studioBridgeListObserver.disconnect();
		}
		let scheduled = false;
		const observer = new MutationObserver(() => {
			if (scheduled) return;
			scheduled = true;
			queueMicrotask(() => {
				scheduled = false;
				push({ kind: "entities", rows: extractRows() });
			});
		});
		observer.observe(list, { childList: true, subtree: true, characterData: true });
		window.__studioBridgeListObserver = observer;
		window.__studioBridgeObservedList = list;
		push({ kind: "entities", rows: extractRows() });
	}
	result.listAttached = !!list && window.__studioBridgeObservedList === list;

	return result;
}`

const unmountJS = `() => {
	if (window.__studioBridgeListObserver) {
		window.__studioBridgeListObserver.disconnect();
		window.__studioBridgeListObserver = null;
		window.__studioBridgeObservedList = null;
	}
	const host = document.getElementById("studio-bridge-host");
	if (host) host.remove();
	window.__studioBridgeEvents = [];
	return true;
}`
