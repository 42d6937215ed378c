package automator

import (
	"context"
	"encoding/json"
	"fmt"

	"studiobridge/internal/config"
	"studiobridge/internal/hostpage"
)

// DOMDriver implements Driver over the host page evaluator. All element
// lookup happens inside the page in a single evaluation per primitive, so
// there are no stale element handles to manage.
type DOMDriver struct {
	ev   hostpage.Evaluator
	host config.HostConfig
	cfg  config.AutomationConfig
}

// NewDOMDriver returns the production driver.
func NewDOMDriver(ev hostpage.Evaluator, host config.HostConfig, cfg config.AutomationConfig) *DOMDriver {
	return &DOMDriver{ev: ev, host: host, cfg: cfg}
}

func (d *DOMDriver) selectors() map[string]string {
	s := d.host.Selectors
	return map[string]string{
		"panel":            s.Panel,
		"panelFallback":    s.PanelFallback,
		"panelRoot":        s.PanelRoot,
		"list":             s.List,
		"listItem":         s.ListItem,
		"itemTitle":        s.ItemTitle,
		"itemButton":       s.ItemButton,
		"itemMoreButton":   s.ItemMoreButton,
		"overlayContainer": s.OverlayContainer,
		"menuPanel":        s.MenuPanel,
		"confirmDialog":    s.ConfirmDialog,
		"addButton":        s.AddButton,
	}
}

// clickResult is what the click primitives return from the page.
type clickResult struct {
	Clicked bool   `json:"clicked"`
	Reason  string `json:"reason,omitempty"`
}

func (d *DOMDriver) evalClick(ctx context.Context, js string, args ...any) error {
	raw, err := d.ev.Eval(ctx, js, args...)
	if err != nil {
		return err
	}
	var res clickResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode click result: %w", err)
	}
	if !res.Clicked {
		return fmt.Errorf("%s", res.Reason)
	}
	return nil
}

func (d *DOMDriver) evalBool(ctx context.Context, js string, args ...any) (bool, error) {
	raw, err := d.ev.Eval(ctx, js, args...)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("decode check result: %w", err)
	}
	return ok, nil
}

func (d *DOMDriver) ClickEntity(ctx context.Context, index int, title string) error {
	return d.evalClick(ctx, clickEntityJS, d.selectors(), index, title, false)
}

func (d *DOMDriver) OpenEntityMenu(ctx context.Context, index int, title string) error {
	return d.evalClick(ctx, clickEntityJS, d.selectors(), index, title, true)
}

func (d *DOMDriver) MenuOpen(ctx context.Context) (bool, error) {
	return d.evalBool(ctx, menuOpenJS, d.selectors())
}

func (d *DOMDriver) RepositionMenu(ctx context.Context, x, y *float64) error {
	_, err := d.ev.Eval(ctx, repositionMenuJS, d.selectors(), d.cfg.ViewportMargin, x, y)
	return err
}

func (d *DOMDriver) ClickMenuDelete(ctx context.Context) (bool, error) {
	return d.evalBool(ctx, clickMenuDeleteJS, d.selectors(), d.host.DeleteTokens)
}

func (d *DOMDriver) DialogOpen(ctx context.Context) (bool, error) {
	return d.evalBool(ctx, dialogOpenJS, d.selectors())
}

func (d *DOMDriver) ClickConfirm(ctx context.Context) (bool, error) {
	return d.evalBool(ctx, clickConfirmJS, d.selectors(), d.host.CancelTokens)
}

func (d *DOMDriver) DialogGone(ctx context.Context) (bool, error) {
	open, err := d.evalBool(ctx, dialogOpenJS, d.selectors())
	return !open, err
}

// ClickAdd presses the host's native "new entity" button.
func (d *DOMDriver) ClickAdd(ctx context.Context) error {
	return d.evalClick(ctx, clickAddJS, d.selectors())
}

// clickEntityJS resolves the target item and clicks either its activation
// surface or its overflow button. Index drift is recovered through the
// title: when the item at the index no longer carries the expected title,
// the list is searched for the title instead.
const clickEntityJS = `(sel, index, title, moreButton) => {
	const panel =
		document.querySelector(sel.panel) ||
		(sel.panelFallback ? document.querySelector(sel.panelFallback) : null);
	const panelRoot =
		(panel && panel.querySelector(sel.panelRoot)) ||
		document.querySelector(sel.panelRoot) ||
		panel;
	const list = panelRoot ? panelRoot.querySelector(sel.list) : null;
	if (!list) return { clicked: false, reason: "entity list not found" };

	const items = Array.from(list.querySelectorAll(sel.listItem));
	const titleOf = (item) => {
		const el = item.querySelector(sel.itemTitle);
		return el ? el.textContent.trim() : "";
	};

	let item = index >= 0 && index < items.length ? items[index] : null;
	if (title) {
		if (!item || titleOf(item) !== title) {
			item = items.find((it) => titleOf(it) === title) || null;
		}
	}
	if (!item) {
		return { clicked: false, reason: "no item at index " + index + (title ? " titled " + JSON.stringify(title) : "") };
	}

	let target;
	if (moreButton) {
		target = item.querySelector(sel.itemMoreButton);
		if (!target) return { clicked: false, reason: "item has no menu button" };
	} else {
		target = item.querySelector(sel.itemButton) || item;
	}
	target.click();
	return { clicked: true };
}`

const menuOpenJS = `(sel) => {
	const overlay = document.querySelector(sel.overlayContainer);
	if (!overlay) return false;
	const menu = overlay.querySelector(sel.menuPanel);
	return !!(menu && menu.offsetParent !== null);
}`

// repositionMenuJS moves the open menu panel near the requested point (when
// one is given) and clamps it into the viewport. The host positions overlays
// against the trigger; near the viewport edge that can push the panel partly
// off-screen.
const repositionMenuJS = `(sel, margin, x, y) => {
	const overlay = document.querySelector(sel.overlayContainer);
	const menu = overlay ? overlay.querySelector(sel.menuPanel) : null;
	if (!menu) return false;

	const box = menu.closest(".cdk-overlay-pane") || menu;
	if (x != null && y != null) {
		box.style.position = "fixed";
		box.style.left = x + "px";
		box.style.top = y + "px";
	}
	const rect = box.getBoundingClientRect();
	let dx = 0, dy = 0;
	if (rect.right > window.innerWidth - margin) dx = window.innerWidth - margin - rect.right;
	if (rect.left + dx < margin) dx = margin - rect.left;
	if (rect.bottom > window.innerHeight - margin) dy = window.innerHeight - margin - rect.bottom;
	if (rect.top + dy < margin) dy = margin - rect.top;
	if (dx || dy) {
		box.style.transform = "translate(" + dx + "px, " + dy + "px)";
	}
	return true;
}`

// clickMenuDeleteJS matches menu entries against the configured delete
// tokens, case-insensitively on normalized text.
const clickMenuDeleteJS = `(sel, tokens) => {
	const overlay = document.querySelector(sel.overlayContainer);
	const menu = overlay ? overlay.querySelector(sel.menuPanel) : null;
	if (!menu) return false;

	const entries = menu.querySelectorAll("button, [role=menuitem]");
	for (const entry of entries) {
		const text = (entry.textContent || "").trim().toLowerCase();
		if (tokens.some((tok) => text.includes(tok))) {
			entry.click();
			return true;
		}
	}
	return false;
}`

const dialogOpenJS = `(sel) => {
	const dialog = document.querySelector(sel.confirmDialog);
	return !!(dialog && dialog.offsetParent !== null);
}`

// clickConfirmJS clicks the confirming button of the dialog. Buttons whose
// text matches a cancel token are never clicked; among the rest the last one
// wins, matching the host's affirmative-button placement.
const clickConfirmJS = `(sel, cancelTokens) => {
	const dialog = document.querySelector(sel.confirmDialog);
	if (!dialog) return false;

	const buttons = Array.from(dialog.querySelectorAll("button"));
	const candidates = buttons.filter((b) => {
		const text = (b.textContent || "").trim().toLowerCase();
		return text && !cancelTokens.some((tok) => text.includes(tok));
	});
	if (!candidates.length) return false;
	candidates[candidates.length - 1].click();
	return true;
}`

const clickAddJS = `(sel) => {
	const button = document.querySelector(sel.addButton);
	if (!button) return { clicked: false, reason: "add button not found" };
	button.click();
	return { clicked: true };
}`
