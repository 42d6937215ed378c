package hostpage

import (
	"context"
	"fmt"

	"studiobridge/internal/config"
)

// ApplyVisibility hides native list items whose titles the surface filed
// into collapsed folders, and restores everything else. The native list
// stays the source of truth; this only toggles display.
func ApplyVisibility(ctx context.Context, ev Evaluator, sel config.SelectorConfig, hiddenTitles []string) error {
	if hiddenTitles == nil {
		hiddenTitles = []string{}
	}
	_, err := ev.Eval(ctx, visibilityJS, map[string]string{
		"panel":         sel.Panel,
		"panelFallback": sel.PanelFallback,
		"panelRoot":     sel.PanelRoot,
		"list":          sel.List,
		"listItem":      sel.ListItem,
		"itemTitle":     sel.ItemTitle,
	}, hiddenTitles)
	if err != nil {
		return fmt.Errorf("apply visibility: %w", err)
	}
	return nil
}

const visibilityJS = `(sel, hiddenTitles) => {
	const hidden = new Set(hiddenTitles);
	const panel =
		document.querySelector(sel.panel) ||
		(sel.panelFallback ? document.querySelector(sel.panelFallback) : null);
	const panelRoot =
		(panel && panel.querySelector(sel.panelRoot)) ||
		document.querySelector(sel.panelRoot) ||
		panel;
	const list = panelRoot ? panelRoot.querySelector(sel.list) : null;
	if (!list) return 0;

	let toggled = 0;
	for (const item of list.querySelectorAll(sel.listItem)) {
		const titleEl = item.querySelector(sel.itemTitle);
		const title = titleEl ? titleEl.textContent.trim() : "";
		const want = hidden.has(title) ? "none" : "";
		if (item.style.display !== want) {
			item.style.display = want;
			toggled++;
		}
	}
	return toggled;
}`
