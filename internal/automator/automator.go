// Package automator drives multi-step UI choreography against the host
// application: opening entities, opening their menus, and the delete flow
// with its menu, confirmation dialog and dismissal waits. Every wait is
// bounded; a missed step fails the operation instead of hanging it.
package automator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"studiobridge/internal/config"
)

// Target names one host entity by list position, with the title carried for
// verification and index-drift recovery.
type Target struct {
	Index int
	Title string
	Key   string
}

func (t Target) String() string {
	if t.Title != "" {
		return fmt.Sprintf("#%d %q", t.Index, t.Title)
	}
	return fmt.Sprintf("#%d", t.Index)
}

// Driver is the DOM-facing half of the automator: primitive clicks and
// presence checks. The automator owns all sequencing and waiting.
type Driver interface {
	// ClickEntity activates an entity, resolving index drift via title.
	ClickEntity(ctx context.Context, index int, title string) error
	// OpenEntityMenu clicks the entity's overflow button.
	OpenEntityMenu(ctx context.Context, index int, title string) error
	// MenuOpen reports whether a menu surface is currently rendered.
	MenuOpen(ctx context.Context) (bool, error)
	// RepositionMenu moves an open menu near the given point (when non-nil)
	// and clamps it into the viewport.
	RepositionMenu(ctx context.Context, x, y *float64) error
	// ClickMenuDelete clicks the delete entry, reporting whether one existed.
	ClickMenuDelete(ctx context.Context) (bool, error)
	// DialogOpen reports whether a confirmation dialog is rendered.
	DialogOpen(ctx context.Context) (bool, error)
	// ClickConfirm clicks the confirming button, never a cancel.
	ClickConfirm(ctx context.Context) (bool, error)
	// DialogGone reports whether the dialog has been dismissed.
	DialogGone(ctx context.Context) (bool, error)
}

// Delete flow states, for logging and tests.
type deleteState string

const (
	stateIdle        deleteState = "idle"
	stateMenuOpening deleteState = "menu-opening"
	stateMenuOpen    deleteState = "menu-open"
	stateConfirming  deleteState = "confirming"
	stateConfirmOpen deleteState = "confirm-open"
	stateDismissing  deleteState = "dismissing"
	stateDone        deleteState = "done"
	stateFailed      deleteState = "failed"
)

// BatchProgress is reported after each item of a batch delete.
type BatchProgress struct {
	Completed int
	Total     int
	Failed    int
	Current   string
}

// BatchResult summarizes a finished batch delete.
type BatchResult struct {
	Total   int
	Deleted int
	Failed  int
	Errors  []string
}

// Automator serializes UI operations against the host page. Concurrent
// requests queue behind the mutex; the host UI cannot service two
// choreographies at once.
type Automator struct {
	mu     sync.Mutex
	driver Driver
	cfg    config.AutomationConfig
	log    *zap.Logger
}

// New returns an automator over the given driver.
func New(driver Driver, cfg config.AutomationConfig, log *zap.Logger) *Automator {
	return &Automator{driver: driver, cfg: cfg, log: log}
}

// Open activates an entity's detail view.
func (a *Automator) Open(ctx context.Context, t Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.driver.ClickEntity(ctx, t.Index, t.Title); err != nil {
		return fmt.Errorf("open %s: %w", t, err)
	}
	return nil
}

// OpenMenu opens an entity's context menu, optionally near the given point,
// clamped to the viewport.
func (a *Automator) OpenMenu(ctx context.Context, t Target, x, y *float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openMenuLocked(ctx, t, x, y)
}

func (a *Automator) openMenuLocked(ctx context.Context, t Target, x, y *float64) error {
	if err := a.driver.OpenEntityMenu(ctx, t.Index, t.Title); err != nil {
		return fmt.Errorf("open menu for %s: %w", t, err)
	}
	if err := a.waitUntil(ctx, a.cfg.MenuWait(), a.driver.MenuOpen); err != nil {
		return fmt.Errorf("menu for %s: %w", t, err)
	}
	if err := a.driver.RepositionMenu(ctx, x, y); err != nil {
		a.log.Debug("menu reposition failed", zap.Error(err))
	}
	return nil
}

// Delete runs the full delete choreography for one entity. Each transition
// has its own bounded wait; any missed step aborts with the state named in
// the error.
func (a *Automator) Delete(ctx context.Context, t Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleteLocked(ctx, t)
}

func (a *Automator) deleteLocked(ctx context.Context, t Target) error {
	state := stateMenuOpening
	fail := func(err error) error {
		failedAt := state
		state = stateFailed
		a.log.Warn("delete flow failed",
			zap.String("target", t.String()),
			zap.String("state", string(failedAt)),
			zap.Error(err))
		return fmt.Errorf("delete %s (%s): %w", t, failedAt, err)
	}

	if err := a.openMenuLocked(ctx, t, nil, nil); err != nil {
		return fail(err)
	}
	state = stateMenuOpen

	state = stateConfirming
	found, err := a.driver.ClickMenuDelete(ctx)
	if err != nil {
		return fail(err)
	}
	if !found {
		return fail(fmt.Errorf("menu has no delete entry"))
	}

	if err := sleepWithContext(ctx, a.cfg.PreDialogDelay()); err != nil {
		return fail(err)
	}
	if err := a.waitUntil(ctx, a.cfg.DialogWait(), a.driver.DialogOpen); err != nil {
		return fail(fmt.Errorf("confirmation dialog: %w", err))
	}
	state = stateConfirmOpen

	confirmed, err := a.driver.ClickConfirm(ctx)
	if err != nil {
		return fail(err)
	}
	if !confirmed {
		return fail(fmt.Errorf("dialog has no confirm button"))
	}
	state = stateDismissing

	if err := a.waitUntil(ctx, a.cfg.DismissWait(), a.driver.DialogGone); err != nil {
		return fail(fmt.Errorf("dialog dismissal: %w", err))
	}
	state = stateDone

	a.log.Info("entity deleted", zap.String("target", t.String()))
	return nil
}

// DeleteBatch deletes several entities sequentially. Indices refer to the
// list as it stood when the batch was requested; every completed delete
// shifts later items up, so each target's index is adjusted by the number of
// deletions so far. A failed item is recorded and the batch continues.
func (a *Automator) DeleteBatch(ctx context.Context, targets []Target, progress func(BatchProgress)) BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := BatchResult{Total: len(targets)}
	deleted := 0

	for i, t := range targets {
		if ctx.Err() != nil {
			result.Failed += len(targets) - i
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t, ctx.Err()))
			break
		}

		adjusted := t
		adjusted.Index = t.Index - deleted
		if adjusted.Index < 0 {
			adjusted.Index = 0
		}

		if err := a.deleteLocked(ctx, adjusted); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
		} else {
			deleted++
			result.Deleted++
		}

		if progress != nil {
			progress(BatchProgress{
				Completed: i + 1,
				Total:     len(targets),
				Failed:    result.Failed,
				Current:   t.Title,
			})
		}

		if i < len(targets)-1 {
			if err := sleepWithContext(ctx, a.cfg.BatchDelay()); err != nil {
				result.Failed += len(targets) - i - 1
				result.Errors = append(result.Errors, err.Error())
				break
			}
		}
	}

	a.log.Info("batch delete finished",
		zap.Int("total", result.Total),
		zap.Int("deleted", result.Deleted),
		zap.Int("failed", result.Failed))
	return result
}

// waitUntil polls check until it reports true, the timeout passes, or the
// context ends.
func (a *Automator) waitUntil(ctx context.Context, timeout time.Duration, check func(context.Context) (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("not observed within %s", timeout)
		case <-ticker.C:
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
