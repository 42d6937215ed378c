// Package app is the daemon's core: one event loop that owns the mount
// lifecycle, the entity sync pipeline, the context tracker, the store and
// the automation dispatcher. Everything that mutates shared state runs on
// this loop; other goroutines only feed its channels.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"studiobridge/internal/automator"
	"studiobridge/internal/bridge"
	"studiobridge/internal/browser"
	"studiobridge/internal/config"
	"studiobridge/internal/entity"
	"studiobridge/internal/hostpage"
	"studiobridge/internal/store"
)

// restartDelay spaces loop restarts after a panic or a lost page target.
const restartDelay = 2 * time.Second

// App wires the daemon's components together.
type App struct {
	cfg config.Config
	log *zap.Logger

	conn     *browser.Connection
	mounter  *hostpage.Mounter
	observer *hostpage.Observer
	tracker  *hostpage.Tracker
	auto     *automator.Automator
	driver   *automator.DOMDriver
	store    *store.Store
	srv      *bridge.Server

	cmds     chan bridge.Command
	triggers chan hostpage.Trigger
	reloads  chan config.Config
	remount  *coalescer

	lastSnapshot []entity.Entity
	hiddenTitles []string
}

// New assembles the application around an established browser connection and
// a loaded store. The bridge server is created by the caller with this App
// as its handler, then attached via SetBridge.
func New(cfg config.Config, conn *browser.Connection, st *store.Store, log *zap.Logger) *App {
	driver := automator.NewDOMDriver(conn, cfg.Host, cfg.Automation)
	return &App{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		observer: hostpage.NewObserver(conn, cfg.Host.EventDrain(), log),
		tracker:  hostpage.NewTracker(cfg.Host.ContextRegexp()),
		auto:     automator.New(driver, cfg.Automation, log),
		driver:   driver,
		store:    st,
		cmds:     make(chan bridge.Command, 16),
		triggers: make(chan hostpage.Trigger, 16),
		reloads:  make(chan config.Config, 1),
		remount:  newCoalescer(cfg.Host.MountDebounce()),
	}
}

// SetBridge attaches the surface endpoint. Must be called before Run.
func (a *App) SetBridge(srv *bridge.Server) {
	a.srv = srv
	a.mounter = hostpage.NewMounter(a.conn, a.cfg.Host.Selectors, srv.SurfaceURL(), a.log)
}

// ApplyConfig queues a reloaded config for the event loop. Host tuning
// (selectors, tokens, wait bounds) takes effect on the next operation;
// structural settings are ignored until restart.
func (a *App) ApplyConfig(next config.Config) {
	select {
	case a.reloads <- next:
	default:
	}
}

// HandleCommand implements bridge.Handler. Commands queue into the event
// loop; a full queue drops the command rather than blocking the socket read.
func (a *App) HandleCommand(ctx context.Context, cmd bridge.Command) {
	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
	default:
		a.log.Warn("command queue full, dropping command")
	}
}

// Run drives the event loop until the context ends. A panic inside the loop
// is logged and the loop re-armed; one bad event must not take the daemon
// down with the user's browser still augmented.
func (a *App) Run(ctx context.Context) {
	go a.observer.Run(ctx, a.triggers)
	go a.watchNavigation(ctx)

	for ctx.Err() == nil {
		a.runLoop(ctx)
		if ctx.Err() == nil {
			a.log.Warn("event loop stopped, restarting", zap.Duration("delay", restartDelay))
			select {
			case <-time.After(restartDelay):
			case <-ctx.Done():
			}
		}
	}
}

func (a *App) watchNavigation(ctx context.Context) {
	urls := make(chan string, 4)
	go a.conn.WatchNavigation(ctx, urls)
	for {
		select {
		case <-ctx.Done():
			return
		case url := <-urls:
			select {
			case a.triggers <- hostpage.Trigger{Kind: hostpage.EventNavigation, URL: url}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *App) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("event loop panic", zap.Any("panic", r))
		}
	}()

	// Initial pass: mount, derive context, push the first snapshot.
	a.remount.Trigger()
	if url, err := a.conn.CurrentURL(); err == nil {
		a.handleNavigation(ctx, url)
	}

	poll := time.NewTicker(a.cfg.Host.NavigationPoll())
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case trig := <-a.triggers:
			a.handleTrigger(ctx, trig)

		case cmd := <-a.cmds:
			a.dispatch(ctx, cmd)

		case next := <-a.reloads:
			a.applyConfig(next)

		case <-a.remount.C:
			a.mountPass(ctx)

		case <-poll.C:
			if !a.conn.Healthy() {
				a.recoverConnection(ctx)
				continue
			}
			if url, err := a.conn.CurrentURL(); err == nil {
				a.handleNavigation(ctx, url)
			}
		}
	}
}

// applyConfig swaps in reloaded host tuning. Components built around the
// old selectors are rebuilt; the bridge endpoint and browser connection
// keep their startup settings.
func (a *App) applyConfig(next config.Config) {
	a.cfg.Host = next.Host
	a.cfg.Automation = next.Automation
	a.driver = automator.NewDOMDriver(a.conn, a.cfg.Host, a.cfg.Automation)
	a.auto = automator.New(a.driver, a.cfg.Automation, a.log)
	if a.srv != nil {
		a.mounter = hostpage.NewMounter(a.conn, a.cfg.Host.Selectors, a.srv.SurfaceURL(), a.log)
	}
	a.remount.Trigger()
	a.log.Info("host tuning applied from reloaded config")
}

// recoverConnection handles a lost page target: reconnect, reattach, and
// remount once. A host tab that stays closed keeps failing quietly until the
// user reopens it.
func (a *App) recoverConnection(ctx context.Context) {
	a.log.Warn("host page unreachable, reattaching")
	if err := a.conn.Start(ctx); err != nil {
		a.log.Error("browser reconnect failed", zap.Error(err))
		return
	}
	if _, err := a.conn.AttachHostPage(ctx); err != nil {
		a.log.Warn("host page not found", zap.Error(err))
		return
	}
	a.lastSnapshot = nil
	a.remount.Trigger()
}

func (a *App) handleTrigger(ctx context.Context, trig hostpage.Trigger) {
	switch trig.Kind {
	case hostpage.EventNavigation:
		a.handleNavigation(ctx, trig.URL)

	case hostpage.EventDOMChange:
		// Structural churn may have rebuilt the panel; re-run the mount
		// pass through the coalescer.
		a.remount.Trigger()

	case hostpage.EventEntities:
		a.syncEntities(ctx, trig.Entities)

	case hostpage.EventNativeDrop:
		if err := a.srv.SendNativeDrop(ctx, bridge.NativeDropPayload{
			Keys:   trig.Keys,
			Titles: trig.Titles,
		}); err != nil {
			a.log.Warn("native drop forward failed", zap.Error(err))
		}
	}
}

func (a *App) handleNavigation(ctx context.Context, url string) {
	id, changed := a.tracker.Update(url)
	if !changed {
		return
	}
	a.log.Info("context changed", zap.String("context_id", id))

	if err := a.store.SetActiveContext(id); err != nil {
		a.log.Error("context switch failed", zap.Error(err))
		return
	}
	a.pushContextState(ctx)

	// A route change usually rebuilds the panel; re-anchor.
	a.lastSnapshot = nil
	a.remount.Trigger()
}

func (a *App) pushContextState(ctx context.Context) {
	if err := a.srv.SendActiveContext(ctx, a.store.ActiveContextID()); err != nil {
		a.log.Warn("active context push failed", zap.Error(err))
	}
	if err := a.srv.SendFolders(ctx, a.store.Scoped()); err != nil {
		a.log.Warn("folders push failed", zap.Error(err))
	}
}

func (a *App) syncEntities(ctx context.Context, snapshot []entity.Entity) {
	if entity.SnapshotsEqual(a.lastSnapshot, snapshot) {
		return
	}
	a.lastSnapshot = snapshot
	if err := a.srv.SendEntities(ctx, snapshot); err != nil {
		a.log.Warn("entity sync failed", zap.Error(err))
	}
}

func (a *App) mountPass(ctx context.Context) {
	res, err := a.mounter.EnsurePass(ctx)
	if err != nil {
		a.log.Warn("mount pass failed", zap.Error(err))
		a.remount.Trigger()
		return
	}
	if !res.PanelFound {
		// Panel not rendered yet; the navigation poll will trigger again.
		return
	}
	if res.ListAttached && a.lastSnapshot == nil {
		a.refreshSnapshot(ctx)
	}
	if len(a.hiddenTitles) > 0 {
		a.applyVisibility(ctx)
	}
}

func (a *App) refreshSnapshot(ctx context.Context) {
	snapshot, err := a.observer.Extract(ctx, a.extractSelectors())
	if err != nil {
		a.log.Warn("snapshot extraction failed", zap.Error(err))
		return
	}
	a.syncEntities(ctx, snapshot)
}

func (a *App) extractSelectors() map[string]string {
	s := a.cfg.Host.Selectors
	return map[string]string{
		"panel":         s.Panel,
		"panelFallback": s.PanelFallback,
		"panelRoot":     s.PanelRoot,
		"list":          s.List,
		"listItem":      s.ListItem,
		"itemTitle":     s.ItemTitle,
		"itemDetails":   s.ItemDetails,
	}
}

func (a *App) applyVisibility(ctx context.Context) {
	if err := hostpage.ApplyVisibility(ctx, a.conn, a.cfg.Host.Selectors, a.hiddenTitles); err != nil {
		a.log.Warn("visibility update failed", zap.Error(err))
	}
}

func toTarget(ref bridge.EntityRef) automator.Target {
	return automator.Target{Index: ref.Index, Title: ref.Title, Key: ref.Key}
}

// targetOf builds an automator target from an optional index. An absent
// index resolves by title alone inside the driver.
func targetOf(index *int, title string) automator.Target {
	t := automator.Target{Index: -1, Title: title}
	if index != nil {
		t.Index = *index
	}
	return t
}

// dispatch handles one surface command. The switch is exhaustive over the
// protocol's command set; DecodeCommand already rejected everything else.
func (a *App) dispatch(ctx context.Context, cmd bridge.Command) {
	switch c := cmd.(type) {
	case bridge.SurfaceReady:
		a.log.Info("surface ready")
		a.pushContextState(ctx)
		if a.lastSnapshot != nil {
			if err := a.srv.SendEntities(ctx, a.lastSnapshot); err != nil {
				a.log.Warn("snapshot replay failed", zap.Error(err))
			}
		} else {
			a.refreshSnapshot(ctx)
		}

	case bridge.OpenEntity:
		if err := a.auto.Open(ctx, targetOf(c.Index, c.Title)); err != nil {
			a.log.Warn("open entity failed", zap.Error(err))
		}

	case bridge.OpenEntityMenu:
		if err := a.auto.OpenMenu(ctx, targetOf(c.Index, c.Title), c.X, c.Y); err != nil {
			a.log.Warn("open menu failed", zap.Error(err))
		}

	case bridge.DeleteEntity:
		a.observer.Suspend()
		err := a.auto.Delete(ctx, targetOf(c.Index, c.Title))
		a.observer.Resume()
		if err != nil {
			a.log.Warn("delete failed", zap.Error(err))
		}
		a.refreshSnapshot(ctx)

	case bridge.DeleteBatch:
		a.runBatchDelete(ctx, c.Entities)

	case bridge.AddEntity:
		if err := a.driver.ClickAdd(ctx); err != nil {
			a.log.Warn("add entity failed", zap.Error(err))
		}

	case bridge.VisibilityUpdate:
		// Entities filed into folders live in the surface; hide their
		// native rows so they do not appear twice.
		hidden := make([]string, 0, len(c.FolderByTitle))
		for title, folderID := range c.FolderByTitle {
			if folderID != "" {
				hidden = append(hidden, title)
			}
		}
		a.hiddenTitles = hidden
		a.applyVisibility(ctx)

	case bridge.FolderCreate:
		if _, err := a.store.CreateFolder(c.Name, c.ParentID); err != nil {
			a.log.Warn("folder create failed", zap.Error(err))
		}
		a.pushFolders(ctx)

	case bridge.FolderRename:
		if err := a.store.RenameFolder(c.FolderID, c.Name); err != nil {
			a.log.Warn("folder rename failed", zap.Error(err))
		}
		a.pushFolders(ctx)

	case bridge.FolderDelete:
		if err := a.store.DeleteFolder(c.FolderID); err != nil {
			a.log.Warn("folder delete failed", zap.Error(err))
		}
		a.pushFolders(ctx)

	case bridge.FolderToggle:
		if err := a.store.ToggleFolderCollapsed(c.FolderID); err != nil {
			a.log.Warn("folder toggle failed", zap.Error(err))
		}
		a.pushFolders(ctx)

	case bridge.AssignEntity:
		if err := a.store.AssignEntity(c.Key, c.FolderID, c.Title); err != nil {
			a.log.Warn("assignment failed", zap.Error(err))
		}
		a.pushFolders(ctx)

	case bridge.AssignBatch:
		assigns := make([]store.EntityAssign, 0, len(c.Entities))
		for _, e := range c.Entities {
			assigns = append(assigns, store.EntityAssign{Key: e.Key, Title: e.Title})
		}
		if err := a.store.AssignBatch(assigns, c.FolderID); err != nil {
			a.log.Warn("batch assignment failed", zap.Error(err))
		}
		a.pushFolders(ctx)

	default:
		a.log.Warn("unhandled command", zap.Any("command", cmd))
	}
}

func (a *App) pushFolders(ctx context.Context) {
	if err := a.srv.SendFolders(ctx, a.store.Scoped()); err != nil {
		a.log.Warn("folders push failed", zap.Error(err))
	}
}

func (a *App) runBatchDelete(ctx context.Context, refs []bridge.EntityRef) {
	targets := make([]automator.Target, 0, len(refs))
	for _, ref := range refs {
		targets = append(targets, toTarget(ref))
	}

	a.observer.Suspend()
	result := a.auto.DeleteBatch(ctx, targets, func(p automator.BatchProgress) {
		if err := a.srv.SendBatchProgress(ctx, bridge.BatchProgressPayload{
			Current:      p.Completed,
			Total:        p.Total,
			CurrentTitle: p.Current,
		}); err != nil {
			a.log.Debug("progress push failed", zap.Error(err))
		}
	})
	a.observer.Resume()

	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	if err := a.srv.SendBatchComplete(ctx, bridge.BatchCompletePayload{
		Success:      result.Failed == 0,
		DeletedCount: result.Deleted,
		FailedCount:  result.Failed,
		Errors:       errs,
	}); err != nil {
		a.log.Warn("batch completion push failed", zap.Error(err))
	}

	a.refreshSnapshot(ctx)
}
