package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"studiobridge/internal/config"
	"studiobridge/internal/entity"
	"studiobridge/internal/store"
)

// Handler receives decoded surface commands. Implementations must not block;
// the read loop delivers commands one at a time.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command)
}

// Server owns the surface-facing endpoint: it serves the surface document for
// the injected iframe and carries the bridge protocol over a websocket. At
// most one surface connection is live; a newer connection replaces the old
// one, which matches the surface being remounted after navigation.
type Server struct {
	cfg       config.BridgeConfig
	origin    string
	validator *Validator
	handler   Handler
	log       *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	httpServer *http.Server
}

// NewServer builds the bridge endpoint. hostOrigin is the host application
// origin; together with the bridge's own origin it forms the accept list for
// the websocket handshake.
func NewServer(cfg config.BridgeConfig, hostOrigin string, handler Handler, log *zap.Logger) (*Server, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile payload schemas: %w", err)
	}
	return &Server{
		cfg:       cfg,
		origin:    hostOrigin,
		validator: validator,
		handler:   handler,
		log:       log,
	}, nil
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	if s.cfg.SurfaceDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.SurfaceDir)))
	} else {
		mux.HandleFunc("/", s.serveBootstrap)
	}
	mux.HandleFunc("/ws", s.serveWS)

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("bridge listening", zap.String("addr", s.cfg.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// SurfaceURL is where the injected iframe should load the surface document.
func (s *Server) SurfaceURL() string {
	return "http://" + s.cfg.ListenAddr + "/"
}

func (s *Server) serveBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(bootstrapPage))
}

// originPatterns builds the handshake accept list: the bridge's own origin
// (surface served by us), the host origin (direct embedding), plus any
// configured extras. Patterns are host-only per the websocket library.
func (s *Server) originPatterns() []string {
	patterns := []string{s.cfg.ListenAddr}
	if u, err := url.Parse(s.origin); err == nil && u.Host != "" {
		patterns = append(patterns, u.Host)
	}
	for _, o := range s.cfg.AllowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.log.Warn("websocket accept rejected", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		// The previous surface is stale; a remount replaced it.
		_ = s.conn.Close(websocket.StatusPolicyViolation, "replaced by newer surface")
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("surface connected", zap.String("remote", r.RemoteAddr))
	s.readLoop(r.Context(), conn)

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	s.log.Info("surface disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				s.log.Debug("surface read ended", zap.Error(err))
			}
			return
		}

		if err := s.validator.Validate(env); err != nil {
			s.log.Warn("rejected surface message", zap.Error(err))
			continue
		}
		cmd, err := DecodeCommand(env)
		if err != nil {
			s.log.Warn("rejected surface message", zap.Error(err))
			continue
		}

		s.handler.HandleCommand(ctx, cmd)
	}
}

func (s *Server) send(ctx context.Context, msgType string, payload any) error {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		// No surface yet; state pushes are replayed on surface-ready.
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, env); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// SendEntities pushes a full entity snapshot to the surface.
func (s *Server) SendEntities(ctx context.Context, entities []entity.Entity) error {
	return s.send(ctx, TypeEntitiesSync, EntitiesSyncPayload{
		Entities:  entities,
		Timestamp: time.Now().UnixMilli(),
	})
}

// SendActiveContext announces the active context identifier.
func (s *Server) SendActiveContext(ctx context.Context, contextID string) error {
	return s.send(ctx, TypeActiveContext, ActiveContextPayload{ContextID: contextID})
}

// SendFolders pushes the active scope's organization state.
func (s *Server) SendFolders(ctx context.Context, scope store.ScopedState) error {
	return s.send(ctx, TypeFoldersSync, FoldersSyncPayload{
		Folders:       scope.Folders,
		FolderByKey:   scope.FolderByKey,
		FolderByTitle: scope.FolderByTitle,
	})
}

// SendBatchProgress reports one completed (or failed) item of a batch delete.
func (s *Server) SendBatchProgress(ctx context.Context, p BatchProgressPayload) error {
	return s.send(ctx, TypeBatchProgress, p)
}

// SendBatchComplete closes out a batch delete.
func (s *Server) SendBatchComplete(ctx context.Context, p BatchCompletePayload) error {
	return s.send(ctx, TypeBatchComplete, p)
}

// SendNativeDrop forwards a drag released over the native list.
func (s *Server) SendNativeDrop(ctx context.Context, p NativeDropPayload) error {
	return s.send(ctx, TypeNativeDrop, p)
}

// bootstrapPage is the minimal built-in surface document, used when no
// surface_dir is configured. It renders the synced entity list read-only and
// proves the protocol end to end; a real deployment points surface_dir at
// the full UI build.
const bootstrapPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>StudioBridge</title>
<style>
  body { font: 13px system-ui, sans-serif; margin: 0; padding: 8px; color: #202124; }
  h1 { font-size: 13px; font-weight: 600; margin: 0 0 8px; }
  ul { list-style: none; margin: 0; padding: 0; }
  li { padding: 6px 8px; border-radius: 6px; cursor: pointer; }
  li:hover { background: #f1f3f4; }
  .details { color: #5f6368; font-size: 11px; }
  #status { color: #5f6368; font-size: 11px; margin-bottom: 8px; }
</style>
</head>
<body>
<h1>StudioBridge</h1>
<div id="status">connecting&hellip;</div>
<ul id="list"></ul>
<script>
(function () {
  var ws = new WebSocket("ws://" + location.host + "/ws");
  var status = document.getElementById("status");
  var list = document.getElementById("list");

  function send(type, payload) {
    ws.send(JSON.stringify({ v: 1, type: type, payload: payload }));
  }

  ws.onopen = function () {
    status.textContent = "connected";
    send("surface-ready", null);
  };
  ws.onclose = function () { status.textContent = "disconnected"; };

  ws.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.v !== 1) return;
    if (msg.type === "entities-sync") {
      list.textContent = "";
      (msg.payload.entities || []).forEach(function (e) {
        var li = document.createElement("li");
        li.textContent = e.title;
        if (e.details) {
          var d = document.createElement("span");
          d.className = "details";
          d.textContent = " " + e.details;
          li.appendChild(d);
        }
        li.onclick = function () {
          send("open-entity", { index: e.index, title: e.title });
        };
        list.appendChild(li);
      });
    } else if (msg.type === "active-context") {
      status.textContent = "context: " + msg.payload.contextId;
    }
  };
})();
</script>
</body>
</html>
`
