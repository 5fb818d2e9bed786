// ABOUTME: Gateway orchestrator owning the hub, dispatch engine, and correlator.
// ABOUTME: Manages startup (lock takeover, port fallback), maintenance loops, and shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/crewline/crew-gateway/internal/config"
	"github.com/crewline/crew-gateway/internal/correlator"
	"github.com/crewline/crew-gateway/internal/lockfile"
	"github.com/crewline/crew-gateway/internal/protocol"
	"github.com/crewline/crew-gateway/internal/session"
	"github.com/crewline/crew-gateway/internal/specialist"
)

// shutdownTimeout bounds the graceful shutdown sequence.
const shutdownTimeout = 5 * time.Second

// Gateway hosts the connection registry, dispatch engine, and correlator.
// All mutable state lives in fields of this instance, so independent
// gateways can coexist in tests without shared globals.
type Gateway struct {
	config     *config.Config
	hub        *Hub
	sessions   *session.Store
	registry   *specialist.Registry
	pending    *correlator.Correlator
	dispatcher *Dispatcher
	httpServer *http.Server
	lock       *lockfile.Lock
	logger     *slog.Logger

	addr  string
	ready chan struct{}
}

// New creates a Gateway from configuration. Routing misconfiguration (a
// default agent that no profile provides) is surfaced here, at startup,
// never as a per-request error.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := specialist.NewRegistry(cfg.Routing.DefaultAgent, logger)
	profiles := specialist.DefaultProfiles()
	if cfg.Routing.SpecialistsPath != "" {
		loaded, err := specialist.LoadProfiles(cfg.Routing.SpecialistsPath)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}
	for _, p := range profiles {
		registry.Register(p)
	}
	if _, ok := registry.Lookup(cfg.Routing.DefaultAgent); !ok {
		return nil, fmt.Errorf("default agent %q is not in the specialist table", cfg.Routing.DefaultAgent)
	}

	sessions := session.NewStore(logger)
	hub := NewHub(sessions, logger)
	pending := correlator.New(hub, logger)
	dispatcher := NewDispatcher(hub, sessions, registry, pending, nil, cfg.Routing.DispatchTimeout, logger)

	g := &Gateway{
		config:     cfg,
		hub:        hub,
		sessions:   sessions,
		registry:   registry,
		pending:    pending,
		dispatcher: dispatcher,
		logger:     logger.With("component", "gateway"),
		ready:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/instances", g.handleInstances)
	mux.HandleFunc("/api/specialists", g.handleRegisterSpecialist)

	g.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Ready is closed once the listener is bound.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Addr returns the bound address. Valid only after Ready.
func (g *Gateway) Addr() string {
	return g.addr
}

// listen binds the preferred port, incrementing on "address in use" up to
// the configured attempt budget. Port 0 asks the OS for an ephemeral port
// and skips the fallback walk.
func (g *Gateway) listen() (net.Listener, error) {
	host := g.config.Server.Host
	port := g.config.Server.Port
	attempts := g.config.Server.PortAttempts
	if port == 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		addr := fmt.Sprintf("%s:%d", host, port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				g.logger.Warn("preferred port unavailable, using fallback",
					"preferred", g.config.Server.Port,
					"bound", port,
				)
			}
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listening on %s: %w", addr, err)
		}
		g.logger.Warn("port in use, trying next", "port", port)
		port++
	}

	return nil, fmt.Errorf("no free port after %d attempts starting at %d", attempts, g.config.Server.Port)
}

// Run starts the gateway and blocks until the context is canceled or a
// fatal server error occurs. Either way the full shutdown sequence runs:
// fail safe, not fail silent.
func (g *Gateway) Run(ctx context.Context) error {
	lock, err := lockfile.Acquire(g.config.Lock.Path, g.logger)
	if err != nil {
		return fmt.Errorf("acquiring process lock: %w", err)
	}
	g.lock = lock

	ln, err := g.listen()
	if err != nil {
		_ = lock.Release()
		return err
	}
	g.addr = ln.Addr().String()
	close(g.ready)

	if err := g.sessions.Load(g.config.Sessions.SnapshotPath); err != nil {
		// A corrupt snapshot must not keep the gateway down.
		g.logger.Warn("session snapshot not restored", "error", err)
	}

	g.logger.Info("gateway listening",
		"addr", g.addr,
		"default_agent", g.registry.DefaultAgent(),
		"specialists", g.registry.Size(),
	)

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		g.maintenanceLoop(gctx)
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		g.shutdown()
		return nil
	})

	err = grp.Wait()
	if err != nil {
		g.logger.Error("gateway stopped with error", "error", err)
		return err
	}
	g.logger.Info("gateway stopped")
	return nil
}

// maintenanceLoop runs the periodic session purge and snapshot until the
// context is canceled.
func (g *Gateway) maintenanceLoop(ctx context.Context) {
	purge := time.NewTicker(g.config.Sessions.PurgeInterval)
	defer purge.Stop()
	snapshot := time.NewTicker(g.config.Sessions.SnapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			g.sessions.PurgeStale(g.config.Sessions.Retention)
		case <-snapshot.C:
			if err := g.sessions.Save(g.config.Sessions.SnapshotPath); err != nil {
				g.logger.Error("periodic session snapshot failed", "error", err)
			}
		}
	}
}

// shutdown drains the gateway: stop accepting, close live connections,
// cancel pending sub-dispatches, persist sessions, release the lock.
func (g *Gateway) shutdown() {
	g.logger.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Warn("server shutdown", "error", err)
	}

	g.hub.CloseAll()
	g.pending.Close()

	if err := g.sessions.Save(g.config.Sessions.SnapshotPath); err != nil {
		g.logger.Error("final session snapshot failed", "error", err)
	}
	if err := g.lock.Release(); err != nil {
		g.logger.Warn("releasing lock", "error", err)
	}
}

// handleWS upgrades a client connection and runs its read loop. Frames on
// one connection are processed in arrival order; malformed frames are
// logged and dropped without closing the connection.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	conn := g.hub.Add(sock)
	defer func() { g.hub.Remove(conn) }()

	if err := conn.Send(protocol.Welcome(conn.InstanceID)); err != nil {
		g.logger.Debug("welcome send failed", "instance_id", conn.InstanceID, "error", err)
	}

	ctx := r.Context()
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			g.logger.Debug("connection closed", "instance_id", conn.InstanceID, "error", err)
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			g.logger.Warn("malformed frame dropped",
				"instance_id", conn.InstanceID,
				"error", err,
			)
			continue
		}

		// Clients that bring their own instance id take it over here.
		if env.InstanceID != "" && env.InstanceID != conn.InstanceID {
			g.hub.Rebind(conn, env.InstanceID)
		}

		g.sessions.Touch(conn.InstanceID, env.ProjectPath)
		g.dispatcher.Handle(conn.InstanceID, env)
	}
}
