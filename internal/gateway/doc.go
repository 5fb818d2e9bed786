// Package gateway orchestrates the crew-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the crew-gateway server.
// It owns all mutable coordination state: the connection hub, the session
// store, the specialist registry, the pending-request correlator, and the
// dispatch engine that ties them together.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    hub        *Hub
//	    sessions   *session.Store
//	    registry   *specialist.Registry
//	    pending    *correlator.Correlator
//	    dispatcher *Dispatcher
//	    httpServer *http.Server
//	    lock       *lockfile.Lock
//	}
//
// All state is instance-scoped, so multiple gateways can coexist in tests.
//
// # Transport
//
// Clients connect over websocket at /ws and exchange JSON envelopes (see
// the protocol package). Each connection gets a generated instance id,
// delivered in a welcome frame; clients that bring their own id take it
// over on their first frame. Frames on one connection are processed in
// arrival order. Malformed frames are logged and dropped without closing
// the connection.
//
// # HTTP Side Channel
//
// The same listener serves a request/response side channel in api.go:
//
//   - GET /health - liveness probe with connection/session/pending counts
//   - GET/POST /api/instances - list known instances, or register one with
//     its project path
//   - POST /api/specialists - register a specialist profile
//
// # Dispatch
//
// The Dispatcher classifies each envelope by type. Conversational requests
// run the routing heuristic: keyword match against the specialist table,
// plus team/complexity/urgency detection that selects response framing
// only. Requests matched to the default coordinator are answered directly;
// anything else becomes a correlated sub-request broadcast to every
// connected transport, answered by the first AGENT_RESPONSE carrying the
// matching request id, or by a labeled timeout fallback.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run acquires the process lock (terminating a still-live previous holder),
// binds the configured port with auto-increment fallback, restores the
// session snapshot, and serves until the context is canceled. Shutdown
// closes live connections, cancels pending sub-dispatches, persists the
// session snapshot, and removes the lock file.
//
// # Key Files
//
//   - gateway.go: Gateway struct, startup, maintenance loops, shutdown
//   - hub.go: connection registry and best-effort fan-out
//   - dispatch.go: envelope classification and routing
//   - keywords.go: routing heuristic keyword tables
//   - responder.go: coordinator response framing
//   - api.go: HTTP side-channel handlers
package gateway
