// ABOUTME: Dispatch engine: classifies inbound envelopes and routes them.
// ABOUTME: Answers directly, sub-dispatches through the correlator, or drops unknowns.

package gateway

import (
	"log/slog"
	"time"

	"github.com/crewline/crew-gateway/internal/correlator"
	"github.com/crewline/crew-gateway/internal/protocol"
	"github.com/crewline/crew-gateway/internal/session"
	"github.com/crewline/crew-gateway/internal/specialist"
)

// Transport is the slice of the hub the dispatch engine uses. All sends are
// best-effort; a disconnected caller simply misses its reply.
type Transport interface {
	Send(instanceID string, v any)
	Broadcast(env *protocol.Envelope) int
	BroadcastExcept(instanceID string, v any) int
	Count() int
}

// Dispatcher classifies inbound envelopes, runs the routing heuristic, and
// either answers directly or creates a correlated sub-request.
type Dispatcher struct {
	transport Transport
	sessions  *session.Store
	registry  *specialist.Registry
	pending   *correlator.Correlator
	responder Responder
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher wires a dispatch engine. Pass nil responder for the built-in
// canned one and nil logger for default.
func NewDispatcher(
	transport Transport,
	sessions *session.Store,
	registry *specialist.Registry,
	pending *correlator.Correlator,
	responder Responder,
	timeout time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	if responder == nil {
		responder = NewCannedResponder(registry.DefaultAgent())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport: transport,
		sessions:  sessions,
		registry:  registry,
		pending:   pending,
		responder: responder,
		timeout:   timeout,
		logger:    logger.With("component", "dispatch"),
	}
}

// Handle processes one envelope from the named instance. Unknown types are
// logged and ignored: never an error response, never a disconnect.
func (d *Dispatcher) Handle(instanceID string, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeUserRequest, protocol.TypeAgentMessage, protocol.TypeAgentMessageUpper:
		d.handleConversation(instanceID, env)

	case protocol.TypeAgentResponse:
		d.handleAgentResponse(env)

	case protocol.TypeAgentRequest:
		// A specialist-originated sub-request. Forward to everyone else;
		// replies correlate by request id, not by route.
		d.transport.BroadcastExcept(instanceID, env)

	case protocol.TypeContextShare:
		d.transport.BroadcastExcept(instanceID, env)

	case protocol.TypeHealthCheck, protocol.TypeHealthCheckUpper:
		d.transport.Send(instanceID, &protocol.Envelope{
			Type:       protocol.TypeHealthCheckResponse,
			InstanceID: instanceID,
			Payload: map[string]any{
				"connections": d.transport.Count(),
				"sessions":    d.sessions.Count(),
			},
			Timestamp: protocol.Now(),
		})

	case protocol.TypeGetInstances:
		d.transport.Send(instanceID, d.instanceList(instanceID))

	case protocol.TypeProjectConnect:
		// Session bookkeeping happened on frame receipt; this is the ack.
		d.transport.Send(instanceID, &protocol.Envelope{
			Type:       protocol.TypeProjectConnected,
			InstanceID: instanceID,
			Timestamp:  protocol.Now(),
		})

	case protocol.TypeAgentHealth:
		d.transport.Send(instanceID, &protocol.Envelope{
			Type:       protocol.TypeAgentHealthAck,
			InstanceID: instanceID,
			Timestamp:  protocol.Now(),
		})

	default:
		d.logger.Warn("unrecognized message type ignored",
			"type", env.Type,
			"instance_id", instanceID,
		)
	}
}

// handleConversation runs the routing heuristic and answers the caller.
// Every conversational request gets some response: a specialist answer, a
// coordinator fallback, or an explicit timeout notice.
func (d *Dispatcher) handleConversation(instanceID string, env *protocol.Envelope) {
	text := env.Text()
	framing := Framing{
		Team:    DetectsTeamRequest(text),
		Complex: AssessComplexity(text),
		Urgent:  AssessUrgency(text),
	}

	target := env.RequestedAgent
	if target == "" {
		target = d.registry.MatchByKeyword(text)
	}

	d.logger.Debug("routing conversational request",
		"instance_id", instanceID,
		"target_agent", target,
		"team", framing.Team,
		"complex", framing.Complex,
		"urgent", framing.Urgent,
	)

	if target == d.registry.DefaultAgent() {
		reply := d.responder.Respond(text, framing)
		d.transport.Send(instanceID, protocol.AgentReply(target, instanceID, reply))
		return
	}

	profile, _ := d.registry.Lookup(target)
	if profile.AgentID == "" {
		profile.AgentID = target
	}

	requestID, future := d.pending.Dispatch(target, instanceID, text, d.timeout)
	go d.awaitReply(instanceID, requestID, profile, framing, future)
}

// awaitReply waits on the correlator future and relays the outcome to the
// original caller. A disconnected caller does not cancel the sub-request;
// its result is simply discarded by the best-effort send.
func (d *Dispatcher) awaitReply(
	instanceID, requestID string,
	target specialist.Profile,
	framing Framing,
	future <-chan correlator.Result,
) {
	res := <-future
	if res.Err != nil {
		fallback := d.responder.DelegationFailed(target)
		reply := protocol.TimeoutReply(d.registry.DefaultAgent(), instanceID, fallback)
		reply.RequestID = requestID
		d.transport.Send(instanceID, reply)
		return
	}

	answer := res.Reply.Response
	if answer == "" {
		answer = res.Reply.Text()
	}
	wrapped := d.responder.Preface(target, framing) + "\n\n" + answer

	reply := protocol.AgentReply(target.AgentID, instanceID, wrapped)
	reply.RequestID = requestID
	d.transport.Send(instanceID, reply)
}

// handleAgentResponse correlates a specialist reply back to its waiting
// sub-request. Replies without a request id, or for requests already
// resolved or expired, are ignored.
func (d *Dispatcher) handleAgentResponse(env *protocol.Envelope) {
	if env.RequestID == "" {
		d.logger.Warn("agent response without request id ignored", "agent", env.Agent)
		return
	}
	d.pending.Resolve(env.RequestID, env)
}

// instanceList builds the reply to get_instances from the session store.
func (d *Dispatcher) instanceList(instanceID string) *protocol.Envelope {
	records := d.sessions.List()
	instances := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		inst := map[string]any{
			"instanceId":   rec.InstanceID,
			"projectPath":  rec.ProjectPath,
			"messageCount": rec.MessageCount,
			"lastActivity": rec.LastActivity.Format(protocol.TimestampLayout),
			"connected":    rec.DisconnectedAt == nil,
		}
		instances = append(instances, inst)
	}
	return &protocol.Envelope{
		Type:       protocol.TypeInstanceList,
		InstanceID: instanceID,
		Payload:    map[string]any{"instances": instances},
		Timestamp:  protocol.Now(),
	}
}
