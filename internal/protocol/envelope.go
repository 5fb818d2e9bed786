// ABOUTME: Wire envelope for every gateway interaction, parsed from JSON frames.
// ABOUTME: Defines the closed set of message types and reply constructors.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound message types consumed by the gateway. Legacy uppercase variants
// are kept because older bridge clients still emit them.
const (
	TypeHealthCheck       = "health_check"
	TypeHealthCheckUpper  = "HEALTH_CHECK"
	TypeUserRequest       = "user_request"
	TypeAgentMessage      = "agent_message"
	TypeAgentMessageUpper = "AGENT_MESSAGE"
	TypeAgentRequest      = "agent_request"
	TypeContextShare      = "context_share"
	TypeGetInstances      = "get_instances"
	TypeProjectConnect    = "PROJECT_CONNECT"
	TypeAgentHealth       = "AGENT_HEALTH"
	TypeAgentResponse     = "AGENT_RESPONSE"
)

// Outbound reply types produced by the dispatch engine.
const (
	TypeWelcome             = "welcome"
	TypeAgentResponseReply  = "agent_response"
	TypeHealthCheckResponse = "health_check_response"
	TypeProjectConnected    = "PROJECT_CONNECTED"
	TypeAgentHealthAck      = "AGENT_HEALTH_ACK"
	TypeInstanceList        = "instance_list"
)

// ErrMissingType indicates an envelope without the required type field.
var ErrMissingType = errors.New("envelope missing type")

// Envelope is the wire unit for every interaction with the gateway.
// Only Type is required; the remaining fields are type-specific.
type Envelope struct {
	Type            string         `json:"type"`
	InstanceID      string         `json:"instanceId,omitempty"`
	RequestID       string         `json:"requestId,omitempty"`
	Agent           string         `json:"agent,omitempty"`
	RequestedAgent  string         `json:"requestedAgent,omitempty"`
	OriginalMessage string         `json:"originalMessage,omitempty"`
	Message         string         `json:"message,omitempty"`
	Response        string         `json:"response,omitempty"`
	ProjectPath     string         `json:"projectPath,omitempty"`
	TimedOut        bool           `json:"timedOut,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	Timestamp       string         `json:"timestamp,omitempty"`
}

// Parse decodes a raw frame into an Envelope. Callers log and drop on error;
// a malformed frame must never close the connection.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// Text returns the conversational text of the envelope, checking the fields
// different client generations have used for it.
func (e *Envelope) Text() string {
	if e.OriginalMessage != "" {
		return e.OriginalMessage
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Payload != nil {
		if s, ok := e.Payload["message"].(string); ok {
			return s
		}
	}
	return ""
}

// TimestampLayout is the format used for timestamps on outbound frames.
const TimestampLayout = time.RFC3339

// Now returns the envelope timestamp format used on outbound frames.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// Welcome builds the frame sent to a client immediately after connect,
// carrying its assigned instance id.
func Welcome(instanceID string) *Envelope {
	return &Envelope{
		Type:       TypeWelcome,
		InstanceID: instanceID,
		Timestamp:  Now(),
	}
}

// AgentReply builds a conversational reply attributed to the given agent.
func AgentReply(agent, instanceID, response string) *Envelope {
	return &Envelope{
		Type:       TypeAgentResponseReply,
		Agent:      agent,
		InstanceID: instanceID,
		Response:   response,
		Timestamp:  Now(),
	}
}

// TimeoutReply builds the labeled fallback sent when a sub-dispatch expires.
func TimeoutReply(coordinator, instanceID, response string) *Envelope {
	env := AgentReply(coordinator, instanceID, response)
	env.TimedOut = true
	return env
}

// SubRequest builds the sub-dispatch envelope broadcast to connected
// transports. The target agent is expected to be one of the connected
// parties and answers with an AGENT_RESPONSE carrying the same request id.
func SubRequest(requestID, targetAgent, instanceID, text string) *Envelope {
	return &Envelope{
		Type:            TypeAgentRequest,
		RequestID:       requestID,
		Agent:           targetAgent,
		InstanceID:      instanceID,
		OriginalMessage: text,
		Timestamp:       Now(),
	}
}
