// ABOUTME: Pluggable coordinator response text, selected by request framing.
// ABOUTME: Content authoring lives outside the gateway; this is the built-in stand-in.

package gateway

import (
	"fmt"

	"github.com/crewline/crew-gateway/internal/specialist"
)

// Framing captures the heuristic booleans that select how a coordinator
// response is phrased. Framing never changes where a request is routed.
type Framing struct {
	Team    bool
	Complex bool
	Urgent  bool
}

// Responder produces the coordinator-voiced text the dispatch engine wraps
// around routing outcomes. Implementations generate content; the gateway
// only cares that something non-empty comes back.
type Responder interface {
	// Respond answers a request the coordinator handles directly.
	Respond(text string, f Framing) string

	// Preface introduces a specialist's answer to the original caller.
	Preface(target specialist.Profile, f Framing) string

	// DelegationFailed answers when a sub-dispatch got no reply in time.
	// The text must state explicitly that delegation failed.
	DelegationFailed(target specialist.Profile) string
}

// cannedResponder is the built-in Responder. Deliberately minimal: real
// persona content is produced by external collaborators.
type cannedResponder struct {
	coordinator string
}

// NewCannedResponder returns the built-in coordinator responder.
func NewCannedResponder(coordinator string) Responder {
	return &cannedResponder{coordinator: coordinator}
}

func (r *cannedResponder) Respond(text string, f Framing) string {
	switch {
	case f.Urgent:
		return "On it right away. I'll handle this one myself and report back as soon as I have something."
	case f.Team:
		return "Good call bringing this to the whole team. I'll coordinate and collect everyone's input on it."
	case f.Complex:
		return "This looks substantial. Let me break it down into steps before we commit to an approach."
	default:
		return "I'll take this one. Give me a moment to look into it."
	}
}

func (r *cannedResponder) Preface(target specialist.Profile, f Framing) string {
	name := target.DisplayName
	if name == "" {
		name = target.AgentID
	}
	if f.Urgent {
		return fmt.Sprintf("%s got straight to it:", name)
	}
	return fmt.Sprintf("I brought in %s on this. Here's their take:", name)
}

func (r *cannedResponder) DelegationFailed(target specialist.Profile) string {
	name := target.DisplayName
	if name == "" {
		name = target.AgentID
	}
	return fmt.Sprintf(
		"I tried to delegate this to %s, but they didn't respond in time. Handling it myself instead: I'll look into your request and follow up directly.",
		name,
	)
}
