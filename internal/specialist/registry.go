// ABOUTME: Registry of specialist responder profiles and keyword routing.
// ABOUTME: Matching walks an ordered data table so routing policy is testable as data.

package specialist

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Profile describes a named specialist responder: display metadata plus the
// routing keywords the dispatch engine matches conversational text against.
// Higher Priority profiles are consulted first; ties keep registration order.
type Profile struct {
	AgentID         string   `toml:"agent_id" json:"agentId"`
	DisplayName     string   `toml:"display_name" json:"displayName"`
	RoutingKeywords []string `toml:"routing_keywords" json:"routingKeywords"`
	Priority        int      `toml:"priority" json:"priority"`
}

// Registry holds specialist profiles in registration order. Profiles are
// immutable after registration except explicit re-registration, which is
// last-write-wins and logged.
type Registry struct {
	mu           sync.RWMutex
	order        []string
	profiles     map[string]Profile
	defaultAgent string
	logger       *slog.Logger
}

// NewRegistry creates a registry routing unmatched text to defaultAgent.
// Pass nil logger for default.
func NewRegistry(defaultAgent string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		profiles:     make(map[string]Profile),
		defaultAgent: defaultAgent,
		logger:       logger.With("component", "specialist-registry"),
	}
}

// DefaultAgent returns the coordinator id used when no keyword matches.
func (r *Registry) DefaultAgent() string {
	return r.defaultAgent
}

// Register inserts or overwrites a profile by agent id. Overwrites keep the
// original registration slot so match order stays stable.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.AgentID]; exists {
		r.logger.Info("specialist re-registered",
			"agent_id", p.AgentID,
			"display_name", p.DisplayName,
		)
	} else {
		r.order = append(r.order, p.AgentID)
		r.logger.Info("specialist registered",
			"agent_id", p.AgentID,
			"display_name", p.DisplayName,
			"keywords", p.RoutingKeywords,
		)
	}
	r.profiles[p.AgentID] = p
}

// Lookup returns the profile for an agent id.
func (r *Registry) Lookup(agentID string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[agentID]
	return p, ok
}

// Size returns the number of registered profiles.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Order returns agent ids in match order: priority descending, registration
// order within equal priority. This is the exact sequence MatchByKeyword
// evaluates, exposed as data so tests can assert outcomes.
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderLocked()
}

// orderLocked computes match order. Must be called with mu held.
func (r *Registry) orderLocked() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.SliceStable(ids, func(i, j int) bool {
		return r.profiles[ids[i]].Priority > r.profiles[ids[j]].Priority
	})
	return ids
}

// Profiles returns all profiles in match order.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.orderLocked()
	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.profiles[id])
	}
	return out
}

// MatchByKeyword returns the id of the first profile in match order with any
// routing keyword appearing in text (case-insensitive substring), or the
// default agent if nothing matches.
func (r *Registry) MatchByKeyword(text string) string {
	lower := strings.ToLower(text)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.orderLocked() {
		for _, kw := range r.profiles[id].RoutingKeywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return id
			}
		}
	}
	return r.defaultAgent
}
