// ABOUTME: Tests for the specialist registry and keyword routing.
// ABOUTME: Asserts exact routing outcomes for fixture strings against the data table.

package specialist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtureRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry("alex", nil)
	r.Register(Profile{AgentID: "alex", DisplayName: "Alex (Coordinator)"})
	r.Register(Profile{AgentID: "sherlock", DisplayName: "Sherlock", RoutingKeywords: []string{"review", "quality", "bug"}})
	r.Register(Profile{AgentID: "edison", DisplayName: "Edison", RoutingKeywords: []string{"code", "implement", "debug"}})
	return r
}

func TestRegistry_MatchByKeyword(t *testing.T) {
	r := newFixtureRegistry(t)

	tests := []struct {
		text string
		want string
	}{
		{"please review this", "sherlock"},
		{"nothing matches here", "alex"},
		{"can you implement the parser", "edison"},
		{"REVIEW the quality", "sherlock"},
		{"there's a BUG in prod", "sherlock"},
		{"", "alex"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.MatchByKeyword(tt.text), "text=%q", tt.text)
	}
}

func TestRegistry_MatchOrder_IsDeterministic(t *testing.T) {
	r := newFixtureRegistry(t)

	// "debug" contains "bug": sherlock registered first, so sherlock wins.
	assert.Equal(t, []string{"alex", "sherlock", "edison"}, r.Order())
	assert.Equal(t, "sherlock", r.MatchByKeyword("help me debug this"))
}

func TestRegistry_PriorityOverridesRegistrationOrder(t *testing.T) {
	r := NewRegistry("alex", nil)
	r.Register(Profile{AgentID: "sherlock", RoutingKeywords: []string{"bug"}})
	r.Register(Profile{AgentID: "edison", RoutingKeywords: []string{"debug"}, Priority: 10})

	assert.Equal(t, []string{"edison", "sherlock"}, r.Order())
	assert.Equal(t, "edison", r.MatchByKeyword("help me debug this"))
}

func TestRegistry_ReRegistration_LastWriteWins(t *testing.T) {
	r := newFixtureRegistry(t)
	r.Register(Profile{AgentID: "sherlock", DisplayName: "Sherlock v2", RoutingKeywords: []string{"inspect"}})

	p, ok := r.Lookup("sherlock")
	require.True(t, ok)
	assert.Equal(t, "Sherlock v2", p.DisplayName)
	assert.Equal(t, []string{"inspect"}, p.RoutingKeywords)

	// Re-registration keeps the original match slot.
	assert.Equal(t, []string{"alex", "sherlock", "edison"}, r.Order())
	assert.Equal(t, 3, r.Size())
}

func TestRegistry_Lookup_NotFound(t *testing.T) {
	r := newFixtureRegistry(t)
	_, ok := r.Lookup("tesla")
	assert.False(t, ok)
}

func TestRegistry_NoProfiles_RoutesToDefault(t *testing.T) {
	r := NewRegistry("alex", nil)
	assert.Equal(t, "alex", r.MatchByKeyword("anything at all"))
}
