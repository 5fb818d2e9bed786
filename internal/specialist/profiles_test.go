// ABOUTME: Tests for the TOML specialist seed table loader.
// ABOUTME: Covers valid files, missing agent ids, and built-in defaults.

package specialist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "specialists.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeProfiles(t, `
[[specialists]]
agent_id = "alex"
display_name = "Alex (Coordinator)"

[[specialists]]
agent_id = "sherlock"
display_name = "Sherlock"
routing_keywords = ["review", "quality", "bug"]
priority = 5
`)

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "alex", profiles[0].AgentID)
	assert.Equal(t, "sherlock", profiles[1].AgentID)
	assert.Equal(t, []string{"review", "quality", "bug"}, profiles[1].RoutingKeywords)
	assert.Equal(t, 5, profiles[1].Priority)
}

func TestLoadProfiles_MissingAgentID(t *testing.T) {
	path := writeProfiles(t, `
[[specialists]]
display_name = "Nobody"
`)

	_, err := LoadProfiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_id")
}

func TestLoadProfiles_MissingFile(t *testing.T) {
	_, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestDefaultProfiles_CoordinatorHasNoKeywords(t *testing.T) {
	profiles := DefaultProfiles()
	require.NotEmpty(t, profiles)
	assert.Equal(t, "alex", profiles[0].AgentID)
	assert.Empty(t, profiles[0].RoutingKeywords)
}
