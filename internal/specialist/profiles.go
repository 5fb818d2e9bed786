// ABOUTME: Specialist profile seed table loading from a TOML file.
// ABOUTME: Ships built-in defaults used when no seed file is configured.

package specialist

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// profileFile is the on-disk shape of a specialist seed table.
type profileFile struct {
	Specialists []Profile `toml:"specialists"`
}

// LoadProfiles reads a TOML seed table of specialist profiles.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading specialists file: %w", err)
	}

	var pf profileFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing specialists file: %w", err)
	}

	for _, p := range pf.Specialists {
		if p.AgentID == "" {
			return nil, fmt.Errorf("specialists file %s: profile missing agent_id", path)
		}
	}
	return pf.Specialists, nil
}

// DefaultProfiles returns the built-in specialist table used when no seed
// file is configured. The coordinator carries no keywords; it is the
// fallthrough destination, not a keyword match.
func DefaultProfiles() []Profile {
	return []Profile{
		{AgentID: "alex", DisplayName: "Alex (Coordinator)"},
		{AgentID: "sherlock", DisplayName: "Sherlock (Reviewer)", RoutingKeywords: []string{"review", "quality", "bug"}},
		{AgentID: "edison", DisplayName: "Edison (Builder)", RoutingKeywords: []string{"code", "implement", "debug"}},
	}
}
