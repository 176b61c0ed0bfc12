package agents

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/planforge-backend/internal/domain"
)

//go:embed roles/*.yaml
var roleFS embed.FS

// role is one agent's instruction preamble, loaded from the embedded role
// files at startup.
type role struct {
	Agent  domain.AgentType `yaml:"agent"`
	System string           `yaml:"system"`
}

func loadRole(agent domain.AgentType) (*role, error) {
	raw, err := roleFS.ReadFile(fmt.Sprintf("roles/%s.yaml", agent))
	if err != nil {
		return nil, fmt.Errorf("role file for %s: %w", agent, err)
	}
	var r role
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("role file for %s: %w", agent, err)
	}
	if r.Agent != agent {
		return nil, fmt.Errorf("role file for %s declares agent %q", agent, r.Agent)
	}
	if r.System == "" {
		return nil, fmt.Errorf("role file for %s has no system instruction", agent)
	}
	return &r, nil
}
