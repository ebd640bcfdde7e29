package types

import "time"

// EmployeeConfig describes a configured digital employee persona.
// It is the unit the agent cache keys on; treat values as immutable
// once loaded.
type EmployeeConfig struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Persona          string    `json:"persona"`
	Skills           []string  `json:"skills,omitempty"`
	KnowledgeBaseIDs []string  `json:"knowledge_base_ids,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Temperature      float32   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// HasKnowledge reports whether the employee has at least one bound knowledge base.
func (c *EmployeeConfig) HasKnowledge() bool {
	return len(c.KnowledgeBaseIDs) > 0
}

// UserContext identifies the requesting user for a chat turn. All
// fields are optional; an empty context means an anonymous caller.
type UserContext struct {
	UserID          string         `json:"user_id,omitempty"`
	Username        string         `json:"username,omitempty"`
	OrgID           string         `json:"org_id,omitempty"`
	Permissions     []string       `json:"permissions,omitempty"`
	IsAuthenticated bool           `json:"is_authenticated,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
