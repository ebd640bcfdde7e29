package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mekai/workforce/llm"
)

const (
	// ToolName is the fixed name the model uses to invoke retrieval.
	ToolName = "knowledge_retrieval"

	// NoKnowledgeBaseMessage is returned when an employee has no bound
	// knowledge bases. It is a successful result, not an error.
	NoKnowledgeBaseMessage = "No knowledge base specified. Cannot retrieve relevant information."

	// DefaultMaxResults caps items returned per knowledge base.
	DefaultMaxResults = 5
)

// Retriever executes knowledge lookups on behalf of persona agents.
// Bound base IDs always come from the employee configuration, never
// from model output.
type Retriever struct {
	store      Store
	logger     *zap.Logger
	maxResults int
}

// NewRetriever creates a retriever over the given store.
func NewRetriever(store Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:      store,
		logger:     logger,
		maxResults: DefaultMaxResults,
	}
}

// WithMaxResults overrides the per-base result cap.
func (r *Retriever) WithMaxResults(n int) *Retriever {
	if n > 0 {
		r.maxResults = n
	}
	return r
}

// ToolSchema returns the function-calling schema for this tool.
func ToolSchema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        ToolName,
		Description: "Retrieve relevant information from the employee's knowledge bases. Use when the user's question may be answered by internal documents.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "The search query describing what information is needed"
				}
			},
			"required": ["query"]
		}`),
	}
}

// ToolArgs is the argument payload the model sends for a retrieval call.
type ToolArgs struct {
	Query string `json:"query"`
}

// Retrieve searches every bound base for the query and formats a readable
// result block. A base that fails contributes an inline error note; the
// other bases' results are still returned. The returned error is nil in
// all degenerate and partial-failure cases.
func (r *Retriever) Retrieve(ctx context.Context, query string, baseIDs []string) (string, error) {
	if len(baseIDs) == 0 {
		return NoKnowledgeBaseMessage, nil
	}

	var sections []string
	for _, baseID := range baseIDs {
		section, err := r.retrieveFromBase(ctx, query, baseID)
		if err != nil {
			r.logger.Warn("knowledge base retrieval failed",
				zap.String("base_id", baseID),
				zap.Error(err))
			sections = append(sections,
				fmt.Sprintf("[Knowledge base %s] Retrieval failed: %v", baseID, err))
			continue
		}
		sections = append(sections, section)
	}

	return strings.Join(sections, "\n\n"), nil
}

// retrieveFromBase searches a single base and formats its results.
func (r *Retriever) retrieveFromBase(ctx context.Context, query, baseID string) (string, error) {
	base, err := r.store.GetBase(ctx, baseID)
	if err != nil {
		return "", err
	}

	items, err := r.store.Search(ctx, baseID, query, r.maxResults)
	if err != nil {
		return "", err
	}

	if len(items) == 0 {
		return fmt.Sprintf("[Knowledge base: %s] No relevant information found.", base.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Knowledge base: %s]\n", base.Name)
	for i, item := range items {
		title := item.Title
		if title == "" {
			title = item.ID
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, title, snippet(item.Content, 500))
		if i < len(items)-1 {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// snippet truncates content for prompt inclusion.
func snippet(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}
