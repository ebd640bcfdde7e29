// Package agent implements persona agents for digital employees: prompt
// assembly, the bounded tool-use reasoning loop, and the agent cache.
package agent

import (
	"fmt"
	"strings"

	"github.com/mekai/workforce/types"
)

// RetrievalPolicy controls when an agent consults its knowledge bases.
type RetrievalPolicy string

const (
	// RetrievalAuto lets the model decide whether to retrieve.
	RetrievalAuto RetrievalPolicy = "auto"

	// RetrievalAlways instructs the model to retrieve before answering.
	RetrievalAlways RetrievalPolicy = "always"
)

// DefaultMaxIterations bounds the reasoning loop's model calls per turn.
const DefaultMaxIterations = 3

// Config is the immutable configuration of a persona agent. Build one
// with NewConfig; reconfiguring an employee means building a new Config
// and swapping the cache entry, never mutating an existing one.
type Config struct {
	Employee     types.EmployeeConfig
	SystemPrompt string

	// FallbackPrompt is the tool-free persona prompt for the degraded
	// direct call after a failed reasoning loop.
	FallbackPrompt string

	MaxIterations   int
	RetrievalPolicy RetrievalPolicy
}

// NewConfig assembles an agent config from an employee definition.
func NewConfig(emp types.EmployeeConfig, policy RetrievalPolicy, maxIterations int) Config {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if policy == "" {
		policy = RetrievalAuto
	}
	plain := emp
	plain.KnowledgeBaseIDs = nil
	return Config{
		Employee:        emp,
		SystemPrompt:    BuildSystemPrompt(emp, policy),
		FallbackPrompt:  BuildSystemPrompt(plain, policy),
		MaxIterations:   maxIterations,
		RetrievalPolicy: policy,
	}
}

// BuildSystemPrompt renders the persona system prompt from the employee
// definition: identity, persona text, skills, and tool instructions when
// knowledge bases are bound.
func BuildSystemPrompt(emp types.EmployeeConfig, policy RetrievalPolicy) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a digital employee.\n\n", emp.Name)

	if emp.Persona != "" {
		b.WriteString(emp.Persona)
		b.WriteString("\n\n")
	}

	if len(emp.Skills) > 0 {
		b.WriteString("Your skills:\n")
		for _, skill := range emp.Skills {
			fmt.Fprintf(&b, "- %s\n", skill)
		}
		b.WriteString("\n")
	}

	b.WriteString("Answer the user's questions helpfully and stay in character. " +
		"If you do not know something, say so honestly.")

	if emp.HasKnowledge() {
		b.WriteString("\n\n")
		b.WriteString(retrievalInstructions(policy))
	}

	return b.String()
}

// retrievalInstructions describes the knowledge tool. The textual
// Thought/Action protocol is included so providers without native
// function calling can still request retrieval.
func retrievalInstructions(policy RetrievalPolicy) string {
	var b strings.Builder

	b.WriteString("You have access to a knowledge retrieval tool named \"knowledge_retrieval\". ")
	if policy == RetrievalAlways {
		b.WriteString("Before answering, you MUST retrieve relevant information from the knowledge bases.\n")
	} else {
		b.WriteString("Use it when the user's question may be answered by internal documents.\n")
	}

	b.WriteString(`
When you need to use the tool, respond in exactly this format:
Thought: <why you need the tool>
Action: knowledge_retrieval
Action Input: <search query>

You will then receive an Observation with the retrieved information.
When you can answer the user, respond in this format:
Final Answer: <your answer>`)

	return b.String()
}
