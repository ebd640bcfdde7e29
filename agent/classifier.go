package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mekai/workforce/types"
)

// ResponseKind is the typed result of classifying a model response.
type ResponseKind string

const (
	// ResponseToolCall means the model requested a tool invocation.
	ResponseToolCall ResponseKind = "tool_call"

	// ResponseFinalAnswer means the model produced an answer for the user.
	ResponseFinalAnswer ResponseKind = "final_answer"

	// ResponseMalformed means the model attempted the tool protocol but
	// the output could not be parsed. Callers fall back to treating the
	// raw content as the answer.
	ResponseMalformed ResponseKind = "malformed"
)

// Classification is the parsed shape of one model response.
type Classification struct {
	Kind       ResponseKind
	ToolCallID string
	ToolName   string
	ToolArgs   json.RawMessage
	Answer     string
}

var (
	actionRe      = regexp.MustCompile(`(?m)^Action:\s*(.+)\s*$`)
	actionInputRe = regexp.MustCompile(`(?m)^Action Input:\s*(.+)\s*$`)
	finalAnswerRe = regexp.MustCompile(`(?ms)Final Answer:\s*(.+)\z`)
)

// Classify inspects a model response message. Native tool calls take
// precedence; otherwise the textual Action protocol is parsed. Plain
// content with no protocol markers is a final answer.
func Classify(msg types.Message) Classification {
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		return Classification{
			Kind:       ResponseToolCall,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ToolArgs:   tc.Arguments,
		}
	}

	content := msg.Content

	if m := finalAnswerRe.FindStringSubmatch(content); m != nil {
		return Classification{
			Kind:   ResponseFinalAnswer,
			Answer: strings.TrimSpace(m[1]),
		}
	}

	if m := actionRe.FindStringSubmatch(content); m != nil {
		name := strings.TrimSpace(m[1])
		input := actionInputRe.FindStringSubmatch(content)
		if name == "" || input == nil || strings.TrimSpace(input[1]) == "" {
			return Classification{Kind: ResponseMalformed, Answer: strings.TrimSpace(content)}
		}
		return Classification{
			Kind:     ResponseToolCall,
			ToolName: name,
			ToolArgs: textualArgs(strings.TrimSpace(input[1])),
		}
	}

	return Classification{
		Kind:   ResponseFinalAnswer,
		Answer: strings.TrimSpace(content),
	}
}

// textualArgs normalizes an Action Input value into a JSON argument
// payload. Raw strings become {"query": ...}; JSON objects pass through.
func textualArgs(input string) json.RawMessage {
	if strings.HasPrefix(input, "{") {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(input), &parsed); err == nil {
			return json.RawMessage(input)
		}
	}
	data, _ := json.Marshal(map[string]string{"query": input})
	return data
}
