package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType tags what kind of work the Execution Agent performed.
type ActionType string

const (
	ActionToolCall ActionType = "tool_call"
	ActionResponse ActionType = "response"
	// ActionCode is the legacy path: a snippet delegated to the sandboxed
	// executor.
	ActionCode ActionType = "code"
)

// ToolInvocation is one requested tool call inside a tool_call action.
type ToolInvocation struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// BrainAction is the closed set of parsed actions the Execution Agent can be
// asked to carry out. Parsing validates the variant once; execution matches
// exhaustively and never touches raw maps.
type BrainAction interface {
	ActionType() ActionType
	Reason() string
}

// ToolCallAction invokes registered tools in order.
type ToolCallAction struct {
	Reasoning string
	Calls     []ToolInvocation
}

func (a ToolCallAction) ActionType() ActionType { return ActionToolCall }
func (a ToolCallAction) Reason() string         { return a.Reasoning }

// ResponseAction answers the user directly and ends the task.
type ResponseAction struct {
	Reasoning string
	Text      string
}

func (a ResponseAction) ActionType() ActionType { return ActionResponse }
func (a ResponseAction) Reason() string         { return a.Reasoning }

// CodeAction hands a snippet to the sandboxed executor.
type CodeAction struct {
	Reasoning string
	Code      string
}

func (a CodeAction) ActionType() ActionType { return ActionCode }
func (a CodeAction) Reason() string         { return a.Reasoning }

// UnknownActionTypeError marks a parsed object whose action_type is outside
// the closed set. It fails the step locally; it is never raised out of the
// execution loop.
type UnknownActionTypeError struct {
	Type string
}

func (e *UnknownActionTypeError) Error() string {
	return fmt.Sprintf("unknown action type: %s", e.Type)
}

type rawBrainAction struct {
	ActionType string           `json:"action_type"`
	Reasoning  string           `json:"reasoning"`
	ToolCalls  []ToolInvocation `json:"tool_calls"`
	Response   string           `json:"response"`
	Code       string           `json:"code"`
}

// ParseBrainAction validates a parsed response object into one of the closed
// action variants. A missing action_type means a plain response; anything
// outside the closed set yields an UnknownActionTypeError.
func ParseBrainAction(obj map[string]interface{}) (BrainAction, error) {
	if obj == nil {
		return nil, fmt.Errorf("nil action object")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encoding action: %w", err)
	}
	var raw rawBrainAction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	switch ActionType(raw.ActionType) {
	case ActionToolCall:
		return ToolCallAction{Reasoning: raw.Reasoning, Calls: raw.ToolCalls}, nil
	case ActionResponse:
		return ResponseAction{Reasoning: raw.Reasoning, Text: raw.Response}, nil
	case ActionCode:
		return CodeAction{Reasoning: raw.Reasoning, Code: raw.Code}, nil
	case "":
		// Models answering free-form without the envelope still mean a
		// direct response.
		return ResponseAction{Reasoning: raw.Reasoning, Text: raw.Response}, nil
	default:
		return nil, &UnknownActionTypeError{Type: raw.ActionType}
	}
}

// ExecutionOutcome is what actually happened when an action ran. TaskEnded
// is the sole signal that the active task may be retired.
type ExecutionOutcome struct {
	Success      bool
	TaskEnded    bool
	UserMessages []string
	Output       string
	Error        string
}

// Action is the Execution Agent's record of one performed step. Immutable
// once recorded; owned by the bounded action history.
type Action struct {
	Type      ActionType
	Content   string
	Result    *ExecutionOutcome
	Success   bool
	Error     string
	Timestamp time.Time
}
