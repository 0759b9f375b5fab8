package types

import "fmt"

// CommandType is the closed set of directives the Deliberation Agent can
// emit.
type CommandType string

const (
	// CommandRemember writes a fact to memory. Applied by the Deliberation
	// Agent itself, never enqueued for execution.
	CommandRemember CommandType = "remember"
	// CommandDelegate hands a task to the Execution Agent.
	CommandDelegate CommandType = "delegate"
	// CommandFocus marks a complex task for step-wise decomposition.
	CommandFocus CommandType = "focus"
	// CommandWait ends the tick without new work.
	CommandWait CommandType = "wait"
)

// ParseCommandType validates a command type string.
func ParseCommandType(s string) (CommandType, error) {
	switch CommandType(s) {
	case CommandRemember, CommandDelegate, CommandFocus, CommandWait:
		return CommandType(s), nil
	}
	return "", fmt.Errorf("unknown command type %q", s)
}

// Command is a directive from the Deliberation Agent. Owned by the queue
// between enqueue and dequeue.
type Command struct {
	Type     CommandType
	Content  string
	Priority Priority
}
