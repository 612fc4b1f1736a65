package agent

import "encoding/json"

// Event is the tagged union flowing from the driver to the message service.
// Consumers switch on the concrete type.
type Event interface {
	coreEvent()
}

// TokenEvent is one delta of assistant text.
type TokenEvent struct {
	Content string
}

// ToolCallEvent announces a tool invocation requested by the model.
type ToolCallEvent struct {
	Name string
	Args json.RawMessage
	ID   string
}

// ToolResultEvent carries the output of an executed tool call.
type ToolResultEvent struct {
	ToolCallID string
	Output     string
	ExitCode   int
}

// UsageEvent summarizes token consumption and estimated cost for the turn.
type UsageEvent struct {
	InputTokens   int
	OutputTokens  int
	EstimatedCost float64
	Provider      string
	Model         string
}

// TodoItem is one entry of the agent's plan.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// PlanningEvent carries the agent's current plan, emitted alongside the
// planning tool's ToolCallEvent.
type PlanningEvent struct {
	Todos []TodoItem
}

// StatusEvent reports a coarse phase change ("thinking", "executing_tools").
type StatusEvent struct {
	Status string
}

// StepCompleteEvent marks the end of one agentic iteration.
type StepCompleteEvent struct {
	StepNumber  int
	TotalSteps  int
	Description string
}

// ErrorEvent is a terminal failure; DoneEvent always follows it.
type ErrorEvent struct {
	Message string
	Code    string
}

// DoneEvent is the last event of every turn.
type DoneEvent struct{}

func (TokenEvent) coreEvent()        {}
func (ToolCallEvent) coreEvent()     {}
func (ToolResultEvent) coreEvent()   {}
func (UsageEvent) coreEvent()        {}
func (PlanningEvent) coreEvent()     {}
func (StatusEvent) coreEvent()       {}
func (StepCompleteEvent) coreEvent() {}
func (ErrorEvent) coreEvent()        {}
func (DoneEvent) coreEvent()         {}

// Error codes carried by ErrorEvent.
const (
	ErrorCodeCancelled = "cancelled"
	ErrorCodeProvider  = "provider_error"
	ErrorCodeInternal  = "internal"
)
