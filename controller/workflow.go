package controller

import "fmt"

// WorkflowState is one of the three states the flow-control protocol
// drives the program lifecycle through.
type WorkflowState int

const (
	WorkflowIdle WorkflowState = iota
	WorkflowRunning
	WorkflowPaused
)

func (s WorkflowState) String() string {
	switch s {
	case WorkflowIdle:
		return "idle"
	case WorkflowRunning:
		return "running"
	case WorkflowPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Workflow is the bare 3-state machine. It carries no
// side effects of its own — those belong to the FlowController, which is
// the only party with enough context to rewind the Sender, reset the
// Feeder, and broadcast state.
type Workflow struct {
	state WorkflowState
}

func NewWorkflow() *Workflow { return &Workflow{state: WorkflowIdle} }

func (w *Workflow) State() WorkflowState { return w.state }

func (w *Workflow) Start() error {
	w.state = WorkflowRunning
	return nil
}

func (w *Workflow) Stop() error {
	w.state = WorkflowIdle
	return nil
}

func (w *Workflow) Pause() error {
	if w.state != WorkflowRunning {
		return fmt.Errorf("workflow: cannot pause from %s", w.state)
	}
	w.state = WorkflowPaused
	return nil
}

func (w *Workflow) Resume() error {
	if w.state != WorkflowPaused {
		return fmt.Errorf("workflow: cannot resume from %s", w.state)
	}
	w.state = WorkflowRunning
	return nil
}
