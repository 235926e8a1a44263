package controller

import (
	"context"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// TriggerKind selects whether a named event maps to g-code injected via
// the Feeder, or a shell command run by the external task runner.
type TriggerKind int

const (
	TriggerGCode TriggerKind = iota
	TriggerSystem
)

// TriggerSpec is one entry of the EventTrigger mapping.
type TriggerSpec struct {
	Kind    TriggerKind
	Command string
}

// TaskRunner is the external task runner that executes shell triggers,
// referenced only by this interface contract.
type TaskRunner interface {
	Run(ctx context.Context, command string) error
}

// ShellTaskRunner is the one concrete TaskRunner this module ships: it
// runs the command through the host shell. Grounded in
// iwtcode-fanucAdapter's habit of keeping every external-process boundary
// behind a small domain interface (internal/interfaces) with one
// straightforward adapter.
type ShellTaskRunner struct{}

func (ShellTaskRunner) Run(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	return cmd.Run()
}

// EventTrigger maps named events to either an internal g-code command or
// a shell task. feedGCode is normally a Controller closure that queues
// the line on the Feeder; it is injected rather than holding a Feeder
// reference directly, keeping EventTrigger free of back-pointers.
type EventTrigger struct {
	log     *logrus.Entry
	runner  TaskRunner
	mapping map[string]TriggerSpec

	feedGCode func(line string)
}

func NewEventTrigger(log *logrus.Entry, runner TaskRunner, feedGCode func(string)) *EventTrigger {
	return &EventTrigger{
		log:       log,
		runner:    runner,
		mapping:   make(map[string]TriggerSpec),
		feedGCode: feedGCode,
	}
}

// Configure replaces the event->trigger mapping wholesale (loaded from
// the external persistent configuration store, out of scope here).
func (t *EventTrigger) Configure(mapping map[string]TriggerSpec) { t.mapping = mapping }

// Trigger looks up eventName and fires it. System-typed entries run
// through the TaskRunner; everything else is injected as g-code via the
// Feeder path.
func (t *EventTrigger) Trigger(eventName string) {
	spec, ok := t.mapping[eventName]
	if !ok {
		return
	}

	switch spec.Kind {
	case TriggerSystem:
		go func() {
			if err := t.runner.Run(context.Background(), spec.Command); err != nil && t.log != nil {
				t.log.WithError(err).WithField("event", eventName).Warn("eventtrigger: system command failed")
			}
		}()
	case TriggerGCode:
		if t.feedGCode != nil {
			t.feedGCode(spec.Command)
		}
	}
}
