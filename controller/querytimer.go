package controller

import (
	"time"

	"github.com/sirupsen/logrus"
)

// QueryTimer is a fixed-period tick that diffs Runner state against the
// mirrored copy, emits change events, and detects program completion.
type QueryTimer struct {
	log *logrus.Entry

	runner *Runner
	feeder *Feeder
	sender *Sender

	broadcast BroadcastSink

	isOpen  func() bool
	isReady func() bool

	senderFinishTime      func() time.Time
	bumpSenderFinishTime  func(time.Time)
	clearSenderFinishTime func()
	issueSenderStop       func()

	mirroredSettings  Settings
	mirroredState     RunnerModel
	mirroredOverrides Overrides
}

func NewQueryTimer(log *logrus.Entry, runner *Runner, feeder *Feeder, sender *Sender, broadcast BroadcastSink) *QueryTimer {
	return &QueryTimer{
		log: log, runner: runner, feeder: feeder, sender: sender, broadcast: broadcast,
	}
}

// FeederStatus and SenderStatusPayload are the payload shapes for the
// feeder:status / sender:status broadcasts.
type FeederStatus struct {
	Pending int
	Held    bool
	Reason  string
}

type SenderStatusPayload struct {
	Name     string
	Sent     int
	Received int
	Total    int
	Held     bool
	Reason   string
}

// Tick runs one period of the query timer. It is a no-op
// while the transport is closed.
func (qt *QueryTimer) Tick() {
	if qt.isOpen == nil || !qt.isOpen() {
		return
	}

	if qt.feeder.Peek() {
		held, reason := qt.feeder.Held()
		qt.broadcast.Broadcast(EventFeederStatus, FeederStatus{
			Pending: qt.feeder.Pending(), Held: held, Reason: reason,
		})
	}

	sent, received, total := qt.sender.Counters()
	if total > 0 && (sent < total || received < total) {
		held, reason := qt.sender.Held()
		qt.broadcast.Broadcast(EventSenderStatus, SenderStatusPayload{
			Name: qt.sender.Name(), Sent: sent, Received: received, Total: total,
			Held: held, Reason: reason,
		})
	}

	model := qt.runner.Model()
	prevMirroredState := qt.mirroredState

	if model.Settings != qt.mirroredSettings {
		qt.mirroredSettings = model.Settings
		qt.broadcast.Broadcast(EventControllerSettings, qt.mirroredSettings)
		qt.broadcast.Broadcast(EventTinyGSettings, qt.mirroredSettings)

		overrides := qt.runner.GetOverrides()
		if overrides != qt.mirroredOverrides {
			qt.mirroredOverrides = overrides
			qt.broadcast.Broadcast(EventControllerOverrides, qt.mirroredOverrides)
		}
	}

	if !statesEqual(model, qt.mirroredState) {
		qt.mirroredState = model
		qt.broadcast.Broadcast(EventControllerState, qt.mirroredState)
		qt.broadcast.Broadcast(EventTinyGState, qt.mirroredState)
	}

	if qt.isReady == nil || !qt.isReady() || qt.senderFinishTime == nil {
		return
	}

	finishTime := qt.senderFinishTime()
	if finishTime.IsZero() {
		return
	}

	zeroOffset := model.WorkPos == prevMirroredState.WorkPos
	machineIdle := zeroOffset && qt.runner.IsIdle()

	if !machineIdle {
		qt.bumpSenderFinishTime(time.Now())
		return
	}

	if time.Since(finishTime) > ProgramFinishSettleDelay {
		qt.clearSenderFinishTime()
		qt.issueSenderStop()
	}
}

func statesEqual(a, b RunnerModel) bool {
	return a.MachinePos == b.MachinePos &&
		a.WorkPos == b.WorkPos &&
		a.Modal.Motion == b.Modal.Motion &&
		a.Modal.WCS == b.Modal.WCS &&
		a.Modal.Plane == b.Modal.Plane &&
		a.Modal.Units == b.Modal.Units &&
		a.Modal.Distance == b.Modal.Distance &&
		a.Modal.Feedrate == b.Modal.Feedrate &&
		a.Modal.Path == b.Modal.Path &&
		a.Modal.Spindle == b.Modal.Spindle &&
		a.Tool == b.Tool &&
		a.Status == b.Status &&
		a.PlannerBufferPoolSize == b.PlannerBufferPoolSize
}
