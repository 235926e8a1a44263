package controller

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcast struct {
	events   []string
	payloads []any
}

func (b *recordingBroadcast) Broadcast(event string, payload any) {
	b.events = append(b.events, event)
	b.payloads = append(b.payloads, payload)
}

func newTestQueryTimer() (*QueryTimer, *Runner, *Feeder, *Sender, *recordingBroadcast) {
	log := logrus.NewEntry(logrus.New())
	runner := NewRunner(log)
	feeder := NewFeeder(log, identityTransform, func() bool { return true }, func() bool { return false })
	sender := NewSender(log, identityTransform)
	broadcast := &recordingBroadcast{}
	qt := NewQueryTimer(log, runner, feeder, sender, broadcast)
	qt.isOpen = func() bool { return true }
	qt.isReady = func() bool { return true }
	return qt, runner, feeder, sender, broadcast
}

func TestQueryTimerNoopWhenTransportClosed(t *testing.T) {
	qt, _, feeder, _, broadcast := newTestQueryTimer()
	qt.isOpen = func() bool { return false }
	feeder.Feed([]string{"G1 X1"}, nil)

	qt.Tick()
	assert.Empty(t, broadcast.events)
}

func TestQueryTimerBroadcastsFeederStatusWhilePending(t *testing.T) {
	qt, _, feeder, _, broadcast := newTestQueryTimer()
	feeder.Feed([]string{"G1 X1"}, nil)

	qt.Tick()
	assert.Contains(t, broadcast.events, EventFeederStatus)
}

func TestQueryTimerBroadcastsSenderStatusWhileInFlight(t *testing.T) {
	qt, _, _, sender, broadcast := newTestQueryTimer()
	require.NoError(t, sender.Load("job.gcode", "G1 X1\n", nil))

	qt.Tick()
	assert.Contains(t, broadcast.events, EventSenderStatus)
}

func TestQueryTimerBroadcastsStateOnFirstTick(t *testing.T) {
	qt, _, _, _, broadcast := newTestQueryTimer()
	qt.Tick()
	assert.Contains(t, broadcast.events, EventControllerState)
	assert.Contains(t, broadcast.events, EventTinyGState)
}

func TestQueryTimerDoesNotReBroadcastUnchangedState(t *testing.T) {
	qt, _, _, _, broadcast := newTestQueryTimer()
	qt.Tick()
	broadcast.events = nil

	qt.Tick()
	assert.NotContains(t, broadcast.events, EventControllerState)
}

// TestQueryTimerBroadcastsOverridesOnSettingsChange covers the
// controller:overrides broadcast: it must fire alongside
// controller:settings whenever the mirrored mfo/mto/sso fractions change,
// carrying the friendly Overrides view rather than the raw Settings.
func TestQueryTimerBroadcastsOverridesOnSettingsChange(t *testing.T) {
	qt, runner, _, _, broadcast := newTestQueryTimer()
	qt.Tick()
	broadcast.events = nil

	runner.model.Settings.MFO = 1.5
	qt.Tick()

	require.Contains(t, broadcast.events, EventControllerOverrides)
	for i, e := range broadcast.events {
		if e == EventControllerOverrides {
			assert.Equal(t, Overrides{Feed: 1.5}, broadcast.payloads[i])
		}
	}
}

func TestQueryTimerIssuesAutoStopAfterSettleDelay(t *testing.T) {
	qt, runner, _, _, _ := newTestQueryTimer()
	runner.model.Status = "Ready"

	var stopIssued bool
	qt.senderFinishTime = func() time.Time { return time.Now().Add(-ProgramFinishSettleDelay - time.Millisecond) }
	qt.bumpSenderFinishTime = func(time.Time) {}
	qt.clearSenderFinishTime = func() {}
	qt.issueSenderStop = func() { stopIssued = true }

	qt.Tick()
	assert.True(t, stopIssued)
}

func TestQueryTimerBumpsFinishTimeWhileMachineStillMoving(t *testing.T) {
	qt, runner, _, _, _ := newTestQueryTimer()
	runner.model.Status = "Run"

	var bumped bool
	qt.senderFinishTime = func() time.Time { return time.Now() }
	qt.bumpSenderFinishTime = func(time.Time) { bumped = true }
	qt.clearSenderFinishTime = func() {}
	qt.issueSenderStop = func() { t.Fatal("should not auto-stop while the machine is still running") }

	qt.Tick()
	assert.True(t, bumped)
}
