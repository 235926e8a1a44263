package controller

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityTransform(raw string, _ Pipeline) ExprResult {
	return ExprResult{Line: raw}
}

func newTestFeeder(isTransportOpen, isAlarm func() bool) *Feeder {
	log := logrus.NewEntry(logrus.New())
	return NewFeeder(log, identityTransform, isTransportOpen, isAlarm)
}

func TestFeederFeedAndNextInOrder(t *testing.T) {
	f := newTestFeeder(func() bool { return true }, func() bool { return false })
	f.Feed([]string{"G1 X1", "G1 X2"}, nil)
	assert.True(t, f.Peek())
	assert.Equal(t, 2, f.Pending())

	line, _, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, "G1 X1", line)

	line, _, ok = f.Next()
	require.True(t, ok)
	assert.Equal(t, "G1 X2", line)

	_, _, ok = f.Next()
	assert.False(t, ok)
}

func TestFeederNextWhileHeldReturnsFalse(t *testing.T) {
	f := newTestFeeder(func() bool { return true }, func() bool { return false })
	f.Feed([]string{"G1 X1"}, nil)
	f.Hold("manual")

	_, _, ok := f.Next()
	assert.False(t, ok)
	assert.Equal(t, 1, f.Pending(), "held feeder must not consume the queue")
}

func TestFeederNextDropsLineWhenTransportClosed(t *testing.T) {
	f := newTestFeeder(func() bool { return false }, func() bool { return false })
	f.Feed([]string{"G1 X1"}, nil)

	_, _, ok := f.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, f.Pending(), "the line is consumed even though it's dropped")
}

func TestFeederSelfResetsOnAlarm(t *testing.T) {
	f := newTestFeeder(func() bool { return true }, func() bool { return true })
	f.Feed([]string{"G1 X1", "G1 X2"}, nil)

	_, _, ok := f.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, f.Pending())
	held, _ := f.Held()
	assert.False(t, held)
}

func TestFeederHoldIsIdempotentAndReasonTracked(t *testing.T) {
	f := newTestFeeder(func() bool { return true }, func() bool { return false })
	f.Hold("jog")
	f.Hold("jog")
	held, reason := f.Held()
	assert.True(t, held)
	assert.Equal(t, "jog", reason)

	f.Unhold()
	held, reason = f.Held()
	assert.False(t, held)
	assert.Equal(t, "", reason)
}

func TestFeederNextRaisesHoldFromExpressionStage(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	f := NewFeeder(log, func(raw string, p Pipeline) ExprResult {
		return ExprResult{Line: raw, Hold: &HoldInfo{Reason: "M0"}}
	}, func() bool { return true }, func() bool { return false })

	f.Feed([]string{"M0"}, nil)
	line, _, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, "M0", line)
	held, reason := f.Held()
	assert.True(t, held)
	assert.Equal(t, "M0", reason)
}

func TestFeederResetDrainsQueueAndClearsHold(t *testing.T) {
	f := newTestFeeder(func() bool { return true }, func() bool { return false })
	f.Feed([]string{"G1 X1"}, nil)
	f.Hold("manual")

	f.Reset()
	assert.False(t, f.Peek())
	held, _ := f.Held()
	assert.False(t, held)
}
