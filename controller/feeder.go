package controller

import (
	"github.com/sirupsen/logrus"
)

// feedItem is one queued manual/ad-hoc command plus the context it was
// submitted with.
type feedItem struct {
	Line    string
	Context map[string]interface{}
}

// Feeder is the unbounded FIFO for manual/jogging commands.
// It depends on two small predicates injected at construction rather than
// a back-pointer to the Controller, so it never needs to know about the
// Sender or Workflow either.
type Feeder struct {
	log *logrus.Entry

	queue []feedItem
	hold  bool
	reason string

	transform func(raw string, pipeline Pipeline) ExprResult

	isTransportOpen func() bool
	isAlarm         func() bool
}

// NewFeeder constructs a Feeder. transform is normally
// ExpressionStage.Process; isTransportOpen/isAlarm let the Feeder apply
// the "drop on closed transport" / "self-reset on alarm" rules without
// reaching back into the Controller.
func NewFeeder(log *logrus.Entry, transform func(string, Pipeline) ExprResult, isTransportOpen, isAlarm func() bool) *Feeder {
	return &Feeder{
		log:             log,
		transform:       transform,
		isTransportOpen: isTransportOpen,
		isAlarm:         isAlarm,
	}
}

// Feed appends lines to the queue, associated with the given context.
func (f *Feeder) Feed(lines []string, ctx map[string]interface{}) {
	for _, line := range lines {
		f.queue = append(f.queue, feedItem{Line: line, Context: ctx})
	}
}

// Peek reports whether there is pending work without consuming it.
func (f *Feeder) Peek() bool { return len(f.queue) > 0 }

// Pending returns the number of queued lines, for status broadcasts.
func (f *Feeder) Pending() int { return len(f.queue) }

// Hold is idempotent.
func (f *Feeder) Hold(reason string) {
	f.hold = true
	f.reason = reason
}

// Unhold is idempotent.
func (f *Feeder) Unhold() {
	f.hold = false
	f.reason = ""
}

func (f *Feeder) Held() (bool, string) { return f.hold, f.reason }

// Reset drains the queue and clears hold.
func (f *Feeder) Reset() {
	f.queue = nil
	f.Unhold()
}

// Next pulls one line and runs it through the expression stage. If the
// Feeder is held or empty, ok is false. If the transport is closed the
// pulled line is logged and dropped (ok is false, but the item is
// consumed). If the Runner reports an alarm, the Feeder self-resets and
// logs, also returning ok=false.
func (f *Feeder) Next() (line string, ctx map[string]interface{}, ok bool) {
	if f.hold || len(f.queue) == 0 {
		return "", nil, false
	}

	if f.isAlarm != nil && f.isAlarm() {
		if f.log != nil {
			f.log.Warn("feeder: runner in alarm, self-resetting")
		}
		f.Reset()
		return "", nil, false
	}

	item := f.queue[0]
	f.queue = f.queue[1:]

	if f.isTransportOpen != nil && !f.isTransportOpen() {
		if f.log != nil {
			f.log.WithField("line", item.Line).Warn("feeder: transport closed, dropping line")
		}
		return "", nil, false
	}

	result := f.transform(item.Line, PipelineFeeder)
	if result.Hold != nil {
		f.Hold(result.Hold.Reason)
	}

	return result.Line, item.Context, true
}
