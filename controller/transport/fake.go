package transport

import (
	"bytes"
	"context"
	"sync"

	"github.com/bhangun/cncjs/controller"
)

// FakeTransport is an in-memory Transport double for tests, grounded in
// i4energy-sms-gateway's TestTransport (modem/test_transport.go): a
// hand-rolled channel-backed fake rather than a generated mock, because
// the Transport contract is small enough that generation would be
// overkill.
type FakeTransport struct {
	mu       sync.Mutex
	open     bool
	events   chan controller.Event
	written  bytes.Buffer
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{events: make(chan controller.Event, 256)}
}

func (t *FakeTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	return nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	select {
	case t.events <- controller.Event{Kind: controller.EventClose}:
	default:
	}
	return nil
}

func (t *FakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written.Write(p)
	return len(p), nil
}

func (t *FakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *FakeTransport) Events() <-chan controller.Event { return t.events }

// Written returns everything written to the transport so far, for
// assertions.
func (t *FakeTransport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, t.written.Len())
	copy(out, t.written.Bytes())
	return out
}

// ResetWritten clears the captured write buffer.
func (t *FakeTransport) ResetWritten() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written.Reset()
}

// Feed simulates firmware sending bytes to the driver.
func (t *FakeTransport) Feed(data []byte) {
	t.events <- controller.Event{Kind: controller.EventData, Data: data}
}

// FeedLine simulates a single newline-terminated firmware frame.
func (t *FakeTransport) FeedLine(line string) {
	t.Feed([]byte(line + "\n"))
}
