// Package transport provides the two concrete Transport implementations
// the driver runs over (serial and TCP socket), plus a FakeTransport for
// tests.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/bhangun/cncjs/controller"
)

// SerialTransport speaks to the firmware over a real serial port, using
// go.bug.st/serial (grounded in i4energy-sms-gateway's modem package,
// which depends on the same library for its own AT-command transport).
type SerialTransport struct {
	portName string
	mode     *serial.Mode

	mu     sync.Mutex
	port   serial.Port
	events chan controller.Event
	closed bool
}

// NewSerialTransport builds a SerialTransport for portName at baud.
func NewSerialTransport(portName string, baud int) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		mode:     &serial.Mode{BaudRate: baud},
		events:   make(chan controller.Event, 64),
	}
}

func (t *SerialTransport) Open(ctx context.Context) error {
	port, err := serial.Open(t.portName, t.mode)
	if err != nil {
		return fmt.Errorf("transport: open serial %s: %w", t.portName, err)
	}

	t.mu.Lock()
	t.port = port
	t.closed = false
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *SerialTransport) readLoop() {
	buf := make([]byte, 4096)
	for {
		t.mu.Lock()
		port := t.port
		t.mu.Unlock()
		if port == nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			t.mu.Lock()
			alreadyClosed := t.closed
			t.closed = true
			t.mu.Unlock()
			if !alreadyClosed {
				if err == io.EOF {
					t.events <- controller.Event{Kind: controller.EventClose}
				} else {
					t.events <- controller.Event{Kind: controller.EventError, Err: err}
					t.events <- controller.Event{Kind: controller.EventClose, Err: err}
				}
			}
			return
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.events <- controller.Event{Kind: controller.EventData, Data: data}
	}
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil || t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return 0, fmt.Errorf("transport: serial port not open")
	}
	return port.Write(p)
}

func (t *SerialTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil && !t.closed
}

func (t *SerialTransport) Events() <-chan controller.Event { return t.events }
