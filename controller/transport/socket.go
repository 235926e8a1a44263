package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/bhangun/cncjs/controller"
)

// SocketTransport speaks to the firmware over a raw TCP socket (e.g. a
// WiFi-bridged g2core board). No pack example imports a third-party
// socket library for this, so it is built directly on stdlib `net`
// (documented in DESIGN.md as the one justified stdlib leaf).
type SocketTransport struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	events chan controller.Event
	closed bool
}

func NewSocketTransport(addr string) *SocketTransport {
	return &SocketTransport{addr: addr, events: make(chan controller.Event, 64)}
}

func (t *SocketTransport) Open(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.addr, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *SocketTransport) readLoop() {
	buf := make([]byte, 4096)
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
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

func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *SocketTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: socket not open")
	}
	return conn.Write(p)
}

func (t *SocketTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.closed
}

func (t *SocketTransport) Events() <-chan controller.Event { return t.events }
