//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollerEventBuf is the size of the reusable epoll_wait event buffer. A
// single wait call never reports more readiness events than this; the rest
// arrive on the next iteration of the event loop.
const pollerEventBuf = 256

// Poller multiplexes reads across every chat connection with a single
// epoll descriptor, so idle sockets cost no goroutines. Writes stay on the
// caller's goroutine and never pass through here.
type Poller struct {
	epfd     int
	mu       sync.RWMutex
	interest map[int]net.Conn // socket fd -> registered connection
	events   []unix.EpollEvent
}

// NewPoller opens the epoll descriptor.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:     epfd,
		interest: make(map[int]net.Conn),
		events:   make([]unix.EpollEvent, pollerEventBuf),
	}, nil
}

// Register adds a connection to the interest list. Read readiness and
// hangup both wake the event loop; a hangup surfaces as a failed read on
// the dispatch path, which tears the connection down.
func (p *Poller) Register(conn net.Conn) error {
	fd := connFD(conn)
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.interest[fd] = conn
	p.mu.Unlock()
	return nil
}

// Unregister drops a connection from the interest list.
func (p *Poller) Unregister(conn net.Conn) error {
	fd := connFD(conn)
	if err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.interest, fd)
	p.mu.Unlock()
	return nil
}

// WaitReady blocks until at least one registered socket has pending data
// and returns those connections. A descriptor that was unregistered while
// the wait was in flight is dropped from the batch.
func (p *Poller) WaitReady() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.epfd, p.events, -1)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.interest[int(p.events[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	p.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.interest = nil
	p.mu.Unlock()
	return unix.Close(p.epfd)
}

// connFD pulls the socket descriptor out of a net.Conn without duplicating
// it. File() would dup the fd and leave epoll watching the wrong one.
func connFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) { fd = int(sfd) })
	return fd
}
