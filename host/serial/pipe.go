package serial

import (
	"sync"
)

// Pipe is one end of an in-memory, order-preserving byte link. Bytes
// written to one end are read from the other.
type Pipe struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	closed  bool
	readErr error
	peer    *Pipe
	written int
}

// NewPipe returns two connected ends, conventionally host and device.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{}
	b := &Pipe{}
	a.cond = sync.NewCond(&a.mu)
	b.cond = sync.NewCond(&b.mu)
	a.peer = b
	b.peer = a
	return a, b
}

// Read blocks until bytes are available, the pipe is closed or a read
// error has been injected.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 && !p.closed && p.readErr == nil {
		p.cond.Wait()
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.buf) == 0 {
		return 0, ErrClosed
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Write delivers b to the peer.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	peer := p.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return 0, ErrClosed
	}
	peer.buf = append(peer.buf, b...)
	peer.written += len(b)
	peer.cond.Broadcast()
	return len(b), nil
}

// Purge drops unread input.
func (p *Pipe) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
	return nil
}

// Close closes both ends.
func (p *Pipe) Close() error {
	p.shut()
	p.peer.shut()
	return nil
}

func (p *Pipe) shut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// FailReads makes every pending and future Read return err, simulating a
// dropped link.
func (p *Pipe) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.cond.Broadcast()
}

// Received returns the total number of bytes delivered to this end.
func (p *Pipe) Received() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

var _ Port = (*Pipe)(nil)
