package link

import (
	"sync"
	"time"
)

// PipePort is one end of an in-memory link. Writes never block.
type PipePort struct {
	in   *pipeBuffer
	out  *pipeBuffer
	baud int
}

// Pipe returns two connected ends. Bytes written to one are read from the
// other.
func Pipe(baud int) (*PipePort, *PipePort) {
	a, b := newPipeBuffer(), newPipeBuffer()
	return &PipePort{in: a, out: b, baud: baud}, &PipePort{in: b, out: a, baud: baud}
}

func (p *PipePort) Write(b []byte) (int, error) { return p.out.write(b) }

func (p *PipePort) ReadFull(buf []byte, timeout time.Duration) (int, error) {
	return p.in.readFull(buf, timeout)
}

func (p *PipePort) Drain(quiet time.Duration) (int, error) {
	scratch := make([]byte, 256)
	total := 0
	for {
		n, err := p.in.readSome(scratch, quiet)
		total += n
		if err == ErrTimeout {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (p *PipePort) Baud() int { return p.baud }

// Close closes both directions.
func (p *PipePort) Close() error {
	p.in.close()
	p.out.close()
	return nil
}

// Buffered is the number of unread bytes waiting at this end.
func (p *PipePort) Buffered() int { return p.in.len() }

// HighWater is the most bytes ever waiting at this end.
func (p *PipePort) HighWater() int { return p.in.highWater() }

type pipeBuffer struct {
	mu     sync.Mutex
	buf    []byte
	peak   int
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{notify: make(chan struct{}, 1), done: make(chan struct{})}
}

func (b *pipeBuffer) write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	b.buf = append(b.buf, p...)
	b.peak = max(b.peak, len(b.buf))
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// take moves up to len(dst) buffered bytes into dst.
func (b *pipeBuffer) take(dst []byte) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(dst, b.buf)
	b.buf = b.buf[n:]
	return n, b.closed
}

func (b *pipeBuffer) readFull(dst []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	got := 0
	for got < len(dst) {
		n, closed := b.take(dst[got:])
		got += n
		if got == len(dst) {
			break
		}
		if closed {
			return got, ErrClosed
		}
		select {
		case <-b.notify:
		case <-b.done:
		case <-timer.C:
			n, _ := b.take(dst[got:])
			got += n
			if got == len(dst) {
				return got, nil
			}
			return got, ErrTimeout
		}
	}
	return got, nil
}

// readSome returns as soon as any bytes are available.
func (b *pipeBuffer) readSome(dst []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		n, closed := b.take(dst)
		if n > 0 {
			return n, nil
		}
		if closed {
			return 0, ErrClosed
		}
		select {
		case <-b.notify:
		case <-b.done:
		case <-timer.C:
			return 0, ErrTimeout
		}
	}
}

func (b *pipeBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *pipeBuffer) highWater() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

func (b *pipeBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}
