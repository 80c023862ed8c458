// Package iobuf provides the non-blocking byte carriers attached to a
// spawned task: buffered readers for stderr and the state-out pipe, a
// progressive (background-drained) reader for stdout, and a buffered
// writer for stdin and the state-in pipe.
package iobuf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// setNonblock puts fd in non-blocking mode so Receive/Send never block
// the single loop goroutine that drives every active task.
func setNonblock(f *os.File) error {
	return unix.SetNonblock(int(f.Fd()), true)
}

// BufferedOutput is a non-blocking reader over a single descriptor: each
// Receive call reads whatever is immediately available and appends it
// to an in-memory buffer. A descriptor with nothing ready yields zero
// bytes, not an error.
type BufferedOutput struct {
	file   *os.File
	buf    bytes.Buffer
	closed bool
}

// NewBufferedOutput wraps f, switching it to non-blocking mode.
func NewBufferedOutput(f *os.File) (*BufferedOutput, error) {
	if err := setNonblock(f); err != nil {
		return nil, err
	}
	return &BufferedOutput{file: f}, nil
}

// Receive reads whatever is ready without blocking, returning the bytes
// read this call (not the cumulative buffer). EOF and EAGAIN are both
// treated as "nothing more right now", not errors.
func (b *BufferedOutput) Receive() ([]byte, error) {
	if b.closed {
		return nil, nil
	}

	chunk := make([]byte, 64*1024)
	n, err := b.file.Read(chunk)
	if n > 0 {
		b.buf.Write(chunk[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.EAGAIN) {
			return chunk[:n], nil
		}
		return chunk[:n], err
	}
	return chunk[:n], nil
}

// Bytes returns everything accumulated so far.
func (b *BufferedOutput) Bytes() []byte {
	return b.buf.Bytes()
}

// Close releases the underlying descriptor. Safe to call more than once.
func (b *BufferedOutput) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.file.Close()
}

// ProgressiveOutput has the same Receive contract as BufferedOutput but
// is drained by a single dedicated goroutine in a tight poll loop,
// appending chunks to a mutex-guarded list until Close coalesces them.
// This is the one background worker a spawned task runs, reserved for
// stdout because it may carry tens of megabytes within seconds.
type ProgressiveOutput struct {
	file *os.File

	mu     sync.Mutex
	chunks [][]byte
	closed bool

	stop  chan struct{}
	done  chan struct{}
	group errgroup.Group
}

// NewProgressiveOutput wraps f in non-blocking mode and starts its
// drain goroutine immediately, polling every pollInterval/4 (or 2ms if
// pollInterval is zero). The goroutine runs under an errgroup.Group so
// a panic mid-drain is recovered rather than crashing the process; Err
// surfaces it to the caller once Close has returned.
func NewProgressiveOutput(f *os.File, pollInterval time.Duration) (*ProgressiveOutput, error) {
	if err := setNonblock(f); err != nil {
		return nil, err
	}

	tick := pollInterval / 4
	if tick <= 0 {
		tick = 2 * time.Millisecond
	}

	p := &ProgressiveOutput{
		file: f,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.group.Go(func() error { return p.runDrain(tick) })
	return p, nil
}

// runDrain recovers a panic in drain, converting it to an error Err
// can report instead of taking down the process.
func (p *ProgressiveOutput) runDrain(tick time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iobuf: stdout reader panic: %v", r)
		}
	}()
	p.drain(tick)
	return nil
}

// Err returns any panic recovered from the drain goroutine. Only
// meaningful after Close has returned.
func (p *ProgressiveOutput) Err() error {
	return p.group.Wait()
}

func (p *ProgressiveOutput) drain(tick time.Duration) {
	defer close(p.done)

	chunk := make([]byte, 64*1024)
	for {
		select {
		case <-p.stop:
			p.drainOnce(chunk)
			return
		default:
		}

		n, err := p.file.Read(chunk)
		if n > 0 {
			p.append(chunk[:n])
		}
		if err != nil && !errors.Is(err, syscall.EAGAIN) {
			return
		}

		select {
		case <-p.stop:
			p.drainOnce(chunk)
			return
		case <-time.After(tick):
		}
	}
}

// drainOnce performs a final best-effort read after Close signals stop,
// to pick up any bytes written just before the child exited.
func (p *ProgressiveOutput) drainOnce(chunk []byte) {
	for {
		n, err := p.file.Read(chunk)
		if n > 0 {
			p.append(chunk[:n])
		}
		if n == 0 || err != nil {
			return
		}
	}
}

func (p *ProgressiveOutput) append(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)

	p.mu.Lock()
	p.chunks = append(p.chunks, cp)
	p.mu.Unlock()
}

// Close signals the drain goroutine to stop, joins it, and returns the
// coalesced bytes read over the reader's lifetime. Safe to call more
// than once; later calls return the same bytes.
func (p *ProgressiveOutput) Close() []byte {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.snapshot()
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	_ = p.file.Close()

	return p.snapshot()
}

func (p *ProgressiveOutput) snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Join(p.chunks, nil)
}

const defaultBufferSize = 64 * 1024

// BufferedInput is a non-blocking writer that advances through Data in
// BufferSize chunks across repeated Send calls; once all bytes are
// written it closes the descriptor and further Send calls are no-ops.
type BufferedInput struct {
	file       *os.File
	data       []byte
	offset     int
	bufferSize int
	closed     bool
}

// NewBufferedInput wraps f in non-blocking mode, preparing to write
// data across subsequent Send calls.
func NewBufferedInput(f *os.File, data []byte) (*BufferedInput, error) {
	if err := setNonblock(f); err != nil {
		return nil, err
	}
	return &BufferedInput{file: f, data: data, bufferSize: defaultBufferSize}, nil
}

// Send writes Data in BufferSize chunks until the descriptor would block
// (EAGAIN) or a write makes no progress. Once all bytes are
// written it closes the descriptor, swallowing EPIPE. Safe to call
// repeatedly after completion (a no-op).
func (b *BufferedInput) Send() error {
	if b.closed {
		return nil
	}

	for b.offset < len(b.data) {
		end := b.offset + b.bufferSize
		if end > len(b.data) {
			end = len(b.data)
		}

		n, err := b.file.Write(b.data[b.offset:end])
		b.offset += n
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) {
				return nil
			}
			if errors.Is(err, syscall.EPIPE) {
				break
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}

	return b.Close()
}

// Close releases the underlying descriptor, swallowing a broken pipe.
// Safe to call more than once.
func (b *BufferedInput) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.file.Close()
	if errors.Is(err, syscall.EPIPE) {
		return nil
	}
	return err
}

// StatePipe is a pair of OS pipe ends handed to a child process: Read
// is duplicated onto the child's fd 3 (prior state in), Write onto fd 4
// (new state out). The parent holds the opposite ends.
type StatePipe struct {
	// ParentWrite is the parent's end used to send prior state to the
	// child's fd 3.
	ParentWrite *os.File
	// ChildRead is passed to the child as fd 3.
	ChildRead *os.File

	// ChildWrite is passed to the child as fd 4.
	ChildWrite *os.File
	// ParentRead is the parent's end used to receive new state from the
	// child's fd 4.
	ParentRead *os.File
}

// OpenStatePipe creates both underlying OS pipes for a child's state
// exchange.
func OpenStatePipe() (*StatePipe, error) {
	inRead, inWrite, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		_ = inRead.Close()
		_ = inWrite.Close()
		return nil, err
	}

	return &StatePipe{
		ParentWrite: inWrite,
		ChildRead:   inRead,
		ChildWrite:  outWrite,
		ParentRead:  outRead,
	}, nil
}

// CloseChildEnds closes the parent's copies of the descriptors handed
// to the child, once exec.Cmd has inherited them via ExtraFiles.
func (s *StatePipe) CloseChildEnds() error {
	err1 := s.ChildRead.Close()
	err2 := s.ChildWrite.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
