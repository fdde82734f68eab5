// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link owns the byte connection to the local XBee radio.
//
// A Link runs two goroutines: a receiver that decodes API frames and hands
// them to subscribers, and a writer that drains a queue of encoded frames so
// writes to the port are serialised. Transient I/O errors are retried a few
// times; anything persistent becomes a fatal IOError that ends the link.
package link

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/rs/zerolog"
)

// Defaults
const (
	DefaultQueueSize = 64
	MaxRetries       = 3
	RetryPause       = 10 * time.Millisecond
	readBufferSize   = 256
)

var (
	// ErrClosed is returned by Send after the link has shut down
	ErrClosed = errors.New("link closed")

	// ErrQueueFull is returned when the write queue has no room
	ErrQueueFull = errors.New("link write queue full")

	// ErrLinkIO matches every IOError
	ErrLinkIO = errors.New("link I/O failure")
)

// IOError is a fatal connection failure
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports ErrLinkIO as a match
func (e *IOError) Is(target error) bool {
	return target == ErrLinkIO
}

// Handler receives decoded frames on the receive goroutine. Handlers must
// not block.
type Handler func(f *xbee.Frame)

// Link sends and receives API frames over a Connection
type Link struct {
	conn   io.ReadWriteCloser
	logger zerolog.Logger
	stats  *xbee.Statistics
	ids    xbee.FrameIDAllocator

	mu       sync.RWMutex
	handlers map[xbee.Kind][]Handler
	all      []Handler

	writes chan []byte

	closing   chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// New creates a link over conn. Call Start to begin I/O.
func New(conn io.ReadWriteCloser, logger zerolog.Logger) *Link {
	return &Link{
		conn:     conn,
		logger:   logger.With().Str("component", "link").Logger(),
		stats:    xbee.NewStatistics(),
		handlers: make(map[xbee.Kind][]Handler),
		writes:   make(chan []byte, DefaultQueueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for frames of a kind. Subscribe before Start so no
// frame is missed.
func (l *Link) Subscribe(kind xbee.Kind, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[kind] = append(l.handlers[kind], h)
}

// SubscribeAll registers h for every decoded frame, known kind or not
func (l *Link) SubscribeAll(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, h)
}

// Start launches the receive and write goroutines. Idempotent.
func (l *Link) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(2)
		go l.readLoop()
		go l.writeLoop()
		go func() {
			l.wg.Wait()
			close(l.done)
		}()
	})
}

// Send queues a frame for the radio and returns without waiting for the write
func (l *Link) Send(f *xbee.Frame) error {
	if err := l.Err(); err != nil {
		return err
	}
	if l.isClosing() {
		return ErrClosed
	}

	data, err := xbee.EncodeFrameFromValues(f.Type(), f.Data())
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	select {
	case l.writes <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// NextFrameID returns the next non-zero frame id
func (l *Link) NextFrameID() byte {
	return l.ids.Next()
}

// Stats returns a copy of the frame statistics
func (l *Link) Stats() xbee.Counters {
	return l.stats.Snapshot()
}

// Done is closed once both I/O goroutines have exited
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the fatal error that ended the link, or nil
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Close shuts the link down and releases the connection. Idempotent.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		err = l.conn.Close()
	})
	return err
}

func (l *Link) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

// fail records the first fatal error and closes the link
func (l *Link) fail(err error) {
	l.errMu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.errMu.Unlock()

	l.logger.Error().Err(err).Msg("Link failed")
	_ = l.Close()
}

// fatalRead reports read errors that retrying cannot fix
func fatalRead(err error) bool {
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}

func (l *Link) readLoop() {
	defer l.wg.Done()

	decoder := xbee.NewDecoder()
	buf := make([]byte, readBufferSize)
	failures := 0

	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			failures = 0
			l.feed(decoder, buf[:n])
		}
		if err == nil {
			continue
		}
		if l.isClosing() {
			return
		}
		if fatalRead(err) {
			l.fail(&IOError{Op: "read", Err: err})
			return
		}

		failures++
		if failures >= MaxRetries {
			l.fail(&IOError{Op: "read", Err: err})
			return
		}
		l.logger.Warn().Err(err).Int("attempt", failures).Msg("Serial read failed, retrying")
		time.Sleep(RetryPause)
	}
}

func (l *Link) feed(decoder *xbee.Decoder, data []byte) {
	frames, errs := decoder.DecodeBytes(data)
	for _, err := range errs {
		l.stats.Update(nil, err)
		l.logger.Debug().Err(err).Msg("Dropping malformed frame")
	}
	for _, frame := range frames {
		l.stats.Update(frame, nil)
		l.dispatch(frame)
	}
}

func (l *Link) dispatch(f *xbee.Frame) {
	l.mu.RLock()
	handlers := l.handlers[f.Kind()]
	all := l.all
	l.mu.RUnlock()

	for _, h := range all {
		h(f)
	}

	if len(handlers) == 0 {
		if f.Kind() == xbee.KindUnknown {
			l.logger.Warn().
				Str("frame_type", xbee.FormatFrameType(f.Type())).
				Msg("Dropping unknown frame kind")
		}
		return
	}
	for _, h := range handlers {
		h(f)
	}
}

func (l *Link) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.closing:
			return
		case data := <-l.writes:
			if err := l.write(data); err != nil {
				if !l.isClosing() {
					l.fail(err)
				}
				return
			}
			l.stats.RecordSent()
		}
	}
}

// write puts one encoded frame on the wire, retrying transient failures
func (l *Link) write(data []byte) error {
	var err error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		var n int
		n, err = l.conn.Write(data)
		data = data[n:]
		if err == nil && n == 0 && len(data) > 0 {
			err = io.ErrShortWrite
		}
		if err == nil && len(data) == 0 {
			return nil
		}
		if err == nil {
			// Short write; the rest goes out on the next pass
			attempt--
			continue
		}
		if l.isClosing() {
			return err
		}
		l.logger.Warn().Err(err).Int("attempt", attempt).Msg("Serial write failed, retrying")
		time.Sleep(RetryPause)
	}
	return &IOError{Op: "write", Err: err}
}
