// Package stream exposes characteristic notifications as a byte stream.
package stream

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
	"github.com/srg/blues/internal/bridge"
	"github.com/srg/blues/internal/central"
)

// DefaultCapacity is the buffer size used when NewReader is given a non-positive capacity
const DefaultCapacity = 64 * 1024

// Reader collects the payloads of one characteristic's value updates into a byte
// ring buffer and serves them through io.Reader. It is a bridge.Sink, so it is fed by
// subscribing it to the event bridge, optionally in front of another sink.
//
// Bytes that do not fit are dropped and counted; the producer never blocks.
// The stream ends with io.EOF once the reader is closed or the peripheral disconnects,
// after the buffered bytes were consumed.
type Reader struct {
	peripheralID string
	serviceUUID  string
	charUUID     string

	buf     *ringbuffer.RingBuffer
	ready   chan struct{} // signalled after a write
	done    chan struct{} // closed by Close
	once    sync.Once
	dropped atomic.Uint64
	written atomic.Uint64

	next bridge.Sink
}

var (
	_ bridge.Sink   = (*Reader)(nil)
	_ io.ReadCloser = (*Reader)(nil)
)

// NewReader creates a Reader for the characteristic charUUID of serviceUUID on peripheralID.
// UUIDs are accepted in any form NormalizeUUID understands.
func NewReader(peripheralID, serviceUUID, charUUID string, capacity int) *Reader {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reader{
		peripheralID: peripheralID,
		serviceUUID:  central.NormalizeUUID(serviceUUID),
		charUUID:     central.NormalizeUUID(charUUID),
		buf:          ringbuffer.New(capacity),
		ready:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Chain forwards every event, matching or not, to next after it was processed
func (r *Reader) Chain(next bridge.Sink) *Reader {
	r.next = next
	return r
}

func (r *Reader) matches(e central.Event) bool {
	return strings.EqualFold(e.PeripheralID, r.peripheralID) &&
		central.NormalizeUUID(e.ServiceUUID) == r.serviceUUID &&
		central.NormalizeUUID(e.CharacteristicUUID) == r.charUUID
}

// Send implements bridge.Sink
func (r *Reader) Send(e central.Event) {
	switch {
	case r.closed():
	case e.Kind == central.EventCharacteristicValueUpdated && r.matches(e):
		r.write(e.Value)
	case e.Kind == central.EventConnectionStateChanged && e.State == central.Disconnected &&
		strings.EqualFold(e.PeripheralID, r.peripheralID):
		r.finish()
	}

	if r.next != nil {
		r.next.Send(e)
	}
}

func (r *Reader) write(data []byte) {
	if len(data) == 0 {
		return
	}
	n, err := r.buf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		r.dropped.Add(uint64(len(data) - n))
		return
	}
	// A partial write keeps the bytes that fit; the rest is lost
	if n < len(data) {
		r.dropped.Add(uint64(len(data) - n))
	}
	r.written.Add(uint64(n))

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Read blocks until bytes are available or the stream ended
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := r.buf.TryRead(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		if r.closed() {
			// a write may have landed between TryRead and the close check
			if r.buf.IsEmpty() {
				return 0, io.EOF
			}
			continue
		}

		select {
		case <-r.ready:
		case <-r.done:
		}
	}
}

// Buffered returns the number of unread bytes
func (r *Reader) Buffered() int {
	return r.buf.Length()
}

// Dropped returns the number of bytes lost to a full buffer
func (r *Reader) Dropped() uint64 {
	return r.dropped.Load()
}

// Written returns the number of bytes accepted into the buffer
func (r *Reader) Written() uint64 {
	return r.written.Load()
}

// Close ends the stream. Unread bytes remain readable before io.EOF.
// A chained sink is closed too.
func (r *Reader) Close() error {
	r.finish()
	switch c := r.next.(type) {
	case interface{ Close() }:
		c.Close()
	case io.Closer:
		_ = c.Close()
	}
	return nil
}

func (r *Reader) finish() {
	r.once.Do(func() { close(r.done) })
}

func (r *Reader) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
