package bridge

import (
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/ringchan"
)

// ChannelSink buffers events in a bounded channel. When the consumer falls behind
// the oldest events are overwritten, so the adapter is never blocked.
type ChannelSink struct {
	ch *ringchan.RingChannel[central.Event]
}

// NewChannelSink creates a ChannelSink holding up to capacity events
func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{ch: ringchan.New[central.Event](capacity)}
}

// Send implements Sink
func (s *ChannelSink) Send(e central.Event) {
	s.ch.Send(e)
}

// C returns the event channel. It is closed once the sink is replaced or unsubscribed.
func (s *ChannelSink) C() <-chan central.Event {
	return s.ch.C()
}

// Overwritten returns how many events were lost to a slow consumer
func (s *ChannelSink) Overwritten() int64 {
	return s.ch.Metrics().Overwritten
}

// Close closes the channel; buffered events stay readable
func (s *ChannelSink) Close() {
	s.ch.Close()
}

// Recorder keeps the most recent events in an overlapped ring buffer for
// later inspection, e.g. by a poller or a test.
type Recorder struct {
	buf         mpmc.RichOverlappedRingBuffer[central.Event]
	overwritten atomic.Uint64
	errors      atomic.Uint64
	closed      atomic.Bool
}

// NewRecorder creates a Recorder. The buffer size is rounded by the ring buffer
// implementation, so the number of retained events may differ slightly from size.
func NewRecorder(size uint32) *Recorder {
	return &Recorder{buf: mpmc.NewOverlappedRingBuffer[central.Event](size)}
}

// Send implements Sink
func (r *Recorder) Send(e central.Event) {
	if r.closed.Load() {
		return
	}
	overwrites, err := r.buf.EnqueueM(e)
	if err != nil {
		r.errors.Add(1)
		return
	}
	if overwrites > 0 {
		r.overwritten.Add(uint64(overwrites))
	}
}

// Drain removes and returns the buffered events, oldest first
func (r *Recorder) Drain() []central.Event {
	var out []central.Event
	for !r.buf.IsEmpty() {
		e, err := r.buf.Dequeue()
		if err != nil {
			break
		}
		out = append(out, e)
	}
	return out
}

// Overwritten returns how many events were discarded to make room
func (r *Recorder) Overwritten() uint64 {
	return r.overwritten.Load()
}

// Close stops recording. Buffered events can still be drained.
func (r *Recorder) Close() {
	r.closed.Store(true)
}

// Closed reports whether the recorder was closed
func (r *Recorder) Closed() bool {
	return r.closed.Load()
}

type tee []Sink

// Tee fans every event out to all sinks in order. Closing the tee closes each sink.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t tee) Send(e central.Event) {
	for _, s := range t {
		s.Send(e)
	}
}

func (t tee) Close() {
	for _, s := range t {
		closeSink(s)
	}
}
