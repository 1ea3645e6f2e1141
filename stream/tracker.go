// Package stream tracks sequence state for the binary streams multiplexed on one session
// and delivers each stream's frames in arrival order.
//
// A stream is opened implicitly by its first frame and released after its fin frame;
// a later frame with the same id starts a new stream. The tracker keeps the highest seq
// delivered per stream and flags (never drops) a frame whose seq regresses below it.
// Sender timestamps are advisory and never used for dropping.
package stream

import (
	"fmt"
	"sync"

	"echostream/errs"
	"echostream/message"
)

type state struct {
	name  string
	last  uint32
	count uint64
}

// Tracker holds per-stream watermarks. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	streams map[uint32]*state
}

func NewTracker() *Tracker {
	return &Tracker{streams: make(map[uint32]*state)}
}

// Observe records the delivery of frame. It returns a *errs.StreamError when the frame's seq
// is below the stream's watermark; the watermark is left unchanged in that case.
// A fin frame releases the stream's state whether or not it was anomalous.
func (t *Tracker) Observe(frame *message.StreamMsg) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.streams[frame.ID]
	if !ok {
		st = &state{name: frame.Name, last: frame.Seq}
		t.streams[frame.ID] = st
	}
	st.count++

	var anomaly error
	if frame.Seq < st.last {
		anomaly = &errs.StreamError{
			StreamID: frame.ID,
			Reason:   fmt.Sprintf("seq %d regressed below %d", frame.Seq, st.last),
		}
	} else {
		st.last = frame.Seq
	}

	if frame.Fin {
		delete(t.streams, frame.ID)
	}
	return anomaly
}

// Last returns the watermark of an open stream.
func (t *Tracker) Last(id uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[id]
	if !ok {
		return 0, false
	}
	return st.last, true
}

// Open returns the number of streams that have not seen their fin frame yet.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// Reset forgets every stream, e.g. at session teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.streams)
}
