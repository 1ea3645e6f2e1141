package stream

import (
	"sync"

	"echostream/message"

	"github.com/eapache/queue"
)

// DeliverFunc receives the frames of one stream, one at a time, in arrival order.
type DeliverFunc func(frame *message.StreamMsg)

// lane is the FIFO of frames waiting for one stream id, drained by at most one goroutine.
type lane struct {
	frames  *queue.Queue
	running bool
}

// Sequencer hands frames to a DeliverFunc without blocking the caller (the connection's
// read loop) while keeping per-stream order. Different streams are delivered concurrently.
//
//	Push(id=1,seq=1) Push(id=2,seq=1) Push(id=1,seq=2)
//	  lane 1: [seq1, seq2] ──► worker ──► deliver(seq1), deliver(seq2)
//	  lane 2: [seq1]       ──► worker ──► deliver(seq1)
type Sequencer struct {
	mu      sync.Mutex
	lanes   map[uint32]*lane
	deliver DeliverFunc
	wg      sync.WaitGroup
	closed  bool
}

func NewSequencer(deliver DeliverFunc) *Sequencer {
	return &Sequencer{
		lanes:   make(map[uint32]*lane),
		deliver: deliver,
	}
}

// Push queues frame behind any frames of the same stream that are not delivered yet.
// It returns false once the sequencer is closed.
func (s *Sequencer) Push(frame *message.StreamMsg) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	l, ok := s.lanes[frame.ID]
	if !ok {
		l = &lane{frames: queue.New()}
		s.lanes[frame.ID] = l
	}
	l.frames.Add(frame)
	if !l.running {
		l.running = true
		s.wg.Add(1)
		go s.drain(frame.ID, l)
	}
	return true
}

func (s *Sequencer) drain(id uint32, l *lane) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if l.frames.Length() == 0 {
			l.running = false
			delete(s.lanes, id)
			s.mu.Unlock()
			return
		}
		frame := l.frames.Remove().(*message.StreamMsg)
		s.mu.Unlock()

		s.deliver(frame)
	}
}

// Pending returns the number of frames queued and not yet handed to the DeliverFunc.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lanes {
		n += l.frames.Length()
	}
	return n
}

// Close drops every queued frame and refuses new ones. Deliveries already in progress
// finish on their own; use Wait to block until they do.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	for _, l := range s.lanes {
		for l.frames.Length() > 0 {
			l.frames.Remove()
		}
	}
	s.mu.Unlock()
}

// Wait blocks until no lane is being drained. Must not be called from a DeliverFunc.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

// Reopen accepts frames again after Close.
func (s *Sequencer) Reopen() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}
