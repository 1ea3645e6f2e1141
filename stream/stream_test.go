package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"echostream/errs"
	"echostream/message"
)

func frame(id, seq uint32, fin bool) *message.StreamMsg {
	return &message.StreamMsg{ID: id, Name: "video", Seq: seq, SenderTS: message.Now(), Data: []byte{byte(seq)}, Fin: fin}
}

func TestTrackerIncreasingSeq(t *testing.T) {
	tr := NewTracker()
	for seq := uint32(1); seq <= 5; seq++ {
		if err := tr.Observe(frame(1, seq, false)); err != nil {
			t.Fatalf("seq %d: unexpected anomaly %v", seq, err)
		}
	}
	if last, ok := tr.Last(1); !ok || last != 5 {
		t.Fatalf("expect watermark 5, got %d (open=%v)", last, ok)
	}
	// Equal seq is non-decreasing and therefore fine.
	if err := tr.Observe(frame(1, 5, false)); err != nil {
		t.Fatalf("duplicate seq must not be an anomaly: %v", err)
	}
}

func TestTrackerRegressionIsFlagged(t *testing.T) {
	tr := NewTracker()
	tr.Observe(frame(1, 10, false))

	err := tr.Observe(frame(1, 3, false))
	var streamErr *errs.StreamError
	if !errors.As(err, &streamErr) || streamErr.StreamID != 1 {
		t.Fatalf("expect StreamError for stream 1, got %v", err)
	}
	if last, _ := tr.Last(1); last != 10 {
		t.Fatalf("watermark must stay at 10, got %d", last)
	}
}

func TestTrackerFinReleasesStream(t *testing.T) {
	tr := NewTracker()
	tr.Observe(frame(1, 1, false))
	tr.Observe(frame(2, 1, false))
	tr.Observe(frame(1, 2, true))

	if _, ok := tr.Last(1); ok {
		t.Fatal("stream 1 must be released after fin")
	}
	if tr.Open() != 1 {
		t.Fatalf("expect 1 open stream, got %d", tr.Open())
	}
	// Same id again is a brand new stream: a low seq is fine.
	if err := tr.Observe(frame(1, 0, false)); err != nil {
		t.Fatalf("new stream must not inherit old watermark: %v", err)
	}
	tr.Reset()
	if tr.Open() != 0 {
		t.Fatal("reset must forget every stream")
	}
}

func TestSequencerKeepsPerStreamOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[uint32][]uint32{}
	var wg sync.WaitGroup
	seq := NewSequencer(func(f *message.StreamMsg) {
		defer wg.Done()
		if f.Seq%7 == 0 {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		got[f.ID] = append(got[f.ID], f.Seq)
		mu.Unlock()
	})

	const perStream = 100
	wg.Add(perStream * 3)
	for i := uint32(1); i <= perStream; i++ {
		for id := uint32(1); id <= 3; id++ {
			if !seq.Push(frame(id, i, i == perStream)) {
				t.Fatal("push refused")
			}
		}
	}
	wg.Wait()
	seq.Wait()

	for id := uint32(1); id <= 3; id++ {
		frames := got[id]
		if len(frames) != perStream {
			t.Fatalf("stream %d: expect %d frames, got %d", id, perStream, len(frames))
		}
		for i, s := range frames {
			if s != uint32(i+1) {
				t.Fatalf("stream %d delivered out of order at %d: %v", id, i, frames[:i+1])
			}
		}
	}
	if seq.Pending() != 0 {
		t.Fatalf("expect nothing pending, got %d", seq.Pending())
	}
}

func TestSequencerClose(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan uint32, 10)
	seq := NewSequencer(func(f *message.StreamMsg) {
		<-release
		delivered <- f.Seq
	})
	seq.Push(frame(1, 1, false))
	seq.Push(frame(1, 2, false))
	seq.Push(frame(1, 3, false))
	time.Sleep(10 * time.Millisecond)

	seq.Close()
	if seq.Push(frame(1, 4, false)) {
		t.Fatal("closed sequencer must refuse frames")
	}
	close(release)
	seq.Wait()

	if n := len(delivered); n != 1 {
		t.Fatalf("only the in-flight frame should be delivered, got %d", n)
	}

	seq.Reopen()
	if !seq.Push(frame(1, 5, false)) {
		t.Fatal("reopened sequencer must accept frames")
	}
	seq.Wait()
}
