package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// Prefetcher overlaps frame acquisition with processing: while the consumer
// works on frame N, one background goroutine reads frame N+1 into a
// single-slot buffer. The consumer side is still one frame at a time.
type Prefetcher struct {
	src  Source
	slot chan result
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type result struct {
	frame *gocv.Mat
	err   error
}

// NewPrefetcher starts reading from an already opened src.
func NewPrefetcher(src Source) *Prefetcher {
	p := &Prefetcher{
		src:  src,
		slot: make(chan result, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Prefetcher) run() {
	defer close(p.done)
	defer close(p.slot)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		frame, err := p.src.ReadFrame()
		select {
		case p.slot <- result{frame: frame, err: err}:
		case <-p.stop:
			if frame != nil {
				frame.Close()
			}
			return
		}
		if errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrSourceNotOpen) {
			return
		}
	}
}

// ReadFrame returns the buffered frame, waiting for it if necessary.
// After the source ends every call returns ErrEndOfStream.
func (p *Prefetcher) ReadFrame() (*gocv.Mat, error) {
	r, ok := <-p.slot
	if !ok {
		return nil, ErrEndOfStream
	}
	return r.frame, r.err
}

// Stop ends prefetching and releases any frame still in the slot.
// It does not close the underlying source.
func (p *Prefetcher) Stop() {
	p.once.Do(func() {
		close(p.stop)
		// Drain so the reader can observe stop
		for r := range p.slot {
			if r.frame != nil {
				r.frame.Close()
			}
		}
		<-p.done
	})
}
