package feed

import (
	"context"
	"sync"
)

// Source is anything that yields frames one at a time.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

type item struct {
	frame []byte
	err   error
}

// Prefetch reads ahead from a Source into a bounded queue on its own
// goroutine, so reception is not held up while the consumer applies a
// message. When the queue is full the reader blocks. The first error from
// the Source is queued after the frames before it and ends the read-ahead.
type Prefetch struct {
	src    Source
	queue  chan item
	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    error // sticky, owned by the consumer
}

// NewPrefetch starts reading src into a queue of size frames. size < 1 is
// treated as 1.
func NewPrefetch(ctx context.Context, src Source, size int) *Prefetch {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Prefetch{
		src:    src,
		queue:  make(chan item, size),
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.run(ctx)
	return p
}

func (p *Prefetch) run(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.queue)
	for {
		frame, err := p.src.Next(ctx)
		select {
		case p.queue <- item{frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next queued frame in the order the Source produced it.
func (p *Prefetch) Next(ctx context.Context) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case it, ok := <-p.queue:
		if !ok {
			p.err = context.Canceled
			return nil, p.err
		}
		if it.err != nil {
			p.err = it.err
			return nil, it.err
		}
		return it.frame, nil
	}
}

// Len returns the number of frames waiting in the queue.
func (p *Prefetch) Len() int {
	return len(p.queue)
}

// Close stops the read-ahead and waits for it to exit. It does not close
// the Source.
func (p *Prefetch) Close() {
	p.cancel()
	p.wg.Wait()
}
