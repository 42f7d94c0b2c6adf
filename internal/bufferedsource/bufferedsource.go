// Package bufferedsource wraps an mcap.Source with a forward prefetch
// window: a background producer goroutine reads ahead of the consumer's
// cursor by a configured duration, applying back-pressure in both
// directions so memory stays bounded during fast scrubbing.
package bufferedsource

import (
	"context"
	"sync"

	"github.com/loghive/mcapviz/internal/blockloader"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/obslog"
)

var log = obslog.For("bufferedsource")

// entry is one queued result plus the receive time used for the
// readAheadDuration back-pressure check.
type entry struct {
	result mcap.IteratorResult
	time   mcap.Time
}

// BufferedSource is the single active iterator over one Source. It is
// not safe to share across concurrent readers; the spec's "BufferedSource
// must support concurrent readers via independent cursors" requirement is
// satisfied by constructing one BufferedSource per logical cursor over
// the same underlying Source.
type BufferedSource struct {
	source            mcap.Source
	readAheadDuration int64 // nanoseconds

	logStart, logEnd mcap.Time

	mu           sync.Mutex
	cond         *sync.Cond
	queue        []entry
	consumerTime mcap.Time
	producerTime mcap.Time
	bufferedSize int

	producerErr  error
	producerDone bool
	stopped      bool

	underlying mcap.MessageIterator
}

// New constructs a BufferedSource. logStart/logEnd are the full log
// timespan, used only to normalize loadedRanges() into [0,1] fractions.
func New(source mcap.Source, readAheadDuration int64, logStart, logEnd mcap.Time) *BufferedSource {
	b := &BufferedSource{
		source:            source,
		readAheadDuration: readAheadDuration,
		logStart:          logStart,
		logEnd:            logEnd,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// MessageIterator starts the background producer and returns a
// MessageIterator the caller drains from. Cancelling ctx stops the
// producer and aborts the underlying source's iterator.
func (b *BufferedSource) MessageIterator(ctx context.Context, args mcap.MessageIteratorArgs) (mcap.MessageIterator, error) {
	underlying, err := b.source.MessageIterator(ctx, args)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.underlying = underlying
	b.consumerTime = args.Start
	b.producerTime = args.Start
	b.mu.Unlock()

	obslog.SafeGo(log, "bufferedsource-producer", func() { b.produce(ctx, underlying) })

	return &bufferedIterator{b: b}, nil
}

func (b *BufferedSource) produce(ctx context.Context, underlying mcap.MessageIterator) {
	// Wake the back-pressure wait below when ctx is cancelled.
	stopWake := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stopWake()
	defer func() {
		b.mu.Lock()
		b.producerDone = true
		b.cond.Broadcast()
		b.mu.Unlock()
	}()

	for {
		b.mu.Lock()
		for !b.stopped && ctx.Err() == nil && b.producerTime.Sub(b.consumerTime) >= b.readAheadDuration {
			b.cond.Wait()
		}
		stopped := b.stopped
		if !stopped && ctx.Err() != nil {
			b.producerErr = ctx.Err()
			stopped = true
		}
		b.mu.Unlock()
		if stopped {
			return
		}

		result, ok, err := underlying.Next(ctx)
		if err != nil {
			log.WithError(err).Debug("buffered source producer stopped")
			b.mu.Lock()
			b.producerErr = err
			b.mu.Unlock()
			return
		}
		if !ok {
			return
		}

		t := resultTime(result)

		b.mu.Lock()
		sz := 0
		if result.Type == mcap.ResultMessageEvent {
			sz = result.MsgEvent.SizeInBytes
		}
		b.queue = append(b.queue, entry{result: result, time: t})
		b.bufferedSize += sz
		if t.After(b.producerTime) {
			b.producerTime = t
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

func resultTime(r mcap.IteratorResult) mcap.Time {
	switch r.Type {
	case mcap.ResultMessageEvent:
		return r.MsgEvent.ReceiveTime
	case mcap.ResultStamp:
		return r.Stamp
	default:
		return mcap.Time{}
	}
}

// loadedRanges returns the currently buffered span as a normalized
// [start,end] fraction of the full log timespan. Empty when nothing is
// buffered yet.
func (b *BufferedSource) loadedRanges() []Range {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	start := b.queue[0].time
	end := b.queue[len(b.queue)-1].time
	return []Range{{
		Start: mcap.Fraction(start, b.logStart, b.logEnd),
		End:   mcap.Fraction(end, b.logStart, b.logEnd),
	}}
}

// LoadedRanges is the exported accessor for loadedRanges(), named per
// spec §4.2.
func (b *BufferedSource) LoadedRanges() []Range { return b.loadedRanges() }

// GetCacheSize reports the buffer's current byte residency.
func (b *BufferedSource) GetCacheSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedSize
}

// Messages implements blockloader.BlockReader by opening an independent
// iterator straight against the underlying Source for one topic/time
// window and draining it synchronously. It bypasses the prefetch queue
// entirely, so it never contends with the background producer or
// whichever consumer is draining MessageIterator's cursor — callers
// should construct a dedicated BufferedSource for this purpose, per the
// "one BufferedSource per logical cursor" contract above.
func (b *BufferedSource) Messages(topic string, start, end mcap.Time) []mcap.MessageEvent {
	ctx := context.Background()
	it, err := b.source.MessageIterator(ctx, mcap.MessageIteratorArgs{
		Topics: []string{topic},
		Start:  start,
		End:    &end,
	})
	if err != nil {
		log.WithError(err).WithField("topic", topic).Warn("block reader iterator failed")
		return nil
	}
	defer it.Return()

	var out []mcap.MessageEvent
	for {
		res, ok, err := it.Next(ctx)
		if err != nil || !ok {
			break
		}
		if res.Type == mcap.ResultMessageEvent {
			out = append(out, res.MsgEvent)
		}
	}
	return out
}

var _ blockloader.BlockReader = (*BufferedSource)(nil)

// Range is a normalized [0,1] span of the log timespan.
type Range struct {
	Start float64
	End   float64
}

// Stop halts the producer and releases the underlying iterator.
// bufferedIterator.Return calls this.
func (b *BufferedSource) Stop() error {
	b.mu.Lock()
	b.stopped = true
	b.cond.Broadcast()
	underlying := b.underlying
	b.mu.Unlock()
	if underlying != nil {
		return underlying.Return()
	}
	return nil
}

type bufferedIterator struct {
	b *BufferedSource
}

func (it *bufferedIterator) Next(ctx context.Context) (mcap.IteratorResult, bool, error) {
	b := it.b
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.queue) == 0 && !b.producerDone && b.producerErr == nil {
		// Race detection: ctx cancellation must wake this wait even
		// though sync.Cond has no native context support.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-done:
			}
		}()
		b.cond.Wait()
		close(done)
		if ctx.Err() != nil {
			return mcap.IteratorResult{}, false, ctx.Err()
		}
	}

	if len(b.queue) == 0 {
		if b.producerErr != nil {
			return mcap.IteratorResult{}, false, b.producerErr
		}
		return mcap.IteratorResult{}, false, nil
	}

	e := b.queue[0]
	b.queue = b.queue[1:]
	if e.result.Type == mcap.ResultMessageEvent {
		b.bufferedSize -= e.result.MsgEvent.SizeInBytes
	}
	b.consumerTime = e.time
	b.cond.Broadcast()
	return e.result, true, nil
}

func (it *bufferedIterator) Return() error {
	return it.b.Stop()
}

var _ mcap.MessageIterator = (*bufferedIterator)(nil)
