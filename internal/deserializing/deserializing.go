// Package deserializing adapts a Source that delivers serialized message
// bytes into one that delivers decoded messages, via a bounded pool of
// worker-local decoders pinned one per in-flight MessageIterator.
package deserializing

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/mcap"
)

// Decoder turns one serialized MessageEvent's raw payload into a decoded
// value. Implementations are expected to hold per-worker decoder state
// (schemas, channels) initialized once from an InitializationResult.
type Decoder interface {
	// Init is called once per worker, after the underlying source's
	// Initialize, to build any schema/channel state the decoder needs.
	Init(init mcap.InitializationResult) error
	Decode(raw any, schemaName string) (any, error)
}

// DeserializingSource wraps a Source whose MessageEvent.Message values
// are still serialized (e.g. raw bytes) and decodes them through a
// bounded pool of worker-local Decoder instances.
type DeserializingSource struct {
	source      mcap.Source
	newDecoder  func() Decoder
	workerCount int64

	sem *semaphore.Weighted
}

// New constructs a DeserializingSource. newDecoder builds one Decoder
// instance per worker; workerCount bounds how many MessageIterator
// workers can run concurrently.
func New(source mcap.Source, newDecoder func() Decoder, workerCount int64) *DeserializingSource {
	if workerCount < 1 {
		workerCount = 1
	}
	return &DeserializingSource{
		source:      source,
		newDecoder:  newDecoder,
		workerCount: workerCount,
		sem:         semaphore.NewWeighted(workerCount),
	}
}

func (d *DeserializingSource) Initialize(ctx context.Context) (mcap.InitializationResult, error) {
	return d.source.Initialize(ctx)
}

func (d *DeserializingSource) GetBackfillMessages(ctx context.Context, args mcap.BackfillArgs) ([]mcap.MessageEvent, error) {
	raw, err := d.source.GetBackfillMessages(ctx, args)
	if err != nil {
		return nil, err
	}
	decoder := d.newDecoder()
	init, err := d.source.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	if err := decoder.Init(init); err != nil {
		return nil, alerts.ParseError("failed to initialize backfill decoder", err)
	}
	out := make([]mcap.MessageEvent, len(raw))
	for i, m := range raw {
		decoded, err := decoder.Decode(m.Message, m.SchemaName)
		if err != nil {
			return nil, alerts.ParseError("failed to decode backfill message", err)
		}
		m.Message = decoded
		out[i] = m
	}
	return out, nil
}

func (d *DeserializingSource) Terminate() error { return d.source.Terminate() }

// MessageIterator pins the returned iterator to one worker's Decoder,
// decoding each message inline as it is drained.
func (d *DeserializingSource) MessageIterator(ctx context.Context, args mcap.MessageIteratorArgs) (mcap.MessageIterator, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, alerts.New(alerts.KindAbort, "deserializing worker unavailable", err)
	}

	underlying, err := d.source.MessageIterator(ctx, args)
	if err != nil {
		d.sem.Release(1)
		return nil, err
	}

	init, err := d.source.Initialize(ctx)
	if err != nil {
		underlying.Return()
		d.sem.Release(1)
		return nil, err
	}

	decoder := d.newDecoder()
	if err := decoder.Init(init); err != nil {
		underlying.Return()
		d.sem.Release(1)
		return nil, alerts.ParseError("failed to initialize worker decoder", err)
	}

	return &deserializingIterator{
		sem:        d.sem,
		underlying: underlying,
		decoder:    decoder,
	}, nil
}

type deserializingIterator struct {
	sem        *semaphore.Weighted
	underlying mcap.MessageIterator
	decoder    Decoder
	released   bool
}

// Next drains one result from the underlying iterator and decodes it
// inline if it's a message event; stamp/alert results pass through
// unchanged.
func (it *deserializingIterator) Next(ctx context.Context) (mcap.IteratorResult, bool, error) {
	result, ok, err := it.underlying.Next(ctx)
	if err != nil || !ok {
		return result, ok, err
	}
	if result.Type != mcap.ResultMessageEvent {
		return result, true, nil
	}

	decoded, err := it.decoder.Decode(result.MsgEvent.Message, result.MsgEvent.SchemaName)
	if err != nil {
		return mcap.AlertResult(alerts.Alert{
			Severity: alerts.SeverityWarn,
			Message:  "failed to decode message",
			Err:      err,
		}), true, nil
	}
	result.MsgEvent.Message = decoded
	return result, true, nil
}

func (it *deserializingIterator) Return() error {
	if it.released {
		return nil
	}
	it.released = true
	it.sem.Release(1)
	return it.underlying.Return()
}

var _ mcap.Source = (*DeserializingSource)(nil)
var _ mcap.MessageIterator = (*deserializingIterator)(nil)
