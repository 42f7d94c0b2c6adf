// Package messagehandler owns the forward playback iterator: opening it
// at the right boundary, draining it tick by tick, and handling seeks
// via point backfill reads against the underlying source.
package messagehandler

import (
	"context"
	"time"

	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/obslog"
)

var log = obslog.For("messagehandler")

// SeekOnStartNs is the forward-drain boundary readInitial stops at
// (spec §4.5, ~99ms).
const SeekOnStartNs = int64(99 * time.Millisecond)

// BufferingTimeout is the per-Next wait above which Tick logs the wait
// and adds it to TickResult.BufferingTime (spec §5). It does not change
// the player's presence.
const BufferingTimeout = 500 * time.Millisecond

// IteratorSource is the narrow forward-iteration contract MessageHandler
// needs from its upstream (normally a BufferedSource).
type IteratorSource interface {
	MessageIterator(ctx context.Context, args mcap.MessageIteratorArgs) (mcap.MessageIterator, error)
}

// BackfillSource is the narrow point-query contract readBackfill needs,
// satisfied directly by the underlying mcap.Source (bypassing the
// forward prefetch buffer, since a backfill is a one-shot lookup).
type BackfillSource interface {
	GetBackfillMessages(ctx context.Context, args mcap.BackfillArgs) ([]mcap.MessageEvent, error)
}

// TickResult is what tick() emits: the spec's {messages, currentTime,
// tickDuration, bufferingTime}.
type TickResult struct {
	Messages      []mcap.MessageEvent
	CurrentTime   mcap.Time
	TickDuration  time.Duration
	BufferingTime time.Duration
}

// MessageHandler owns one forward iterator over an IteratorSource.
type MessageHandler struct {
	iteratorSource IteratorSource
	backfillSource BackfillSource

	start  mcap.Time
	topics []string

	iterator mcap.MessageIterator

	currentTime     mcap.Time
	lastMessageEvent *mcap.MessageEvent
	lastStamp        *mcap.Time
}

// New constructs a MessageHandler bound to a fixed topic subscription
// and log start time.
func New(iteratorSource IteratorSource, backfillSource BackfillSource, start mcap.Time, topics []string) *MessageHandler {
	return &MessageHandler{
		iteratorSource: iteratorSource,
		backfillSource: backfillSource,
		start:          start,
		topics:         topics,
		currentTime:    start,
	}
}

// CurrentTime returns the handler's current cursor.
func (h *MessageHandler) CurrentTime() mcap.Time { return h.currentTime }

// SetTopics updates the subscribed topic set used by future iterator
// opens (ReadInitial, ResetPlaybackIterator) and backfill reads. It does
// not affect an iterator already open; callers that need the change to
// take effect immediately should follow with ResetPlaybackIterator.
func (h *MessageHandler) SetTopics(topics []string) { h.topics = topics }

// ReadInitial opens the forward iterator at start and drains it until
// the first stamp at or past start+SeekOnStartNs, or the first message
// past that boundary (which is stashed for the next tick).
func (h *MessageHandler) ReadInitial(ctx context.Context) (mcap.Time, error) {
	it, err := h.iteratorSource.MessageIterator(ctx, mcap.MessageIteratorArgs{
		Topics: h.topics,
		Start:  h.start,
	})
	if err != nil {
		return mcap.Time{}, err
	}
	h.iterator = it

	boundary := h.start.Add(SeekOnStartNs)
	for {
		result, ok, err := it.Next(ctx)
		if err != nil {
			return mcap.Time{}, err
		}
		if !ok {
			break
		}
		switch result.Type {
		case mcap.ResultStamp:
			if !result.Stamp.Before(boundary) {
				h.lastStamp = &result.Stamp
				h.currentTime = boundary
				return h.currentTime, nil
			}
		case mcap.ResultMessageEvent:
			if result.MsgEvent.ReceiveTime.After(boundary) {
				evt := result.MsgEvent
				h.lastMessageEvent = &evt
				h.currentTime = boundary
				return h.currentTime, nil
			}
		}
	}
	h.currentTime = boundary
	return h.currentTime, nil
}

// ReadBackfill fetches the most recent message per subscribed topic at
// or before targetTime, resets iterator bookkeeping, and advances
// currentTime to targetTime.
func (h *MessageHandler) ReadBackfill(ctx context.Context, targetTime mcap.Time) ([]mcap.MessageEvent, error) {
	messages, err := h.backfillSource.GetBackfillMessages(ctx, mcap.BackfillArgs{
		Topics: h.topics,
		Time:   targetTime,
	})
	if err != nil {
		return nil, err
	}
	h.lastMessageEvent = nil
	h.lastStamp = nil
	h.currentTime = targetTime
	return messages, nil
}

// Tick drains the forward iterator up to and including endTime.
func (h *MessageHandler) Tick(ctx context.Context, endTime mcap.Time) (TickResult, error) {
	tickStart := time.Now()
	var bufferingTime time.Duration
	var messages []mcap.MessageEvent

	if h.lastMessageEvent != nil {
		if !h.lastMessageEvent.ReceiveTime.After(endTime) {
			messages = append(messages, *h.lastMessageEvent)
			h.lastMessageEvent = nil
		}
	}

	if h.lastStamp != nil && !h.lastStamp.Before(endTime) {
		// Prior stamp already covers this tick's range; nothing new to
		// drain from the iterator.
		h.currentTime = endTime
		return TickResult{Messages: messages, CurrentTime: h.currentTime, TickDuration: time.Since(tickStart)}, nil
	}
	h.lastStamp = nil

drain:
	for {
		drainStart := time.Now()
		result, ok, err := h.iterator.Next(ctx)
		elapsed := time.Since(drainStart)
		if elapsed > BufferingTimeout {
			bufferingTime += elapsed
			log.WithField("elapsed_ms", elapsed.Milliseconds()).Debug("tick drain exceeded buffering timeout")
		}
		if err != nil {
			return TickResult{}, err
		}
		if !ok {
			break drain
		}

		switch result.Type {
		case mcap.ResultMessageEvent:
			if result.MsgEvent.ReceiveTime.After(endTime) {
				evt := result.MsgEvent
				h.lastMessageEvent = &evt
				break drain
			}
			messages = append(messages, result.MsgEvent)
		case mcap.ResultStamp:
			if !result.Stamp.Before(endTime) {
				h.lastStamp = &result.Stamp
				break drain
			}
		case mcap.ResultAlert:
			log.WithField("alert", result.Alert.Message).Warn("iterator surfaced alert during tick")
		}
	}

	h.currentTime = endTime
	return TickResult{
		Messages:      messages,
		CurrentTime:   h.currentTime,
		TickDuration:  time.Since(tickStart),
		BufferingTime: bufferingTime,
	}, nil
}

// ResetPlaybackIterator closes the current iterator and reopens it at
// currentTime+1ns, except exactly at currentTime when currentTime ==
// start (to avoid skipping a boundary message).
func (h *MessageHandler) ResetPlaybackIterator(ctx context.Context) error {
	if h.iterator != nil {
		if err := h.iterator.Return(); err != nil {
			return err
		}
	}

	reopenAt := h.currentTime.Add(1)
	if h.currentTime.Equal(h.start) {
		reopenAt = h.currentTime
	}

	it, err := h.iteratorSource.MessageIterator(ctx, mcap.MessageIteratorArgs{
		Topics: h.topics,
		Start:  reopenAt,
	})
	if err != nil {
		return err
	}
	h.iterator = it
	h.lastMessageEvent = nil
	h.lastStamp = nil
	return nil
}

// Close releases the forward iterator.
func (h *MessageHandler) Close() error {
	if h.iterator == nil {
		return nil
	}
	return h.iterator.Return()
}
