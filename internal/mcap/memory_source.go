package mcap

import (
	"context"
	"sort"

	"github.com/loghive/mcapviz/internal/alerts"
)

// MemorySource is a reference Source implementation over an in-memory,
// pre-loaded set of messages. It plays the role the real MCAP parser
// library plays in production (spec §1 treats that parser as opaque);
// tests and the demo CLI construct a MemorySource directly instead of
// reading bytes off disk or the network.
type MemorySource struct {
	init     InitializationResult
	messages []MessageEvent // must be sorted by ReceiveTime ascending
}

// NewMemorySource builds a MemorySource from already-sorted messages
// and the topics/time range they span. messages must be supplied in
// non-decreasing ReceiveTime order, matching the MessageEvent ordering
// invariant in spec §3.
func NewMemorySource(start, end Time, topics []Topic, messages []MessageEvent) *MemorySource {
	sorted := make([]MessageEvent, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceiveTime.Before(sorted[j].ReceiveTime)
	})

	stats := map[string]TopicStat{}
	pubs := map[string][]string{}
	for _, topic := range topics {
		stats[topic.Name] = TopicStat{}
		pubs[topic.Name] = nil
	}
	for _, m := range sorted {
		st := stats[m.Topic.Name]
		st.NumMessages++
		t := m.ReceiveTime
		if st.FirstTime == nil {
			st.FirstTime = &t
		}
		st.LastTime = &t
		stats[m.Topic.Name] = st
	}

	return &MemorySource{
		init: InitializationResult{
			Start:             start,
			End:               end,
			Topics:            topics,
			Datatypes:         map[string]Datatype{},
			TopicStats:        stats,
			PublishersByTopic: pubs,
		},
		messages: sorted,
	}
}

func (s *MemorySource) Initialize(ctx context.Context) (InitializationResult, error) {
	select {
	case <-ctx.Done():
		return InitializationResult{}, ctx.Err()
	default:
	}
	return s.init, nil
}

func (s *MemorySource) topicSet(topics []string) map[string]bool {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return set
}

func (s *MemorySource) MessageIterator(ctx context.Context, args MessageIteratorArgs) (MessageIterator, error) {
	wanted := s.topicSet(args.Topics)
	var results []IteratorResult
	for _, m := range s.messages {
		if len(wanted) > 0 && !wanted[m.Topic.Name] {
			continue
		}
		if m.ReceiveTime.Before(args.Start) {
			continue
		}
		if args.End != nil && m.ReceiveTime.After(*args.End) {
			break
		}
		results = append(results, MessageResult(m))
	}
	// Emit a trailing stamp at the log's end so callers can advance the
	// cursor through any empty tail region without waiting on a message
	// that will never come.
	results = append(results, StampResult(s.init.End))
	return NewSliceIterator(results), nil
}

func (s *MemorySource) GetBackfillMessages(ctx context.Context, args BackfillArgs) ([]MessageEvent, error) {
	wanted := s.topicSet(args.Topics)
	latest := map[string]MessageEvent{}
	for _, m := range s.messages {
		if len(wanted) > 0 && !wanted[m.Topic.Name] {
			continue
		}
		if m.ReceiveTime.After(args.Time) {
			continue
		}
		latest[m.Topic.Name] = m
	}

	out := make([]MessageEvent, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic.Name < out[j].Topic.Name })
	return out, nil
}

func (s *MemorySource) Terminate() error { return nil }

// Messages returns the in-range messages for a topic/time window, used
// by BlockLoader to fill a block slot without going through the
// streaming iterator contract.
func (s *MemorySource) Messages(topic string, start, end Time) []MessageEvent {
	var out []MessageEvent
	for _, m := range s.messages {
		if m.Topic.Name != topic {
			continue
		}
		if m.ReceiveTime.Before(start) || m.ReceiveTime.After(end) {
			continue
		}
		out = append(out, m)
	}
	return out
}

var _ Source = (*MemorySource)(nil)

// NoopAlert is a convenience zero-value alert sources can append when
// nothing went wrong; kept here so callers needn't import alerts
// directly just to build an empty InitializationResult.Alerts.
var NoopAlert = alerts.Alert{}
