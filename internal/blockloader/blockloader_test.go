package blockloader

import (
	"context"
	"testing"

	"github.com/loghive/mcapviz/internal/mcap"
)

func buildReader(t *testing.T, n int) *mcap.MemorySource {
	t.Helper()
	topic := mcap.Topic{Name: "/odom"}
	var msgs []mcap.MessageEvent
	for i := 0; i < n; i++ {
		msgs = append(msgs, mcap.MessageEvent{
			Topic:       topic,
			ReceiveTime: mcap.NewTime(int64(i), 0),
			SizeInBytes: 100,
		})
	}
	return mcap.NewMemorySource(mcap.NewTime(0, 0), mcap.NewTime(int64(n), 0), []mcap.Topic{topic}, msgs)
}

func TestBlockLoaderLoadsAllBlocks(t *testing.T) {
	reader := buildReader(t, 100)
	loader := New(reader, Config{
		Start:              mcap.NewTime(0, 0),
		End:                mcap.NewTime(100, 0),
		MaxBlocks:          10,
		MinBlockDurationNs: int64(10e9),
		CacheSizeBytes:     1 << 20,
	})
	loader.SetTopics([]string{"/odom"})

	progressCount := 0
	loader.StartLoading(context.Background(), 0, func(cache BlockCache, mem MemoryInfo) {
		progressCount++
	}, nil)

	if progressCount != 10 {
		t.Fatalf("got %d progress calls, want 10", progressCount)
	}

	snap := loader.Snapshot()
	for i, b := range snap.Blocks {
		if b == nil {
			t.Fatalf("block %d not loaded", i)
		}
	}
}

func TestBlockLoaderEvictsFurthestFromActive(t *testing.T) {
	reader := buildReader(t, 100)
	loader := New(reader, Config{
		Start:              mcap.NewTime(0, 0),
		End:                mcap.NewTime(100, 0),
		MaxBlocks:          10,
		MinBlockDurationNs: int64(10e9),
		CacheSizeBytes:     3300, // room for about 3 blocks: each 10s block holds 10-11 messages of 100 bytes
	})
	loader.SetTopics([]string{"/odom"})

	loader.StartLoading(context.Background(), 5, nil, nil)

	snap := loader.Snapshot()
	loadedCount := 0
	for _, b := range snap.Blocks {
		if b != nil {
			loadedCount++
		}
	}
	if loadedCount == 0 {
		t.Fatalf("expected at least one block to survive eviction")
	}
	if loadedCount == len(snap.Blocks) {
		t.Fatalf("expected eviction to have occurred under a tight budget")
	}
}

func TestPriorityOrderNearestFirst(t *testing.T) {
	order := priorityOrder(2, 5)
	want := []int{2, 3, 1, 4, 0}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestBlockLoaderSetTopicsInvalidatesMissingSlots(t *testing.T) {
	reader := buildReader(t, 50)
	loader := New(reader, Config{
		Start:              mcap.NewTime(0, 0),
		End:                mcap.NewTime(50, 0),
		MaxBlocks:          5,
		MinBlockDurationNs: int64(10e9),
		CacheSizeBytes:     1 << 20,
	})
	loader.SetTopics([]string{"/odom"})
	loader.StartLoading(context.Background(), 0, nil, nil)

	loader.SetTopics([]string{"/odom", "/imu"})
	snap := loader.Snapshot()
	for i, b := range snap.Blocks {
		if b != nil {
			t.Fatalf("block %d should have been invalidated after adding a topic, got %+v", i, b)
		}
	}
}
