// Package blockloader partitions a log's time range into fixed blocks
// and loads preload-marked topics into a bounded-size block cache, used
// by the UI's scrub bar to render a full-resolution preview without
// holding the entire log in memory.
package blockloader

import (
	"context"
	"fmt"
	"sync"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/obslog"
)

func alertError(blockIndex int, recovered any) error {
	return alerts.New(alerts.KindStorageError, fmt.Sprintf("block %d read failed", blockIndex), fmt.Errorf("%v", recovered))
}

var log = obslog.For("blockloader")

// MemoryInfo mirrors the spec's Progress.memoryInfo mapping.
type MemoryInfo struct {
	UsedBytes   int64
	BudgetBytes int64
}

// Block holds decoded messages by topic for one time slot.
type Block struct {
	MessagesByTopic map[string][]mcap.MessageEvent
	SizeInBytes     int64
	Failed          bool
}

// BlockCache is the block grid BlockLoader maintains.
type BlockCache struct {
	Blocks    []*Block
	StartTime mcap.Time
	EndTime   mcap.Time
}

// BlockReader is the narrow read contract BlockLoader needs: reading all
// messages on one topic within a time window. BufferedSource and
// mcap.MemorySource both satisfy this directly with their Messages methods.
type BlockReader interface {
	Messages(topic string, start, end mcap.Time) []mcap.MessageEvent
}

// Config parameterizes BlockLoader.Initialize (spec §4.4).
type Config struct {
	Start              mcap.Time
	End                mcap.Time
	MaxBlocks          int
	MinBlockDurationNs int64
	CacheSizeBytes     int64
}

// ProgressFunc receives a snapshot after each block load.
type ProgressFunc func(cache BlockCache, mem MemoryInfo)

// AlertFunc receives a warning when a block's read fails; the loader
// continues with the next block regardless.
type AlertFunc func(blockIndex int, err error)

// BlockLoader owns one BlockCache and the loading/eviction policy over
// it. It is not safe for concurrent StartLoading calls; one loader
// drives loading while the player is open.
type BlockLoader struct {
	reader BlockReader
	cfg    Config

	boundaries []mcap.Time // len == numBlocks+1

	mu          sync.Mutex
	blocks      []*Block
	preload     map[string]bool
	activeIndex int
	usedBytes   int64

	cancel context.CancelFunc
}

// New computes block boundaries per spec §4.4:
// B = min(maxBlocks, ceil((end-start)/minBlockDurationNs)).
func New(reader BlockReader, cfg Config) *BlockLoader {
	total := cfg.End.Sub(cfg.Start)
	numBlocks := cfg.MaxBlocks
	if cfg.MinBlockDurationNs > 0 {
		computed := int((total + cfg.MinBlockDurationNs - 1) / cfg.MinBlockDurationNs)
		if computed < numBlocks {
			numBlocks = computed
		}
	}
	if numBlocks < 1 {
		numBlocks = 1
	}

	boundaries := make([]mcap.Time, numBlocks+1)
	for i := 0; i <= numBlocks; i++ {
		frac := float64(i) / float64(numBlocks)
		offset := int64(frac * float64(total))
		boundaries[i] = cfg.Start.Add(offset)
	}
	boundaries[numBlocks] = cfg.End

	return &BlockLoader{
		reader:     reader,
		cfg:        cfg,
		boundaries: boundaries,
		blocks:     make([]*Block, numBlocks),
		preload:    map[string]bool{},
	}
}

func (l *BlockLoader) numBlocks() int { return len(l.blocks) }

// SetTopics updates the full-preload topic set. Slots missing any of
// the new topics are invalidated and scheduled for reload; slots that
// already hold every new topic are left alone.
func (l *BlockLoader) SetTopics(topics []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newSet := make(map[string]bool, len(topics))
	for _, t := range topics {
		newSet[t] = true
	}

	for idx, block := range l.blocks {
		if block == nil {
			continue
		}
		missing := false
		for t := range newSet {
			if _, ok := block.MessagesByTopic[t]; !ok {
				missing = true
				break
			}
		}
		if missing {
			l.usedBytes -= block.SizeInBytes
			l.blocks[idx] = nil
		}
	}
	l.preload = newSet
}

// priorityOrder returns block indices ordered nearest-to-active first,
// alternating sides, ties (equal distance) favoring the higher index —
// the same rule StartLoading uses for fill order and eviction uses for
// choosing a victim.
func priorityOrder(active, n int) []int {
	order := make([]int, 0, n)
	order = append(order, active)
	for d := 1; d < n; d++ {
		hi := active + d
		lo := active - d
		hiOk := hi < n
		loOk := lo >= 0
		if hiOk {
			order = append(order, hi)
		}
		if loOk {
			order = append(order, lo)
		}
	}
	return order
}

// StartLoading fills blocks in priority order around activeIndex,
// invoking progress after each block. It runs until the context is
// cancelled via StopLoading or every slot is populated.
func (l *BlockLoader) StartLoading(ctx context.Context, activeIndex int, progress ProgressFunc, onAlert AlertFunc) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.activeIndex = activeIndex
	l.cancel = cancel
	n := l.numBlocks()
	l.mu.Unlock()

	order := priorityOrder(activeIndex, n)
	for _, idx := range order {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		alreadyLoaded := l.blocks[idx] != nil
		topics := make([]string, 0, len(l.preload))
		for t := range l.preload {
			topics = append(topics, t)
		}
		l.mu.Unlock()
		if alreadyLoaded || len(topics) == 0 {
			continue
		}

		block, err := l.loadBlock(idx, topics)
		if err != nil && onAlert != nil {
			onAlert(idx, err)
		}

		l.mu.Lock()
		l.blocks[idx] = block
		l.usedBytes += block.SizeInBytes
		l.evictIfOverBudget()
		snapshot := l.snapshotLocked()
		used := l.usedBytes
		l.mu.Unlock()

		if progress != nil {
			progress(snapshot, MemoryInfo{UsedBytes: used, BudgetBytes: l.cfg.CacheSizeBytes})
		}
	}
}

func (l *BlockLoader) loadBlock(idx int, topics []string) (block *Block, err error) {
	start, end := l.boundaries[idx], l.boundaries[idx+1]
	byTopic := make(map[string][]mcap.MessageEvent, len(topics))
	var size int64

	defer func() {
		if r := recover(); r != nil {
			log.WithField("block", idx).Warn("block read panicked")
			block = &Block{MessagesByTopic: byTopic, SizeInBytes: size, Failed: true}
			err = alertError(idx, r)
		}
	}()

	for _, topic := range topics {
		msgs := l.reader.Messages(topic, start, end)
		byTopic[topic] = msgs
		for _, m := range msgs {
			size += int64(m.SizeInBytes)
		}
	}
	return &Block{MessagesByTopic: byTopic, SizeInBytes: size}, nil
}

// evictIfOverBudget evicts the block furthest from activeIndex,
// tie-breaking toward the higher index, until usedBytes fits the
// budget. Caller must hold l.mu.
func (l *BlockLoader) evictIfOverBudget() {
	for l.usedBytes > l.cfg.CacheSizeBytes {
		victim := -1
		victimDist := -1
		for idx, block := range l.blocks {
			if block == nil {
				continue
			}
			dist := idx - l.activeIndex
			if dist < 0 {
				dist = -dist
			}
			if dist > victimDist || (dist == victimDist && idx > victim) {
				victim = idx
				victimDist = dist
			}
		}
		if victim < 0 {
			return
		}
		l.usedBytes -= l.blocks[victim].SizeInBytes
		l.blocks[victim] = nil
	}
}

func (l *BlockLoader) snapshotLocked() BlockCache {
	blocks := make([]*Block, len(l.blocks))
	copy(blocks, l.blocks)
	return BlockCache{Blocks: blocks, StartTime: l.cfg.Start, EndTime: l.cfg.End}
}

// Snapshot returns the current block cache state.
func (l *BlockLoader) Snapshot() BlockCache {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// StopLoading aborts the in-flight load; StartLoading returns once the
// current block's read completes or aborts cleanly.
func (l *BlockLoader) StopLoading() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetActiveIndex updates the priority anchor for subsequent loads
// without restarting an in-flight load.
func (l *BlockLoader) SetActiveIndex(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeIndex = idx
}

// ActiveIndexForTime returns the index of the block containing t,
// clamped to the valid block range. Callers use this to re-anchor
// StartLoading after a seek moves the playback cursor.
func (l *BlockLoader) ActiveIndexForTime(t mcap.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.numBlocks()
	for i := 0; i < n; i++ {
		if t.Before(l.boundaries[i+1]) || i == n-1 {
			return i
		}
	}
	return n - 1
}
