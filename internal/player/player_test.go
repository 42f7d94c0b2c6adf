package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loghive/mcapviz/internal/config"
	"github.com/loghive/mcapviz/internal/mcap"
)

func buildTestSource(t *testing.T) *mcap.MemorySource {
	t.Helper()
	topic := mcap.Topic{Name: "/odom"}
	var msgs []mcap.MessageEvent
	for i := 0; i < 5; i++ {
		msgs = append(msgs, mcap.MessageEvent{
			Topic:       topic,
			ReceiveTime: mcap.NewTime(int64(i), 0),
			SizeInBytes: 10,
		})
	}
	return mcap.NewMemorySource(mcap.NewTime(0, 0), mcap.NewTime(5, 0), []mcap.Topic{topic}, msgs)
}

func TestPlayerSetListenerTwiceFails(t *testing.T) {
	src := buildTestSource(t)
	p := New(src, mcap.NewTime(0, 0), mcap.NewTime(5, 0), Options{Config: config.Defaults()})

	if err := p.SetListener(func(State) {}); err != nil {
		t.Fatalf("first SetListener: %v", err)
	}
	if err := p.SetListener(func(State) {}); err == nil {
		t.Fatalf("expected second SetListener to fail")
	}
}

func TestPlayerEmitsPresenceTransitionsToIdle(t *testing.T) {
	src := buildTestSource(t)
	p := New(src, mcap.NewTime(0, 0), mcap.NewTime(5, 0), Options{Config: config.Defaults()})

	var mu sync.Mutex
	seenPresent := false
	_ = p.SetListener(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if s.Presence == PresencePresent {
			seenPresent = true
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := seenPresent
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("player never reported PRESENT presence")
}

func TestPlayerUnsupportedOperations(t *testing.T) {
	src := buildTestSource(t)
	p := New(src, mcap.NewTime(0, 0), mcap.NewTime(5, 0), Options{Config: config.Defaults()})

	if err := p.Publish("/x", nil); err == nil {
		t.Fatalf("expected Publish to fail")
	}
	if err := p.SetParameter("x", nil); err == nil {
		t.Fatalf("expected SetParameter to fail")
	}
	if err := p.CallService("x", nil); err == nil {
		t.Fatalf("expected CallService to fail")
	}
}

func TestPlayerCloseIsIdempotent(t *testing.T) {
	src := buildTestSource(t)
	p := New(src, mcap.NewTime(0, 0), mcap.NewTime(5, 0), Options{Config: config.Defaults()})
	_ = p.SetListener(func(State) {})

	ctx := context.Background()
	go p.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	p.Close()
	p.Close() // must not block or panic
}
