package deserializing

import (
	"context"
	"fmt"
	"testing"

	"github.com/loghive/mcapviz/internal/mcap"
)

// upperDecoder decodes raw []byte payloads by uppercasing them; it's a
// stand-in for a real schema-aware decoder (protobuf/ros msg/etc.).
type upperDecoder struct {
	initialized bool
}

func (d *upperDecoder) Init(init mcap.InitializationResult) error {
	d.initialized = true
	return nil
}

func (d *upperDecoder) Decode(raw any, schemaName string) (any, error) {
	if !d.initialized {
		return nil, fmt.Errorf("decoder used before Init")
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("expected []byte, got %T", raw)
	}
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 32
		}
		out[i] = c
	}
	return string(out), nil
}

func rawSource(t *testing.T) *mcap.MemorySource {
	t.Helper()
	topic := mcap.Topic{Name: "/text"}
	msgs := []mcap.MessageEvent{
		{Topic: topic, ReceiveTime: mcap.NewTime(0, 0), Message: []byte("hello")},
		{Topic: topic, ReceiveTime: mcap.NewTime(1, 0), Message: []byte("world")},
	}
	return mcap.NewMemorySource(mcap.NewTime(0, 0), mcap.NewTime(2, 0), []mcap.Topic{topic}, msgs)
}

func TestDeserializingSourceDecodesMessages(t *testing.T) {
	src := rawSource(t)
	ds := New(src, func() Decoder { return &upperDecoder{} }, 2)

	ctx := context.Background()
	it, err := ds.MessageIterator(ctx, mcap.MessageIteratorArgs{
		Topics: []string{"/text"},
		Start:  mcap.NewTime(0, 0),
	})
	if err != nil {
		t.Fatalf("MessageIterator: %v", err)
	}
	defer it.Return()

	var got []string
	for {
		res, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if res.Type == mcap.ResultMessageEvent {
			got = append(got, res.MsgEvent.Message.(string))
		}
	}

	if len(got) != 2 || got[0] != "HELLO" || got[1] != "WORLD" {
		t.Fatalf("got %v, want [HELLO WORLD]", got)
	}
}

func TestDeserializingSourceGetBackfillMessages(t *testing.T) {
	src := rawSource(t)
	ds := New(src, func() Decoder { return &upperDecoder{} }, 1)

	out, err := ds.GetBackfillMessages(context.Background(), mcap.BackfillArgs{
		Topics: []string{"/text"},
		Time:   mcap.NewTime(1, 0),
	})
	if err != nil {
		t.Fatalf("GetBackfillMessages: %v", err)
	}
	if len(out) != 1 || out[0].Message.(string) != "WORLD" {
		t.Fatalf("got %+v, want decoded WORLD", out)
	}
}

func TestDeserializingSourceWorkerLimitBlocksSecondIterator(t *testing.T) {
	src := rawSource(t)
	ds := New(src, func() Decoder { return &upperDecoder{} }, 1)

	ctx := context.Background()
	it1, err := ds.MessageIterator(ctx, mcap.MessageIteratorArgs{Topics: []string{"/text"}, Start: mcap.NewTime(0, 0)})
	if err != nil {
		t.Fatalf("first MessageIterator: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	if _, err := ds.MessageIterator(cctx, mcap.MessageIteratorArgs{Topics: []string{"/text"}, Start: mcap.NewTime(0, 0)}); err == nil {
		t.Fatalf("expected second iterator to fail to acquire a worker slot")
	}

	it1.Return()
}
