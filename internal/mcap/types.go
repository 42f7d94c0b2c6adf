package mcap

import "github.com/loghive/mcapviz/internal/alerts"

// Topic identifies a channel of messages. Names are opaque strings;
// duplicate names with differing schemas are a warning, first wins
// (spec §3).
type Topic struct {
	Name             string
	SchemaName       string
	AliasedFromName  string
}

// MessageEvent is one message observed on a Topic.
type MessageEvent struct {
	Topic       Topic
	ReceiveTime Time
	Message     any
	SchemaName  string
	SizeInBytes int
}

// ResultType tags the union IteratorResult carries.
type ResultType string

const (
	ResultMessageEvent ResultType = "message-event"
	ResultStamp        ResultType = "stamp"
	ResultAlert        ResultType = "alert"
)

// IteratorResult is the tagged union a forward iterator yields: either
// a message, a progress stamp, or a non-fatal alert.
type IteratorResult struct {
	Type     ResultType
	MsgEvent MessageEvent
	Stamp    Time
	Alert    alerts.Alert
}

func MessageResult(evt MessageEvent) IteratorResult {
	return IteratorResult{Type: ResultMessageEvent, MsgEvent: evt}
}

func StampResult(t Time) IteratorResult {
	return IteratorResult{Type: ResultStamp, Stamp: t}
}

func AlertResult(a alerts.Alert) IteratorResult {
	return IteratorResult{Type: ResultAlert, Alert: a}
}

// PreloadType distinguishes subscribers that only want cursor-crossed
// messages from subscribers that additionally want BlockLoader-preloaded
// blocks.
type PreloadType string

const (
	PreloadPartial PreloadType = "partial"
	PreloadFull    PreloadType = "full"
)

// SubscribePayload is one subscription request from a UI panel.
type SubscribePayload struct {
	Topic       string
	Fields      []string
	PreloadType PreloadType
}

// ConsumptionType hints the source which planned read pattern it is
// serving: a forward-playback stream, or a block-range preload pass.
type ConsumptionType string

const (
	ConsumptionFull    ConsumptionType = "full"
	ConsumptionPartial ConsumptionType = "partial"
)

// MessageIteratorArgs parameterizes Source.MessageIterator.
type MessageIteratorArgs struct {
	Topics          []string
	Start           Time
	End             *Time
	ConsumptionType ConsumptionType
}

// BackfillArgs parameterizes Source.GetBackfillMessages.
type BackfillArgs struct {
	Topics []string
	Time   Time
}

// Datatype is an opaque schema descriptor keyed by schema name; the
// MCAP byte-level parser is treated as an opaque library so this is
// left as a generic blob the UI already understands how to render.
type Datatype struct {
	Name   string
	Fields map[string]string
}

// TopicStat summarizes per-topic counts gathered at initialize time.
type TopicStat struct {
	NumMessages int64
	FirstTime   *Time
	LastTime    *Time
}

// InitializationResult is what Source.Initialize returns: the frozen
// metadata snapshot the rest of the playback engine builds on.
type InitializationResult struct {
	Start             Time
	End               Time
	Topics            []Topic
	Datatypes         map[string]Datatype
	Profile           string
	TopicStats        map[string]TopicStat
	Alerts            []alerts.Alert
	PublishersByTopic map[string][]string
	Name              string
	Metadata          map[string]string
}
