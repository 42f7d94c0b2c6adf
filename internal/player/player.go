// Package player assembles RangeReader-backed sources, BufferedSource,
// MessageHandler, BlockLoader, PlaybackController, and the state machine
// behind the single Player façade the UI talks to.
package player

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/blockloader"
	"github.com/loghive/mcapviz/internal/bufferedsource"
	"github.com/loghive/mcapviz/internal/config"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/messagehandler"
	"github.com/loghive/mcapviz/internal/obslog"
	"github.com/loghive/mcapviz/internal/playback"
	"github.com/loghive/mcapviz/internal/statemachine"
)

var log = obslog.For("player")

// Presence mirrors spec §3's PlayerState.presence enum.
type Presence string

const (
	PresenceNotPresent  Presence = "NOT_PRESENT"
	PresenceInitializing Presence = "INITIALIZING"
	PresencePresent      Presence = "PRESENT"
	PresenceBuffering    Presence = "BUFFERING"
	PresenceReconnecting Presence = "RECONNECTING"
	PresenceError        Presence = "ERROR"
)

// ActiveData is the spec §3 activeData payload.
type ActiveData struct {
	Messages       []mcap.MessageEvent
	CurrentTime    mcap.Time
	StartTime      mcap.Time
	EndTime        mcap.Time
	IsPlaying      bool
	Speed          float64
	LastSeekTime   int
	Topics         []mcap.Topic
	TopicStats     map[string]mcap.TopicStat
	Datatypes      map[string]mcap.Datatype
	PublishedTopics map[string][]string
}

// emptyMessages is the frozen empty sentinel swapped into every
// emission after it is delivered, per spec §4.8, to prevent the same
// message batch being observed twice by a slow listener.
var emptyMessages = []mcap.MessageEvent{}

// Progress mirrors spec §3's Progress type.
type Progress struct {
	FullyLoadedFractionRanges []bufferedsource.Range
	MessageCache              *blockloader.BlockCache
}

// State is the outward PlayerState emitted to the listener.
type State struct {
	Presence     Presence
	Progress     Progress
	ActiveData   *ActiveData
	Alerts       []alerts.Alert
	PlayerID     string
	UrlState     config.UrlState
	Capabilities []string
	Profile      string
}

// Listener receives State emissions. Only one may be registered per
// Player (spec §4.8: setListener is idempotent-prohibited).
type Listener func(State)

// Player is the single-use façade: construct, initialize, play/seek/
// pause repeatedly, then close. It cannot be reopened.
type Player struct {
	source      mcap.Source
	buffered    *bufferedsource.BufferedSource
	handler     *messagehandler.MessageHandler
	controller  *playback.Controller
	blockLoader *blockloader.BlockLoader
	machine     *statemachine.Machine

	playerID         string
	urlState         config.UrlState
	logStart, logEnd mcap.Time

	mu            sync.Mutex
	listener      Listener
	listenerSet   bool
	emissionBusy  bool
	emissionQueued *State
	loadCancel    context.CancelFunc

	allTopics    map[string]bool
	preloadTopics map[string]bool

	lastSeekTime int
	closed       bool
}

// Options configures New.
type Options struct {
	Config   config.Config
	UrlState config.UrlState
}

// New constructs a Player over source. Call Run to start its state
// machine once a listener is registered.
func New(source mcap.Source, start, end mcap.Time, opts Options) *Player {
	buffered := bufferedsource.New(source, int64(opts.Config.ReadAheadDuration), start, end)
	handler := messagehandler.New(buffered, source, start, nil)

	// BlockLoader reads through its own BufferedSource cursor over the
	// same underlying source, per bufferedsource.go's "one BufferedSource
	// per logical cursor" contract — it must never share buffered's
	// cursor, which messagehandler already owns for playback/backfill.
	blockSource := bufferedsource.New(source, int64(opts.Config.ReadAheadDuration), start, end)
	loader := blockloader.New(blockSource, blockloader.Config{
		Start:              start,
		End:                end,
		MaxBlocks:          opts.Config.MaxBlocks,
		MinBlockDurationNs: int64(opts.Config.MinBlockDuration),
		CacheSizeBytes:     opts.Config.BlockCacheBytes,
	})

	p := &Player{
		source:        source,
		buffered:      buffered,
		handler:       handler,
		blockLoader:   loader,
		playerID:      uuid.NewString(),
		urlState:      opts.UrlState,
		logStart:      start,
		logEnd:        end,
		allTopics:     map[string]bool{},
		preloadTopics: map[string]bool{},
	}
	p.controller = playback.New(start, end, p.onControllerRequest)
	p.machine = statemachine.New(source, handler, p.controller, loader, p.onStateSnapshot)
	return p
}

// restartBlockLoading cancels any in-flight block load and starts a new
// one anchored at the block containing anchor. Called on Run (initial
// preload) and whenever the active cursor or preload topic set changes,
// since SetTopics invalidates blocks that may already be scheduled.
func (p *Player) restartBlockLoading(anchor mcap.Time) {
	p.mu.Lock()
	if p.loadCancel != nil {
		p.loadCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.loadCancel = cancel
	p.mu.Unlock()

	idx := p.blockLoader.ActiveIndexForTime(anchor)
	obslog.SafeGo(log, "block-loader", func() {
		p.blockLoader.StartLoading(ctx, idx, p.onBlockProgress, p.onBlockAlert)
	})
}

func (p *Player) onBlockProgress(cache blockloader.BlockCache, mem blockloader.MemoryInfo) {
	// The cache itself is read fresh from p.blockLoader.Snapshot() at
	// emission time (onStateSnapshot); this callback just traces fill
	// progress for diagnosis.
	log.WithField("used_bytes", mem.UsedBytes).WithField("budget_bytes", mem.BudgetBytes).Debug("block preload progress")
}

func (p *Player) onBlockAlert(blockIndex int, err error) {
	log.WithError(err).WithField("block", blockIndex).Warn("block preload failed")
}

func (p *Player) onControllerRequest(r playback.Request) {
	switch r {
	case playback.RequestSeek:
		p.mu.Lock()
		p.lastSeekTime++
		p.mu.Unlock()
		if target := p.controller.SeekTarget(); target != nil {
			p.restartBlockLoading(*target)
		}
		p.machine.RequestState(statemachine.StateSeekBackfill)
	case playback.RequestPlay:
		p.machine.RequestState(statemachine.StatePlay)
	case playback.RequestPause:
		p.machine.RequestState(statemachine.StateIdle)
	}
}

// SetListener registers the sole PlayerState recipient. Calling this
// twice fails per spec §4.8.
func (p *Player) SetListener(fn Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listenerSet {
		return alerts.PreconditionViolation("setListener called more than once")
	}
	p.listener = fn
	p.listenerSet = true
	return nil
}

// Run starts the underlying state machine and the background block
// preload. Must be called after SetListener. Blocks until the player is
// closed; callers should invoke it via obslog.SafeGo.
func (p *Player) Run(ctx context.Context) {
	p.restartBlockLoading(p.logStart)
	p.machine.Run(ctx)

	p.mu.Lock()
	if p.loadCancel != nil {
		p.loadCancel()
	}
	p.mu.Unlock()
}

func (p *Player) onStateSnapshot(snap statemachine.StateSnapshot) {
	presence := PresencePresent
	switch snap.State {
	case statemachine.StatePreinit, statemachine.StateInitialize:
		presence = PresenceInitializing
	case statemachine.StateSeekBackfill:
		presence = PresenceBuffering
	case statemachine.StateClose:
		presence = PresenceNotPresent
	}
	if snap.Err != nil {
		presence = PresenceError
	}

	blockCache := p.blockLoader.Snapshot()
	state := State{
		Presence: presence,
		PlayerID: p.playerID,
		UrlState: p.urlState,
		Progress: Progress{
			MessageCache:              &blockCache,
			FullyLoadedFractionRanges: p.buffered.LoadedRanges(),
		},
		ActiveData: &ActiveData{
			Messages:    emptyMessages,
			CurrentTime: snap.CurrentTime,
			StartTime:    p.logStart,
			EndTime:      p.logEnd,
			IsPlaying:    snap.IsPlaying,
			Speed:        p.controller.Speed(),
			LastSeekTime: p.lastSeekTime,
		},
	}
	if snap.Err != nil {
		state.Alerts = []alerts.Alert{alerts.Error("player state handler failed", snap.Err)}
	}

	p.emit(state)
}

// emit debounces bursty emissions: a new call while one is in flight
// schedules exactly one follow-up after the in-flight one completes,
// per spec §4.8.
func (p *Player) emit(state State) {
	p.mu.Lock()
	if p.emissionBusy {
		s := state
		p.emissionQueued = &s
		p.mu.Unlock()
		return
	}
	p.emissionBusy = true
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener(state)
	}

	p.mu.Lock()
	queued := p.emissionQueued
	p.emissionQueued = nil
	p.emissionBusy = false
	p.mu.Unlock()

	if queued != nil {
		p.emit(*queued)
	}
}

// StartPlayback begins forward playback.
func (p *Player) StartPlayback() { p.controller.StartPlayback() }

// PausePlayback stops playback.
func (p *Player) PausePlayback() { p.controller.PausePlayback() }

// PlayUntil plays forward until t.
func (p *Player) PlayUntil(t mcap.Time) error { return p.controller.PlayUntil(t) }

// SeekPlayback seeks to t.
func (p *Player) SeekPlayback(t mcap.Time) { p.controller.SeekPlayback(t) }

// SetPlaybackSpeed sets the speed multiplier.
func (p *Player) SetPlaybackSpeed(s float64) error { return p.controller.SetPlaybackSpeed(s) }

// SetSubscriptions diffs payloads against the prior subscription set and
// reacts per spec §4.8: newly-subscribed topics trigger a seek-backfill
// at the current cursor so they populate without a visible jump.
func (p *Player) SetSubscriptions(payloads []mcap.SubscribePayload) {
	p.mu.Lock()
	newAll := map[string]bool{}
	newPreload := map[string]bool{}
	changed := false
	for _, payload := range payloads {
		newAll[payload.Topic] = true
		if payload.PreloadType == mcap.PreloadFull {
			newPreload[payload.Topic] = true
		}
		if !p.allTopics[payload.Topic] {
			changed = true
		}
	}
	if len(newAll) != len(p.allTopics) {
		changed = true
	}
	p.allTopics = newAll
	p.preloadTopics = newPreload
	p.mu.Unlock()

	preloadTopics := make([]string, 0, len(newPreload))
	for t := range newPreload {
		preloadTopics = append(preloadTopics, t)
	}
	p.blockLoader.SetTopics(preloadTopics)
	p.restartBlockLoading(p.controller.CurrentTime())

	allTopics := make([]string, 0, len(newAll))
	for t := range newAll {
		allTopics = append(allTopics, t)
	}
	p.handler.SetTopics(allTopics)

	if changed && !p.controller.IsPlaying() {
		p.machine.RequestState(statemachine.StateSeekBackfill)
	}
}

// Close requests the terminal state and blocks until it is reached.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	log.WithField("player_id", p.playerID).Info("closing player")
	p.mu.Lock()
	if p.loadCancel != nil {
		p.loadCancel()
	}
	p.mu.Unlock()
	p.machine.Close()
}

// GetMetadata is the supplemental operation SPEC_FULL.md §4.12 adds: a
// synchronous snapshot of the initialized source's metadata, for UI
// panels that need it without waiting on the next state emission.
func (p *Player) GetMetadata(ctx context.Context) (mcap.InitializationResult, error) {
	return p.source.Initialize(ctx)
}

var unsupportedOps = []string{"publish", "setParameter", "callService"}

// Publish, SetParameter, and CallService are explicitly unsupported per
// spec §6.
func (p *Player) Publish(topic string, message any) error {
	return alerts.UnsupportedOperation(unsupportedOps[0])
}

func (p *Player) SetParameter(name string, value any) error {
	return alerts.UnsupportedOperation(unsupportedOps[1])
}

func (p *Player) CallService(name string, request any) error {
	return alerts.UnsupportedOperation(unsupportedOps[2])
}
