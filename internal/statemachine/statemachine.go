// Package statemachine implements PlayerStateMachine: the explicit state
// transition table that sequences initialize -> start-play -> idle/play/
// seek-backfill -> close, serializing transitions and propagating
// cancellation the way a single active handler requires.
package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/blockloader"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/messagehandler"
	"github.com/loghive/mcapviz/internal/obslog"
	"github.com/loghive/mcapviz/internal/playback"
)

var log = obslog.For("statemachine")

// State names one of the FSM's states (spec §4.7).
type State string

const (
	StatePreinit               State = "preinit"
	StateInitialize            State = "initialize"
	StateStartPlay             State = "start-play"
	StateIdle                  State = "idle"
	StateSeekBackfill          State = "seek-backfill"
	StatePlay                  State = "play"
	StateResetPlaybackIterator State = "reset-playback-iterator"
	StateClose                 State = "close"
)

const (
	startDelay     = 100 * time.Millisecond
	seekAckTimeout = 100 * time.Millisecond
	minFrameTime   = 16 * time.Millisecond
)

var legalTransitions = map[State]map[State]bool{
	StatePreinit:              {StateInitialize: true, StateClose: true},
	StateInitialize:           {StateStartPlay: true, StateClose: true},
	StateStartPlay:            {StateIdle: true, StateSeekBackfill: true, StateClose: true},
	StateIdle:                 {StatePlay: true, StateSeekBackfill: true, StateClose: true},
	StatePlay:                 {StateIdle: true, StateSeekBackfill: true, StateResetPlaybackIterator: true, StateClose: true},
	StateSeekBackfill:         {StateIdle: true, StatePlay: true, StateSeekBackfill: true, StateClose: true},
	StateResetPlaybackIterator: {StateIdle: true, StatePlay: true, StateClose: true},
	StateClose:                {},
}

// IsLegalTransition reports whether from->to appears in the table.
func IsLegalTransition(from, to State) bool {
	return legalTransitions[from][to]
}

// StateSnapshot is emitted after every transition for Player to turn
// into a PlayerState.
type StateSnapshot struct {
	State       State
	CurrentTime mcap.Time
	IsPlaying   bool
	Err         error
}

// EmitFunc receives a snapshot after every state handler's emission
// point.
type EmitFunc func(StateSnapshot)

// Machine drives one Player's lifecycle. It is not safe for concurrent
// external calls beyond RequestState/Close; the run loop itself is
// single-threaded per the spec's "at most one handler runs at a time"
// invariant.
type Machine struct {
	source      mcap.Source
	handler     *messagehandler.MessageHandler
	controller  *playback.Controller
	blockLoader *blockloader.BlockLoader
	emit        EmitFunc

	mu         sync.Mutex
	current    State
	nextState  *State
	cancel     context.CancelFunc
	errored    bool
	err        error
	closed     chan struct{}
	closedOnce sync.Once
}

// New constructs a Machine in the preinit state. Call Run to start the
// handler loop.
func New(source mcap.Source, handler *messagehandler.MessageHandler, controller *playback.Controller, loader *blockloader.BlockLoader, emit EmitFunc) *Machine {
	return &Machine{
		source:      source,
		handler:     handler,
		controller:  controller,
		blockLoader: loader,
		emit:        emit,
		current:     StatePreinit,
		closed:      make(chan struct{}),
	}
}

func (m *Machine) emitSnapshot() {
	if m.emit == nil {
		return
	}
	m.emit(StateSnapshot{
		State:       m.current,
		CurrentTime: m.controller.CurrentTime(),
		IsPlaying:   m.controller.IsPlaying(),
		Err:         m.err,
	})
}

// RequestState asks the machine to transition to `to`. If a handler is
// currently running, its cancellation token is cancelled and `to` is
// recorded as nextState; the running handler is expected to observe
// ctx.Err() and return. Close overrides any pending nextState and is
// irrevocable (invariant 2).
func (m *Machine) RequestState(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == StateClose {
		return
	}
	if m.nextState != nil && *m.nextState == StateClose {
		return
	}
	if to == StateClose {
		ns := StateClose
		m.nextState = &ns
		if m.cancel != nil {
			m.cancel()
		}
		return
	}
	if !IsLegalTransition(m.current, to) {
		log.WithField("from", string(m.current)).WithField("to", string(to)).Warn("ignored illegal state transition request")
		return
	}
	ns := to
	m.nextState = &ns
	if m.cancel != nil {
		m.cancel()
	}
}

// Close requests the terminal state and blocks until the run loop
// observes it.
func (m *Machine) Close() {
	m.RequestState(StateClose)
	<-m.closed
}

// Run drives the state machine until it reaches close. Intended to be
// invoked once, typically via obslog.SafeGo from the Player façade.
func (m *Machine) Run(ctx context.Context) {
	m.RequestState(StateInitialize)

	for {
		m.mu.Lock()
		current := m.current
		m.mu.Unlock()

		if current == StateClose {
			m.runClose(ctx)
			m.closedOnce.Do(func() { close(m.closed) })
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.cancel = cancel
		m.mu.Unlock()

		next, err := m.dispatch(handlerCtx, current)

		m.mu.Lock()
		cancel()
		pending := m.nextState
		m.nextState = nil

		if err != nil && !alerts.IsAbort(err) {
			m.errored = true
			m.err = err
			log.WithError(err).WithField("state", string(current)).Warn("state handler failed")
		} else if pending != nil {
			// Invariant 3: abort with a pending nextState silently
			// continues there instead of surfacing the abort.
			next = *pending
		}

		if pending != nil && *pending == StateClose {
			next = StateClose
		}

		if !IsLegalTransition(current, next) && next != StateClose {
			log.WithField("from", string(current)).WithField("to", string(next)).Warn("handler returned illegal transition, forcing idle")
			next = StateIdle
		}
		m.current = next
		m.mu.Unlock()

		m.emitSnapshot()
	}
}

func (m *Machine) dispatch(ctx context.Context, state State) (State, error) {
	switch state {
	case StateInitialize:
		return m.runInitialize(ctx)
	case StateStartPlay:
		return m.runStartPlay(ctx)
	case StateIdle:
		return m.runIdle(ctx)
	case StateSeekBackfill:
		return m.runSeekBackfill(ctx)
	case StatePlay:
		return m.runPlay(ctx)
	case StateResetPlaybackIterator:
		return m.runResetPlaybackIterator(ctx)
	default:
		return StateIdle, nil
	}
}

func (m *Machine) runInitialize(ctx context.Context) (State, error) {
	init, err := m.source.Initialize(ctx)
	if err != nil {
		return StateClose, err
	}
	start := init.Start
	if m.controller.SeekTarget() != nil {
		start = *m.controller.SeekTarget()
	}
	m.controller.SetCurrentTime(start)
	m.emitSnapshot()

	select {
	case <-time.After(startDelay):
	case <-ctx.Done():
		return StateStartPlay, ctx.Err()
	}
	return StateStartPlay, nil
}

func (m *Machine) runStartPlay(ctx context.Context) (State, error) {
	if m.controller.SeekTarget() != nil {
		return StateSeekBackfill, nil
	}
	if _, err := m.handler.ReadInitial(ctx); err != nil {
		return StateIdle, err
	}
	return StateIdle, nil
}

func (m *Machine) runIdle(ctx context.Context) (State, error) {
	m.controller.SetIsPlaying(false)
	m.emitSnapshot()
	<-ctx.Done()
	return StateIdle, ctx.Err()
}

func (m *Machine) runSeekBackfill(ctx context.Context) (State, error) {
	target := m.controller.CurrentTime()
	if st := m.controller.SeekTarget(); st != nil {
		target = *st
	}

	ackTimer := time.AfterFunc(seekAckTimeout, func() {
		m.emitSnapshot() // presence flip to BUFFERING is carried by the listener reading state.Err/presence upstream
	})
	defer ackTimer.Stop()

	if _, err := m.handler.ReadBackfill(ctx, target); err != nil {
		return StateIdle, err
	}
	m.controller.ClearSeekTarget()

	if err := m.handler.ResetPlaybackIterator(ctx); err != nil {
		return StateIdle, err
	}

	if m.controller.IsPlaying() {
		return StatePlay, nil
	}
	return StateIdle, nil
}

func (m *Machine) runPlay(ctx context.Context) (State, error) {
	m.controller.SetIsPlaying(true)
	for {
		if ctx.Err() != nil {
			return StateIdle, ctx.Err()
		}
		m.mu.Lock()
		pending := m.nextState
		m.mu.Unlock()
		if pending != nil {
			return *pending, nil
		}

		loopStart := time.Now()
		if !m.controller.CurrentTime().Before(m.controller.End()) {
			m.controller.SetIsPlaying(false)
			return StateIdle, nil
		}

		tickRange := m.controller.NextTickRange(loopStart)
		endTime := m.controller.ClampToWindow(m.controller.CurrentTime().Add(int64(tickRange)))

		if _, err := m.handler.Tick(ctx, endTime); err != nil {
			return StateIdle, err
		}
		m.controller.SetCurrentTime(endTime)
		m.emitSnapshot()

		if until := m.controller.UntilTime(); until != nil && !endTime.Before(*until) {
			m.controller.PausePlayback()
			return StateIdle, nil
		}

		if elapsed := time.Since(loopStart); elapsed < minFrameTime {
			time.Sleep(minFrameTime - elapsed)
		}
	}
}

func (m *Machine) runResetPlaybackIterator(ctx context.Context) (State, error) {
	if err := m.handler.ResetPlaybackIterator(ctx); err != nil {
		return StateIdle, err
	}
	if m.controller.IsPlaying() {
		return StatePlay, nil
	}
	return StateIdle, nil
}

func (m *Machine) runClose(ctx context.Context) {
	if m.blockLoader != nil {
		m.blockLoader.StopLoading()
	}
	if err := m.handler.Close(); err != nil {
		log.WithError(err).Warn("error closing message handler during shutdown")
	}
	if err := m.source.Terminate(); err != nil {
		log.WithError(err).Warn("error terminating source during shutdown")
	}
	m.emitSnapshot()
}
