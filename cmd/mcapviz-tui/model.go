package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loghive/mcapviz/internal/player"
)

// playerStateMsg carries a PlayerState emission into the bubbletea
// Update loop. The Player's own playback ticks (spec §4.6's
// MIN_FRAME_TIME_MS/MAX_TICK_DURATION_MS) are independent of this
// message: they pace how often the Player calls the listener, not how
// often bubbletea redraws.
type playerStateMsg player.State

// tickMsg paces the redraw only; it never touches the Player.
type tickMsg time.Time

type model struct {
	p         *player.Player
	state     player.State
	haveState bool

	width, height int

	seekStepSec float64
	speedStep   float64

	quitting bool
	err      error

	stateCh chan player.State
}

func newModel(p *player.Player, stateCh chan player.State) *model {
	return &model{
		p:           p,
		seekStepSec: 1.0,
		speedStep:   0.25,
		stateCh:     stateCh,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForState(ch chan player.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return playerStateMsg(s)
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForState(m.stateCh))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case playerStateMsg:
		m.state = player.State(msg)
		m.haveState = true
		return m, waitForState(m.stateCh)

	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m *model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		m.p.Close()
		return m, tea.Quit

	case " ":
		if m.haveState && m.state.ActiveData != nil && m.state.ActiveData.IsPlaying {
			m.p.PausePlayback()
		} else {
			m.p.StartPlayback()
		}
		return m, nil

	case "right":
		m.seekRelative(m.seekStepSec)
		return m, nil

	case "left":
		m.seekRelative(-m.seekStepSec)
		return m, nil

	case "+", "=":
		m.adjustSpeed(m.speedStep)
		return m, nil

	case "-":
		m.adjustSpeed(-m.speedStep)
		return m, nil
	}
	return m, nil
}

func (m *model) seekRelative(deltaSec float64) {
	if !m.haveState || m.state.ActiveData == nil {
		return
	}
	cur := m.state.ActiveData.CurrentTime
	nanos := int64(deltaSec * 1e9)
	target := cur.Add(nanos).Clamp(m.state.ActiveData.StartTime, m.state.ActiveData.EndTime)
	m.p.SeekPlayback(target)
}

func (m *model) adjustSpeed(delta float64) {
	if !m.haveState || m.state.ActiveData == nil {
		return
	}
	next := m.state.ActiveData.Speed + delta
	if next < 0.25 {
		next = 0.25
	}
	if err := m.p.SetPlaybackSpeed(next); err != nil {
		m.err = err
	}
}
