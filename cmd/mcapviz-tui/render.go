package main

import (
	"fmt"
	"strings"
)

func (m *model) View() string {
	if m.quitting {
		return ""
	}
	if !m.haveState {
		return titleStyle.Render("mcapviz") + "\n" + dimStyle.Render("waiting for player state...") + "\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderScrubBar())
	b.WriteString("\n")
	b.WriteString(m.renderTopics())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *model) renderHeader() string {
	presence := string(m.state.Presence)
	playState := "PAUSED"
	style := pausedStyle
	if m.state.ActiveData != nil && m.state.ActiveData.IsPlaying {
		playState = "PLAYING"
		style = playingStyle
	}

	speed := 1.0
	if m.state.ActiveData != nil {
		speed = m.state.ActiveData.Speed
	}

	header := fmt.Sprintf("%s  %s  presence=%s  speed=%.2fx",
		titleStyle.Render("mcapviz"),
		style.Render(playState),
		presence,
		speed,
	)
	return header
}

func (m *model) renderScrubBar() string {
	if m.state.ActiveData == nil {
		return ""
	}
	ad := m.state.ActiveData
	width := m.width - 4
	if width < 10 {
		width = 40
	}

	frac := fraction(ad.CurrentTime.Sec, ad.CurrentTime.Nsec, ad.StartTime.Sec, ad.StartTime.Nsec, ad.EndTime.Sec, ad.EndTime.Nsec)
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := scrubFilledStyle.Render(strings.Repeat("█", filled)) +
		scrubEmptyStyle.Render(strings.Repeat("░", width-filled))

	elapsed := float64(ad.CurrentTime.Sec-ad.StartTime.Sec) + float64(ad.CurrentTime.Nsec-ad.StartTime.Nsec)/1e9
	total := float64(ad.EndTime.Sec-ad.StartTime.Sec) + float64(ad.EndTime.Nsec-ad.StartTime.Nsec)/1e9

	return fmt.Sprintf("%s  %6.1fs / %6.1fs", bar, elapsed, total)
}

func fraction(curSec, curNsec, startSec, startNsec, endSec, endNsec int64) float64 {
	cur := float64(curSec) + float64(curNsec)/1e9
	start := float64(startSec) + float64(startNsec)/1e9
	end := float64(endSec) + float64(endNsec)/1e9
	if end <= start {
		return 0
	}
	f := (cur - start) / (end - start)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (m *model) renderTopics() string {
	if m.state.ActiveData == nil || len(m.state.ActiveData.Topics) == 0 {
		return panelStyle.Render(dimStyle.Render("no topics"))
	}
	var lines []string
	for _, t := range m.state.ActiveData.Topics {
		stat := m.state.ActiveData.TopicStats[t.Name]
		lines = append(lines, fmt.Sprintf("%-32s  %6d msgs", t.Name, stat.NumMessages))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m *model) renderFooter() string {
	alertText := ""
	if len(m.state.Alerts) > 0 {
		alertText = errorStyle.Render(fmt.Sprintf("  %d alert(s): %s", len(m.state.Alerts), m.state.Alerts[0].Error()))
	}
	return statusBarStyle.Render("space play/pause  ←/→ seek  +/- speed  q quit") + alertText
}
