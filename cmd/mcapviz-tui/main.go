// Command mcapviz-tui is the terminal player: a bubbletea front end
// over the Player façade, grounded on the teacher's model.go/render.go/
// styles.go and its outer tea.Tick-paced redraw loop in main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loghive/mcapviz/internal/config"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/obslog"
	"github.com/loghive/mcapviz/internal/player"
)

var log = obslog.For("mcapviz-tui")

func main() {
	flag.Parse()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered panic in main: %v", r)
			os.Exit(1)
		}
	}()

	cfg := config.Load()

	// As in cmd/mcapviz-mcp, the MCAP byte-level parser is out of
	// scope (spec.md treats it as an opaque external library), so the
	// terminal player runs over a synthetic demo log.
	start, end := mcap.NewTime(0, 0), mcap.NewTime(60, 0)
	source := demoSource(start, end)
	p := player.New(source, start, end, player.Options{Config: cfg})

	stateCh := make(chan player.State, 1)
	if err := p.SetListener(func(s player.State) {
		select {
		case stateCh <- s:
		default:
			select {
			case <-stateCh:
			default:
			}
			stateCh <- s
		}
	}); err != nil {
		fmt.Printf("Error setting player listener: %v\n", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	obslog.SafeGo(log, "player-run", func() { p.Run(runCtx) })

	m := newModel(p, stateCh)
	prog := tea.NewProgram(m, tea.WithAltScreen())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	obslog.SafeGo(log, "signal-handler", func() {
		<-sigCh
		p.Close()
		prog.Quit()
	})

	if _, err := prog.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		cancelRun()
		p.Close()
		os.Exit(1)
	}

	cancelRun()
	p.Close()
}

func demoSource(start, end mcap.Time) *mcap.MemorySource {
	topics := []mcap.Topic{{Name: "/odom"}, {Name: "/imu"}, {Name: "/camera/image"}}
	var msgs []mcap.MessageEvent
	for i := 0; i < 60; i++ {
		for _, topic := range topics {
			msgs = append(msgs, mcap.MessageEvent{
				Topic:       topic,
				ReceiveTime: mcap.NewTime(int64(i), 0),
				SizeInBytes: 64,
			})
		}
	}
	return mcap.NewMemorySource(start, end, topics, msgs)
}
