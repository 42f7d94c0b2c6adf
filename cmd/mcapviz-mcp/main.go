// Command mcapviz-mcp runs the MCP HTTP server standalone, exposing
// Player and ExtensionCatalog operations to an external agent without
// the terminal UI. Grounded on the teacher's --mcp-server HTTP-only
// mode in main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loghive/mcapviz/internal/config"
	"github.com/loghive/mcapviz/internal/extcatalog"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/mcpapi"
	"github.com/loghive/mcapviz/internal/obslog"
	"github.com/loghive/mcapviz/internal/player"
)

var log = obslog.For("mcapviz-mcp")

func main() {
	addr := flag.String("addr", ":9876", "address the MCP HTTP server listens on")
	workspaceDir := flag.String("workspace", "./mcapviz-workspace", "directory holding one bbolt file per extension namespace")
	flag.Parse()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered panic in main: %v", r)
			os.Exit(1)
		}
	}()

	cfg := config.Load()

	// The MCAP byte-level parser is an opaque external library per
	// spec.md's out-of-scope list; this entrypoint demonstrates the
	// Player/MCP wiring over a synthetic in-memory log rather than
	// reimplementing that parser.
	demoStart, demoEnd := mcap.NewTime(0, 0), mcap.NewTime(60, 0)
	source := demoSource(demoStart, demoEnd)
	p := player.New(source, demoStart, demoEnd, player.Options{Config: cfg})

	extensions := extcatalog.NewManager(*workspaceDir)
	defer extensions.Close()

	srv, err := mcpapi.NewServer(p, extensions, mcpapi.MarketplaceConfig{
		PrimaryURL:  cfg.ExtensionMarketplaceURL,
		FallbackURL: "",
	}, *addr)
	if err != nil {
		fmt.Printf("Error creating MCP server: %v\n", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	obslog.SafeGo(log, "player-run", func() { p.Run(runCtx) })

	errCh := make(chan error, 1)
	obslog.SafeGo(log, "mcp-server", func() {
		if err := srv.Run(); err != nil {
			errCh <- err
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		fmt.Printf("MCP server failed: %v\n", err)
	}

	cancelRun()
	p.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
}

func demoSource(start, end mcap.Time) *mcap.MemorySource {
	topic := mcap.Topic{Name: "/odom"}
	var msgs []mcap.MessageEvent
	for i := 0; i < 60; i++ {
		msgs = append(msgs, mcap.MessageEvent{
			Topic:       topic,
			ReceiveTime: mcap.NewTime(int64(i), 0),
			SizeInBytes: 32,
		})
	}
	return mcap.NewMemorySource(start, end, []mcap.Topic{topic}, msgs)
}
