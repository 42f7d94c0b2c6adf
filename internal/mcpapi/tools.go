// Package mcpapi exposes the Player façade and the ExtensionCatalog/
// MarketplaceResolver workflows as MCP tools, following the teacher's
// go-mcp wiring in mcpserver.go/mcptools.go.
package mcpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"github.com/ThinkInAIXYZ/go-mcp/transport"

	"github.com/loghive/mcapviz/internal/extcatalog"
	"github.com/loghive/mcapviz/internal/marketplace"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/obslog"
	"github.com/loghive/mcapviz/internal/player"
)

var log = obslog.For("mcpapi")

// MarketplaceConfig carries the URLs a Server's per-namespace Resolvers
// are built with.
type MarketplaceConfig struct {
	PrimaryURL  string
	FallbackURL string
	Client      *http.Client
}

// Server wraps one Player and one extcatalog.Manager behind an MCP
// tool surface. It registers itself as the Player's sole listener to
// cache the latest state for the synchronous player_state tool.
type Server struct {
	p           *player.Player
	extensions  *extcatalog.Manager
	marketplace MarketplaceConfig

	mcpServer *server.Server

	mu          sync.Mutex
	resolvers   map[string]*marketplace.Resolver
	latestState player.State
	haveState   bool
}

// NewServer constructs a Server, registers it as p's listener, and
// wires the tool set onto a StreamableHTTPServerTransport bound to
// addr (e.g. ":8765").
func NewServer(p *player.Player, extensions *extcatalog.Manager, mp MarketplaceConfig, addr string) (*Server, error) {
	if mp.Client == nil {
		mp.Client = http.DefaultClient
	}
	s := &Server{
		p:           p,
		extensions:  extensions,
		marketplace: mp,
		resolvers:   map[string]*marketplace.Resolver{},
	}

	if err := p.SetListener(s.onState); err != nil {
		return nil, err
	}

	t := transport.NewStreamableHTTPServerTransport(
		addr,
		transport.WithStreamableHTTPServerTransportOptionEndpoint("/mcp"),
		transport.WithStreamableHTTPServerTransportOptionStateMode(transport.Stateful),
	)

	mcpServer, err := server.NewServer(
		t,
		server.WithServerInfo(protocol.Implementation{
			Name:    "mcapviz-mcp",
			Version: "dev",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mcp server: %w", err)
	}
	s.mcpServer = mcpServer

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

func (s *Server) onState(state player.State) {
	s.mu.Lock()
	s.latestState = state
	s.haveState = true
	s.mu.Unlock()
}

func (s *Server) resolverFor(namespace string) (*extcatalog.Catalog, *marketplace.Resolver, error) {
	cat, err := s.extensions.Namespace(namespace)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolvers[namespace]
	if !ok {
		r = marketplace.New(s.marketplace.Client, s.marketplace.PrimaryURL, s.marketplace.FallbackURL, cat)
		s.resolvers[namespace] = r
	}
	return cat, r, nil
}

// Run starts the MCP server. Blocking; call via obslog.SafeGo.
func (s *Server) Run() error {
	log.Info("mcp server starting")
	return s.mcpServer.Run()
}

// Shutdown gracefully stops the MCP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.mcpServer.Shutdown(ctx)
}

type toolHandler func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)

func (s *Server) registerTools() error {
	register := func(name, description string, args any, handler toolHandler) error {
		tool, err := protocol.NewTool(name, description, args)
		if err != nil {
			return fmt.Errorf("creating %s tool: %w", name, err)
		}
		s.mcpServer.RegisterTool(tool, handler)
		return nil
	}

	if err := register("list_extensions", "List extensions installed in a namespace", ListExtensionsArgs{}, s.handleListExtensions); err != nil {
		return err
	}
	if err := register("install_extension", "Download and install an extension version from the marketplace manifest", InstallExtensionArgs{}, s.handleInstallExtension); err != nil {
		return err
	}
	if err := register("uninstall_extension", "Remove an installed extension version", UninstallExtensionArgs{}, s.handleUninstallExtension); err != nil {
		return err
	}
	if err := register("player_seek", "Seek the player to an absolute log time, in seconds", PlayerSeekArgs{}, s.handlePlayerSeek); err != nil {
		return err
	}
	if err := register("player_play", "Start forward playback", EmptyArgs{}, s.handlePlayerPlay); err != nil {
		return err
	}
	if err := register("player_set_speed", "Set the playback speed multiplier", PlayerSetSpeedArgs{}, s.handlePlayerSetSpeed); err != nil {
		return err
	}
	if err := register("player_pause", "Pause playback", EmptyArgs{}, s.handlePlayerPause); err != nil {
		return err
	}
	if err := register("player_state", "Return the most recently observed player state", EmptyArgs{}, s.handlePlayerState); err != nil {
		return err
	}
	return nil
}

func textResult(text string) *protocol.CallToolResult {
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			&protocol.TextContent{Type: "text", Text: text},
		},
	}
}

func jsonResult(v any) (*protocol.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling result: %w", err)
	}
	return textResult(string(out)), nil
}

func (s *Server) handleListExtensions(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(ListExtensionsArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	cat, _, err := s.resolverFor(args.Namespace)
	if err != nil {
		return nil, err
	}
	rows, err := cat.List()
	if err != nil {
		return nil, err
	}

	views := make([]ExtensionView, 0, len(rows))
	for _, m := range rows {
		views = append(views, ExtensionView{
			Id:            m.Id,
			MarketplaceId: m.MarketplaceId,
			Publisher:     m.Publisher,
			Name:          m.Name,
			Version:       m.Version,
		})
	}
	return jsonResult(views)
}

func (s *Server) handleInstallExtension(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(InstallExtensionArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	_, resolver, err := s.resolverFor(args.Namespace)
	if err != nil {
		return nil, err
	}
	entries, err := resolver.FetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := resolver.Install(ctx, entries, args.BaseId, args.Version)
	if err != nil {
		return nil, err
	}
	return jsonResult(ExtensionView{
		Id:            meta.Id,
		MarketplaceId: meta.MarketplaceId,
		Publisher:     meta.Publisher,
		Name:          meta.Name,
		Version:       meta.Version,
	})
}

func (s *Server) handleUninstallExtension(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(UninstallExtensionArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	_, resolver, err := s.resolverFor(args.Namespace)
	if err != nil {
		return nil, err
	}
	if err := resolver.Uninstall(ctx, args.VersionedId); err != nil {
		return nil, err
	}
	return textResult("uninstalled " + args.VersionedId), nil
}

func (s *Server) handlePlayerSeek(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(PlayerSeekArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	sec := int64(args.TimeSec)
	nsec := int64((args.TimeSec - float64(sec)) * 1e9)
	s.p.SeekPlayback(mcap.NewTime(sec, nsec))
	return textResult(fmt.Sprintf("seeked to %.3fs", args.TimeSec)), nil
}

func (s *Server) handlePlayerPlay(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	s.p.StartPlayback()
	return textResult("playing"), nil
}

func (s *Server) handlePlayerPause(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	s.p.PausePlayback()
	return textResult("paused"), nil
}

func (s *Server) handlePlayerSetSpeed(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(PlayerSetSpeedArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.p.SetPlaybackSpeed(args.Speed); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("speed set to %.2fx", args.Speed)), nil
}

func (s *Server) handlePlayerState(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	s.mu.Lock()
	state := s.latestState
	have := s.haveState
	s.mu.Unlock()

	if !have {
		return textResult("no player state observed yet"), nil
	}

	view := PlayerStateView{
		Presence: string(state.Presence),
		PlayerID: state.PlayerID,
	}
	if state.ActiveData != nil {
		view.StartTime = float64(state.ActiveData.StartTime.Sec) + float64(state.ActiveData.StartTime.Nsec)/1e9
		view.EndTime = float64(state.ActiveData.EndTime.Sec) + float64(state.ActiveData.EndTime.Nsec)/1e9
		view.CurrentTime = float64(state.ActiveData.CurrentTime.Sec) + float64(state.ActiveData.CurrentTime.Nsec)/1e9
		view.IsPlaying = state.ActiveData.IsPlaying
		view.Speed = state.ActiveData.Speed
		view.LastSeekTime = state.ActiveData.LastSeekTime
	}
	view.AlertCount = len(state.Alerts)
	for _, a := range state.Alerts {
		view.AlertMessages = append(view.AlertMessages, a.Error())
	}
	return jsonResult(view)
}
