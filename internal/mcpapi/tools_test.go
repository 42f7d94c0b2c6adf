package mcpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"github.com/loghive/mcapviz/internal/config"
	"github.com/loghive/mcapviz/internal/extcatalog"
	"github.com/loghive/mcapviz/internal/mcap"
	"github.com/loghive/mcapviz/internal/player"
)

func buildTestSource(t *testing.T) *mcap.MemorySource {
	t.Helper()
	topic := mcap.Topic{Name: "/odom"}
	return mcap.NewMemorySource(mcap.NewTime(0, 0), mcap.NewTime(5, 0), []mcap.Topic{topic}, nil)
}

func buildTestFoxe(t *testing.T, publisher, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	pkg, err := zw.Create("package.json")
	if err != nil {
		t.Fatalf("create package.json: %v", err)
	}
	_, _ = pkg.Write([]byte(`{"publisher":"` + publisher + `","name":"` + name + `","version":"` + version + `"}`))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	src := buildTestSource(t)
	p := player.New(src, mcap.NewTime(0, 0), mcap.NewTime(5, 0), player.Options{Config: config.Defaults()})
	mgr := extcatalog.NewManager(t.TempDir())

	s, err := NewServer(p, mgr, MarketplaceConfig{}, ":0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func requestWithArgs(t *testing.T, args any) *protocol.CallToolRequest {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return &protocol.CallToolRequest{RawArguments: raw}
}

func TestServerPlayerStateBeforeAnyEmissionReportsNoState(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handlePlayerState(context.Background(), &protocol.CallToolRequest{})
	if err != nil {
		t.Fatalf("handlePlayerState: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(res.Content))
	}
}

func TestServerListExtensionsOnEmptyNamespace(t *testing.T) {
	s := newTestServer(t)
	req := requestWithArgs(t, ListExtensionsArgs{Namespace: "local"})
	res, err := s.handleListExtensions(context.Background(), req)
	if err != nil {
		t.Fatalf("handleListExtensions: %v", err)
	}
	text := res.Content[0].(*protocol.TextContent).Text
	var views []ExtensionView
	if err := json.Unmarshal([]byte(text), &views); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected empty namespace, got %d extensions", len(views))
	}
}

func TestServerPlayerControlsDoNotPanicWithoutRunningMachine(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.handlePlayerPlay(context.Background(), &protocol.CallToolRequest{}); err != nil {
		t.Fatalf("handlePlayerPlay: %v", err)
	}
	if _, err := s.handlePlayerPause(context.Background(), &protocol.CallToolRequest{}); err != nil {
		t.Fatalf("handlePlayerPause: %v", err)
	}
	seekReq := requestWithArgs(t, PlayerSeekArgs{TimeSec: 2.5})
	if _, err := s.handlePlayerSeek(context.Background(), seekReq); err != nil {
		t.Fatalf("handlePlayerSeek: %v", err)
	}
	speedReq := requestWithArgs(t, PlayerSetSpeedArgs{Speed: 2.0})
	if _, err := s.handlePlayerSetSpeed(context.Background(), speedReq); err != nil {
		t.Fatalf("handlePlayerSetSpeed: %v", err)
	}
}

func TestServerPlayerSetSpeedRejectsNonPositive(t *testing.T) {
	s := newTestServer(t)
	req := requestWithArgs(t, PlayerSetSpeedArgs{Speed: 0})
	if _, err := s.handlePlayerSetSpeed(context.Background(), req); err == nil {
		t.Fatalf("expected error for non-positive speed")
	}
}

func TestServerInstallAndUninstallExtensionRoundTrip(t *testing.T) {
	content := buildTestFoxe(t, "acme", "widgets", "1.0.0")

	mux := http.NewServeMux()
	mux.HandleFunc("/widgets.foxe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	manifestMux := http.NewServeMux()
	manifestMux.HandleFunc("/extensions.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `[{"id":"acme.widgets","name":"Widgets","publisher":"acme","versions":{"1.0.0":{"foxe":"` + srv.URL + `/widgets.foxe"}}}]`
		_, _ = w.Write([]byte(body))
	})
	manifestSrv := httptest.NewServer(manifestMux)
	defer manifestSrv.Close()

	src := buildTestSource(t)
	p := player.New(src, mcap.NewTime(0, 0), mcap.NewTime(5, 0), player.Options{Config: config.Defaults()})
	mgr := extcatalog.NewManager(t.TempDir())

	s, err := NewServer(p, mgr, MarketplaceConfig{
		PrimaryURL: manifestSrv.URL + "/extensions.json",
	}, ":0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	installReq := requestWithArgs(t, InstallExtensionArgs{Namespace: "local", BaseId: "acme.widgets", Version: "1.0.0"})
	res, err := s.handleInstallExtension(context.Background(), installReq)
	if err != nil {
		t.Fatalf("handleInstallExtension: %v", err)
	}
	var view ExtensionView
	if err := json.Unmarshal([]byte(res.Content[0].(*protocol.TextContent).Text), &view); err != nil {
		t.Fatalf("unmarshal install result: %v", err)
	}
	if view.Id != "acme.widgets@1.0.0" {
		t.Fatalf("unexpected installed id: %s", view.Id)
	}

	uninstallReq := requestWithArgs(t, UninstallExtensionArgs{Namespace: "local", VersionedId: "acme.widgets@1.0.0"})
	if _, err := s.handleUninstallExtension(context.Background(), uninstallReq); err != nil {
		t.Fatalf("handleUninstallExtension: %v", err)
	}

	cat, _ := mgr.Namespace("local")
	installed, err := cat.IsInstalled("acme.widgets@1.0.0")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if installed {
		t.Fatalf("expected extension to be uninstalled")
	}
}
