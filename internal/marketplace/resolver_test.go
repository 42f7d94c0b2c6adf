package marketplace

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/loghive/mcapviz/internal/extcatalog"
)

func buildFoxe(t *testing.T, publisher, name, version string) []byte {
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

func TestBuildGroupedViewSortsVersionsDescendingAndMarksLatest(t *testing.T) {
	installed := []extcatalog.Metadata{
		{Id: "acme.widgets@1.0.0", QualifiedName: "acme.widgets"},
	}
	entries := []ManifestEntry{
		{
			Id: "acme.widgets", Name: "Widgets", Publisher: "acme",
			Versions: map[string]VersionEntry{
				"1.0.0": {PublishedDate: "2026-01-01"},
				"2.0.0": {PublishedDate: "2026-02-01"},
				"3.0.0": {PublishedDate: "2026-03-01", Deprecated: true},
			},
		},
	}

	groups := BuildGroupedView(installed, entries)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.BaseId != "acme.widgets" || !g.Installed {
		t.Fatalf("unexpected group: %+v", g)
	}
	if len(g.Versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(g.Versions))
	}
	if g.Versions[0].Version != "3.0.0" || g.Versions[1].Version != "2.0.0" || g.Versions[2].Version != "1.0.0" {
		t.Fatalf("expected descending semver order, got %+v", g.Versions)
	}
	if g.Versions[0].IsLatest {
		t.Fatalf("deprecated top version should not be marked latest")
	}
	if !g.Versions[1].IsLatest {
		t.Fatalf("expected 2.0.0 (highest non-deprecated) to be marked latest")
	}
	if !g.Versions[2].Installed {
		t.Fatalf("expected 1.0.0 to be marked installed")
	}
}

func TestBuildGroupedViewUnionsUninstalledMarketplaceOnlyBase(t *testing.T) {
	entries := []ManifestEntry{
		{Id: "acme.gadgets", Name: "Gadgets", Publisher: "acme", Versions: map[string]VersionEntry{"1.0.0": {}}},
	}
	groups := BuildGroupedView(nil, entries)
	if len(groups) != 1 || groups[0].Installed {
		t.Fatalf("expected one uninstalled group, got %+v", groups)
	}
}

func TestResolverInstallVerifiesShaAndInstalls(t *testing.T) {
	content := buildFoxe(t, "acme", "widgets", "1.0.0")
	sum := sha256.Sum256(content)
	shaHex := hex.EncodeToString(sum[:])

	assetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write(content)
	}))
	defer assetSrv.Close()

	entries := []ManifestEntry{
		{
			Id: "acme.widgets", Name: "Widgets", Publisher: "acme",
			Versions: map[string]VersionEntry{
				"1.0.0": {Foxe: assetSrv.URL, Sha256Sum: shaHex},
			},
		},
	}

	cat, err := extcatalog.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("Open catalog: %v", err)
	}
	defer cat.Close()

	r := New(assetSrv.Client(), "", "", cat)
	meta, err := r.Install(context.Background(), entries, "acme.widgets", "1.0.0")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if meta.Id != "acme.widgets@1.0.0" {
		t.Fatalf("unexpected installed id: %s", meta.Id)
	}

	installed, err := cat.IsInstalled("acme.widgets@1.0.0")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if !installed {
		t.Fatalf("expected extension to be installed in catalog")
	}
	if r.Status("acme.widgets@1.0.0") != StatusIdle {
		t.Fatalf("expected status to return to idle after install")
	}
}

func TestResolverInstallRejectsShaMismatch(t *testing.T) {
	content := buildFoxe(t, "acme", "widgets", "1.0.0")

	assetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write(content)
	}))
	defer assetSrv.Close()

	entries := []ManifestEntry{
		{
			Id: "acme.widgets", Name: "Widgets", Publisher: "acme",
			Versions: map[string]VersionEntry{
				"1.0.0": {Foxe: assetSrv.URL, Sha256Sum: "0000000000000000000000000000000000000000000000000000000000000000"},
			},
		},
	}

	cat, err := extcatalog.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("Open catalog: %v", err)
	}
	defer cat.Close()

	r := New(assetSrv.Client(), "", "", cat)
	if _, err := r.Install(context.Background(), entries, "acme.widgets", "1.0.0"); err == nil {
		t.Fatalf("expected sha256 mismatch to fail install")
	}
}

func TestResolverInstallMissingFoxeFails(t *testing.T) {
	entries := []ManifestEntry{
		{Id: "acme.widgets", Name: "Widgets", Publisher: "acme", Versions: map[string]VersionEntry{"1.0.0": {}}},
	}
	cat, err := extcatalog.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("Open catalog: %v", err)
	}
	defer cat.Close()

	r := New(http.DefaultClient, "", "", cat)
	if _, err := r.Install(context.Background(), entries, "acme.widgets", "1.0.0"); err == nil {
		t.Fatalf("expected missing foxe asset to fail install")
	}
}
