package extcatalog

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func buildFoxe(t *testing.T, publisher, name, version, readme string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	pkg, err := zw.Create("package.json")
	if err != nil {
		t.Fatalf("create package.json: %v", err)
	}
	_, _ = pkg.Write([]byte(`{"publisher":"` + publisher + `","name":"` + name + `","version":"` + version + `"}`))

	if readme != "" {
		rm, err := zw.Create("README.md")
		if err != nil {
			t.Fatalf("create README.md: %v", err)
		}
		_, _ = rm.Write([]byte(readme))
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalogInstallAndList(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	results, err := c.Install(ctx, []Buffer{{Content: buildFoxe(t, "acme", "widgets", "1.0.0", "hello")}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Id != "acme.widgets@1.0.0" {
		t.Fatalf("unexpected versionedId: %s", results[0].Id)
	}
	if results[0].Readme != "hello" {
		t.Fatalf("expected readme to be extracted, got %q", results[0].Readme)
	}

	list, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Id != "acme.widgets@1.0.0" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestCatalogInstallOverwritesSameVersionedId(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	if _, err := c.Install(ctx, []Buffer{{Content: buildFoxe(t, "acme", "widgets", "1.0.0", "v1")}}); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if _, err := c.Install(ctx, []Buffer{{Content: buildFoxe(t, "acme", "widgets", "1.0.0", "v2")}}); err != nil {
		t.Fatalf("second install: %v", err)
	}

	list, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected overwrite, got %d rows", len(list))
	}
	if list[0].Readme != "v2" {
		t.Fatalf("expected overwritten readme, got %q", list[0].Readme)
	}
}

func TestCatalogUninstallRemovesBothRows(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	if _, err := c.Install(ctx, []Buffer{{Content: buildFoxe(t, "acme", "widgets", "1.0.0", "")}}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := c.Uninstall(ctx, "acme.widgets@1.0.0"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if _, err := c.LoadExtension("acme.widgets@1.0.0"); err == nil {
		t.Fatalf("expected LoadExtension to fail after uninstall")
	}
	installed, err := c.IsInstalled("acme.widgets@1.0.0")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if installed {
		t.Fatalf("expected not installed after uninstall")
	}
}

func TestCatalogUninstallMissingReturnsError(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Uninstall(context.Background(), "acme.widgets@9.9.9"); err == nil {
		t.Fatalf("expected error uninstalling a missing versionedId")
	}
}

func TestCatalogIsAnyVersionInstalled(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	if _, err := c.Install(ctx, []Buffer{{Content: buildFoxe(t, "acme", "widgets", "1.0.0", "")}}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	any, err := c.IsAnyVersionInstalled("acme.widgets")
	if err != nil {
		t.Fatalf("IsAnyVersionInstalled: %v", err)
	}
	if !any {
		t.Fatalf("expected any-version installed to be true")
	}

	any, err = c.IsAnyVersionInstalled("acme.gadgets")
	if err != nil {
		t.Fatalf("IsAnyVersionInstalled: %v", err)
	}
	if any {
		t.Fatalf("expected any-version installed to be false for a different base-id")
	}
}

func TestCatalogLoadExtensionReturnsContent(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	content := buildFoxe(t, "acme", "widgets", "1.0.0", "")

	if _, err := c.Install(ctx, []Buffer{{Content: content}}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	loaded, err := c.LoadExtension("acme.widgets@1.0.0")
	if err != nil {
		t.Fatalf("LoadExtension: %v", err)
	}
	if !bytes.Equal(loaded, content) {
		t.Fatalf("loaded content does not match installed content")
	}
}

func TestCatalogInstallRejectsMalformedBuffer(t *testing.T) {
	c := openTestCatalog(t)
	if _, err := c.Install(context.Background(), []Buffer{{Content: []byte("not a zip")}}); err == nil {
		t.Fatalf("expected malformed buffer to fail install")
	}
}

func TestManagerListNamespaces(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	t.Cleanup(func() { _ = m.Close() })

	if _, err := m.Namespace("local"); err != nil {
		t.Fatalf("Namespace(local): %v", err)
	}
	if _, err := m.Namespace("org"); err != nil {
		t.Fatalf("Namespace(org): %v", err)
	}

	namespaces, err := m.ListNamespaces()
	if err != nil {
		t.Fatalf("ListNamespaces: %v", err)
	}
	if len(namespaces) != 2 || namespaces[0] != "local" || namespaces[1] != "org" {
		t.Fatalf("unexpected namespaces: %v", namespaces)
	}
}
