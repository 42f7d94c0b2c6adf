// Package marketplace fetches an extensions.json manifest, groups it
// against installed extensions by base-id, and drives the fetch/verify/
// install flow against an ExtensionCatalog.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/obslog"
)

var log = obslog.For("marketplace")

// VersionEntry is one published version inside a ManifestEntry.
// Optional fields are absent, not null-coalesced, when the manifest
// omits them.
type VersionEntry struct {
	PublishedDate string `json:"publishedDate,omitempty"`
	Sha256Sum     string `json:"sha256sum,omitempty"`
	Foxe          string `json:"foxe,omitempty"`
	Deprecated    bool   `json:"deprecated,omitempty"`
}

// ManifestEntry is one extension's row in extensions.json.
type ManifestEntry struct {
	Id          string                  `json:"id"`
	Name        string                  `json:"name"`
	Publisher   string                  `json:"publisher"`
	Description string                  `json:"description,omitempty"`
	Tags        []string                `json:"tags,omitempty"`
	Thumbnail   string                  `json:"thumbnail,omitempty"`
	Namespace   string                  `json:"namespace,omitempty"`
	Readme      string                  `json:"readme,omitempty"`
	Changelog   string                  `json:"changelog,omitempty"`
	Versions    map[string]VersionEntry `json:"versions"`
	Deprecated  []string                `json:"deprecated,omitempty"`
}

// baseId recomputes the entry's base-id the same way extcatalog does:
// "<publisher>.<name>".
func (e ManifestEntry) baseId() string {
	if e.Publisher != "" && e.Name != "" {
		return e.Publisher + "." + e.Name
	}
	return e.Id
}

// fetchManifest issues a single GET and decodes a JSON array of
// ManifestEntry.
func fetchManifest(ctx context.Context, client *http.Client, url string) ([]ManifestEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, alerts.NetworkError("building marketplace manifest request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, alerts.NetworkError("fetching marketplace manifest from "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, alerts.NetworkError(fmt.Sprintf("marketplace manifest at %s returned status %d", url, resp.StatusCode), nil)
	}

	var entries []ManifestEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, alerts.ParseError("decoding marketplace manifest from "+url, err)
	}
	return entries, nil
}
