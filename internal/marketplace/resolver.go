package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/extcatalog"
)

// OperationStatus tracks what, if anything, is in flight for a given
// versionedId, for a UI to reflect back to the user.
type OperationStatus string

const (
	StatusIdle         OperationStatus = "IDLE"
	StatusInstalling   OperationStatus = "INSTALLING"
	StatusUninstalling OperationStatus = "UNINSTALLING"
	StatusUpdating     OperationStatus = "UPDATING"
)

// VersionView is one version row in a grouped marketplace listing.
type VersionView struct {
	Version       string
	Installed     bool
	PublishedDate string
	Deprecated    bool
	Foxe          string
	IsLatest      bool
}

// GroupView is a marketplace listing's base-id group: the union of a
// base-id's installed versions and its marketplace-advertised versions.
type GroupView struct {
	BaseId      string
	DisplayName string
	Installed   bool
	Versions    []VersionView
}

// Resolver fetches the manifest, builds the grouped view, and drives
// the fetch/verify/install/uninstall flow against one namespace's
// ExtensionCatalog.
type Resolver struct {
	client      *http.Client
	primaryURL  string
	fallbackURL string
	catalog     *extcatalog.Catalog

	mu     sync.Mutex
	status map[string]OperationStatus
}

// New constructs a Resolver. client defaults to http.DefaultClient if
// nil; fallbackURL may be empty to disable fallback.
func New(client *http.Client, primaryURL, fallbackURL string, catalog *extcatalog.Catalog) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client:      client,
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		catalog:     catalog,
		status:      map[string]OperationStatus{},
	}
}

// FetchManifest tries the primary URL, falling back to the fallback URL
// on any failure.
func (r *Resolver) FetchManifest(ctx context.Context) ([]ManifestEntry, error) {
	entries, err := fetchManifest(ctx, r.client, r.primaryURL)
	if err == nil {
		return entries, nil
	}
	if r.fallbackURL == "" {
		return nil, err
	}
	log.WithError(err).Warn("primary marketplace manifest fetch failed, trying fallback URL")
	return fetchManifest(ctx, r.client, r.fallbackURL)
}

// Status returns the current operation status for versionedId, IDLE if
// none is in flight.
func (r *Resolver) Status(versionedId string) OperationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.status[versionedId]; ok {
		return s
	}
	return StatusIdle
}

func (r *Resolver) setStatus(versionedId string, s OperationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == StatusIdle {
		delete(r.status, versionedId)
		return
	}
	r.status[versionedId] = s
}

// BuildGroupedView unions installed and entries by base-id, sorting
// each group's versions by semantic version descending and marking
// isLatest on the highest non-deprecated version.
func BuildGroupedView(installed []extcatalog.Metadata, entries []ManifestEntry) []GroupView {
	type versionRow struct {
		VersionView
		sem *semver.Version
	}
	groups := map[string]*GroupView{}
	versionRows := map[string][]versionRow{}
	order := []string{}

	ensureGroup := func(baseId, displayName string) *GroupView {
		g, ok := groups[baseId]
		if !ok {
			g = &GroupView{BaseId: baseId, DisplayName: displayName}
			groups[baseId] = g
			order = append(order, baseId)
		} else if g.DisplayName == "" {
			g.DisplayName = displayName
		}
		return g
	}

	for _, m := range installed {
		base := extcatalog.ExtractBaseId(m.Id)
		ensureGroup(base, m.QualifiedName)
		g := groups[base]
		g.Installed = true
		version, _ := extcatalog.ExtractVersion(m.Id)
		sv, _ := semver.NewVersion(version)
		versionRows[base] = append(versionRows[base], versionRow{
			VersionView: VersionView{Version: version, Installed: true},
			sem:         sv,
		})
	}

	for _, e := range entries {
		base := e.baseId()
		ensureGroup(base, e.Name)
		deprecated := map[string]bool{}
		for _, d := range e.Deprecated {
			deprecated[d] = true
		}
		for version, ve := range e.Versions {
			sv, _ := semver.NewVersion(version)
			row := versionRow{
				VersionView: VersionView{
					Version:       version,
					PublishedDate: ve.PublishedDate,
					Deprecated:    ve.Deprecated || deprecated[version],
					Foxe:          ve.Foxe,
				},
				sem: sv,
			}
			merged := false
			for i, existing := range versionRows[base] {
				if existing.Version == version {
					existing.VersionView.PublishedDate = row.PublishedDate
					existing.VersionView.Deprecated = row.Deprecated
					existing.VersionView.Foxe = row.Foxe
					if existing.sem == nil {
						existing.sem = row.sem
					}
					versionRows[base][i] = existing
					merged = true
					break
				}
			}
			if !merged {
				versionRows[base] = append(versionRows[base], row)
			}
		}
	}

	result := make([]GroupView, 0, len(order))
	for _, base := range order {
		g := *groups[base]
		rows := versionRows[base]

		sort.Slice(rows, func(i, j int) bool {
			if rows[i].sem != nil && rows[j].sem != nil {
				return rows[i].sem.GreaterThan(rows[j].sem)
			}
			return rows[i].Version > rows[j].Version
		})

		latestSet := false
		for i := range rows {
			if !rows[i].Deprecated && !latestSet {
				rows[i].IsLatest = true
				latestSet = true
			}
			g.Versions = append(g.Versions, rows[i].VersionView)
		}
		result = append(result, g)
	}
	return result
}

// Install resolves baseId+version against the manifest, downloads and
// verifies the .foxe asset, and installs it through the ExtensionCatalog.
func (r *Resolver) Install(ctx context.Context, entries []ManifestEntry, baseId, version string) (extcatalog.Metadata, error) {
	var entry *ManifestEntry
	for i := range entries {
		if entries[i].baseId() == baseId {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return extcatalog.Metadata{}, alerts.MissingAsset("no marketplace entry with base id " + baseId)
	}
	ve, ok := entry.Versions[version]
	if !ok || ve.Foxe == "" {
		return extcatalog.Metadata{}, alerts.MissingAsset("no .foxe asset for " + baseId + "@" + version)
	}

	versionedId := extcatalog.ToVersionedId(baseId, version)
	r.setStatus(versionedId, StatusInstalling)
	defer r.setStatus(versionedId, StatusIdle)

	content, err := r.download(ctx, ve.Foxe)
	if err != nil {
		return extcatalog.Metadata{}, err
	}
	if ve.Sha256Sum != "" {
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != ve.Sha256Sum {
			return extcatalog.Metadata{}, alerts.IntegrityFailure("sha256 mismatch for " + baseId + "@" + version)
		}
	}

	installed, err := r.catalog.Install(ctx, []extcatalog.Buffer{{Content: content}})
	if err != nil {
		return extcatalog.Metadata{}, err
	}
	if len(installed) == 0 {
		return extcatalog.Metadata{}, alerts.InvariantViolation("install returned no metadata for " + versionedId)
	}
	return installed[0], nil
}

// Uninstall is the supplemental counterpart to Install: it delegates to
// the ExtensionCatalog with the same per-versionedId status tracking.
func (r *Resolver) Uninstall(ctx context.Context, versionedId string) error {
	r.setStatus(versionedId, StatusUninstalling)
	defer r.setStatus(versionedId, StatusIdle)
	return r.catalog.Uninstall(ctx, versionedId)
}

func (r *Resolver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, alerts.NetworkError("building extension asset request", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, alerts.NetworkError("fetching extension asset from "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, alerts.NetworkError("extension asset fetch returned a non-200 status", nil)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, alerts.NetworkError("reading extension asset body", err)
	}
	return content, nil
}
