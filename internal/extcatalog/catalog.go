// Package extcatalog is the persistent, namespace-partitioned extension
// store: a versioned key-value schema over one bbolt file per
// (workspace, namespace) pair, with install/uninstall/list/load
// operations and a per-versionedId single-writer guarantee.
package extcatalog

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/obslog"
)

var log = obslog.For("extcatalog")

const (
	bucketSchema     = "schema"
	bucketMetadata   = "metadata"
	bucketExtensions = "extensions"
	schemaVersionKey = "version"

	currentSchemaVersion = 2
)

// Metadata is one installed extension's row in the metadata object
// store, keyed by Id (the versionedId).
type Metadata struct {
	Id            string
	MarketplaceId string // baseId this versionedId was installed from
	QualifiedName string
	Publisher     string
	Name          string
	Version       string
	Readme        string
	Changelog     string
}

type record struct {
	Content []byte
	Info    Metadata
}

// Buffer is one extension asset (.foxe archive) presented for install.
type Buffer struct {
	Content []byte
}

// EventType distinguishes the two events Catalog emits.
type EventType string

const (
	EventInstalled   EventType = "installed"
	EventUninstalled EventType = "uninstalled"
)

// Event is emitted to a Catalog's listener after a successful install
// or uninstall.
type Event struct {
	Type     EventType
	Metadata Metadata
}

// EventListener receives Catalog events. At most one may be registered.
type EventListener func(Event)

// Catalog is one namespace's bbolt-backed extension store.
type Catalog struct {
	db *bbolt.DB

	listener EventListener
	locks    sync.Map // versionedId -> chan struct{}
}

// Open opens (creating if necessary) the bbolt file at path and runs the
// schema migration if the file predates the current version.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, alerts.StorageError("creating catalog directory "+dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, alerts.StorageError("opening catalog database "+path, err)
	}
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying bbolt file.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return alerts.StorageError("closing catalog database", err)
	}
	return nil
}

// SetListener registers the sole Event recipient.
func (c *Catalog) SetListener(fn EventListener) { c.listener = fn }

func (c *Catalog) lockVersionedId(ctx context.Context, id string) (func(), error) {
	chAny, _ := c.locks.LoadOrStore(id, make(chan struct{}, 1))
	ch := chAny.(chan struct{})
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Install parses each buffer's manifest, computes its identity, and
// stores content plus metadata under versionedId. An existing row at
// the same versionedId is overwritten. Each buffer is atomic; a failure
// partway through returns the metadata installed so far alongside the
// error.
func (c *Catalog) Install(ctx context.Context, buffers []Buffer) ([]Metadata, error) {
	results := make([]Metadata, 0, len(buffers))
	for _, buf := range buffers {
		info, err := parseManifest(buf.Content)
		if err != nil {
			return results, err
		}

		qualifiedName := info.Publisher + "." + info.Name
		versionedId := ToVersionedId(qualifiedName, info.Version)

		unlock, err := c.lockVersionedId(ctx, versionedId)
		if err != nil {
			return results, err
		}

		meta := Metadata{
			Id:            versionedId,
			MarketplaceId: qualifiedName,
			QualifiedName: qualifiedName,
			Publisher:     info.Publisher,
			Name:          info.Name,
			Version:       info.Version,
			Readme:        info.Readme,
			Changelog:     info.Changelog,
		}

		err = c.db.Update(func(tx *bbolt.Tx) error {
			metaBytes, err := json.Marshal(meta)
			if err != nil {
				return alerts.ParseError("encoding extension metadata", err)
			}
			recBytes, err := json.Marshal(record{Content: buf.Content, Info: meta})
			if err != nil {
				return alerts.ParseError("encoding extension record", err)
			}
			if err := tx.Bucket([]byte(bucketMetadata)).Put([]byte(versionedId), metaBytes); err != nil {
				return alerts.StorageError("writing extension metadata", err)
			}
			if err := tx.Bucket([]byte(bucketExtensions)).Put([]byte(versionedId), recBytes); err != nil {
				return alerts.StorageError("writing extension content", err)
			}
			return nil
		})
		unlock()
		if err != nil {
			return results, err
		}

		log.WithField("versioned_id", versionedId).Info("installed extension")
		if c.listener != nil {
			c.listener(Event{Type: EventInstalled, Metadata: meta})
		}
		results = append(results, meta)
	}
	return results, nil
}

// Uninstall deletes both the metadata and content rows for versionedId.
func (c *Catalog) Uninstall(ctx context.Context, versionedId string) error {
	unlock, err := c.lockVersionedId(ctx, versionedId)
	if err != nil {
		return err
	}
	defer unlock()

	var meta Metadata
	found := false
	err = c.db.Update(func(tx *bbolt.Tx) error {
		metaBucket := tx.Bucket([]byte(bucketMetadata))
		if v := metaBucket.Get([]byte(versionedId)); v != nil {
			found = true
			if err := json.Unmarshal(v, &meta); err != nil {
				log.WithError(err).WithField("versioned_id", versionedId).Warn("uninstalling extension with unreadable metadata row")
			}
		}
		if err := metaBucket.Delete([]byte(versionedId)); err != nil {
			return alerts.StorageError("deleting extension metadata", err)
		}
		if err := tx.Bucket([]byte(bucketExtensions)).Delete([]byte(versionedId)); err != nil {
			return alerts.StorageError("deleting extension content", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return alerts.MissingAsset("no installed extension with id " + versionedId)
	}

	log.WithField("versioned_id", versionedId).Info("uninstalled extension")
	if c.listener != nil {
		c.listener(Event{Type: EventUninstalled, Metadata: meta})
	}
	return nil
}

// List returns every installed extension's metadata, sorted by id.
func (c *Catalog) List() ([]Metadata, error) {
	var out []Metadata
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketMetadata)).ForEach(func(k, v []byte) error {
			var m Metadata
			if err := json.Unmarshal(v, &m); err != nil {
				log.WithError(err).WithField("key", string(k)).Warn("skipping unreadable metadata row")
				return nil
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, alerts.StorageError("listing installed extensions", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

// LoadExtension returns the stored binary content for versionedId.
func (c *Catalog) LoadExtension(versionedId string) ([]byte, error) {
	var content []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketExtensions)).Get([]byte(versionedId))
		if v == nil {
			return alerts.MissingAsset("no installed extension with id " + versionedId)
		}
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			return alerts.ParseError("decoding stored extension record", err)
		}
		content = rec.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// IsInstalled reports whether versionedId has an exact-match installed
// row.
func (c *Catalog) IsInstalled(versionedId string) (bool, error) {
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(bucketMetadata)).Get([]byte(versionedId)) != nil
		return nil
	})
	if err != nil {
		return false, alerts.StorageError("checking installed extension", err)
	}
	return found, nil
}

// IsAnyVersionInstalled reports whether any installed row's base-id
// matches baseId, regardless of version.
func (c *Catalog) IsAnyVersionInstalled(baseId string) (bool, error) {
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket([]byte(bucketMetadata)).Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if ExtractBaseId(string(k)) == baseId {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, alerts.StorageError("checking installed extension versions", err)
	}
	return found, nil
}

type manifestInfo struct {
	Publisher string
	Name      string
	Version   string
	Readme    string
	Changelog string
}

// parseManifest reads the publisher/name/version out of a .foxe
// archive's package.json, plus an optional README.md/CHANGELOG.md.
func parseManifest(content []byte) (manifestInfo, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return manifestInfo{}, alerts.ParseError("extension buffer is not a valid .foxe archive", err)
	}

	var pkg struct {
		Publisher string `json:"publisher"`
		Name      string `json:"name"`
		Version   string `json:"version"`
	}
	var info manifestInfo
	foundPkg := false

	for _, f := range zr.File {
		switch f.Name {
		case "package.json":
			data, err := readZipFile(f)
			if err != nil {
				return manifestInfo{}, err
			}
			if err := json.Unmarshal(data, &pkg); err != nil {
				return manifestInfo{}, alerts.ParseError("extension package.json is not valid JSON", err)
			}
			foundPkg = true
		case "README.md":
			if data, err := readZipFile(f); err == nil {
				info.Readme = string(data)
			}
		case "CHANGELOG.md":
			if data, err := readZipFile(f); err == nil {
				info.Changelog = string(data)
			}
		}
	}

	if !foundPkg || pkg.Publisher == "" || pkg.Name == "" || pkg.Version == "" {
		return manifestInfo{}, alerts.ParseError("extension package.json is missing publisher, name, or version", nil)
	}
	info.Publisher, info.Name, info.Version = pkg.Publisher, pkg.Name, pkg.Version
	return info, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, alerts.ParseError("opening "+f.Name+" in extension archive", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, alerts.ParseError("reading "+f.Name+" in extension archive", err)
	}
	return data, nil
}

// Manager owns one Catalog per namespace under a workspace directory,
// opening bbolt files lazily on first use.
type Manager struct {
	root string

	mu   sync.Mutex
	cats map[string]*Catalog
}

// NewManager roots a Manager at workspaceDir, where each namespace gets
// its own "<namespace>.db" file.
func NewManager(workspaceDir string) *Manager {
	return &Manager{root: workspaceDir, cats: map[string]*Catalog{}}
}

// Namespace returns the Catalog for namespace, opening its backing file
// on first access.
func (m *Manager) Namespace(namespace string) (*Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cats[namespace]; ok {
		return c, nil
	}
	c, err := Open(filepath.Join(m.root, namespace+".db"))
	if err != nil {
		return nil, err
	}
	m.cats[namespace] = c
	return c, nil
}

// ListNamespaces enumerates namespaces with at least one bbolt file on
// disk under the workspace root.
func (m *Manager) ListNamespaces() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, alerts.StorageError("listing catalog namespaces", err)
	}
	var namespaces []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		namespaces = append(namespaces, strings.TrimSuffix(e.Name(), ".db"))
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// Close closes every namespace Catalog opened through this Manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, c := range m.cats {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
