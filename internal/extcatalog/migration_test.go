package extcatalog

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
)

// seedV1 writes a pre-migration (baseId-keyed) database directly via
// bbolt, bypassing Open/migrate, so TestMigration can exercise the
// upgrade path.
func seedV1(t *testing.T, path string) {
	t.Helper()
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("seed open: %v", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bbolt.Tx) error {
		metaBucket, err := tx.CreateBucketIfNotExists([]byte(bucketMetadata))
		if err != nil {
			return err
		}
		extBucket, err := tx.CreateBucketIfNotExists([]byte(bucketExtensions))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketSchema)); err != nil {
			return err
		}

		meta := Metadata{Id: "acme.widgets", Publisher: "acme", Name: "widgets", Version: "1.0.0"}
		metaBytes, _ := json.Marshal(meta)
		if err := metaBucket.Put([]byte("acme.widgets"), metaBytes); err != nil {
			return err
		}

		rec := record{Content: []byte("binary"), Info: meta}
		recBytes, _ := json.Marshal(rec)
		return extBucket.Put([]byte("acme.widgets"), recBytes)
	})
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}
}

func TestMigrationRewritesV1RowsToVersionedIds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	seedV1(t, path)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	list, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 migrated row, got %d", len(list))
	}
	if list[0].Id != "acme.widgets@1.0.0" {
		t.Fatalf("expected migrated id acme.widgets@1.0.0, got %s", list[0].Id)
	}
	if list[0].MarketplaceId != "acme.widgets" {
		t.Fatalf("expected marketplaceId to carry the old baseId, got %s", list[0].MarketplaceId)
	}

	content, err := c.LoadExtension("acme.widgets@1.0.0")
	if err != nil {
		t.Fatalf("LoadExtension after migration: %v", err)
	}
	if string(content) != "binary" {
		t.Fatalf("expected migrated content row to carry the original bytes, got %q", content)
	}

	installed, err := c.IsInstalled("acme.widgets")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if installed {
		t.Fatalf("v1 baseId-keyed row should no longer exist after migration")
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	seedV1(t, path)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer c2.Close()

	list, err := c2.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected migration to stay idempotent, got %d rows", len(list))
	}
}
