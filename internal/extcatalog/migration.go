package extcatalog

import (
	"encoding/binary"
	"encoding/json"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/loghive/mcapviz/internal/alerts"
)

// migrate ensures the schema, metadata, and extensions buckets exist
// and, if the stored schema version predates currentSchemaVersion, runs
// the v1 (baseId-keyed) -> v2 (versionedId-keyed) rewrite inside the
// same upgrade transaction. Per-row failures are logged and skipped;
// the migration never blocks Open.
func (c *Catalog) migrate() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		schema, err := tx.CreateBucketIfNotExists([]byte(bucketSchema))
		if err != nil {
			return alerts.StorageError("creating schema bucket", err)
		}
		metaBucket, err := tx.CreateBucketIfNotExists([]byte(bucketMetadata))
		if err != nil {
			return alerts.StorageError("creating metadata bucket", err)
		}
		extBucket, err := tx.CreateBucketIfNotExists([]byte(bucketExtensions))
		if err != nil {
			return alerts.StorageError("creating extensions bucket", err)
		}

		version := 1
		if raw := schema.Get([]byte(schemaVersionKey)); len(raw) == 4 {
			version = int(binary.BigEndian.Uint32(raw))
		}

		if version < currentSchemaVersion {
			migrateMetadataBucket(metaBucket)
			migrateExtensionsBucket(extBucket)
		}

		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(currentSchemaVersion))
		if err := schema.Put([]byte(schemaVersionKey), buf); err != nil {
			return alerts.StorageError("recording schema version", err)
		}
		return nil
	})
}

type migratedRow struct {
	oldKey []byte
	newKey []byte
	value  []byte
}

// migrateMetadataBucket rewrites v1 baseId-keyed Metadata rows to
// versionedId-keyed rows in place. Rows whose key already contains "@"
// are v2 already and skipped (idempotence).
func migrateMetadataBucket(b *bbolt.Bucket) {
	var pending []migratedRow
	cur := b.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		key := string(k)
		if strings.Contains(key, "@") {
			continue
		}
		var m Metadata
		if err := json.Unmarshal(v, &m); err != nil {
			log.WithError(err).WithField("key", key).Warn("skipping unreadable v1 metadata row during migration")
			continue
		}
		newId := ToVersionedId(key, m.Version)
		m.Id = newId
		m.MarketplaceId = key
		newValue, err := json.Marshal(m)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("skipping unmarshalable v1 metadata row during migration")
			continue
		}
		pending = append(pending, migratedRow{oldKey: append([]byte{}, k...), newKey: []byte(newId), value: newValue})
	}
	applyMigratedRows(b, pending)
}

// migrateExtensionsBucket performs the same id rewrite over the content
// (record) rows.
func migrateExtensionsBucket(b *bbolt.Bucket) {
	var pending []migratedRow
	cur := b.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		key := string(k)
		if strings.Contains(key, "@") {
			continue
		}
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			log.WithError(err).WithField("key", key).Warn("skipping unreadable v1 extension row during migration")
			continue
		}
		newId := ToVersionedId(key, rec.Info.Version)
		rec.Info.Id = newId
		rec.Info.MarketplaceId = key
		newValue, err := json.Marshal(rec)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("skipping unmarshalable v1 extension row during migration")
			continue
		}
		pending = append(pending, migratedRow{oldKey: append([]byte{}, k...), newKey: []byte(newId), value: newValue})
	}
	applyMigratedRows(b, pending)
}

// applyMigratedRows writes the rewritten rows and deletes their v1
// originals after cursor iteration has finished; bbolt cursors are not
// safe to mutate through while iterating.
func applyMigratedRows(b *bbolt.Bucket, pending []migratedRow) {
	for _, row := range pending {
		if err := b.Put(row.newKey, row.value); err != nil {
			log.WithError(err).WithField("key", string(row.newKey)).Warn("failed writing migrated row")
			continue
		}
		if err := b.Delete(row.oldKey); err != nil {
			log.WithError(err).WithField("key", string(row.oldKey)).Warn("failed deleting migrated v1 row")
		}
	}
}
