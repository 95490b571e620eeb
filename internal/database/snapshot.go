package database

import (
	"os"
	"time"

	serr "github.com/govetachun/shimmer/internal/errors"
	"github.com/govetachun/shimmer/internal/page"
	"github.com/govetachun/shimmer/internal/serializer"

	"github.com/google/uuid"
)

// FileStore is the opaque byte-file interface spec.md §3 says persistence
// is built against ("persistence uses an opaque byte-file interface"). The
// engine never assumes a real filesystem; OSFile is the default
// implementation, grounded on the fp.Sync()-as-barrier pattern of the
// teacher's btree/disk.go.
type FileStore interface {
	WriteAll(data []byte) error
	ReadAll() ([]byte, error)
	Exists() bool
	Sync() error
}

// OSFile is the default FileStore backed by a real file on disk.
type OSFile struct {
	Path string
}

func (f *OSFile) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

func (f *OSFile) ReadAll() ([]byte, error) {
	return os.ReadFile(f.Path)
}

func (f *OSFile) WriteAll(data []byte) error {
	fh, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.Write(data)
	return err
}

// Sync reopens the file to fsync it, matching the teacher's
// open-then-fp.Sync()-as-barrier pattern rather than keeping a write handle
// alive across calls.
func (f *OSFile) Sync() error {
	fh, err := os.OpenFile(f.Path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	return fh.Sync()
}

var pageSchema = serializer.Record("page",
	serializer.Field{Name: "page_id", Schema: serializer.Uint32},
	serializer.Field{Name: "parent_id", Schema: serializer.Uint32},
	serializer.Field{Name: "is_leaf", Schema: serializer.Bool},
	serializer.Field{Name: "key_count", Schema: serializer.Uint32},
	serializer.Field{Name: "prev", Schema: serializer.Uint32},
	serializer.Field{Name: "next", Schema: serializer.Uint32},
	serializer.Field{Name: "keys", Schema: serializer.Slice(serializer.Bytes)},
	serializer.Field{Name: "values", Schema: serializer.Slice(serializer.Bytes)},
)

// snapshotSchema implements the exact wire record of spec.md §6, plus one
// additive field (instance_id) carrying a uuid.UUID tag per
// SPEC_FULL.md §B — additive, never altering the required prefix's meaning.
var snapshotSchema = serializer.Record("snapshot",
	serializer.Field{Name: "id", Schema: serializer.Uint32},
	serializer.Field{Name: "name", Schema: serializer.Bytes},
	serializer.Field{Name: "root_page", Schema: serializer.Uint32},
	serializer.Field{Name: "next_page_id", Schema: serializer.Uint32},
	serializer.Field{Name: "pages", Schema: serializer.Slice(pageSchema)},
	serializer.Field{Name: "instance_id", Schema: serializer.Bytes},
)

// EnableDiskStorage opts the database into whole-file snapshot persistence.
// If a snapshot already exists at path, it is decoded and merged: pages
// absent from memory are created, pages present have any keys they're
// missing inserted, and NextPageID advances to the max of current and
// snapshot (spec.md §4.3).
func (d *Database) EnableDiskStorage(store FileStore, syncOnCommit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.snapshot != nil {
		return serr.New(serr.CodeInvalidDatabase, "disk storage already enabled")
	}
	d.snapshot = &snapshotConfig{store: store, sync: syncOnCommit}

	if !store.Exists() {
		return nil
	}
	raw, err := store.ReadAll()
	if err != nil {
		return serr.Wrap(serr.CodeDiskWriteError, "reading existing snapshot", err)
	}
	return d.mergeSnapshot(raw)
}

// EnableDiskStorageAt is a convenience wrapper building the default OSFile
// store for a filesystem path.
func (d *Database) EnableDiskStorageAt(path string, syncOnCommit bool) error {
	return d.EnableDiskStorage(&OSFile{Path: path}, syncOnCommit)
}

func (d *Database) HasDiskStorage() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot != nil
}

// Snapshot writes the entire database state (id, name, root id,
// next_page_id, every page's header plus live keys/values) to the
// configured store, fsync'ing when sync-on-commit is enabled. It is a
// no-op if disk storage was never enabled.
func (d *Database) Snapshot() error {
	d.mu.RLock()
	cfg := d.snapshot
	d.mu.RUnlock()
	if cfg == nil {
		return nil
	}

	start := time.Now()
	d.mu.RLock()
	encoded, npages, err := d.encodeSnapshot()
	d.mu.RUnlock()
	if err != nil {
		d.observer.ObserveSnapshot(d.Name, npages, time.Since(start), err)
		return serr.Wrap(serr.CodeDiskWriteError, "encoding snapshot", err)
	}

	if err := cfg.store.WriteAll(encoded); err != nil {
		d.observer.ObserveSnapshot(d.Name, npages, time.Since(start), err)
		return serr.Wrap(serr.CodeDiskWriteError, "writing snapshot", err)
	}
	if cfg.sync {
		if err := cfg.store.Sync(); err != nil {
			d.observer.ObserveSnapshot(d.Name, npages, time.Since(start), err)
			return serr.Wrap(serr.CodeDiskWriteError, "fsyncing snapshot", err)
		}
	}
	d.observer.ObserveSnapshot(d.Name, npages, time.Since(start), nil)
	return nil
}

func (d *Database) encodeSnapshot() ([]byte, int, error) {
	pageIDs := make([]uint64, 0, len(d.Pages))
	for id := range d.Pages {
		pageIDs = append(pageIDs, id)
	}
	pageRecords := make([]any, 0, len(pageIDs))
	for _, id := range pageIDs {
		p := d.Pages[id]
		keys := make([]any, len(p.Keys))
		for i, k := range p.Keys {
			keys[i] = k
		}
		values := make([]any, len(p.Values))
		for i, v := range p.Values {
			if v == nil {
				v = []byte{}
			}
			values[i] = v
		}
		pageRecords = append(pageRecords, []any{
			uint32(p.ID), uint32(p.ParentID), p.IsLeaf, uint32(p.KeyCount()),
			uint32(p.Prev), uint32(p.Next), keys, values,
		})
	}

	instanceID := uuid.New()
	top := []any{
		uint32(d.ID), []byte(d.Name), uint32(d.RootPageID), uint32(d.NextPageID),
		pageRecords, instanceID[:],
	}
	encoded, err := serializer.Encode(snapshotSchema, top)
	return encoded, len(pageRecords), err
}

func (d *Database) mergeSnapshot(raw []byte) error {
	val, _, err := serializer.Decode(snapshotSchema, raw)
	if err != nil {
		return serr.Wrap(serr.CodeInvalidDataType, "decoding snapshot", err)
	}
	top := val.Data.([]any)
	rootPage := top[2].(uint64)
	nextPageID := top[3].(uint64)
	pageRecords := top[4].([]any)

	for _, rec := range pageRecords {
		fields := rec.([]any)
		id := fields[0].(uint64)
		parentID := fields[1].(uint64)
		isLeaf := fields[2].(bool)
		prev := fields[4].(uint64)
		next := fields[5].(uint64)
		keys := fields[6].([]any)
		values := fields[7].([]any)

		existing, ok := d.Pages[id]
		if !ok {
			existing = page.New(id, isLeaf, d.capacity)
			existing.ParentID = parentID
			existing.Prev = prev
			existing.Next = next
			d.Pages[id] = existing
		}
		for i := range keys {
			k := keys[i].([]byte)
			if _, exists := existing.Search(k); !exists {
				var v []byte
				if isLeaf {
					v = values[i].([]byte)
				} else {
					v = []byte{0}
				}
				_ = existing.Insert(k, v)
			}
		}
	}

	if rootPage != 0 {
		if _, ok := d.Pages[rootPage]; ok {
			d.RootPageID = rootPage
		}
	}
	if nextPageID > d.NextPageID {
		d.NextPageID = nextPageID
	}
	return nil
}
