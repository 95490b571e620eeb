package database

import (
	"bytes"

	serr "github.com/govetachun/shimmer/internal/errors"
	"github.com/govetachun/shimmer/internal/lock"
	"github.com/govetachun/shimmer/internal/page"
	"github.com/govetachun/shimmer/internal/serializer"
	"github.com/govetachun/shimmer/internal/txn"
)

// Put installs val at key. If key already exists: immutable databases
// reject with KeyExists; mutable ones replace in place and record an
// Update undo entry carrying the pre-image (spec.md §9 open question (a)).
// Implements the insertion algorithm of spec.md §4.3.
//
// d.mu is taken only around the final in-memory mutation, after every page
// lock the write needs is already held — never across the potentially
// blocking descent through the lock manager (see descendExclusive). That
// keeps the lock manager, not d.mu, the sole serialization authority for
// conflicting access (spec.md §5), so two write transactions can both be
// in-flight in the lock manager at once and a real wait-for cycle can form.
func (d *Database) Put(tx *txn.Transaction, key, val []byte) error {
	if err := tx.RequireWritable(); err != nil {
		return err
	}
	if len(key) == 0 || len(val) == 0 {
		return serr.New(serr.CodeInvalidSize, "keys and values must be non-empty")
	}

	if err := d.Locks.LockDatabase(tx.ID, uint32(d.ID), lock.IX); err != nil {
		return err
	}

	path, err := d.descendExclusive(tx, key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	leafID := path[len(path)-1]
	leaf := d.Pages[leafID]

	idx, exists := leaf.Search(key)
	if exists {
		if d.Immutable {
			return serr.New(serr.CodeKeyExists, "key already present in immutable database")
		}
		preImage := leaf.Values[idx]
		tx.RecordUpdate(key, preImage)
		if err := leaf.Insert(key, val); err != nil {
			return err
		}
		tx.MarkDirty(leafID)
		return nil
	}

	tx.RecordInsert(key)
	if !leaf.IsFull() {
		if err := leaf.Insert(key, val); err != nil {
			return err
		}
		tx.MarkDirty(leafID)
		return nil
	}
	return d.insertWithSplit(tx, path, key, val)
}

// PutTyped encodes v under schema and stores it, equivalent to Put with the
// encoded bytes (spec.md §4.3).
func (d *Database) PutTyped(tx *txn.Transaction, schema *serializer.Schema, key []byte, v any) error {
	encoded, err := serializer.Encode(schema, v)
	if err != nil {
		return err
	}
	return d.Put(tx, key, encoded)
}

func (d *Database) insertWithSplit(tx *txn.Transaction, path []uint64, key, val []byte) error {
	leafID := path[len(path)-1]
	leaf := d.Pages[leafID]

	newLeafID := d.allocatePageID()
	newLeaf := page.New(newLeafID, true, d.capacity)
	leaf.Split(newLeaf)
	d.Pages[newLeafID] = newLeaf

	sep := leaf.PromotedSeparatorForLeafSplit(newLeaf)
	if bytes.Compare(key, sep) < 0 {
		if err := leaf.Insert(key, val); err != nil {
			return err
		}
	} else {
		if err := newLeaf.Insert(key, val); err != nil {
			return err
		}
	}
	if newLeaf.Next != 0 {
		if next, ok := d.Pages[newLeaf.Next]; ok {
			next.Prev = newLeafID
		}
	}
	tx.MarkDirty(leafID)
	tx.MarkDirty(newLeafID)

	return d.promote(tx, path[:len(path)-1], leafID, newLeafID, sep)
}

// promote installs separator/rightID into the parent named by the last
// element of parentPath, splitting that parent (and recursing upward) if it
// is full, or allocating a new root if parentPath is empty (the split node
// was the root).
func (d *Database) promote(tx *txn.Transaction, parentPath []uint64, leftID, rightID uint64, separator []byte) error {
	if len(parentPath) == 0 {
		newRootID := d.allocatePageID()
		newRoot := page.New(newRootID, false, d.capacity)
		newRoot.IsRoot = true
		newRoot.Keys = [][]byte{cloneKey(separator)}
		newRoot.Values = [][]byte{nil}
		newRoot.Children = []uint64{leftID, rightID}
		d.Pages[newRootID] = newRoot

		d.Pages[leftID].IsRoot = false
		d.Pages[leftID].ParentID = newRootID
		d.Pages[rightID].ParentID = newRootID
		d.RootPageID = newRootID
		tx.MarkDirty(newRootID)
		return nil
	}

	parentID := parentPath[len(parentPath)-1]
	parent := d.Pages[parentID]
	d.Pages[leftID].ParentID = parentID
	d.Pages[rightID].ParentID = parentID

	pos := parent.FindInsertPosition(separator)
	parent.InsertSeparator(pos, separator, rightID)
	tx.MarkDirty(parentID)

	if parent.KeyCount() <= effectiveCapacity(parent) {
		return nil
	}

	// parent overflowed: split it and recurse the promotion upward.
	newParentID := d.allocatePageID()
	newParent := page.New(newParentID, false, d.capacity)
	parent.Split(newParent)
	d.Pages[newParentID] = newParent
	median := parent.PromoteInternalSplit(newParent)

	for _, childID := range newParent.Children {
		if child, ok := d.Pages[childID]; ok {
			child.ParentID = newParentID
		}
	}
	tx.MarkDirty(newParentID)

	return d.promote(tx, parentPath[:len(parentPath)-1], parentID, newParentID, median)
}

func cloneKey(k []byte) []byte {
	out := make([]byte, len(k))
	copy(out, k)
	return out
}
