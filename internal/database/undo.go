package database

import (
	"github.com/govetachun/shimmer/internal/lock"
	"github.com/govetachun/shimmer/internal/txn"
)

// UndoInsert reverses an OpInsert undo entry by removing key, driven by
// internal/environment while replaying a transaction's undo log on abort
// (spec.md §4.4, §9 open question (a)). It does not itself append a new
// undo entry — the transaction is already unwinding.
//
// d.mu is taken only around the final in-memory mutation, after every page
// lock is already held, for the same reason as Put/Delete: it must never
// span the blocking descent through the lock manager, including when this
// runs from the deadlock-victim handler.
func (d *Database) UndoInsert(tx *txn.Transaction, key []byte) error {
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
	if !exists {
		// already absent: nothing to undo.
		return nil
	}
	leaf.RemoveAt(idx)
	tx.MarkDirty(leafID)
	return d.rebalance(tx, path)
}

// UndoRestore reverses an OpUpdate or OpDelete undo entry by writing
// preImage back under key, bypassing the immutable-database check (an
// abort must be able to restore a key an immutable database would
// otherwise refuse to overwrite).
//
// As with UndoInsert, d.mu wraps only the final mutation, never the descent.
func (d *Database) UndoRestore(tx *txn.Transaction, key, preImage []byte) error {
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

	if _, exists := leaf.Search(key); exists {
		if err := leaf.Insert(key, preImage); err != nil {
			return err
		}
		tx.MarkDirty(leafID)
		return nil
	}
	if !leaf.IsFull() {
		if err := leaf.Insert(key, preImage); err != nil {
			return err
		}
		tx.MarkDirty(leafID)
		return nil
	}
	return d.insertWithSplit(tx, path, key, preImage)
}
