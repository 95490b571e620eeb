package database

import (
	serr "github.com/govetachun/shimmer/internal/errors"
	"github.com/govetachun/shimmer/internal/lock"
	"github.com/govetachun/shimmer/internal/page"
	"github.com/govetachun/shimmer/internal/txn"
)

// Delete removes key, recording a Delete undo entry with the pre-image, then
// rebalances the tree from the affected leaf upward. Implements the
// deletion algorithm of spec.md §4.3.
//
// As with Put, d.mu is only taken around the in-memory mutation/rebalance,
// after descendExclusive has already obtained every page lock the delete
// needs from the lock manager — see insert.go's Put for why.
func (d *Database) Delete(tx *txn.Transaction, key []byte) error {
	if err := tx.RequireWritable(); err != nil {
		return err
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
	if !exists {
		return serr.New(serr.CodeNotFound, "key not present")
	}
	preImage := leaf.Values[idx]
	tx.RecordDelete(key, preImage)
	leaf.RemoveAt(idx)
	tx.MarkDirty(leafID)

	return d.rebalance(tx, path)
}

// rebalance restores the invariants of spec.md §3 after a deletion:
// redistribute from a sibling that can lend, otherwise merge, recursing
// upward and collapsing the root if it becomes an internal node with no
// keys and a single child (that child becomes the new root).
func (d *Database) rebalance(tx *txn.Transaction, path []uint64) error {
	nodeID := path[len(path)-1]
	node := d.Pages[nodeID]

	if node.IsRoot {
		if !node.IsLeaf && node.KeyCount() == 0 && len(node.Children) == 1 {
			onlyChild := node.Children[0]
			child := d.Pages[onlyChild]
			child.IsRoot = true
			child.ParentID = 0
			d.RootPageID = onlyChild
			delete(d.Pages, nodeID)
			tx.MarkDirty(onlyChild)
		}
		return nil
	}
	if !node.IsUnderflowing() {
		return nil
	}

	parentID := path[len(path)-2]
	parent := d.Pages[parentID]
	idx := indexOfChild(parent, nodeID)

	if idx > 0 {
		leftID := parent.Children[idx-1]
		left := d.Pages[leftID]
		if left.CanLendKey() {
			sep := parent.Keys[idx-1]
			newSep := node.RedistributeFromLeft(left, sep)
			parent.Keys[idx-1] = newSep
			tx.MarkDirty(nodeID)
			tx.MarkDirty(leftID)
			tx.MarkDirty(parentID)
			return nil
		}
	}
	if idx < len(parent.Children)-1 {
		rightID := parent.Children[idx+1]
		right := d.Pages[rightID]
		if right.CanLendKey() {
			sep := parent.Keys[idx]
			newSep := node.RedistributeFromRight(right, sep)
			parent.Keys[idx] = newSep
			tx.MarkDirty(nodeID)
			tx.MarkDirty(rightID)
			tx.MarkDirty(parentID)
			return nil
		}
	}

	// no sibling can lend: merge with one of them.
	if idx > 0 {
		leftID := parent.Children[idx-1]
		left := d.Pages[leftID]
		sep := parent.Keys[idx-1]
		left.Merge(node, sep)
		d.relinkAfterMerge(left)
		if !node.IsLeaf {
			for _, c := range node.Children {
				if child, ok := d.Pages[c]; ok {
					child.ParentID = leftID
				}
			}
		}
		delete(d.Pages, nodeID)
		parent.RemoveAt(idx - 1)
		tx.MarkDirty(leftID)
		tx.MarkDirty(parentID)
	} else {
		rightID := parent.Children[idx+1]
		right := d.Pages[rightID]
		sep := parent.Keys[idx]
		node.Merge(right, sep)
		d.relinkAfterMerge(node)
		if !right.IsLeaf {
			for _, c := range right.Children {
				if child, ok := d.Pages[c]; ok {
					child.ParentID = nodeID
				}
			}
		}
		delete(d.Pages, rightID)
		parent.RemoveAt(idx)
		tx.MarkDirty(nodeID)
		tx.MarkDirty(parentID)
	}

	return d.rebalance(tx, path[:len(path)-1])
}

// relinkAfterMerge patches merged.Next's Prev pointer after a leaf merge
// (Merge already updated merged.Next to inherit the absorbed sibling's
// Next); internal-node merges are a no-op here since they carry no leaf
// links.
func (d *Database) relinkAfterMerge(merged *page.Page) {
	if !merged.IsLeaf || merged.Next == 0 {
		return
	}
	if next, ok := d.Pages[merged.Next]; ok {
		next.Prev = merged.ID
	}
}
