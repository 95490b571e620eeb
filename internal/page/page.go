// Package page implements a single B+-tree node: ordered search, insertion
// with in-place replace, deletion, split, merge, and sibling redistribution
// (spec.md §4.2). Keys and values are owned byte slices; a page never
// reaches into another page's buffers.
//
// Grounded on the split/merge/redistribute shape of the teacher's
// btree/insertKey.go and btree/deletekey.go, adapted from their packed-byte
// on-disk node layout to the in-memory array-of-keys/array-of-values layout
// spec.md §3 requires (keys []byte and values []byte each owned separately,
// not byte-packed into one buffer) — see DESIGN.md.
package page

import (
	"bytes"
	"sort"

	serr "github.com/govetachun/shimmer/internal/errors"
)

// DefaultMaxKeysPerPage is the recommended capacity from spec.md §3.
const DefaultMaxKeysPerPage = 1024

// Page is one B+-tree node.
type Page struct {
	ID       uint64
	ParentID uint64
	IsLeaf   bool
	IsRoot   bool

	// Prev/Next link sibling leaves into a doubly-linked, key-ordered list.
	// Meaningful only when IsLeaf.
	Prev uint64
	Next uint64

	Keys     [][]byte
	Values   [][]byte // meaningful only for leaves
	Children []uint64 // meaningful only for internal nodes; len == len(Keys)+1

	// Capacity overrides DefaultMaxKeysPerPage; tests use a small capacity to
	// exercise splits/merges without inserting a thousand keys.
	Capacity int
}

// New creates an empty page of the given id, leaf-ness, and capacity. A
// capacity of 0 means DefaultMaxKeysPerPage.
func New(id uint64, isLeaf bool, capacity int) *Page {
	if capacity <= 0 {
		capacity = DefaultMaxKeysPerPage
	}
	return &Page{
		ID:       id,
		IsLeaf:   isLeaf,
		Capacity: capacity,
	}
}

func (p *Page) KeyCount() int {
	return len(p.Keys)
}

func (p *Page) max() int {
	if p.Capacity <= 0 {
		return DefaultMaxKeysPerPage
	}
	return p.Capacity
}

// IsFull reports whether the page is at capacity.
func (p *Page) IsFull() bool {
	return p.KeyCount() >= p.max()
}

// IsUnderflowing reports whether the page holds fewer than half-capacity
// keys. This method does not consult IsRoot, so it can report the root as
// underflowing; callers must special-case the root per spec.md §3.
func (p *Page) IsUnderflowing() bool {
	return p.KeyCount() < p.max()/2
}

// CanLendKey reports whether this page has more than half-capacity keys and
// so may donate one to an underflowing sibling.
func (p *Page) CanLendKey() bool {
	return p.KeyCount() > p.max()/2
}

// Search returns the index of an exact match for key, or (−1, false).
func (p *Page) Search(key []byte) (int, bool) {
	n := len(p.Keys)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(p.Keys[i], key) >= 0
	})
	if i < n && bytes.Equal(p.Keys[i], key) {
		return i, true
	}
	return -1, false
}

// FindInsertPosition returns the smallest index i such that keys[i] > key,
// or KeyCount() if no such index exists.
func (p *Page) FindInsertPosition(key []byte) int {
	n := len(p.Keys)
	return sort.Search(n, func(i int) bool {
		return bytes.Compare(p.Keys[i], key) > 0
	})
}

// Insert installs key/val. If key already exists, the value is replaced in
// place (the prior value buffer is simply dropped; Go's GC reclaims it).
// Otherwise the tail is shifted right by one slot. Child pointers
// are never shifted here; only Split's parent fix-up touches Children.
func (p *Page) Insert(key, val []byte) error {
	idx, exists := p.Search(key)
	if exists {
		p.Values[idx] = cloneBytes(val)
		return nil
	}
	if p.IsFull() {
		return serr.New(serr.CodePageFull, "page at capacity")
	}
	pos := p.FindInsertPosition(key)
	p.Keys = insertAt(p.Keys, pos, cloneBytes(key))
	if p.IsLeaf {
		p.Values = insertAt(p.Values, pos, cloneBytes(val))
	} else {
		p.Values = insertAt(p.Values, pos, nil)
	}
	return nil
}

// InsertSeparator installs a promoted key at pos (shifting keys/values
// right) together with the new right child at pos+1 (shifting children
// right). Used by the orchestrator's split fix-up on internal nodes; unlike
// Insert, it does not enforce capacity — the caller allows a transient
// overflow of one slot and splits immediately afterward.
func (p *Page) InsertSeparator(pos int, key []byte, rightChild uint64) {
	p.Keys = insertAt(p.Keys, pos, cloneBytes(key))
	p.Values = insertAt(p.Values, pos, nil)
	p.Children = insertUint64At(p.Children, pos+1, rightChild)
}

// Remove deletes key if present, shifting the tail left by one. Internal
// nodes also drop children[idx+1]. Silently succeeds if key is absent.
func (p *Page) Remove(key []byte) {
	idx, exists := p.Search(key)
	if !exists {
		return
	}
	p.Keys = removeAt(p.Keys, idx)
	p.Values = removeAt(p.Values, idx)
	if !p.IsLeaf && idx+1 < len(p.Children)+1 {
		p.Children = removeUint64At(p.Children, idx+1)
	}
}

// RemoveAt deletes the key/value/child at a known index (used by the
// orchestrator when it has already located the position via descent).
func (p *Page) RemoveAt(idx int) {
	p.Keys = removeAt(p.Keys, idx)
	p.Values = removeAt(p.Values, idx)
	if !p.IsLeaf {
		p.Children = removeUint64At(p.Children, idx+1)
	}
}

// Split divides the node at mid = KeyCount()/2. newPage inherits
// keys/values (and, for internal nodes, children) from mid onward. Leaf
// sibling links are relinked so that newPage sits between p and p's old
// next. The caller is responsible for promoting the separator key into the
// parent (for leaves, the first key of newPage, which stays in newPage; for
// internal nodes, the median newPage.Keys[0], which PromoteInternalSplit
// removes from newPage) and for patching newPage.Next's Prev.
func (p *Page) Split(newPage *Page) {
	mid := p.KeyCount() / 2

	newPage.IsLeaf = p.IsLeaf
	newPage.Keys = append([][]byte{}, p.Keys[mid:]...)
	if p.IsLeaf {
		newPage.Values = append([][]byte{}, p.Values[mid:]...)
	} else {
		newPage.Values = make([][]byte, len(newPage.Keys))
		newPage.Children = append([]uint64{}, p.Children[mid+1:]...)
	}

	p.Keys = p.Keys[:mid]
	if p.IsLeaf {
		p.Values = p.Values[:mid]
	} else {
		p.Values = p.Values[:mid]
		p.Children = p.Children[:mid+1]
	}

	if p.IsLeaf {
		newPage.Next = p.Next
		newPage.Prev = p.ID
		p.Next = newPage.ID
	}
}

// PromotedSeparatorForLeafSplit is the key the orchestrator installs in the
// parent after splitting a leaf: the first key of the new right half.
func (p *Page) PromotedSeparatorForLeafSplit(newPage *Page) []byte {
	return newPage.Keys[0]
}

// PromoteInternalSplit removes and returns the median key that an internal
// node's split promotes to the parent (it is duplicated into neither half).
func (p *Page) PromoteInternalSplit(newPage *Page) []byte {
	// Split already moved index mid onward into newPage. For internal
	// nodes the median (newPage.Keys[0]) is promoted and removed from the
	// new right half; the right half's first child slot already accounts
	// for keys strictly greater than the median.
	median := newPage.Keys[0]
	newPage.Keys = newPage.Keys[1:]
	newPage.Values = newPage.Values[1:]
	return median
}

// Merge appends sibling's content onto p. For internal nodes, separator is
// inserted between the two halves. For leaves, p.Next inherits
// sibling.Next; the caller must patch sibling.Next's Prev afterward.
func (p *Page) Merge(sibling *Page, separator []byte) {
	if !p.IsLeaf {
		p.Keys = append(p.Keys, separator)
		p.Values = append(p.Values, nil)
	}
	p.Keys = append(p.Keys, sibling.Keys...)
	p.Values = append(p.Values, sibling.Values...)
	if !p.IsLeaf {
		p.Children = append(p.Children, sibling.Children...)
	}
	if p.IsLeaf {
		p.Next = sibling.Next
	}
}

// RedistributeFromLeft moves the left sibling's last key into p (p is the
// underflowing right sibling). Returns the new separator to install in the
// parent in place of separator.
func (p *Page) RedistributeFromLeft(left *Page, separator []byte) []byte {
	lastIdx := len(left.Keys) - 1
	borrowedKey := left.Keys[lastIdx]
	borrowedVal := left.Values[lastIdx]

	if p.IsLeaf {
		p.Keys = append([][]byte{borrowedKey}, p.Keys...)
		p.Values = append([][]byte{borrowedVal}, p.Values...)
		left.Keys = left.Keys[:lastIdx]
		left.Values = left.Values[:lastIdx]
		return p.Keys[0]
	}

	// internal: demote parent separator into p, promote left's last key
	p.Keys = append([][]byte{separator}, p.Keys...)
	p.Values = append([][]byte{nil}, p.Values...)
	movedChild := left.Children[len(left.Children)-1]
	p.Children = append([]uint64{movedChild}, p.Children...)

	left.Keys = left.Keys[:lastIdx]
	left.Values = left.Values[:lastIdx]
	left.Children = left.Children[:len(left.Children)-1]
	return borrowedKey
}

// RedistributeFromRight is the mirror of RedistributeFromLeft: p borrows
// the right sibling's first key.
func (p *Page) RedistributeFromRight(right *Page, separator []byte) []byte {
	borrowedKey := right.Keys[0]
	borrowedVal := right.Values[0]

	if p.IsLeaf {
		p.Keys = append(p.Keys, borrowedKey)
		p.Values = append(p.Values, borrowedVal)
		right.Keys = right.Keys[1:]
		right.Values = right.Values[1:]
		return right.Keys[0]
	}

	p.Keys = append(p.Keys, separator)
	p.Values = append(p.Values, nil)
	movedChild := right.Children[0]
	p.Children = append(p.Children, movedChild)

	right.Keys = right.Keys[1:]
	right.Values = right.Values[1:]
	right.Children = right.Children[1:]
	return borrowedKey
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func insertAt(s [][]byte, idx int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func removeAt(s [][]byte, idx int) [][]byte {
	copy(s[idx:], s[idx+1:])
	return s[:len(s)-1]
}

func insertUint64At(s []uint64, idx int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func removeUint64At(s []uint64, idx int) []uint64 {
	copy(s[idx:], s[idx+1:])
	return s[:len(s)-1]
}
