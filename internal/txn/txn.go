// Package txn implements the three-state transaction lifecycle and
// undo-log bookkeeping of spec.md §4.4. A Transaction owns its undo log and
// dirty-page set; replaying the log on abort and releasing locks is driven
// by the environment layer (internal/environment), which alone has the
// database and lock-manager references needed to do so.
//
// Grounded on the state-machine shape of
// refactor_code/internal/transaction/manager.go's Transaction/TransactionStatus,
// narrowed from its four-state MVCC-flavored lifecycle (Active, Committed,
// Aborted, Prepared) to the three-state Active/Committed/Aborted lifecycle
// spec.md §4.4 specifies, and from its table/key read-write sets to the
// append-only undo log spec.md §3 requires.
package txn

import (
	"sync"

	serr "github.com/govetachun/shimmer/internal/errors"
)

// Mode restricts which operations a transaction may perform.
type Mode uint8

const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "ReadOnly"
	case WriteOnly:
		return "WriteOnly"
	case ReadWrite:
		return "ReadWrite"
	default:
		return "?"
	}
}

func (m Mode) CanRead() bool  { return m == ReadOnly || m == ReadWrite }
func (m Mode) CanWrite() bool { return m == WriteOnly || m == ReadWrite }

// State is a transaction's lifecycle position.
type State uint8

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "?"
	}
}

// Op tags the kind of mutation an UndoEntry reverses.
type Op uint8

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

// UndoEntry is a single reversible mutation: the target key, and — for
// Update/Delete — the pre-image value. The "table" concept from spec.md §3
// is always "default" (the engine has no multi-table model); it is omitted
// here rather than carried as a constant string on every entry.
type UndoEntry struct {
	Op       Op
	Key      []byte
	PreImage []byte // unused for OpInsert
}

// Transaction is the engine's unit of atomicity. DatabaseID binds the
// transaction's undo log to the database it mutated, per spec.md §4.4's
// noted simplification: a faithful rewrite binds each undo entry (not just
// the whole transaction) to its originating database so abort can span
// multiple databases. We track a single DatabaseID per transaction, and
// abort replays the undo log against that database only; internal/database
// does not check that a transaction handle is used against the database
// named by its DatabaseID (DESIGN.md records the one-database scope).
type Transaction struct {
	ID         uint64
	Mode       Mode
	State      State
	DatabaseID uint64
	UndoLog    []UndoEntry
	DirtyPages map[uint64]bool

	mu sync.Mutex
}

// New creates an Active transaction bound to databaseID.
func New(id uint64, mode Mode, databaseID uint64) *Transaction {
	return &Transaction{
		ID:         id,
		Mode:       mode,
		State:      Active,
		DatabaseID: databaseID,
		DirtyPages: make(map[uint64]bool),
	}
}

func (t *Transaction) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State == Active
}

// RequireActive returns InvalidTransaction if the transaction is not Active.
// RequireReadable/RequireWritable add the CanRead/CanWrite checks (mode
// violations surface InvalidTransaction too, per spec.md §7).
func (t *Transaction) RequireActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != Active {
		return serr.New(serr.CodeInvalidTransaction, "transaction is not active")
	}
	return nil
}

func (t *Transaction) RequireReadable() error {
	if err := t.RequireActive(); err != nil {
		return err
	}
	if !t.Mode.CanRead() {
		return serr.New(serr.CodeInvalidTransaction, "transaction mode forbids get")
	}
	return nil
}

func (t *Transaction) RequireWritable() error {
	if err := t.RequireActive(); err != nil {
		return err
	}
	if !t.Mode.CanWrite() {
		return serr.New(serr.CodeInvalidTransaction, "transaction mode forbids put/delete")
	}
	return nil
}

// RecordInsert/RecordUpdate/RecordDelete append to the undo log in program
// order; the log is append-only and later replayed in strict reverse on
// abort.
func (t *Transaction) RecordInsert(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.UndoLog = append(t.UndoLog, UndoEntry{Op: OpInsert, Key: cloneBytes(key)})
}

func (t *Transaction) RecordUpdate(key, preImage []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.UndoLog = append(t.UndoLog, UndoEntry{Op: OpUpdate, Key: cloneBytes(key), PreImage: cloneBytes(preImage)})
}

func (t *Transaction) RecordDelete(key, preImage []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.UndoLog = append(t.UndoLog, UndoEntry{Op: OpDelete, Key: cloneBytes(key), PreImage: cloneBytes(preImage)})
}

func (t *Transaction) MarkDirty(pageID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DirtyPages[pageID] = true
}

func (t *Transaction) HasDirtyPages() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.DirtyPages) > 0
}

// UndoLogReversed returns the undo log in reverse (replay) order without
// mutating the transaction's own copy.
func (t *Transaction) UndoLogReversed() []UndoEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UndoEntry, len(t.UndoLog))
	for i, e := range t.UndoLog {
		out[len(out)-1-i] = e
	}
	return out
}

// MarkCommitted transitions Active -> Committed, discarding the undo log
// (the in-memory tree already reflects the change; no redo is needed).
func (t *Transaction) MarkCommitted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != Active {
		return serr.New(serr.CodeTransactionNotActive, "commit requires an active transaction")
	}
	t.State = Committed
	t.UndoLog = nil
	return nil
}

// MarkAborted transitions Active -> Aborted. The caller is responsible for
// having already replayed the undo log against the database before calling
// this (see internal/environment.AbortTxn).
func (t *Transaction) MarkAborted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != Active {
		return serr.New(serr.CodeTransactionNotActive, "abort requires an active transaction")
	}
	t.State = Aborted
	t.UndoLog = nil
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
