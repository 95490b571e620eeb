package lock

import (
	"sync"
	"time"

	serr "github.com/govetachun/shimmer/internal/errors"
	"github.com/govetachun/shimmer/internal/observe"
)

// Default per-resource timeouts, per spec.md §4.5's convenience entry points.
const (
	DefaultPageTimeout     = 5 * time.Second
	DefaultRecordTimeout   = 5 * time.Second
	DefaultDatabaseTimeout = 10 * time.Second
)

// Request is one lock request, granted or waiting.
type Request struct {
	TxnID      uint64
	ResourceID uint64
	Kind       Kind
	Mode       Mode
	Granted    bool
	Timestamp  time.Time

	aborted bool // set by the manager when this waiter's txn was chosen victim of someone else's deadlock
}

// VictimHandler is invoked (outside the manager's mutex) when a transaction
// is chosen as a deadlock victim, whether that is the transaction calling
// Acquire or another one waiting in the cycle. The handler is
// expected to drive that transaction's full abort (undo replay, state
// transition) — the lock manager itself only owns lock state and already
// released the victim's locks by the time the handler runs.
type VictimHandler func(victimTxnID uint64)

// Manager is the single coarse-grained-mutex lock table of spec.md §4.5.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	granted map[uint64][]*Request // resource -> granted requests
	waiting map[uint64][]*Request // resource -> waiting requests, FIFO
	byTxn   map[uint64]map[uint64]*Request

	waitFor map[uint64]map[uint64]bool // waiter txn -> holder txn edges

	observer observe.Observer
	onVictim VictimHandler
}

// NewManager builds an empty lock manager.
func NewManager(observer observe.Observer) *Manager {
	if observer == nil {
		observer = observe.Noop{}
	}
	m := &Manager{
		granted:  make(map[uint64][]*Request),
		waiting:  make(map[uint64][]*Request),
		byTxn:    make(map[uint64]map[uint64]*Request),
		waitFor:  make(map[uint64]map[uint64]bool),
		observer: observer,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetVictimHandler installs the callback invoked when a transaction is
// chosen as a deadlock victim.
func (m *Manager) SetVictimHandler(h VictimHandler) {
	m.mu.Lock()
	m.onVictim = h
	m.mu.Unlock()
}

// Acquire attempts to grant txnID a lock in mode on the given resource,
// blocking up to timeout if it conflicts with another transaction's grant.
func (m *Manager) Acquire(txnID uint64, kind Kind, resourceID uint64, mode Mode, timeout time.Duration) error {
	start := time.Now()
	m.mu.Lock()

	// 1. in-place upgrade
	if existing := m.byTxn[txnID][resourceID]; existing != nil && existing.Granted {
		if existing.Mode == mode || CanUpgrade(existing.Mode, mode) {
			existing.Mode = mode
			m.mu.Unlock()
			m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), true)
			return nil
		}
	}

	// 2. conflict check against other transactions' grants
	conflict := false
	for _, held := range m.granted[resourceID] {
		if held.TxnID == txnID {
			continue
		}
		if !Compatible(held.Mode, mode) {
			conflict = true
			m.addWaitEdge(txnID, held.TxnID)
		}
	}

	if !conflict {
		m.grant(txnID, kind, resourceID, mode)
		m.mu.Unlock()
		m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), true)
		return nil
	}

	// 3. deadlock detection
	if cycle := m.findCycle(txnID); cycle != nil {
		victim := highestID(cycle)
		if victim == txnID {
			m.releaseAllLocked(txnID)
			handler := m.onVictim
			m.cond.Broadcast()
			m.mu.Unlock()
			if handler != nil {
				handler(txnID)
			}
			m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), false)
			return serr.New(serr.CodeDeadlockDetected, "transaction chosen as deadlock victim")
		}
		m.releaseAllLocked(victim)
		m.removeWaitEdgesFrom(txnID)
		handler := m.onVictim
		m.cond.Broadcast()
		m.mu.Unlock()
		if handler != nil {
			handler(victim)
		}
		m.mu.Lock()
		// victim's locks are gone; retry the conflict check once.
		stillConflicting := false
		for _, held := range m.granted[resourceID] {
			if held.TxnID != txnID && !Compatible(held.Mode, mode) {
				stillConflicting = true
				m.addWaitEdge(txnID, held.TxnID)
			}
		}
		if !stillConflicting {
			m.grant(txnID, kind, resourceID, mode)
			m.mu.Unlock()
			m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), true)
			return nil
		}
	}

	// 4. queue as waiter and block with a timeout
	req := &Request{TxnID: txnID, ResourceID: resourceID, Kind: kind, Mode: mode, Timestamp: time.Now()}
	m.waiting[resourceID] = append(m.waiting[resourceID], req)
	m.indexByTxn(txnID, resourceID, req)

	timer := time.AfterFunc(timeout, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	deadline := time.Now().Add(timeout)
	for !req.Granted && !req.aborted && time.Now().Before(deadline) {
		m.cond.Wait()
	}
	timer.Stop()

	if req.Granted {
		m.mu.Unlock()
		m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), true)
		return nil
	}

	// woken as a deadlock victim while still queued: report the cause that
	// actually resolved it, distinct from a plain timeout.
	if req.aborted {
		m.removeWaiting(resourceID, req)
		m.removeWaitEdgesFrom(txnID)
		delete(m.byTxn[txnID], resourceID)
		m.mu.Unlock()
		m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), false)
		return serr.New(serr.CodeDeadlockDetected, "transaction chosen as deadlock victim while waiting")
	}

	// timed out: remove the waiter
	m.removeWaiting(resourceID, req)
	m.removeWaitEdgesFrom(txnID)
	delete(m.byTxn[txnID], resourceID)
	m.mu.Unlock()
	m.observer.ObserveLockWait(resourceID, txnID, time.Since(start), false)
	return serr.New(serr.CodeLockTimeout, "lock acquisition timed out")
}

// Release drops txnID's lock on resourceID, then promotes any compatible
// waiters (cascading until a full pass grants nothing new).
func (m *Manager) Release(txnID uint64, resourceID uint64) {
	m.mu.Lock()
	m.releaseLocked(txnID, resourceID)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Manager) releaseLocked(txnID uint64, resourceID uint64) {
	list := m.granted[resourceID]
	kept := list[:0]
	for _, r := range list {
		if r.TxnID != txnID {
			kept = append(kept, r)
		}
	}
	m.granted[resourceID] = kept
	if reqs, ok := m.byTxn[txnID]; ok {
		delete(reqs, resourceID)
	}
	m.promoteWaiters(resourceID)
}

// promoteWaiters grants every waiter on resourceID whose mode is compatible
// with all remaining grants (by other transactions), repeating until a pass
// grants nothing new.
func (m *Manager) promoteWaiters(resourceID uint64) {
	for {
		promotedAny := false
		waiters := m.waiting[resourceID]
		remaining := waiters[:0:0]
		for _, w := range waiters {
			ok := true
			for _, held := range m.granted[resourceID] {
				if held.TxnID != w.TxnID && !Compatible(held.Mode, w.Mode) {
					ok = false
					break
				}
			}
			if ok {
				w.Granted = true
				m.granted[resourceID] = append(m.granted[resourceID], w)
				m.removeWaitEdgesFrom(w.TxnID)
				promotedAny = true
			} else {
				remaining = append(remaining, w)
			}
		}
		m.waiting[resourceID] = remaining
		if !promotedAny {
			break
		}
	}
}

// ReleaseAll releases every resource txnID holds (granted or waiting),
// iterating a snapshot to avoid mutation-while-iterating per spec.md §4.5.
func (m *Manager) ReleaseAll(txnID uint64) {
	m.mu.Lock()
	m.releaseAllLocked(txnID)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Manager) releaseAllLocked(txnID uint64) {
	reqs, ok := m.byTxn[txnID]
	if !ok {
		return
	}
	resourceIDs := make([]uint64, 0, len(reqs))
	for resourceID := range reqs {
		resourceIDs = append(resourceIDs, resourceID)
	}
	for _, resourceID := range resourceIDs {
		req := reqs[resourceID]
		if req.Granted {
			m.releaseLocked(txnID, resourceID)
		} else {
			m.removeWaiting(resourceID, req)
			req.aborted = true
		}
	}
	delete(m.byTxn, txnID)
	delete(m.waitFor, txnID)
	for _, edges := range m.waitFor {
		delete(edges, txnID)
	}
}

func (m *Manager) grant(txnID uint64, kind Kind, resourceID uint64, mode Mode) {
	req := &Request{TxnID: txnID, Kind: kind, ResourceID: resourceID, Mode: mode, Granted: true, Timestamp: time.Now()}
	m.granted[resourceID] = append(m.granted[resourceID], req)
	m.indexByTxn(txnID, resourceID, req)
	m.removeWaitEdgesFrom(txnID)
}

func (m *Manager) indexByTxn(txnID, resourceID uint64, req *Request) {
	if m.byTxn[txnID] == nil {
		m.byTxn[txnID] = make(map[uint64]*Request)
	}
	m.byTxn[txnID][resourceID] = req
}

func (m *Manager) removeWaiting(resourceID uint64, target *Request) {
	list := m.waiting[resourceID]
	for i, r := range list {
		if r == target {
			m.waiting[resourceID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (m *Manager) addWaitEdge(waiter, holder uint64) {
	if waiter == holder {
		return
	}
	if m.waitFor[waiter] == nil {
		m.waitFor[waiter] = make(map[uint64]bool)
	}
	m.waitFor[waiter][holder] = true
}

func (m *Manager) removeWaitEdgesFrom(txnID uint64) {
	delete(m.waitFor, txnID)
}

// findCycle runs a three-color DFS from start looking for a path back to
// itself in the wait-for graph, returning the cycle's member txn ids (nil if
// none). Must be called with m.mu held.
func (m *Manager) findCycle(start uint64) []uint64 {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint64]int)
	var path []uint64
	var cycle []uint64

	var visit func(n uint64) bool
	visit = func(n uint64) bool {
		color[n] = gray
		path = append(path, n)
		for next := range m.waitFor[n] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				// found a cycle: path from next's first occurrence to here
				for i, p := range path {
					if p == next {
						cycle = append([]uint64{}, path[i:]...)
						return true
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	visit(start)
	return cycle
}

func highestID(ids []uint64) uint64 {
	max := ids[0]
	for _, id := range ids[1:] {
		if id > max {
			max = id
		}
	}
	return max
}

// Snapshot reports granted/waiting counts per resource, for tests and
// diagnostics (SPEC_FULL.md §C.2).
type Snapshot struct {
	Granted map[uint64]int
	Waiting map[uint64]int
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{Granted: map[uint64]int{}, Waiting: map[uint64]int{}}
	for r, reqs := range m.granted {
		s.Granted[r] = len(reqs)
	}
	for r, reqs := range m.waiting {
		s.Waiting[r] = len(reqs)
	}
	return s
}

// LockDatabase, LockPage, LockRecord are the convenience entry points of
// spec.md §4.5 with their fixed default timeouts.
func (m *Manager) LockDatabase(txnID uint64, dbID uint32, mode Mode) error {
	return m.Acquire(txnID, KindDatabase, MakeResourceID(KindDatabase, 0, dbID), mode, DefaultDatabaseTimeout)
}

func (m *Manager) LockPage(txnID uint64, pageID uint32, mode Mode) error {
	return m.Acquire(txnID, KindPage, MakeResourceID(KindPage, 0, pageID), mode, DefaultPageTimeout)
}

func (m *Manager) LockRecord(txnID uint64, pageID uint32, keyHash uint32, mode Mode) error {
	return m.Acquire(txnID, KindRecord, MakeResourceID(KindRecord, pageID, keyHash), mode, DefaultRecordTimeout)
}
