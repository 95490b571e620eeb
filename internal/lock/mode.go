// Package lock implements the multi-granularity lock manager of spec.md
// §4.5: five lock modes over database/page/record resources, a
// compatibility matrix, in-place upgrade, a wait-for graph with DFS cycle
// detection, deterministic (highest-id) victim selection, and wait-queue
// fairness via condition-variable waiting rather than sleep-polling.
//
// Grounded on the condition-variable + stats bookkeeping shape of
// refactor_code/internal/concurrency/rwlock.go's RWMutex/LockManager, scaled
// up from a single binary read/write lock to the six-mode multi-granularity
// scheme, and on the wait-graph note in spec.md §9.
package lock

// Mode is one of the six lock modes of spec.md §4.5.
type Mode uint8

const (
	None Mode = iota
	IS
	IX
	S
	SIX
	X
)

func (m Mode) String() string {
	switch m {
	case None:
		return "None"
	case IS:
		return "IS"
	case IX:
		return "IX"
	case S:
		return "S"
	case SIX:
		return "SIX"
	case X:
		return "X"
	default:
		return "?"
	}
}

// compatible[held][requested]; the None row and column are all true, since
// None is compatible with everything.
var compatible = [6][6]bool{
	None: {true, true, true, true, true, true},
	IS:   {true, true, true, true, true, false},
	IX:   {true, true, true, false, false, false},
	S:    {true, true, false, true, false, false},
	SIX:  {true, true, false, false, false, false},
	X:    {true, false, false, false, false, false},
}

// Compatible reports whether a request for `requested` may be granted
// alongside an already-held `held` mode (by a different transaction).
func Compatible(held, requested Mode) bool {
	return compatible[held][requested]
}

// upgradeTargets lists the modes a transaction already holding `from` may
// upgrade to in place, per spec.md §4.5.
var upgradeTargets = map[Mode]map[Mode]bool{
	IS: {S: true, X: true, IX: true, SIX: true},
	IX: {X: true, SIX: true},
	S:  {X: true, SIX: true},
}

// CanUpgrade reports whether a transaction holding `from` may upgrade
// in-place to `to` without going through the standard acquisition path.
func CanUpgrade(from, to Mode) bool {
	if from == to {
		return true
	}
	targets, ok := upgradeTargets[from]
	return ok && targets[to]
}

// Kind is the resource scope a lock request targets.
type Kind uint8

const (
	KindDatabase Kind = iota + 1
	KindPage
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindPage:
		return "page"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// ResourceID is the 64-bit composite of spec.md §4.5: the resource-type tag
// occupies the top byte of the high 32 bits; for Kind == KindRecord the
// remaining 24 bits of the high half carry the owning page id so records on
// different pages never collide, and the low 32 bits carry the object id
// (the page id for KindPage, the database id for KindDatabase, or a key
// hash for KindRecord). The same composition is used at every acquire/release site.
func MakeResourceID(kind Kind, pageID uint32, objID uint32) uint64 {
	high := uint32(kind)<<24 | (pageID & 0x00ffffff)
	return uint64(high)<<32 | uint64(objID)
}
