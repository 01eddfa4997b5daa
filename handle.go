// Handle table backing the opaque tokens handed across the C boundary.
//
// C callers cannot hold Go pointers, so every bridge-created object is
// registered here and exposed as a pointer-sized token. Tokens carry a
// generation counter: resolving a token whose slot has been released and
// reused fails with ErrStaleHandle instead of dereferencing a dead object.

package roombridge

import (
	"errors"
	"sync"
)

// HandleKind tags the object class a handle refers to. Bridge functions
// resolve handles against their declared kind; a mismatch is a caller bug
// surfaced as ErrWrongHandleKind.
type HandleKind uint8

const (
	KindInvalid HandleKind = iota
	KindDelegate
	KindRoom
	KindLocalTrack
	KindRemoteTrack
	KindPublication
	KindRenderer
	KindDisplay
)

func (k HandleKind) String() string {
	switch k {
	case KindDelegate:
		return "delegate"
	case KindRoom:
		return "room"
	case KindLocalTrack:
		return "local-track"
	case KindRemoteTrack:
		return "remote-track"
	case KindPublication:
		return "publication"
	case KindRenderer:
		return "renderer"
	case KindDisplay:
		return "display"
	default:
		return "invalid"
	}
}

// Handle is an opaque pointer-sized token referencing one registered object.
// The zero Handle is never valid. Layout: kind in bits 28-31, generation in
// bits 20-27, slot index in bits 0-19, so a Handle fits a 32-bit pointer.
type Handle uintptr

const (
	handleIndexBits = 20
	handleIndexMask = 1<<handleIndexBits - 1
	handleGenBits   = 8
	handleGenMask   = 1<<handleGenBits - 1
	handleMaxSlots  = 1 << handleIndexBits
)

func packHandle(kind HandleKind, gen uint8, index uint32) Handle {
	return Handle(uintptr(kind)<<(handleIndexBits+handleGenBits) |
		uintptr(gen)<<handleIndexBits |
		uintptr(index))
}

func (h Handle) index() uint32    { return uint32(h) & handleIndexMask }
func (h Handle) gen() uint8       { return uint8(h>>handleIndexBits) & handleGenMask }
func (h Handle) kind() HandleKind { return HandleKind(h >> (handleIndexBits + handleGenBits)) }

// Handle resolution errors.
var (
	ErrNilHandle       = errors.New("nil handle")
	ErrStaleHandle     = errors.New("handle refers to a released object")
	ErrWrongHandleKind = errors.New("handle kind mismatch")
	ErrTableFull       = errors.New("handle table full")
)

type handleEntry struct {
	value   any
	destroy func()
	refs    int32
	gen     uint8
	kind    HandleKind
	live    bool
}

// HandleTable maps opaque tokens to owned Go objects with explicit reference
// counts. All methods are safe for concurrent use.
type HandleTable struct {
	mu      sync.Mutex
	entries []handleEntry
	free    []uint32
}

// NewHandleTable creates an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{}
}

// Register stores value and returns a retained handle (reference count 1).
// destroy, if non-nil, runs exactly once when the count reaches zero.
// Ownership of the returned handle transfers to the caller, who must balance
// it with exactly one Release.
func (t *HandleTable) Register(kind HandleKind, value any, destroy func()) (Handle, error) {
	if kind == KindInvalid {
		return 0, ErrWrongHandleKind
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.entries) >= handleMaxSlots {
			return 0, ErrTableFull
		}
		t.entries = append(t.entries, handleEntry{})
		index = uint32(len(t.entries) - 1)
	}

	e := &t.entries[index]
	e.value = value
	e.destroy = destroy
	e.refs = 1
	e.kind = kind
	e.live = true
	return packHandle(kind, e.gen, index), nil
}

// Retain increments the handle's reference count.
func (t *HandleTable) Retain(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.entry(h)
	if err != nil {
		return err
	}
	e.refs++
	return nil
}

// Release decrements the handle's reference count. When the count reaches
// zero the slot is freed, its generation bumped, and the destroy hook runs
// (outside the table lock). Releasing a stale handle is an error, not a
// crash.
func (t *HandleTable) Release(h Handle) error {
	t.mu.Lock()
	e, err := t.entry(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	e.refs--
	if e.refs > 0 {
		t.mu.Unlock()
		return nil
	}
	destroy := e.destroy
	e.value = nil
	e.destroy = nil
	e.live = false
	e.gen++
	t.free = append(t.free, h.index())
	t.mu.Unlock()

	if destroy != nil {
		destroy()
	}
	return nil
}

// Resolve returns the object a handle refers to, checking liveness,
// generation, and kind. The object is borrowed: Resolve does not change the
// reference count.
func (t *HandleTable) Resolve(h Handle, kind HandleKind) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.entry(h)
	if err != nil {
		return nil, err
	}
	if e.kind != kind {
		return nil, ErrWrongHandleKind
	}
	return e.value, nil
}

// Len returns the number of live handles. Useful for leak checks in tests.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].live {
			n++
		}
	}
	return n
}

// entry validates h and returns its slot. Callers hold t.mu.
func (t *HandleTable) entry(h Handle) (*handleEntry, error) {
	if h == 0 {
		return nil, ErrNilHandle
	}
	index := h.index()
	if index >= uint32(len(t.entries)) {
		return nil, ErrStaleHandle
	}
	e := &t.entries[index]
	if !e.live || e.gen != h.gen() {
		return nil, ErrStaleHandle
	}
	return e, nil
}
