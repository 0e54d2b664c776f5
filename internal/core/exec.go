package core

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/giantswarm/fnhost/internal/procproto"
)

// ExecKind says whether an invocation's caller waits for the result.
type ExecKind uint8

const (
	// ExecSync invocations block their caller until they return.
	ExecSync ExecKind = iota + 1
	// ExecAsync invocations report their result elsewhere.
	ExecAsync
)

// String returns "sync" or "async".
func (k ExecKind) String() string {
	switch k {
	case ExecSync:
		return "sync"
	case ExecAsync:
		return "async"
	default:
		return fmt.Sprintf("ExecKind(%d)", uint8(k))
	}
}

// ExecContext describes one running invocation.
type ExecContext struct {
	Kind    ExecKind
	App     string
	Func    string
	TaskID  procproto.FnTaskID
	Started time.Time
}

// ExecHandle addresses an ExecContext in the arena. A handle stays valid
// until its entry is removed; it never addresses a later entry that reuses
// the slot.
type ExecHandle struct {
	index uint32
	gen   uint32
}

type execSlot struct {
	gen  uint32
	key  string
	ctx  *ExecContext
	used bool
}

// execArena stores running invocations in reusable slots, indexed by
// instance key. Invocations sharing a key are stacked; lookup returns the
// most recent one still running.
type execArena struct {
	mu    sync.Mutex
	slots []execSlot
	free  []uint32
	byKey map[string][]ExecHandle
}

func newExecArena() *execArena {
	return &execArena{byKey: make(map[string][]ExecHandle)}
}

func (a *execArena) insert(key string, ec *ExecContext) ExecHandle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, execSlot{})
		idx = uint32(len(a.slots) - 1)
	}

	s := &a.slots[idx]
	s.gen++
	s.key, s.ctx, s.used = key, ec, true

	h := ExecHandle{index: idx, gen: s.gen}
	a.byKey[key] = append(a.byKey[key], h)
	return h
}

func (a *execArena) remove(h ExecHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.slotLocked(h)
	if !ok {
		return false
	}
	stack := slices.DeleteFunc(a.byKey[s.key], func(o ExecHandle) bool { return o == h })
	if len(stack) == 0 {
		delete(a.byKey, s.key)
	} else {
		a.byKey[s.key] = stack
	}
	s.key, s.ctx, s.used = "", nil, false
	a.free = append(a.free, h.index)
	return true
}

func (a *execArena) get(h ExecHandle) (*ExecContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.slotLocked(h)
	if !ok {
		return nil, false
	}
	return s.ctx, true
}

func (a *execArena) lookup(key string) (*ExecContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stack := a.byKey[key]
	if len(stack) == 0 {
		return nil, false
	}
	return a.slots[stack[len(stack)-1].index].ctx, true
}

func (a *execArena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

func (a *execArena) slotLocked(h ExecHandle) (*execSlot, bool) {
	if int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil, false
	}
	return s, true
}
