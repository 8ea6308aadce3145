package engine

import "sync"

// keyedMutex serialises work per execution id. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}

type interruptKind int

const (
	interruptPause interruptKind = iota + 1
	interruptCancel
)

// interrupt is a pause or cancel requested while a drain may be running. The
// drain consumes it between steps and marks it applied.
type interrupt struct {
	kind    interruptKind
	applied bool
}

func (e *Engine) requestInterrupt(executionID string, kind interruptKind) *interrupt {
	e.interruptsMu.Lock()
	defer e.interruptsMu.Unlock()

	tok := &interrupt{kind: kind}

	// cancel wins over a pending pause
	if existing, ok := e.interrupts[executionID]; ok && existing.kind == interruptCancel {
		return tok
	}

	e.interrupts[executionID] = tok

	return tok
}

func (e *Engine) takeInterrupt(executionID string) (interruptKind, bool) {
	e.interruptsMu.Lock()
	defer e.interruptsMu.Unlock()

	tok, ok := e.interrupts[executionID]
	if !ok {
		return 0, false
	}

	delete(e.interrupts, executionID)
	tok.applied = true

	return tok.kind, true
}

// settleInterrupt withdraws tok if no drain consumed it and reports whether
// one did.
func (e *Engine) settleInterrupt(executionID string, tok *interrupt) bool {
	e.interruptsMu.Lock()
	defer e.interruptsMu.Unlock()

	if tok.applied {
		return true
	}

	if e.interrupts[executionID] == tok {
		delete(e.interrupts, executionID)
	}

	return false
}
