package lineservice

import (
	"sort"
	"sync"
)

// pathLocks hands out one mutex per path. Entries are dropped once no
// caller holds or waits on them.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: make(map[string]*pathLock)}
}

func (l *pathLocks) acquire(p string) *pathLock {
	l.mu.Lock()
	pl, ok := l.m[p]
	if !ok {
		pl = &pathLock{}
		l.m[p] = pl
	}
	pl.refs++
	l.mu.Unlock()
	pl.mu.Lock()
	return pl
}

func (l *pathLocks) release(p string, pl *pathLock) {
	pl.mu.Unlock()
	l.mu.Lock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.m, p)
	}
	l.mu.Unlock()
}

// lock serializes callers on the given paths and returns the unlock func.
// Paths are locked in sorted order so two-path operations cannot deadlock.
func (l *pathLocks) lock(paths ...string) func() {
	uniq := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	sort.Strings(uniq)

	held := make([]*pathLock, len(uniq))
	for i, p := range uniq {
		held[i] = l.acquire(p)
	}
	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			l.release(uniq[i], held[i])
		}
	}
}

func (l *pathLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
