package inventory

import (
	"slices"
	"sync"
)

// productLocks serializes work per product id inside one process. Entries are
// reference counted so idle products do not accumulate.
type productLocks struct {
	mu      sync.Mutex
	entries map[int64]*productLock
}

type productLock struct {
	mu      sync.Mutex
	holders int
}

func newProductLocks() *productLocks {
	return &productLocks{entries: make(map[int64]*productLock)}
}

// lock acquires every id in ascending order, so two callers locking
// overlapping sets cannot deadlock, and returns the matching release.
func (l *productLocks) lock(ids ...int64) func() {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	acquired := make([]*productLock, 0, len(ordered))
	for _, id := range ordered {
		l.mu.Lock()
		entry, ok := l.entries[id]
		if !ok {
			entry = &productLock{}
			l.entries[id] = entry
		}
		entry.holders++
		l.mu.Unlock()

		entry.mu.Lock()
		acquired = append(acquired, entry)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for index := len(acquired) - 1; index >= 0; index-- {
				acquired[index].mu.Unlock()
			}
			l.mu.Lock()
			for _, id := range ordered {
				entry := l.entries[id]
				entry.holders--
				if entry.holders == 0 {
					delete(l.entries, id)
				}
			}
			l.mu.Unlock()
		})
	}
}

func (l *productLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
