package store

import (
	"sync"

	"github.com/deixis/calibrate/internal/params"
)

// LRUStore is an in-memory LRU cache of committed runs that delegates to a
// backing Loader on miss. Only successful loads are cached; a missing run
// may be committed later by another process.
type LRUStore struct {
	mu   sync.Mutex
	cap  int
	back Loader

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[params.Identity]*lruEntry
}

type lruEntry struct {
	key  params.Identity
	run  *Run
	prev *lruEntry
	next *lruEntry
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity must be >= 1.
func NewLRUStore(cap int, back Loader) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		items: make(map[params.Identity]*lruEntry, cap),
	}
}

// Put inserts a freshly committed run.
func (s *LRUStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(run)
}

// Load checks the cache first. On miss, loads from the backing store and
// promotes the run into the cache.
func (s *LRUStore) Load(id params.Identity) (*Run, error) {
	s.mu.Lock()
	if e, ok := s.items[id]; ok {
		s.moveToFront(e)
		r := e.run
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	run, err := s.back.Load(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.insert(run)
	s.mu.Unlock()

	return run, nil
}

// Len returns the number of cached runs.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *LRUStore) insert(run *Run) {
	if e, ok := s.items[run.ID]; ok {
		// Concurrent load already inserted it.
		e.run = run
		s.moveToFront(e)
		return
	}
	e := &lruEntry{key: run.ID, run: run}
	s.items[run.ID] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
