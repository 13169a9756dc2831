package lsp

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/lspbridge/internal/logging"
)

// listenerSet holds subscribers in subscription order. Delivery calls each
// listener outside the lock and recovers panics per listener, so a faulty
// subscriber cannot stop delivery to the others.
type listenerSet[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	ids    []uint64
	fns    map[uint64]func(T)
	name   string
	log    *logging.Logger
}

func newListenerSet[T any](name string, log *logging.Logger) *listenerSet[T] {
	return &listenerSet[T]{fns: make(map[uint64]func(T)), name: name, log: log}
}

// add registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (s *listenerSet[T]) add(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.ids = append(s.ids, id)
	s.fns[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *listenerSet[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fns, id)
	s.ids = slices.DeleteFunc(s.ids, func(v uint64) bool { return v == id })
}

func (s *listenerSet[T]) emit(v T) {
	s.mu.RLock()
	fns := make([]func(T), 0, len(s.ids))
	for _, id := range s.ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		s.call(fn, v)
	}
}

func (s *listenerSet[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("%s listener panicked: %v", s.name, fmt.Sprint(r))
		}
	}()
	fn(v)
}
