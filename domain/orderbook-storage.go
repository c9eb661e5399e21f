package domain

import (
	"errors"
	"sort"
	"sync"
)

var ErrOrderBookNotFound = errors.New("order book not found")

// PairStorage is the runtime table of per-pair state. All methods are safe
// for concurrent use.
type PairStorage[T any] struct {
	mu      sync.RWMutex
	storage map[PairKey]T
}

func NewPairStorage[T any]() *PairStorage[T] {
	return &PairStorage[T]{
		storage: make(map[PairKey]T),
	}
}

func (s *PairStorage[T]) Add(key PairKey, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[key] = value
}

func (s *PairStorage[T]) Get(key PairKey) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.storage[key]
	if !ok {
		return value, ErrOrderBookNotFound
	}
	return value, nil
}

// GetOrCreate returns the stored value, creating it under the same lock when
// absent. The second result reports whether create was called.
func (s *PairStorage[T]) GetOrCreate(key PairKey, create func() T) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value, ok := s.storage[key]; ok {
		return value, false
	}
	value := create()
	s.storage[key] = value
	return value, true
}

func (s *PairStorage[T]) Remove(key PairKey) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.storage[key]
	delete(s.storage, key)
	return value, ok
}

// Keys returns the stored keys ordered by their string form.
func (s *PairStorage[T]) Keys() []PairKey {
	s.mu.RLock()
	keys := make([]PairKey, 0, len(s.storage))
	for key := range s.storage {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (s *PairStorage[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.storage)
}

// OrderBookCount returns how many entries belong to the given market.
func (s *PairStorage[T]) OrderBookCount(market MarketType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for key := range s.storage {
		if key.Market == market {
			count++
		}
	}
	return count
}
