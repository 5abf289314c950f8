// Package localstore persists the three device-local keys (cart items,
// purchase history, budget goal) as JSON documents under a data
// directory. It is the source of truth while the history service is
// unreachable.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cestinha/internal/core"
)

const (
	keyCart    = "cart-items"
	keyHistory = "purchase-history"
	keyBudget  = "budget-goal"
)

// Store reads and writes one JSON file per key. Every mutation saves
// synchronously; there is no batching or debounce.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New opens a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// LoadCart returns the persisted cart items, or an empty slice when the
// key has never been written.
func (s *Store) LoadCart() ([]core.LineItem, error) {
	var items []core.LineItem
	if err := s.load(keyCart, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveCart persists the cart items.
func (s *Store) SaveCart(items []core.LineItem) error {
	if items == nil {
		items = []core.LineItem{}
	}
	return s.save(keyCart, items)
}

// LoadHistory returns the persisted purchase history, or an empty slice
// when the key has never been written.
func (s *Store) LoadHistory() ([]core.Purchase, error) {
	var history []core.Purchase
	if err := s.load(keyHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SaveHistory persists the purchase history.
func (s *Store) SaveHistory(history []core.Purchase) error {
	if history == nil {
		history = []core.Purchase{}
	}
	return s.save(keyHistory, history)
}

// LoadBudget returns the persisted budget goal; zero means unset.
func (s *Store) LoadBudget() (core.Money, error) {
	var budget core.Money
	if err := s.load(keyBudget, &budget); err != nil {
		return core.Money{}, err
	}
	return budget, nil
}

// SaveBudget persists the budget goal.
func (s *Store) SaveBudget(budget core.Money) error {
	return s.save(keyBudget, budget)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) load(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // never written: leave the zero default
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// save writes through a temp file and renames, so a crash mid-write
// never leaves a truncated key behind.
func (s *Store) save(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}
