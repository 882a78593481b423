// Package watchset persists the set of watched wallet addresses as a
// newline-delimited text file.
package watchset

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hedeqiang/dropwatch/event"
)

// Result reports the outcome of a mutation.
type Result struct {
	OK     bool
	Reason string
}

const (
	ReasonInvalid    = "invalid address"
	ReasonDuplicate  = "already watched"
	ReasonNotWatched = "not watched"
)

// Store is the file-backed watch-set. Addresses are kept lower-cased, in
// insertion order, without duplicates.
type Store struct {
	mu    sync.RWMutex
	path  string
	order []event.Address
	set   map[event.Address]struct{}
}

// Open loads the store at path, creating an empty file if it is missing.
func Open(path string) (*Store, error) {
	s := &Store{path: path, set: make(map[event.Address]struct{})}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory set with the file's contents. Blank and
// invalid lines are skipped.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.order, s.set = nil, make(map[event.Address]struct{})
		return s.save()
	}
	if err != nil {
		return fmt.Errorf("watchset: read %s: %w", s.path, err)
	}

	order := make([]event.Address, 0)
	set := make(map[event.Address]struct{})
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		addr, ok := parse(sc.Text())
		if !ok {
			continue
		}
		if _, dup := set[addr]; dup {
			continue
		}
		set[addr] = struct{}{}
		order = append(order, addr)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("watchset: scan %s: %w", s.path, err)
	}
	s.order, s.set = order, set
	return nil
}

// Add watches addr and persists the set.
func (s *Store) Add(addr string) Result {
	a, ok := parse(addr)
	if !ok {
		return Result{Reason: ReasonInvalid}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.set[a]; dup {
		return Result{Reason: ReasonDuplicate}
	}
	s.set[a] = struct{}{}
	s.order = append(s.order, a)
	if err := s.save(); err != nil {
		delete(s.set, a)
		s.order = s.order[:len(s.order)-1]
		return Result{Reason: err.Error()}
	}
	return Result{OK: true}
}

// Remove stops watching addr and persists the set.
func (s *Store) Remove(addr string) Result {
	a, ok := parse(addr)
	if !ok {
		return Result{Reason: ReasonInvalid}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.set[a]; !found {
		return Result{Reason: ReasonNotWatched}
	}
	prev := s.order
	next := make([]event.Address, 0, len(prev)-1)
	for _, o := range prev {
		if o != a {
			next = append(next, o)
		}
	}
	delete(s.set, a)
	s.order = next
	if err := s.save(); err != nil {
		s.set[a] = struct{}{}
		s.order = prev
		return Result{Reason: err.Error()}
	}
	return Result{OK: true}
}

// List returns the watched addresses in insertion order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	for i, a := range s.order {
		out[i] = a.Hex()
	}
	return out
}

// Contains reports whether addr is watched.
func (s *Store) Contains(addr event.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[addr]
	return ok
}

// Size returns the number of watched addresses.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// save rewrites the file through a temporary file and a rename. Callers
// hold the write lock.
func (s *Store) save() error {
	var b strings.Builder
	for _, a := range s.order {
		b.WriteString(a.Hex())
		b.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watchset: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".watchset-*")
	if err != nil {
		return fmt.Errorf("watchset: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("watchset: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("watchset: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("watchset: replace %s: %w", s.path, err)
	}
	return nil
}

func parse(s string) (event.Address, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "0x") || !common.IsHexAddress(s) {
		return event.Address{}, false
	}
	return event.Address(common.HexToAddress(s)), true
}
