package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrInjected is returned by a MemoryStore whose saves have been set to fail.
var ErrInjected = errors.New("injected storage failure")

// MemoryStore keeps encoded documents in memory. Nothing survives Close.
type MemoryStore struct {
	mu        sync.Mutex
	docs      map[string][]byte
	failSaves bool
	failDocs  map[string]bool
	saves     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte), failDocs: make(map[string]bool)}
}

func (s *MemoryStore) Load(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	data, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return true, nil
}

func (s *MemoryStore) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves || s.failDocs[name] {
		return fmt.Errorf("failed to save %s: %w", name, ErrInjected)
	}
	s.docs[name] = data
	s.saves++
	return nil
}

// SetRaw stores bytes as-is, bypassing encoding.
func (s *MemoryStore) SetRaw(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = append([]byte(nil), data...)
}

// FailSaves makes every following Save return ErrInjected until reset.
func (s *MemoryStore) FailSaves(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = fail
}

// FailSavesFor makes saves of the named document fail until reset.
func (s *MemoryStore) FailSavesFor(name string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDocs[name] = fail
}

// Saves counts successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }
