// Package memory provides an in-memory Store implementation. It is the
// default when persistence is disabled and the fixture of choice in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cliproom/cliproom/pkg/store"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Store keeps all records in maps guarded by a single mutex. Contents are
// lost on process exit.
type Store struct {
	mu     sync.RWMutex
	files  map[string]*store.FileRecord
	shares map[string]*store.ShareRecord
	access map[string][]wire.ShareAccessEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		files:  make(map[string]*store.FileRecord),
		shares: make(map[string]*store.ShareRecord),
		access: make(map[string][]wire.ShareAccessEntry),
	}
}

func (s *Store) PutFile(ctx context.Context, rec *store.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *rec
	s.mu.Lock()
	s.files[rec.FileID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.files, fileID)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListFiles(ctx context.Context) ([]*store.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.FileRecord, 0, len(s.files))
	for _, rec := range s.files {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) PutShare(ctx context.Context, rec *store.ShareRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *rec
	s.mu.Lock()
	s.shares[rec.ShareID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteShare(ctx context.Context, shareID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.shares, shareID)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListShares(ctx context.Context) ([]*store.ShareRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.ShareRecord, 0, len(s.shares))
	for _, rec := range s.shares {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) AppendAccess(ctx context.Context, entry *wire.ShareAccessEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.access[entry.ShareID] = append(s.access[entry.ShareID], *entry)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAccess(ctx context.Context, shareID string) ([]wire.ShareAccessEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.access[shareID]
	out := make([]wire.ShareAccessEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) DeleteAccess(ctx context.Context, shareID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.access, shareID)
	s.mu.Unlock()
	return nil
}

func (s *Store) PruneAccess(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for shareID, entries := range s.access {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.access, shareID)
			continue
		}
		s.access[shareID] = kept
	}
	return removed, nil
}

func (s *Store) Close() error {
	return nil
}
