// Package badger implements the snapshot store on BadgerDB. One database
// holds three keyspaces: file index entries, share records, and share
// access logs. All mutations run inside Update transactions so a crash
// never leaves a half-written record.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/store"
	"github.com/cliproom/cliproom/pkg/wire"
)

const (
	filePrefix   = "file/"
	sharePrefix  = "share/"
	accessPrefix = "access/"
)

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db *badger.DB

	// seq disambiguates access-log keys written within the same nanosecond.
	seq atomic.Uint64
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", path, err)
	}

	logger.Info("Opened snapshot store", "path", path)
	return &Store{db: db}, nil
}

func keyFile(fileID string) []byte {
	return []byte(filePrefix + fileID)
}

func keyShare(shareID string) []byte {
	return []byte(sharePrefix + shareID)
}

// keyAccess orders entries per share by timestamp. The fixed-width
// nanosecond component keeps lexicographic order equal to time order.
func (s *Store) keyAccess(shareID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%06d", accessPrefix, shareID, ts.UnixNano(), s.seq.Add(1)))
}

func (s *Store) PutFile(ctx context.Context, rec *store.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode file record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFile(rec.FileID), val)
	})
}

func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFile(fileID))
	})
}

func (s *Store) ListFiles(ctx context.Context) ([]*store.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*store.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(filePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec store.FileRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode file record: %w", err)
				}
				out = append(out, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) PutShare(ctx context.Context, rec *store.ShareRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode share record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyShare(rec.ShareID), val)
	})
}

func (s *Store) DeleteShare(ctx context.Context, shareID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyShare(shareID))
	})
}

func (s *Store) ListShares(ctx context.Context) ([]*store.ShareRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*store.ShareRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sharePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec store.ShareRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode share record: %w", err)
				}
				out = append(out, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) AppendAccess(ctx context.Context, entry *wire.ShareAccessEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode access entry: %w", err)
	}
	key := s.keyAccess(entry.ShareID, entry.Timestamp)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *Store) ListAccess(ctx context.Context, shareID string) ([]wire.ShareAccessEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []wire.ShareAccessEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(accessPrefix + shareID + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry wire.ShareAccessEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("failed to decode access entry: %w", err)
				}
				out = append(out, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteAccess(ctx context.Context, shareID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys, err := s.collectKeys([]byte(accessPrefix + shareID + "/"))
	if err != nil {
		return err
	}
	return s.deleteKeys(keys)
}

func (s *Store) PruneAccess(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(accessPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var entry wire.ShareAccessEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("failed to decode access entry: %w", err)
				}
				if entry.Timestamp.Before(cutoff) {
					stale = append(stale, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.deleteKeys(stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// collectKeys gathers all keys under prefix in a read transaction.
func (s *Store) collectKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// deleteKeys removes keys in batches, splitting transactions that grow
// past badger's size limit.
func (s *Store) deleteKeys(keys [][]byte) error {
	for len(keys) > 0 {
		n := 0
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					if err == badger.ErrTxnTooBig {
						return nil
					}
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("failed to delete key %q: transaction too big", keys[0])
		}
		keys = keys[n:]
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
