package pebble

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/poiesic/bulkimport/storage"
)

// Store wraps a Pebble database shared by the document and job repositories.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
	closed atomic.Bool

	// pebble has no optimistic transactions, so read-modify-write
	// batches are serialized here.
	writeMu sync.Mutex
}

// pebbleLoggerAdapter adapts slog.Logger to pebble's Logger interface.
type pebbleLoggerAdapter struct {
	logger *slog.Logger
}

func (pl *pebbleLoggerAdapter) Infof(format string, args ...any) {
	pl.logger.Info(fmt.Sprintf(format, args...))
}

func (pl *pebbleLoggerAdapter) Errorf(format string, args ...any) {
	pl.logger.Error(fmt.Sprintf(format, args...))
}

func (pl *pebbleLoggerAdapter) Fatalf(format string, args ...any) {
	pl.logger.Error(fmt.Sprintf(format, args...), "fatal", true)
	os.Exit(1)
}

// Open opens (or creates) a Pebble database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	logger := slog.Default().With("storage", "pebble")
	db, err := pebble.Open(dir, &pebble.Options{
		Logger: &pebbleLoggerAdapter{logger: logger},
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("pebble opened", "path", dir)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

// get copies the value stored at key out of pebble.
// Returns nil, nil if the key does not exist.
func get(r pebble.Reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// scan calls fn with a copy of every value whose key starts with prefix.
func scan(r pebble.Reader, prefix []byte, fn func(key, val []byte) error) error {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		val := make([]byte, len(iter.Value()))
		copy(val, iter.Value())
		if err := fn(iter.Key(), val); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) checkOpen() error {
	if s.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}
