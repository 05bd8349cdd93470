// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package bulkimport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/bulkimport/importer"
	"github.com/poiesic/bulkimport/source"
	"github.com/poiesic/bulkimport/storage"
	"github.com/poiesic/bulkimport/storage/badger"
	"github.com/poiesic/bulkimport/storage/pebble"
)

// Engine names a storage engine a Store can be opened on.
type Engine string

const (
	EngineBadger Engine = "badger"
	EnginePebble Engine = "pebble"
)

var (
	// ErrUnknownEngine is returned by Open for an engine it does not know.
	ErrUnknownEngine = errors.New("unknown storage engine")

	// ErrInMemoryUnsupported is returned when an in-memory store is requested
	// from an engine that only runs on disk.
	ErrInMemoryUnsupported = errors.New("engine does not support in-memory stores")
)

// ParseEngine converts an engine name into an Engine.
func ParseEngine(name string) (Engine, error) {
	switch Engine(name) {
	case EngineBadger, EnginePebble:
		return Engine(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

// Store is an opened document store together with its job history.
type Store struct {
	engine  Engine
	docRepo storage.DocumentRepository
	jobRepo storage.JobRepository
	closer  io.Closer
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	engine   Engine
	inMemory bool
	logger   *slog.Logger
}

// WithEngine selects the storage engine. Default is EngineBadger.
func WithEngine(engine Engine) StoreOption {
	return func(o *storeOptions) {
		o.engine = engine
	}
}

// WithInMemory keeps all data in memory. Only badger supports it.
func WithInMemory() StoreOption {
	return func(o *storeOptions) {
		o.inMemory = true
	}
}

// WithStoreLogger sets the logger used for close errors.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// Open opens the store at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	options := &storeOptions{
		engine: EngineBadger,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	switch options.engine {
	case EngineBadger:
		backend, err := badger.OpenBackend(path, options.inMemory)
		if err != nil {
			return nil, err
		}
		return &Store{
			engine:  EngineBadger,
			docRepo: badger.NewDocumentRepository(backend),
			jobRepo: badger.NewJobRepository(backend),
			closer:  backend,
			logger:  options.logger,
		}, nil

	case EnginePebble:
		if options.inMemory {
			return nil, fmt.Errorf("%w: %s", ErrInMemoryUnsupported, EnginePebble)
		}
		db, err := pebble.Open(path)
		if err != nil {
			return nil, err
		}
		return &Store{
			engine:  EnginePebble,
			docRepo: pebble.NewDocumentRepository(db),
			jobRepo: pebble.NewJobRepository(db),
			closer:  db,
			logger:  options.logger,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, options.engine)
	}
}

func (s *Store) Close() error {
	if err := s.docRepo.Close(); err != nil {
		s.logger.Error("error closing document repository", "err", err)
		return err
	}
	if err := s.closer.Close(); err != nil {
		s.logger.Error("error closing backend storage", "engine", s.engine, "err", err)
		return err
	}
	return nil
}

// Engine returns the storage engine the store runs on.
func (s *Store) Engine() Engine {
	return s.engine
}

func (s *Store) DocumentRepository() storage.DocumentRepository {
	return s.docRepo
}

func (s *Store) JobRepository() storage.JobRepository {
	return s.jobRepo
}

// NewImporter creates a dispatcher importing src into this store. The job is
// recorded in the store's job history next to any history passed with
// importer.WithHistory. Existing documents are updated or skipped as the
// dispatcher's Config.UpdateExisting says.
func (s *Store) NewImporter(src source.Source, opts ...importer.Option) (*importer.Dispatcher, error) {
	history, err := importer.NewRepositoryHistory(s.jobRepo)
	if err != nil {
		return nil, err
	}
	opts = append([]importer.Option{importer.WithHistory(history)}, opts...)

	// Workers are only created by Run, after d is assigned.
	var d *importer.Dispatcher
	consumers := func(workerID string) (importer.Consumer, error) {
		return importer.NewDocumentConsumer(s.docRepo, storage.WithUpdateExisting(d.Config().UpdateExisting))
	}
	d, err = importer.NewDispatcher(src, consumers, opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}
