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


// Package storage provides the storage abstraction layer for bulkimport.
//
// This package defines the sink interfaces that decouple the import pipeline
// from the repository that receives imported documents. BadgerDB and Pebble
// backends implement them interchangeably.
//
// # Architecture
//
//   - DocumentWriter: the atomic multi-document write used by consumers on commit
//   - DocumentRepository: DocumentWriter plus read access to imported documents
//   - JobRepository: persisted import job history
//
// # Atomicity
//
// WriteDocuments must apply a whole batch in one transaction. A failed call
// leaves no document of the batch visible. Transaction conflicts are retried
// inside the backend with RetryWithBackoff; consumers never retry.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	docs := badger.NewDocumentRepository(backend)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
