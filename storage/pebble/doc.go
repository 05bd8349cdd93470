// Package pebble provides a Pebble-backed implementation of the storage
// repositories. It is an alternative to the badger package for deployments
// that prefer an LSM store without optimistic transactions: each
// WriteDocuments call is a single indexed batch, and concurrent writers are
// serialized by the Store.
package pebble
