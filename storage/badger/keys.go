package badger

import (
	"encoding/binary"

	"github.com/poiesic/bulkimport/core"
)

// Key prefixes for different data types
const (
	documentPrefix      = "doc"
	documentChildPrefix = "docc"
	jobPrefix           = "job"
)

// makeDocumentKey generates a key for a document by ID.
// Format: prefix:id
func makeDocumentKey(id core.ID) []byte {
	prefix := []byte(documentPrefix + ":")
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeChildKey generates a composite key for the parent/child index.
// Format: prefix:parentID:childID
func makeChildKey(parentID, childID core.ID) []byte {
	prefix := []byte(documentChildPrefix + ":")
	buf := make([]byte, len(prefix)+16) // 8 bytes for parentID + 8 bytes for childID
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(parentID))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(childID))
	return buf
}

// makePartialChildKey generates a partial key for child listings.
// Format: prefix:parentID
func makePartialChildKey(parentID core.ID) []byte {
	prefix := []byte(documentChildPrefix + ":")
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(parentID))
	return buf
}

// makeJobKey generates a key for a job record.
func makeJobKey(id string) []byte {
	return []byte(jobPrefix + ":" + id)
}
