package pebble

import (
	"encoding/binary"

	"github.com/poiesic/bulkimport/core"
)

const (
	documentPrefix      = "doc:"
	documentChildPrefix = "docc:"
	jobPrefix           = "job:"
)

func makeDocumentKey(id core.ID) []byte {
	buf := make([]byte, len(documentPrefix)+8)
	offset := copy(buf, documentPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeChildKey format: docc:parentID:childID, big endian so children of one
// parent are contiguous.
func makeChildKey(parentID, childID core.ID) []byte {
	buf := make([]byte, len(documentChildPrefix)+16)
	offset := copy(buf, documentChildPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(parentID))
	binary.BigEndian.PutUint64(buf[offset+8:], uint64(childID))
	return buf
}

func makePartialChildKey(parentID core.ID) []byte {
	buf := make([]byte, len(documentChildPrefix)+8)
	offset := copy(buf, documentChildPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(parentID))
	return buf
}

func makeJobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
