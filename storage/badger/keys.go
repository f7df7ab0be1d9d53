package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/arbor/core"
)

// Key prefixes for different data types
const (
	messagePrefix    = "msgrec"
	childPrefix      = "msgchd"
	messageSeq       = "msgseq"
	embeddingPrefix  = "embrec"
	summaryPrefix    = "sumrec"
	summaryEmbPrefix = "sumemb"
	pinPrefix        = "pinrec"
	resultPrefix     = "fnres"
	resultDonePrefix = "fnresdone"
	resultSeq        = "fnresseq"
	dependencyPrefix = "fndep"
)

// makeMessageKey generates a key for a message by hash.
func makeMessageKey(hash core.Hash) []byte {
	return []byte(fmt.Sprintf("%s:%s", messagePrefix, hash))
}

// makeChildKey generates a composite key for the child index.
// Format: prefix:parentHash:seq. The parent of root messages is the empty
// sentinel, so root children index under "msgchd::".
func makeChildKey(parent core.Hash, seq uint64) []byte {
	prefix := childPrefix + ":" + string(parent) + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialChildKey generates the scan prefix for a parent's children.
func makePartialChildKey(parent core.Hash) []byte {
	return []byte(childPrefix + ":" + string(parent) + ":")
}

// makeEmbeddingKey generates a key for a message's embedding record.
func makeEmbeddingKey(hash core.Hash) []byte {
	return []byte(fmt.Sprintf("%s:%s", embeddingPrefix, hash))
}

// makeSummaryKey generates a key for a message's summary record.
func makeSummaryKey(hash core.Hash) []byte {
	return []byte(fmt.Sprintf("%s:%s", summaryPrefix, hash))
}

// makeSummaryEmbeddingKey generates a key for a message's summary embedding record.
func makeSummaryEmbeddingKey(hash core.Hash) []byte {
	return []byte(fmt.Sprintf("%s:%s", summaryEmbPrefix, hash))
}

// makePinKey generates a key for a message's pin record.
func makePinKey(hash core.Hash) []byte {
	return []byte(fmt.Sprintf("%s:%s", pinPrefix, hash))
}

// makeResultKey generates a composite key for a function result record.
// Format: prefix:uuid:seq
func makeResultKey(uuid string, seq uint64) []byte {
	prefix := resultPrefix + ":" + uuid + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialResultKey generates the scan prefix for an invocation's results.
func makePartialResultKey(uuid string) []byte {
	return []byte(resultPrefix + ":" + uuid + ":")
}

// makeResultDoneKey generates the key for an invocation's completion marker.
func makeResultDoneKey(uuid string) []byte {
	return []byte(fmt.Sprintf("%s:%s", resultDonePrefix, uuid))
}

// makeDependencyKey generates a composite key for a function dependency.
// Format: prefix:functionHash:name
func makeDependencyKey(hash core.Hash, name string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", dependencyPrefix, hash, name))
}

// makePartialDependencyKey generates the scan prefix for a function's dependencies.
func makePartialDependencyKey(hash core.Hash) []byte {
	return []byte(dependencyPrefix + ":" + string(hash) + ":")
}
