package badger

import (
	"encoding/binary"
)

// Key prefixes for snapshot data. Every generation of a snapshot lives
// under its own generation number so a new one can be written in full
// before the current pointer moves.
const (
	snapshotCurrentKey   = "snapcur"
	snapshotMetaPrefix   = "snapmeta"
	snapshotRecordPrefix = "snaprec"
	snapshotVectorPrefix = "snapvec"
	snapshotGenSeq       = "snapgenseq"
)

// makeGenerationPrefix generates the prefix shared by all keys of one kind
// in a generation.
// Format: prefix:generation
func makeGenerationPrefix(prefix string, gen uint64) []byte {
	p := prefix + ":"
	buf := make([]byte, len(p)+8)
	offset := copy(buf, p)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], gen)
	return buf
}

// makeEntryKey generates a key for the entry at index in a generation.
// Format: prefix:generation:index
func makeEntryKey(prefix string, gen uint64, index int) []byte {
	base := makeGenerationPrefix(prefix, gen)
	buf := make([]byte, len(base)+8)
	offset := copy(buf, base)
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// entryIndex extracts the index from a key made by makeEntryKey.
func entryIndex(key []byte) int {
	return int(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeMetaKey generates the metadata key for a generation.
func makeMetaKey(gen uint64) []byte {
	return makeGenerationPrefix(snapshotMetaPrefix, gen)
}

// generationPrefixes lists every prefix holding data for a generation.
func generationPrefixes(gen uint64) [][]byte {
	return [][]byte{
		makeGenerationPrefix(snapshotRecordPrefix, gen),
		makeGenerationPrefix(snapshotVectorPrefix, gen),
		makeMetaKey(gen),
	}
}
