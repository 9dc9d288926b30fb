package badger

import (
	"encoding/binary"
)

// Key prefixes for different data types
const (
	checkpointPrefix = "chkpt:"
	processedPrefix  = "procseq:"
	autoSyncPrefix   = "autosync:"

	// talkerTerminator ends the talker portion of composite keys so that
	// talker "a" never prefix-matches talker "ab".
	talkerTerminator = 0x00
)

// makeCheckpointKey generates a key for a talker's checkpoint.
func makeCheckpointKey(talker string) []byte {
	return []byte(checkpointPrefix + talker)
}

// makeProcessedPrefix generates the prefix shared by all processed-seq keys of a talker.
// Format: prefix:talker\x00
func makeProcessedPrefix(talker string) []byte {
	buf := make([]byte, 0, len(processedPrefix)+len(talker)+1)
	buf = append(buf, processedPrefix...)
	buf = append(buf, talker...)
	return append(buf, talkerTerminator)
}

// makeProcessedKey generates a composite key for a processed seq.
// Format: prefix:talker\x00seq
func makeProcessedKey(talker string, seq int64) []byte {
	prefix := makeProcessedPrefix(talker)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(seq))
	return buf
}

// makeAutoSyncKey generates the enrollment key for a talker.
func makeAutoSyncKey(talker string) []byte {
	return []byte(autoSyncPrefix + talker)
}
