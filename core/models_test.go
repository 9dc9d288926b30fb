package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, IDFromContent("hello"), IDFromContent("hello"))
	})

	t.Run("different content", func(t *testing.T) {
		assert.NotEqual(t, IDFromContent("hello"), IDFromContent("world"))
	})
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, RecordID("room@chatroom", 42), RecordID("room@chatroom", 42))
	assert.NotEqual(t, RecordID("room@chatroom", 42), RecordID("room@chatroom", 43))
	assert.NotEqual(t, RecordID("a", 1), RecordID("b", 1))
}

func TestChatRecordRefer(t *testing.T) {
	r := &ChatRecord{}
	assert.Nil(t, r.Refer())

	r.Contents = &RecordContents{}
	assert.Nil(t, r.Refer())

	ref := &QuotedReference{Sender: "wxid_a", Content: "hi"}
	r.Contents.Refer = ref
	assert.Same(t, ref, r.Refer())
}

func TestEmbeddingUnitAccessors(t *testing.T) {
	u := EmbeddingUnit{
		Text: "hello",
		Metadata: map[string]any{
			MetaSeq:    int64(17),
			MetaTalker: "alice",
		},
	}
	assert.Equal(t, int64(17), u.Seq())
	assert.Equal(t, "alice", u.Talker())

	empty := EmbeddingUnit{}
	assert.Equal(t, int64(0), empty.Seq())
	assert.Equal(t, "", empty.Talker())
}

func TestCheckpointMUS(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tests := []struct {
		name string
		cp   Checkpoint
	}{
		{"full", Checkpoint{Talker: "room@chatroom", TalkerName: "Weekend Hikes", LastSeq: 1700000000123, LastSyncTime: now}},
		{"zero time", Checkpoint{Talker: "alice", LastSeq: 5}},
		{"unicode name", Checkpoint{Talker: "bob", TalkerName: "周末爬山群", LastSeq: 1, LastSyncTime: now}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, CheckpointMUS.Size(tt.cp))
			n := CheckpointMUS.Marshal(tt.cp, buf)
			assert.Equal(t, len(buf), n)

			decoded, read, err := CheckpointMUS.Unmarshal(buf)
			require.NoError(t, err)
			assert.Equal(t, n, read)
			assert.Equal(t, tt.cp.Talker, decoded.Talker)
			assert.Equal(t, tt.cp.TalkerName, decoded.TalkerName)
			assert.Equal(t, tt.cp.LastSeq, decoded.LastSeq)
			assert.True(t, tt.cp.LastSyncTime.Equal(decoded.LastSyncTime))

			skipped, err := CheckpointMUS.Skip(buf)
			require.NoError(t, err)
			assert.Equal(t, n, skipped)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		cp := Checkpoint{Talker: "alice", LastSeq: 300, LastSyncTime: now}
		buf := make([]byte, CheckpointMUS.Size(cp))
		CheckpointMUS.Marshal(cp, buf)

		_, _, err := CheckpointMUS.Unmarshal(buf[:3])
		assert.Error(t, err)
	})
}
