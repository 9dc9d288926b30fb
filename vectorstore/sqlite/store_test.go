package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(talker string, seq int64, text string) core.EmbeddingUnit {
	return core.EmbeddingUnit{
		Text: text,
		Metadata: map[string]any{
			core.MetaTalker: talker,
			core.MetaSeq:    seq,
			core.MetaSender: "wxid_" + talker,
		},
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAll(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	units := []core.EmbeddingUnit{unit("alice", 2, "second"), unit("alice", 1, "first")}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	ids, err := s.AddAll(ctx, vectors, units)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, vectorstore.DocumentID(units[0]), ids[0])

	docs, err := s.Documents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(1), docs[0].Seq)
	assert.Equal(t, "first", docs[0].Content)
	assert.Equal(t, []float32{0.3, 0.4}, docs[0].Embedding)
	assert.Equal(t, "wxid_alice", docs[0].Metadata[core.MetaSender])
}

func TestAddAll_Idempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	units := []core.EmbeddingUnit{unit("alice", 1, "hello")}
	_, err := s.AddAll(ctx, [][]float32{{1}}, units)
	require.NoError(t, err)

	units[0].Text = "hello again"
	_, err = s.AddAll(ctx, [][]float32{{2}}, units)
	require.NoError(t, err)

	n, err := s.CountByTalker(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	docs, err := s.Documents(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello again", docs[0].Content)
}

func TestAddAll_InvalidInput(t *testing.T) {
	s := openStore(t)
	_, err := s.AddAll(context.Background(), [][]float32{{1}}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrMismatchedInput)

	ids, err := s.AddAll(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRemoveByTalker(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.AddAll(ctx, [][]float32{{1}, {2}, {3}},
		[]core.EmbeddingUnit{unit("alice", 1, "a"), unit("alice", 2, "b"), unit("bob", 1, "c")})
	require.NoError(t, err)

	require.NoError(t, s.RemoveByTalker(ctx, "alice"))

	n, err := s.CountByTalker(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = s.CountByTalker(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.RemoveByTalker(ctx, ""), core.ErrInvalidArgument)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.AddAll(context.Background(), [][]float32{{1}}, []core.EmbeddingUnit{unit("alice", 1, "a")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountByTalker(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTalkersAndUnits(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	talkers, err := s.Talkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, talkers)

	_, err = s.AddAll(ctx, [][]float32{{1}, {2}, {3}},
		[]core.EmbeddingUnit{unit("bob", 1, "c"), unit("alice", 2, "b"), unit("alice", 1, "a")})
	require.NoError(t, err)

	talkers, err = s.Talkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, talkers)

	units, err := s.Units(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].Text)
	assert.Equal(t, int64(1), units[0].Seq(), "seq restored as int64")
	assert.Equal(t, "alice", units[0].Talker())
	assert.Equal(t, "wxid_alice", units[0].Metadata[core.MetaSender])

	// rewriting a unit read back keeps its id
	ids, err := s.AddAll(ctx, [][]float32{{9}}, units[:1])
	require.NoError(t, err)
	assert.Equal(t, vectorstore.DocumentID(unit("alice", 1, "a")), ids[0])
	n, err := s.CountByTalker(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
