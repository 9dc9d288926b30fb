package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/vectorstore"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    id TEXT PRIMARY KEY,
    talker TEXT NOT NULL,
    seq INTEGER NOT NULL,
    content TEXT,
    meta TEXT,
    embedding BLOB
);
CREATE INDEX IF NOT EXISTS embeddings_talker ON embeddings(talker, seq);
`

const upsert = `
INSERT INTO embeddings(id, talker, seq, content, meta, embedding) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    content = excluded.content,
    meta = excluded.meta,
    embedding = excluded.embedding`

// Document is a stored row.
type Document struct {
	ID        string
	Talker    string
	Seq       int64
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// Store is a vectorstore.Store backed by a SQLite database.
type Store struct {
	db     *sql.DB
	ownsDB bool
	logger *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// Open opens (or creates) a SQLite database at dsn and prepares the schema.
// ":memory:" gives a private in-memory database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		// every pooled connection would otherwise see its own database
		db.SetMaxOpenConns(1)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New wraps an existing database. The caller keeps ownership of db.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("vectorstore: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("vectorstore: schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "sqlite-vectorstore"),
	}, nil
}

// AddAll upserts all units in one transaction.
func (s *Store) AddAll(ctx context.Context, vectors [][]float32, units []core.EmbeddingUnit) ([]string, error) {
	if err := vectorstore.CheckInput(vectors, units); err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(units))
	for i, u := range units {
		meta, err := json.Marshal(u.Metadata)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: metadata for seq %d: %w", u.Seq(), err)
		}
		id := vectorstore.DocumentID(u)
		if _, err := stmt.ExecContext(ctx, id, u.Talker(), u.Seq(), u.Text, string(meta), vectorstore.EncodeEmbedding(vectors[i])); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.logger.Debug("stored embeddings", "count", len(ids))
	return ids, nil
}

// RemoveByTalker deletes every row of a talker.
func (s *Store) RemoveByTalker(ctx context.Context, talker string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE talker = ?`, talker)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	s.logger.Info("removed embeddings", "talker", talker, "count", n)
	return nil
}

// CountByTalker returns the number of rows stored for a talker.
func (s *Store) CountByTalker(ctx context.Context, talker string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE talker = ?`, talker).Scan(&n)
	return n, err
}

// Documents returns a talker's rows ordered by seq.
func (s *Store) Documents(ctx context.Context, talker string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, talker, seq, content, meta, embedding FROM embeddings WHERE talker = ? ORDER BY seq`, talker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d    Document
			meta string
			blob []byte
		)
		if err := rows.Scan(&d.ID, &d.Talker, &d.Seq, &d.Content, &meta, &blob); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
				return nil, err
			}
		}
		if d.Embedding, err = vectorstore.DecodeEmbedding(blob); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Unit rebuilds the embedding unit the document was stored from.
func (d Document) Unit() core.EmbeddingUnit {
	meta := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	// JSON decoding turns numbers into float64
	meta[core.MetaSeq] = d.Seq
	meta[core.MetaTalker] = d.Talker
	return core.EmbeddingUnit{Text: d.Content, Metadata: meta}
}

// Units returns a talker's stored units ordered by seq.
func (s *Store) Units(ctx context.Context, talker string) ([]core.EmbeddingUnit, error) {
	docs, err := s.Documents(ctx, talker)
	if err != nil {
		return nil, err
	}
	units := make([]core.EmbeddingUnit, len(docs))
	for i, d := range docs {
		units[i] = d.Unit()
	}
	return units, nil
}

// Talkers returns every talker with stored rows, ordered by name.
func (s *Store) Talkers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT talker FROM embeddings ORDER BY talker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
