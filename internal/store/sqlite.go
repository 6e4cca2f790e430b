package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/model"
)

// SQLite stores documents in a single SQLite database.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *log.Logger
}

var _ DocStore = (*SQLite)(nil)

// OpenSQLite opens or creates the database at dbPath.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func OpenSQLite(dbPath string) (*SQLite, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Each in-memory store gets its own named database; shared cache lets
		// pooled connections see it.
		connStr = "file:mem-" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLite{db: db, logger: logging.WithPrefix("store")}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	s.logger.Debug("sqlite store opened", "path", dbPath)
	return s, nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		filename TEXT PRIMARY KEY,
		url TEXT NOT NULL DEFAULT '',
		host TEXT NOT NULL DEFAULT '',
		site_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL,
		category TEXT NOT NULL,
		pub_time INTEGER NOT NULL DEFAULT 0,
		fetch_time INTEGER NOT NULL DEFAULT 0,
		ttl INTEGER NOT NULL DEFAULT 0,
		nasty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		filename TEXT NOT NULL,
		key TEXT NOT NULL,
		vec BLOB NOT NULL,
		PRIMARY KEY (filename, key)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_fetch ON documents(fetch_time);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Put upserts doc and its embeddings in one transaction.
func (s *SQLite) Put(ctx context.Context, doc *model.Document) (bool, error) {
	if err := validName(doc); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE filename = ?`, doc.Filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", doc.Filename, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (
			filename, url, host, site_name, title, description, text,
			language, category, pub_time, fetch_time, ttl, nasty
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			url = excluded.url,
			host = excluded.host,
			site_name = excluded.site_name,
			title = excluded.title,
			description = excluded.description,
			text = excluded.text,
			language = excluded.language,
			category = excluded.category,
			pub_time = excluded.pub_time,
			fetch_time = excluded.fetch_time,
			ttl = excluded.ttl,
			nasty = excluded.nasty
	`,
		doc.Filename, doc.URL, doc.Host, doc.SiteName, doc.Title, doc.Description, doc.Text,
		doc.Language.String(), doc.Category.String(),
		int64(doc.PubTime), int64(doc.FetchTime), int64(doc.TTL), boolToInt(doc.Nasty),
	)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", doc.Filename, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE filename = ?`, doc.Filename); err != nil {
		return false, fmt.Errorf("clear embeddings of %s: %w", doc.Filename, err)
	}
	for key, vec := range doc.Embeddings {
		if len(vec) == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings (filename, key, vec) VALUES (?, ?, ?)`,
			doc.Filename, key.String(), model.EncodeEmbedding(vec))
		if err != nil {
			return false, fmt.Errorf("save embedding %s/%s: %w", doc.Filename, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return exists == 0, nil
}

// Get returns the document named filename.
func (s *SQLite) Get(ctx context.Context, filename string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectDocuments+` WHERE filename = ?`, filename)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", filename, err)
	}
	if err := s.loadEmbeddings(ctx, `WHERE filename = ?`, []any{filename}, map[string]*model.Document{filename: doc}); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes filename and its embeddings.
func (s *SQLite) Delete(ctx context.Context, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE filename = ?`, filename); err != nil {
		return false, fmt.Errorf("delete embeddings of %s: %w", filename, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE filename = ?`, filename)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", filename, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// Scan loads every document, then calls fn in filename order. The read runs
// under the store lock; fn runs after it is released so fn may write.
func (s *SQLite) Scan(ctx context.Context, fn func(*model.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	docs, err := s.all(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *SQLite) all(ctx context.Context) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectDocuments+` ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	var docs []*model.Document
	byName := make(map[string]*model.Document)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
		byName[doc.Filename] = doc
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.loadEmbeddings(ctx, "", nil, byName); err != nil {
		return nil, err
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

const selectDocuments = `
	SELECT filename, url, host, site_name, title, description, text,
		language, category, pub_time, fetch_time, ttl, nasty
	FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		doc                     model.Document
		lang, cat               string
		pubTime, fetchTime, ttl int64
		nasty                   int
	)
	err := row.Scan(&doc.Filename, &doc.URL, &doc.Host, &doc.SiteName, &doc.Title,
		&doc.Description, &doc.Text, &lang, &cat, &pubTime, &fetchTime, &ttl, &nasty)
	if err != nil {
		return nil, err
	}
	doc.Language = model.ParseLanguage(lang)
	doc.Category = model.ParseCategory(cat)
	doc.PubTime = uint64(pubTime)
	doc.FetchTime = uint64(fetchTime)
	doc.TTL = uint64(ttl)
	doc.Nasty = nasty != 0
	return &doc, nil
}

// loadEmbeddings attaches embedding rows matching where to the documents in
// byName. Caller holds at least the read lock.
func (s *SQLite) loadEmbeddings(ctx context.Context, where string, args []any, byName map[string]*model.Document) error {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, key, vec FROM embeddings `+where, args...)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, key string
		var blob []byte
		if err := rows.Scan(&name, &key, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		doc, ok := byName[name]
		if !ok {
			continue
		}
		ek := model.ParseEmbeddingKey(key)
		if ek == model.EmbeddingUndefined {
			s.logger.Debug("skipping unknown embedding key", "file", name, "key", key)
			continue
		}
		vec, err := model.DecodeEmbedding(blob)
		if err != nil {
			s.logger.Debug("skipping bad embedding", "file", name, "key", key, "error", err)
			continue
		}
		if doc.Embeddings == nil {
			doc.Embeddings = make(map[model.EmbeddingKey][]float32)
		}
		doc.Embeddings[ek] = vec
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
