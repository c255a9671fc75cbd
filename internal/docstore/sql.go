package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/daimoniac/docshield/internal/errors"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on a single documents table holding one JSON
// body per row
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// NewSQLiteStore opens a SQLite-backed store
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	// _journal_mode=WAL: concurrent readers and a single writer
	// _busy_timeout=3000: wait up to 3 seconds for locks
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, apperrors.NewTransientf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	return newSQLStore(db, sqliteDialect{})
}

// NewPostgresStore opens a PostgreSQL-backed store
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.NewTransientf("failed to open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewTransientf("failed to ping postgres database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, postgresDialect{})
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	store := &SQLStore{db: db, d: d}
	if _, err := db.Exec(d.schema()); err != nil {
		db.Close()
		return nil, apperrors.NewPermanentf("failed to initialize %s schema: %w", d.name(), err)
	}
	return store, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe("ping", start, err) }()

	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewTransientf("database ping failed: %w", err)
	}
	return nil
}

func (s *SQLStore) prepare(collection string, filter Filter) (*query, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	q := newQuery(s.d, collection)
	q.apply(filter)
	return q, nil
}

// FindOne returns the first matching document in insertion order
func (s *SQLStore) FindOne(ctx context.Context, collection string, filter Filter) (doc Document, err error) {
	start := time.Now()
	defer func() { observe("find_one", start, err) }()

	docs, err := s.find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	return docs[0], nil
}

// Find returns matching documents in insertion order
func (s *SQLStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) (docs []Document, err error) {
	start := time.Now()
	defer func() { observe("find", start, err) }()
	return s.find(ctx, collection, filter, opts)
}

func (s *SQLStore) find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	q, err := s.prepare(collection, filter)
	if err != nil {
		return nil, err
	}

	stmt := "SELECT body FROM documents WHERE " + q.where() + " ORDER BY seq"
	if opts.Limit > 0 {
		stmt += " LIMIT " + q.bind(opts.Limit)
	} else if opts.Offset > 0 {
		stmt += s.d.unbounded()
	}
	if opts.Offset > 0 {
		stmt += " OFFSET " + q.bind(opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, q.args...)
	if err != nil {
		return nil, apperrors.NewTransientf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, apperrors.NewTransientf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientf("error iterating documents: %w", err)
	}
	return docs, nil
}

// InsertOne stores doc and returns its id
func (s *SQLStore) InsertOne(ctx context.Context, collection string, doc Document) (id string, err error) {
	start := time.Now()
	defer func() { observe("insert", start, err) }()

	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	stored, id, err := withID(doc)
	if err != nil {
		return "", err
	}
	body, err := encodeDocument(stored)
	if err != nil {
		return "", err
	}

	now := time.Now().UnixNano()
	q := &query{d: s.d}
	stmt := fmt.Sprintf("INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)",
		q.bind(collection), q.bind(id), s.d.bodyParam(q.bind(string(body))), q.bind(now), q.bind(now))

	if _, err := s.db.ExecContext(ctx, stmt, q.args...); err != nil {
		if s.d.isUniqueViolation(err) {
			return "", apperrors.NewPermanent(fmt.Errorf("%w: %s", ErrDuplicateKey, collection))
		}
		return "", apperrors.NewTransientf("failed to insert into %s: %w", collection, err)
	}
	return id, nil
}

// UpdateOne sets fields on the first matching document
func (s *SQLStore) UpdateOne(ctx context.Context, collection string, filter Filter, set map[string]any) (doc Document, err error) {
	start := time.Now()
	defer func() { observe("update", start, err) }()

	q, err := s.prepare(collection, filter)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	var body []byte
	row := tx.QueryRowContext(ctx, "SELECT seq, body FROM documents WHERE "+q.where()+" ORDER BY seq LIMIT 1", q.args...)
	if err := row.Scan(&seq, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, apperrors.NewTransientf("failed to load document: %w", err)
	}

	doc, err = decodeDocument(body)
	if err != nil {
		return nil, err
	}
	if err := applySet(doc, set); err != nil {
		return nil, err
	}
	updated, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	u := &query{d: s.d}
	stmt := fmt.Sprintf("UPDATE documents SET body = %s, updated_at = %s WHERE seq = %s",
		s.d.bodyParam(u.bind(string(updated))), u.bind(time.Now().UnixNano()), u.bind(seq))
	if _, err := tx.ExecContext(ctx, stmt, u.args...); err != nil {
		if s.d.isUniqueViolation(err) {
			return nil, apperrors.NewPermanent(fmt.Errorf("%w: %s", ErrDuplicateKey, collection))
		}
		return nil, apperrors.NewTransientf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewTransientf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

// DeleteOne removes the first matching document
func (s *SQLStore) DeleteOne(ctx context.Context, collection string, filter Filter) (err error) {
	start := time.Now()
	defer func() { observe("delete", start, err) }()

	q, err := s.prepare(collection, filter)
	if err != nil {
		return err
	}

	stmt := "DELETE FROM documents WHERE seq = (SELECT seq FROM documents WHERE " + q.where() + " ORDER BY seq LIMIT 1)"
	result, err := s.db.ExecContext(ctx, stmt, q.args...)
	if err != nil {
		return apperrors.NewTransientf("failed to delete from %s: %w", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewTransientf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Count returns the number of matching documents
func (s *SQLStore) Count(ctx context.Context, collection string, filter Filter) (n int, err error) {
	start := time.Now()
	defer func() { observe("count", start, err) }()

	q, err := s.prepare(collection, filter)
	if err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+q.where(), q.args...).Scan(&n); err != nil {
		return 0, apperrors.NewTransientf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// EnsureUniqueIndex creates a partial unique expression index on field
func (s *SQLStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if err := ValidateField(field); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.d.uniqueIndex(collection, field)); err != nil {
		if s.d.isUniqueViolation(err) {
			return apperrors.NewPermanent(fmt.Errorf("%w: existing %s documents share %s", ErrDuplicateKey, collection, field))
		}
		return apperrors.NewPermanentf("failed to create unique index on %s.%s: %w", collection, field, err)
	}
	return nil
}

// withID returns a copy of doc carrying a string _id
func withID(doc Document) (Document, string, error) {
	stored := make(Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}

	var id string
	switch v := stored[IDField].(type) {
	case nil:
		id = uuid.NewString()
	case string:
		if v == "" {
			id = uuid.NewString()
		} else {
			id = v
		}
	default:
		return nil, "", apperrors.NewPermanent(fmt.Errorf("%w: %s must be a string, got %T", apperrors.ErrInvalidInput, IDField, v))
	}
	stored[IDField] = id
	return stored, id, nil
}
