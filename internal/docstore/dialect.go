package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// dialect renders the backend-specific parts of a document query. Field
// paths reach a dialect already validated; values are always bound.
type dialect interface {
	name() string
	placeholder(n int) string
	schema() string
	// bodyParam wraps the placeholder for the document body column
	bodyParam(ph string) string
	equals(q *query, field string, value any) string
	contains(q *query, field, value string) string
	has(q *query, field, value string) string
	uniqueIndex(collection, field string) string
	// unbounded is the LIMIT clause that precedes a bare OFFSET
	unbounded() string
	isUniqueViolation(err error) bool
}

// query accumulates a WHERE clause and its bound arguments
type query struct {
	d       dialect
	clauses []string
	args    []any
}

func newQuery(d dialect, collection string) *query {
	q := &query{d: d}
	q.clauses = append(q.clauses, "collection = "+q.bind(collection))
	return q
}

func (q *query) bind(v any) string {
	q.args = append(q.args, v)
	return q.d.placeholder(len(q.args))
}

func (q *query) apply(f Filter) {
	for _, field := range sortedKeys(f.Equals) {
		q.clauses = append(q.clauses, q.d.equals(q, field, f.Equals[field]))
	}
	for _, field := range sortedKeys(f.Contains) {
		q.clauses = append(q.clauses, q.d.contains(q, field, f.Contains[field]))
	}
	for _, field := range sortedKeys(f.Has) {
		q.clauses = append(q.clauses, q.d.has(q, field, f.Has[field]))
	}
}

func (q *query) where() string {
	return strings.Join(q.clauses, " AND ")
}

func indexName(collection, field string) string {
	return "uq_" + collection + "_" + strings.ReplaceAll(field, ".", "__")
}

// sqliteDialect queries the body column with the JSON1 functions
type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) bodyParam(ph string) string { return ph }

func (sqliteDialect) unbounded() string { return " LIMIT -1" }

func (sqliteDialect) schema() string {
	return `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
	`
}

func (sqliteDialect) path(field string) string {
	return "$." + field
}

func (d sqliteDialect) equals(q *query, field string, value any) string {
	expr := "json_extract(body, " + q.bind(d.path(field)) + ")"
	switch v := value.(type) {
	case nil:
		return expr + " IS NULL"
	case bool:
		// json_extract yields 1 or 0 for JSON booleans
		if v {
			return expr + " = " + q.bind(1)
		}
		return expr + " = " + q.bind(0)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return expr + " = " + q.bind(v.String())
		}
		return expr + " = " + q.bind(f)
	default:
		return expr + " = " + q.bind(v)
	}
}

func (d sqliteDialect) contains(q *query, field, value string) string {
	return "instr(lower(json_extract(body, " + q.bind(d.path(field)) + ")), lower(" + q.bind(value) + ")) > 0"
}

func (d sqliteDialect) has(q *query, field, value string) string {
	return "EXISTS (SELECT 1 FROM json_each(body, " + q.bind(d.path(field)) +
		") WHERE json_each.type = 'text' AND json_each.value = " + q.bind(value) + ")"
}

func (d sqliteDialect) uniqueIndex(collection, field string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents(json_extract(body, '%s')) WHERE collection = '%s'",
		indexName(collection, field), d.path(field), collection)
}

func (sqliteDialect) isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// postgresDialect stores the body as JSONB and compares scalar fields as text
type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) bodyParam(ph string) string { return ph + "::jsonb" }

func (postgresDialect) unbounded() string { return "" }

func (postgresDialect) schema() string {
	return `
	CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL PRIMARY KEY,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body JSONB NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
	`
}

func (postgresDialect) path(q *query, field string) string {
	return q.bind(pq.Array(strings.Split(field, ".")))
}

func (d postgresDialect) equals(q *query, field string, value any) string {
	expr := "(body #>> " + d.path(q, field) + ")"
	if value == nil {
		return expr + " IS NULL"
	}
	return expr + " = " + q.bind(textValue(value))
}

func (d postgresDialect) contains(q *query, field, value string) string {
	return "position(lower(" + q.bind(value) + ") in lower(body #>> " + d.path(q, field) + ")) > 0"
}

func (d postgresDialect) has(q *query, field, value string) string {
	return "(body #> " + d.path(q, field) + ") @> jsonb_build_array(" + q.bind(value) + "::text)"
}

func (postgresDialect) uniqueIndex(collection, field string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents ((body #>> '{%s}')) WHERE collection = '%s'",
		indexName(collection, field), strings.ReplaceAll(field, ".", ","), collection)
}

func (postgresDialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// textValue renders a scalar the way the #>> operator renders JSON
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
