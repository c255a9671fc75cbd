package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/observability"
)

// ErrDocumentNotFound is returned when no document matches a filter. It
// wraps errors.ErrNotFound.
var ErrDocumentNotFound = fmt.Errorf("document %w", errors.ErrNotFound)

// ErrDuplicateKey is returned when a write violates a unique index. It wraps
// errors.ErrAlreadyExists.
var ErrDuplicateKey = fmt.Errorf("duplicate key: %w", errors.ErrAlreadyExists)

// IDField is the document identity field
const IDField = "_id"

// Document is a JSON object stored in a collection
type Document map[string]any

// Filter selects documents. All clauses must match.
type Filter struct {
	// Equals matches a field (dotted paths allowed) against a scalar value
	Equals map[string]any
	// Contains matches a string field containing the value, case-insensitively
	Contains map[string]string
	// Has matches an array field containing the string value
	Has map[string]string
}

// Eq returns a filter with a single equality clause
func Eq(field string, value any) Filter {
	return Filter{Equals: map[string]any{field: value}}
}

// FindOptions controls Find
type FindOptions struct {
	Limit  int
	Offset int
}

// Store is the document-store collaborator. Every filter value is passed to
// the backend as a bound parameter; field and collection names are checked
// against a strict identifier syntax.
type Store interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	// InsertOne stores doc and returns its id, assigning one if doc has none
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)
	// UpdateOne sets top-level fields on the first matching document and
	// returns the updated document
	UpdateOne(ctx context.Context, collection string, filter Filter, set map[string]any) (Document, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) error
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	// EnsureUniqueIndex rejects later writes that duplicate field within collection
	EnsureUniqueIndex(ctx context.Context, collection, field string) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	fieldPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidateField checks a (possibly dotted) field name
func ValidateField(field string) error {
	if len(field) > 256 || !fieldPattern.MatchString(field) {
		return errors.NewPermanent(fmt.Errorf("%w: invalid field name %q", errors.ErrInvalidInput, field))
	}
	return nil
}

// ValidateCollection checks a collection name
func ValidateCollection(collection string) error {
	if len(collection) > 64 || !collectionPattern.MatchString(collection) {
		return errors.NewPermanent(fmt.Errorf("%w: invalid collection name %q", errors.ErrInvalidInput, collection))
	}
	return nil
}

// Validate checks every field name and value type in the filter
func (f Filter) Validate() error {
	for field, value := range f.Equals {
		if err := ValidateField(field); err != nil {
			return err
		}
		if !isScalar(value) {
			return errors.NewPermanent(fmt.Errorf("%w: field %q: value of type %T is not a scalar",
				errors.ErrInvalidInput, field, value))
		}
	}
	for field := range f.Contains {
		if err := ValidateField(field); err != nil {
			return err
		}
	}
	for field := range f.Has {
		if err := ValidateField(field); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty reports whether the filter matches every document
func (f Filter) IsEmpty() bool {
	return len(f.Equals) == 0 && len(f.Contains) == 0 && len(f.Has) == 0
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalize round-trips a value through JSON so numbers become float64 and
// structs become maps, matching what a stored document reads back as
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeDocument(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.NewPermanent(fmt.Errorf("%w: document is not JSON encodable: %v", errors.ErrInvalidInput, err))
	}
	return data, nil
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewPermanentf("failed to decode document: %w", err)
	}
	return doc, nil
}

// applySet validates and applies a top-level field update
func applySet(doc Document, set map[string]any) error {
	for _, field := range sortedKeys(set) {
		if strings.Contains(field, ".") {
			return errors.NewPermanent(fmt.Errorf("%w: nested update of %q is not supported", errors.ErrInvalidInput, field))
		}
		if err := ValidateField(field); err != nil {
			return err
		}
		if field == IDField {
			return errors.NewPermanent(fmt.Errorf("%w: %s is immutable", errors.ErrInvalidInput, IDField))
		}
		value, err := normalize(set[field])
		if err != nil {
			return errors.NewPermanent(fmt.Errorf("%w: field %q: %v", errors.ErrInvalidInput, field, err))
		}
		doc[field] = value
	}
	return nil
}

// observe records the duration and result of a store operation
func observe(operation string, start time.Time, err error) {
	m := observability.GetMetrics()
	result := "ok"
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		result = "not_found"
	default:
		result = "error"
	}
	m.StoreOperations.WithLabelValues(operation, result).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Open creates a store for the named driver: memory, sqlite or postgres
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, errors.NewPermanentf("unknown document store driver: %q", driver)
	}
}
