package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/daimoniac/docshield/internal/errors"
)

// MemoryStore is an in-process Store with the same filter semantics as
// SQLStore. Documents are held in their JSON-decoded form.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	unique      map[string][]string
	closed      bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Document),
		unique:      make(map[string][]string),
	}
}

// Close marks the store closed; later calls fail
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ping reports whether the store is open
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpen(ctx)
}

func (m *MemoryStore) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewTransientf("memory store: %w", err)
	}
	if m.closed {
		return errors.NewPermanentf("memory store is closed")
	}
	return nil
}

// FindOne returns the first matching document in insertion order
func (m *MemoryStore) FindOne(ctx context.Context, collection string, filter Filter) (doc Document, err error) {
	start := time.Now()
	defer func() { observe("find_one", start, err) }()

	docs, err := m.find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	return docs[0], nil
}

// Find returns matching documents in insertion order
func (m *MemoryStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) (docs []Document, err error) {
	start := time.Now()
	defer func() { observe("find", start, err) }()
	return m.find(ctx, collection, filter, opts)
}

func (m *MemoryStore) find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	match, err := compile(collection, filter)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}

	var out []Document
	skipped := 0
	for _, doc := range m.collections[collection] {
		if !match(doc) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, copyDocument(doc))
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// InsertOne stores doc and returns its id
func (m *MemoryStore) InsertOne(ctx context.Context, collection string, doc Document) (id string, err error) {
	start := time.Now()
	defer func() { observe("insert", start, err) }()

	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	stored, id, err := withID(doc)
	if err != nil {
		return "", err
	}
	normalized, err := normalizeDocument(stored)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(ctx); err != nil {
		return "", err
	}

	for _, existing := range m.collections[collection] {
		if existing[IDField] == id {
			return "", errors.NewPermanent(fmt.Errorf("%w: %s", ErrDuplicateKey, collection))
		}
	}
	if err := m.checkUnique(collection, normalized, -1); err != nil {
		return "", err
	}
	m.collections[collection] = append(m.collections[collection], normalized)
	return id, nil
}

// UpdateOne sets fields on the first matching document
func (m *MemoryStore) UpdateOne(ctx context.Context, collection string, filter Filter, set map[string]any) (doc Document, err error) {
	start := time.Now()
	defer func() { observe("update", start, err) }()

	match, err := compile(collection, filter)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}

	docs := m.collections[collection]
	for i, existing := range docs {
		if !match(existing) {
			continue
		}
		updated := copyDocument(existing)
		if err := applySet(updated, set); err != nil {
			return nil, err
		}
		if err := m.checkUnique(collection, updated, i); err != nil {
			return nil, err
		}
		docs[i] = updated
		return copyDocument(updated), nil
	}
	return nil, ErrDocumentNotFound
}

// DeleteOne removes the first matching document
func (m *MemoryStore) DeleteOne(ctx context.Context, collection string, filter Filter) (err error) {
	start := time.Now()
	defer func() { observe("delete", start, err) }()

	match, err := compile(collection, filter)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(ctx); err != nil {
		return err
	}

	docs := m.collections[collection]
	for i, existing := range docs {
		if match(existing) {
			m.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return ErrDocumentNotFound
}

// Count returns the number of matching documents
func (m *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (n int, err error) {
	start := time.Now()
	defer func() { observe("count", start, err) }()

	docs, err := m.find(ctx, collection, filter, FindOptions{})
	return len(docs), err
}

// EnsureUniqueIndex rejects later writes that duplicate field
func (m *MemoryStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if err := ValidateField(field); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(ctx); err != nil {
		return err
	}
	for _, f := range m.unique[collection] {
		if f == field {
			return nil
		}
	}

	seen := make(map[any]bool)
	for _, doc := range m.collections[collection] {
		v, ok := lookup(doc, field)
		if !ok || v == nil || !isComparable(v) {
			continue
		}
		if seen[v] {
			return errors.NewPermanent(fmt.Errorf("%w: existing %s documents share %s", ErrDuplicateKey, collection, field))
		}
		seen[v] = true
	}
	m.unique[collection] = append(m.unique[collection], field)
	return nil
}

// checkUnique reports a duplicate of doc's unique fields, ignoring index skip
func (m *MemoryStore) checkUnique(collection string, doc Document, skip int) error {
	for _, field := range m.unique[collection] {
		v, ok := lookup(doc, field)
		if !ok || v == nil || !isComparable(v) {
			continue
		}
		for i, other := range m.collections[collection] {
			if i == skip {
				continue
			}
			if ov, ok := lookup(other, field); ok && isComparable(ov) && ov == v {
				return errors.NewPermanent(fmt.Errorf("%w: %s.%s", ErrDuplicateKey, collection, field))
			}
		}
	}
	return nil
}

// compile turns a filter into a predicate over decoded documents
func compile(collection string, filter Filter) (func(Document) bool, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	equals := make(map[string]any, len(filter.Equals))
	for field, value := range filter.Equals {
		normalized, err := normalize(value)
		if err != nil {
			return nil, errors.NewPermanent(fmt.Errorf("%w: field %q: %v", errors.ErrInvalidInput, field, err))
		}
		equals[field] = normalized
	}

	return func(doc Document) bool {
		for field, want := range equals {
			got, ok := lookup(doc, field)
			if want == nil {
				if ok && got != nil {
					return false
				}
				continue
			}
			if !ok || !isComparable(got) || got != want {
				return false
			}
		}
		for field, sub := range filter.Contains {
			got, ok := lookup(doc, field)
			s, isString := got.(string)
			if !ok || !isString || !strings.Contains(strings.ToLower(s), strings.ToLower(sub)) {
				return false
			}
		}
		for field, want := range filter.Has {
			got, _ := lookup(doc, field)
			items, isArray := got.([]any)
			if !isArray || !containsString(items, want) {
				return false
			}
		}
		return true
	}, nil
}

// lookup resolves a dotted path in a decoded document
func lookup(doc Document, field string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isComparable(v any) bool {
	switch v.(type) {
	case string, bool, float64:
		return true
	default:
		return false
	}
}

func containsString(items []any, want string) bool {
	for _, item := range items {
		if s, ok := item.(string); ok && s == want {
			return true
		}
	}
	return false
}

func normalizeDocument(doc Document) (Document, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

func copyDocument(doc Document) Document {
	out, err := normalizeDocument(doc)
	if err != nil {
		// stored documents were produced by decodeDocument
		panic(err)
	}
	return out
}
