package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/docstore"
	apperrors "github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/observability"
	"github.com/daimoniac/docshield/internal/security"
	"github.com/daimoniac/docshield/internal/types"
)

// Collection is the document-store collection holding products
const Collection = "products"

// queryableFields may appear in a structured filter
var queryableFields = map[string]bool{
	"sku": true, "name": true, "brand": true, "face_shapes": true,
	"price": true, "stock": true, "active": true, "tags": true,
}

// Config holds catalog settings
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// DefaultConfig returns the default catalog settings
func DefaultConfig() Config {
	return Config{DefaultLimit: 20, MaxLimit: 100}
}

// ProductManager is the products collection manager. Every externally
// supplied identifier or filter passes the sanitizer before any store
// access, and every outcome is recorded with the shared auditor.
type ProductManager struct {
	store     docstore.Store
	sanitizer *security.Sanitizer
	auditor   *audit.Auditor
	schemas   *schemas
	converter *types.ProductConverter
	metrics   *observability.Metrics
	logger    *slog.Logger
	cfg       Config
}

// NewProductManager creates a products manager
func NewProductManager(store docstore.Store, sanitizer *security.Sanitizer, auditor *audit.Auditor, cfg Config, logger *slog.Logger) (*ProductManager, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if sanitizer == nil {
		return nil, fmt.Errorf("sanitizer is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaults.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaults.MaxLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	return &ProductManager{
		store:     store,
		sanitizer: sanitizer,
		auditor:   auditor,
		schemas:   s,
		converter: types.NewProductConverter(),
		metrics:   observability.GetMetrics(),
		logger:    logger.With("collection", Collection),
		cfg:       cfg,
	}, nil
}

// EnsureIndexes creates the unique SKU index
func (m *ProductManager) EnsureIndexes(ctx context.Context) error {
	if err := m.store.EnsureUniqueIndex(ctx, Collection, "sku"); err != nil {
		return fmt.Errorf("failed to ensure sku index: %w", err)
	}
	return nil
}

// FindBySKU returns the product with the given SKU
func (m *ProductManager) FindBySKU(ctx context.Context, sku any) (*types.Product, error) {
	clean, err := validated(m, "sku", func() (string, error) { return m.sanitizer.ValidateSKU(sku) })
	if err != nil {
		return nil, m.reject(ctx, audit.OpRead, err)
	}

	var product *types.Product
	err = m.auditor.Guard(ctx, audit.OpRead, map[string]any{"sku": clean}, func(ctx context.Context) error {
		doc, err := m.store.FindOne(ctx, Collection, docstore.Eq("sku", clean))
		if err != nil {
			return err
		}
		product, err = m.converter.FromDocument(doc)
		return err
	})
	if err != nil {
		return nil, m.translate(err, "product %s", clean)
	}
	return product, nil
}

// FindByFaceShape returns products suited to a face shape
func (m *ProductManager) FindByFaceShape(ctx context.Context, shape any, limit int) ([]*types.Product, error) {
	clean, err := validated(m, "face_shape", func() (string, error) { return m.sanitizer.ValidateFaceShape(shape) })
	if err != nil {
		return nil, m.reject(ctx, audit.OpRead, err)
	}

	filter := docstore.Filter{Has: map[string]string{"face_shapes": clean}}
	return m.find(ctx, map[string]any{"face_shape": clean}, filter, limit)
}

// Search returns products whose name contains the free-text query
func (m *ProductManager) Search(ctx context.Context, query any, limit int) ([]*types.Product, error) {
	clean, err := validated(m, "query", func() (string, error) { return m.sanitizer.ValidateQuery(query) })
	if err != nil {
		return nil, m.reject(ctx, audit.OpRead, err)
	}

	filter := docstore.Filter{Contains: map[string]string{"name": clean}}
	return m.find(ctx, map[string]any{"query": clean}, filter, limit)
}

// FindByFilter runs a structured equality query. Operator keys anywhere in
// the filter fail the call.
func (m *ProductManager) FindByFilter(ctx context.Context, filter any, limit int) ([]*types.Product, error) {
	clean, err := validated(m, "structured_query", func() (map[string]any, error) {
		return m.sanitizer.SanitizeQueryDict(filter)
	})
	if err != nil {
		return nil, m.reject(ctx, audit.OpRead, err)
	}

	storeFilter, err := m.toStoreFilter(clean)
	if err != nil {
		return nil, m.reject(ctx, audit.OpRead, err)
	}
	return m.find(ctx, clean, storeFilter, limit)
}

func (m *ProductManager) find(ctx context.Context, payload map[string]any, filter docstore.Filter, limit int) ([]*types.Product, error) {
	opts := docstore.FindOptions{Limit: m.limit(limit)}

	var products []*types.Product
	err := m.auditor.Guard(ctx, audit.OpRead, payload, func(ctx context.Context) error {
		docs, err := m.store.Find(ctx, Collection, filter, opts)
		if err != nil {
			return err
		}
		products, err = m.converter.FromDocuments(docs)
		return err
	})
	if err != nil {
		return nil, m.translate(err, "products")
	}
	return products, nil
}

// CreateProduct validates and stores a new product
func (m *ProductManager) CreateProduct(ctx context.Context, in types.ProductInput) (*types.Product, error) {
	product, err := m.buildProduct(in)
	if err != nil {
		return nil, m.reject(ctx, audit.OpCreate, err)
	}

	now := m.cfg.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	doc, err := m.converter.ToDocument(product)
	if err != nil {
		return nil, apperrors.NewServiceError(apperrors.KindInternal, err, "failed to encode product")
	}
	if err := check(m.schemas.create, doc); err != nil {
		return nil, m.reject(ctx, audit.OpCreate, err)
	}

	err = m.auditor.Guard(ctx, audit.OpCreate, doc, func(ctx context.Context) error {
		id, err := m.store.InsertOne(ctx, Collection, doc)
		if err != nil {
			return err
		}
		product.ID = id
		return nil
	})
	if err != nil {
		return nil, m.translate(err, "product %s", product.SKU)
	}

	m.logger.Info("product created", "sku", product.SKU, "id", product.ID)
	return product, nil
}

// UpdateProduct applies a partial update to the product with the given SKU.
// Only mutable fields may be set; sku and _id are immutable.
func (m *ProductManager) UpdateProduct(ctx context.Context, sku any, updates any) (*types.Product, error) {
	cleanSKU, err := validated(m, "sku", func() (string, error) { return m.sanitizer.ValidateSKU(sku) })
	if err != nil {
		return nil, m.reject(ctx, audit.OpUpdate, err)
	}
	raw, err := validated(m, "structured_query", func() (map[string]any, error) {
		return m.sanitizer.SanitizeQueryDict(updates)
	})
	if err != nil {
		return nil, m.reject(ctx, audit.OpUpdate, err)
	}
	set, err := m.buildUpdate(raw)
	if err != nil {
		return nil, m.reject(ctx, audit.OpUpdate, err)
	}
	if err := check(m.schemas.update, set); err != nil {
		return nil, m.reject(ctx, audit.OpUpdate, err)
	}
	set["updated_at"] = m.cfg.Now().UTC().Format(time.RFC3339Nano)

	payload := map[string]any{"sku": cleanSKU, "set": set}
	var product *types.Product
	err = m.auditor.Guard(ctx, audit.OpUpdate, payload, func(ctx context.Context) error {
		doc, err := m.store.UpdateOne(ctx, Collection, docstore.Eq("sku", cleanSKU), set)
		if err != nil {
			return err
		}
		product, err = m.converter.FromDocument(doc)
		return err
	})
	if err != nil {
		return nil, m.translate(err, "product %s", cleanSKU)
	}

	m.logger.Info("product updated", "sku", cleanSKU, "fields", len(set)-1)
	return product, nil
}

// DeleteProduct removes the product with the given SKU
func (m *ProductManager) DeleteProduct(ctx context.Context, sku any) error {
	clean, err := validated(m, "sku", func() (string, error) { return m.sanitizer.ValidateSKU(sku) })
	if err != nil {
		return m.reject(ctx, audit.OpDelete, err)
	}

	err = m.auditor.Guard(ctx, audit.OpDelete, map[string]any{"sku": clean}, func(ctx context.Context) error {
		return m.store.DeleteOne(ctx, Collection, docstore.Eq("sku", clean))
	})
	if err != nil {
		return m.translate(err, "product %s", clean)
	}

	m.logger.Info("product deleted", "sku", clean)
	return nil
}

// validated runs a sanitizer call and counts its result
func validated[T any](m *ProductManager, field string, fn func() (T, error)) (T, error) {
	v, err := fn()
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	m.metrics.ValidationsTotal.WithLabelValues(field, result).Inc()
	return v, err
}

// reject handles a failure raised before the store is touched. Violations
// are recorded with the auditor, which may escalate them to RATE_LIMITED.
func (m *ProductManager) reject(ctx context.Context, op audit.Operation, err error) error {
	info := audit.RequestInfoFrom(ctx)
	if v := m.auditor.RecordError(op, err, info.ActorID, info.Source); v != nil {
		return apperrors.NewSecurityViolation(v)
	}
	if apperrors.IsInvalidInput(err) {
		return apperrors.NewServiceError(apperrors.KindInvalidInput, err, "%s", err.Error())
	}
	return apperrors.NewServiceError(apperrors.KindInternal, err, "%s", err.Error())
}

// translate maps errors from a guarded store call to service errors. A
// violation here was already recorded by the auditor.
func (m *ProductManager) translate(err error, format string, args ...any) error {
	var v *security.Violation
	if errors.As(err, &v) {
		return apperrors.NewSecurityViolation(v)
	}

	what := fmt.Sprintf(format, args...)
	switch {
	case apperrors.IsNotFound(err):
		return apperrors.NewServiceError(apperrors.KindNotFound, err, "%s not found", what)
	case apperrors.IsAlreadyExists(err):
		return apperrors.NewServiceError(apperrors.KindAlreadyExists, err, "%s already exists", what)
	case apperrors.IsInvalidInput(err):
		return apperrors.NewServiceError(apperrors.KindInvalidInput, err, "%s: %v", what, err)
	default:
		m.logger.Error("store operation failed", "target", what, "error", err, "transient", apperrors.IsTransient(err))
		return apperrors.NewServiceError(apperrors.KindInternal, err, "store operation on %s failed", what)
	}
}

func (m *ProductManager) limit(n int) int {
	if n <= 0 {
		return m.cfg.DefaultLimit
	}
	if n > m.cfg.MaxLimit {
		return m.cfg.MaxLimit
	}
	return n
}

// buildProduct validates every field of a create request
func (m *ProductManager) buildProduct(in types.ProductInput) (*types.Product, error) {
	sku, err := validated(m, "sku", func() (string, error) { return m.sanitizer.ValidateSKU(in.SKU) })
	if err != nil {
		return nil, err
	}
	name, err := m.text("name", in.Name)
	if err != nil {
		return nil, err
	}

	// operator maps and injection strings in numeric fields are violations,
	// not type errors
	if _, err := m.sanitizer.SanitizeQueryDict(map[string]any{"price": in.Price, "stock": in.Stock}); err != nil {
		return nil, err
	}

	p := &types.Product{SKU: sku, Name: name, Active: true}
	if in.Brand != nil {
		if p.Brand, err = m.text("brand", in.Brand); err != nil {
			return nil, err
		}
	}
	if in.Description != nil {
		if p.Description, err = m.text("description", in.Description); err != nil {
			return nil, err
		}
	}
	if p.FaceShapes, err = m.faceShapes(in.FaceShapes); err != nil {
		return nil, err
	}
	if p.Price, err = number("price", in.Price); err != nil {
		return nil, err
	}
	if in.Stock != nil {
		stock, err := number("stock", in.Stock)
		if err != nil {
			return nil, err
		}
		if stock != math.Trunc(stock) {
			return nil, invalid("stock must be a whole number")
		}
		p.Stock = int(stock)
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	for _, tag := range in.Tags {
		clean, err := m.text("tags", tag)
		if err != nil {
			return nil, err
		}
		p.Tags = append(p.Tags, clean)
	}
	return p, nil
}

// buildUpdate validates a sanitized update map field by field
func (m *ProductManager) buildUpdate(raw map[string]any) (map[string]any, error) {
	set := make(map[string]any, len(raw)+1)
	for field, value := range raw {
		if !slices.Contains(types.MutableProductFields, field) {
			return nil, invalid("field %q cannot be updated", field)
		}
		switch field {
		case "name", "brand", "description":
			clean, err := m.text(field, value)
			if err != nil {
				return nil, err
			}
			set[field] = clean
		case "face_shapes":
			items, ok := value.([]any)
			if !ok {
				return nil, invalid("face_shapes must be a list")
			}
			shapes, err := m.faceShapes(items)
			if err != nil {
				return nil, err
			}
			set[field] = shapes
		case "tags":
			items, ok := value.([]any)
			if !ok {
				return nil, invalid("tags must be a list")
			}
			tags := make([]string, 0, len(items))
			for _, item := range items {
				clean, err := m.text("tags", item)
				if err != nil {
					return nil, err
				}
				tags = append(tags, clean)
			}
			set[field] = tags
		default:
			// scalar fields are type checked by the update schema
			set[field] = value
		}
	}
	return set, nil
}

// toStoreFilter converts a sanitized structured query into store clauses
func (m *ProductManager) toStoreFilter(q map[string]any) (docstore.Filter, error) {
	filter := docstore.Filter{Equals: map[string]any{}, Has: map[string]string{}}
	for field, value := range q {
		if !queryableFields[field] {
			return docstore.Filter{}, invalid("field %q is not queryable", field)
		}
		switch field {
		case "sku":
			clean, err := m.sanitizer.ValidateSKU(value)
			if err != nil {
				return docstore.Filter{}, err
			}
			filter.Equals[field] = clean
		case "face_shapes":
			clean, err := m.sanitizer.ValidateFaceShape(value)
			if err != nil {
				return docstore.Filter{}, err
			}
			filter.Has[field] = clean
		case "tags":
			s, ok := value.(string)
			if !ok {
				return docstore.Filter{}, invalid("tags filter must be a string")
			}
			filter.Has[field] = s
		default:
			switch value.(type) {
			case string, bool, float64, float32, int, int64, int32, nil:
				filter.Equals[field] = value
			default:
				return docstore.Filter{}, invalid("filter on %q must be a scalar, got %T", field, value)
			}
		}
	}
	return filter, nil
}

func (m *ProductManager) text(field string, value any) (string, error) {
	return validated(m, field, func() (string, error) { return m.sanitizer.ValidateText(field, value) })
}

func (m *ProductManager) faceShapes(items []any) ([]string, error) {
	shapes := make([]string, 0, len(items))
	for _, item := range items {
		shape, err := validated(m, "face_shape", func() (string, error) { return m.sanitizer.ValidateFaceShape(item) })
		if err != nil {
			return nil, err
		}
		if !slices.Contains(shapes, shape) {
			shapes = append(shapes, shape)
		}
	}
	return shapes, nil
}

func number(field string, value any) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, invalid("%s must be a number, got %T", field, value)
	}
}

func invalid(format string, args ...any) error {
	return apperrors.NewPermanent(fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, fmt.Sprintf(format, args...)))
}
