package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/security"
	"github.com/xeipuuv/gojsonschema"
)

// productProperties describes every stored product field
func productProperties() map[string]any {
	shapes := make([]any, len(security.FaceShapes))
	for i, s := range security.FaceShapes {
		shapes[i] = s
	}
	return map[string]any{
		"_id":         map[string]any{"type": "string"},
		"sku":         map[string]any{"type": "string", "pattern": "^[A-Za-z0-9_-]{1,50}$"},
		"name":        map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
		"brand":       map[string]any{"type": "string", "maxLength": 100},
		"description": map[string]any{"type": "string", "maxLength": 2000},
		"face_shapes": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string", "enum": shapes},
			"uniqueItems": true,
		},
		"price":      map[string]any{"type": "number", "minimum": 0},
		"stock":      map[string]any{"type": "integer", "minimum": 0},
		"active":     map[string]any{"type": "boolean"},
		"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string", "maxLength": 64}, "maxItems": 32},
		"created_at": map[string]any{"type": "string", "format": "date-time"},
		"updated_at": map[string]any{"type": "string", "format": "date-time"},
	}
}

// schemas holds the product document schema for inserts and the relaxed
// variant for partial updates
type schemas struct {
	create *gojsonschema.Schema
	update *gojsonschema.Schema
}

func loadSchemas() (*schemas, error) {
	create, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           productProperties(),
		"required":             []any{"sku", "name", "face_shapes", "price"},
		"additionalProperties": false,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to load product schema: %w", err)
	}

	update, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           productProperties(),
		"minProperties":        1,
		"additionalProperties": false,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to load product update schema: %w", err)
	}

	return &schemas{create: create, update: update}, nil
}

// check validates doc against schema and returns an INVALID_INPUT error
// listing every failure
func check(schema *gojsonschema.Schema, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewPermanent(fmt.Errorf("%w: failed to encode document: %v", apperrors.ErrInvalidInput, err))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return apperrors.NewPermanentf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return apperrors.NewPermanent(fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, strings.Join(problems, "; ")))
	}
	return nil
}
