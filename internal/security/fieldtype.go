package security

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFieldType is returned when ValidateInput is called with a field
// type that has no registered validator
var ErrUnknownFieldType = errors.New("unknown field type")

// FieldType is the semantic type of an externally supplied value
type FieldType int

const (
	FieldSKU FieldType = iota + 1
	FieldFaceShape
	FieldQuery
	FieldStructuredQuery
)

func (f FieldType) String() string {
	switch f {
	case FieldSKU:
		return "sku"
	case FieldFaceShape:
		return "face_shape"
	case FieldQuery:
		return "query"
	case FieldStructuredQuery:
		return "structured_query"
	default:
		return fmt.Sprintf("FieldType(%d)", int(f))
	}
}

// ParseFieldType maps a field type tag to its FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sku":
		return FieldSKU, nil
	case "face_shape", "faceshape":
		return FieldFaceShape, nil
	case "query", "free_text_query":
		return FieldQuery, nil
	case "structured_query", "filter":
		return FieldStructuredQuery, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFieldType, s)
	}
}

// FieldTypes returns every field type with a validator
func FieldTypes() []FieldType {
	return []FieldType{FieldSKU, FieldFaceShape, FieldQuery, FieldStructuredQuery}
}

// FaceShapes is the closed set of accepted face shape names
var FaceShapes = []string{"round", "oval", "square", "rectangle", "diamond", "heart", "triangle"}
