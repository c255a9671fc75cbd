package security

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/daimoniac/docshield/internal/errors"
)

// SanitizerConfig holds the per-field limits
type SanitizerConfig struct {
	MaxSKULength       int
	MaxFaceShapeLength int
	MaxQueryLength     int
	MaxQueryDepth      int
	MaxKeyLength       int
	MaxStringLength    int
}

// DefaultSanitizerConfig returns the default field limits
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		MaxSKULength:       50,
		MaxFaceShapeLength: 32,
		MaxQueryLength:     512,
		MaxQueryDepth:      8,
		MaxKeyLength:       128,
		MaxStringLength:    4096,
	}
}

func (c SanitizerConfig) withDefaults() SanitizerConfig {
	d := DefaultSanitizerConfig()
	if c.MaxSKULength <= 0 {
		c.MaxSKULength = d.MaxSKULength
	}
	if c.MaxFaceShapeLength <= 0 {
		c.MaxFaceShapeLength = d.MaxFaceShapeLength
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = d.MaxQueryLength
	}
	if c.MaxQueryDepth <= 0 {
		c.MaxQueryDepth = d.MaxQueryDepth
	}
	if c.MaxKeyLength <= 0 {
		c.MaxKeyLength = d.MaxKeyLength
	}
	if c.MaxStringLength <= 0 {
		c.MaxStringLength = d.MaxStringLength
	}
	return c
}

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// codeOperators are the operators that execute server-side code
var codeOperators = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
	"$expr":        true,
}

type validatorFunc func(value any) (any, error)

// Sanitizer validates and normalizes untrusted field values. It holds no
// mutable state and is safe for concurrent use.
type Sanitizer struct {
	lib        *Library
	cfg        SanitizerConfig
	faceShapes map[string]bool
	validators map[FieldType]validatorFunc
}

// NewSanitizer creates a sanitizer backed by lib. A nil lib uses the
// built-in catalog.
func NewSanitizer(lib *Library, cfg SanitizerConfig) *Sanitizer {
	if lib == nil {
		lib = MustNewLibrary()
	}

	s := &Sanitizer{
		lib:        lib,
		cfg:        cfg.withDefaults(),
		faceShapes: make(map[string]bool, len(FaceShapes)),
	}
	for _, shape := range FaceShapes {
		s.faceShapes[shape] = true
	}

	s.validators = map[FieldType]validatorFunc{
		FieldSKU:             func(v any) (any, error) { return s.ValidateSKU(v) },
		FieldFaceShape:       func(v any) (any, error) { return s.ValidateFaceShape(v) },
		FieldQuery:           func(v any) (any, error) { return s.ValidateQuery(v) },
		FieldStructuredQuery: func(v any) (any, error) { return s.SanitizeQueryDict(v) },
	}

	return s
}

// Library returns the pattern library the sanitizer matches against
func (s *Sanitizer) Library() *Library {
	return s.lib
}

// Config returns the effective limits
func (s *Sanitizer) Config() SanitizerConfig {
	return s.cfg
}

// ValidateInput routes value to the validator for fieldType. An unknown
// field type is a programmer error and returns a permanent error wrapping
// ErrUnknownFieldType.
func (s *Sanitizer) ValidateInput(value any, fieldType FieldType) (any, error) {
	validate, ok := s.validators[fieldType]
	if !ok {
		return nil, apperrors.NewPermanent(fmt.Errorf("%w: %s", ErrUnknownFieldType, fieldType))
	}
	return validate(value)
}

// ValidateSKU accepts 1 to MaxSKULength characters from [A-Za-z0-9_-] and
// returns the value unchanged.
func (s *Sanitizer) ValidateSKU(value any) (string, error) {
	str, err := s.requireString("sku", value)
	if err != nil {
		return "", err
	}
	if str == "" {
		return "", NewViolation(InvalidFormat, LevelMedium, fieldDetails("sku"), "sku must not be empty")
	}
	if len(str) > s.cfg.MaxSKULength {
		return "", NewViolation(FieldTooLong, LevelMedium,
			map[string]any{"field": "sku", "length": len(str), "max_length": s.cfg.MaxSKULength},
			"sku exceeds %d characters", s.cfg.MaxSKULength)
	}
	if !skuPattern.MatchString(str) {
		if v := s.classify("sku", str); v != nil {
			return "", v
		}
		return "", NewViolation(InvalidFormat, LevelMedium, fieldDetails("sku"),
			"sku may only contain letters, digits, '-' and '_'")
	}
	return str, nil
}

// ValidateFaceShape accepts one of FaceShapes, case-insensitively, and
// returns it lowercased.
func (s *Sanitizer) ValidateFaceShape(value any) (string, error) {
	str, err := s.requireString("face_shape", value)
	if err != nil {
		return "", err
	}
	if str == "" {
		return "", NewViolation(InvalidFormat, LevelMedium, fieldDetails("face_shape"), "face shape must not be empty")
	}
	if len(str) > s.cfg.MaxFaceShapeLength {
		return "", NewViolation(FieldTooLong, LevelMedium,
			map[string]any{"field": "face_shape", "length": len(str), "max_length": s.cfg.MaxFaceShapeLength},
			"face shape exceeds %d characters", s.cfg.MaxFaceShapeLength)
	}

	normalized := strings.ToLower(str)
	if s.faceShapes[normalized] {
		return normalized, nil
	}

	if v := s.classify("face_shape", str); v != nil {
		return "", v
	}
	return "", NewViolation(InvalidFormat, LevelMedium,
		map[string]any{"field": "face_shape", "allowed": FaceShapes},
		"face shape must be one of %s", strings.Join(FaceShapes, ", "))
}

// ValidateQuery validates a free-text search query and returns it trimmed
func (s *Sanitizer) ValidateQuery(value any) (string, error) {
	return s.ValidateText("query", value)
}

// ValidateText applies the free-text query rules to a named field. Violations
// carry field in their details.
func (s *Sanitizer) ValidateText(field string, value any) (string, error) {
	str, err := s.requireString(field, value)
	if err != nil {
		return "", err
	}
	if len(str) > s.cfg.MaxQueryLength {
		return "", NewViolation(FieldTooLong, LevelMedium,
			map[string]any{"field": field, "length": len(str), "max_length": s.cfg.MaxQueryLength},
			"%s exceeds %d bytes", field, s.cfg.MaxQueryLength)
	}

	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return "", NewViolation(InvalidFormat, LevelMedium, fieldDetails(field), "%s must not be empty", field)
	}
	if !utf8.ValidString(trimmed) {
		return "", NewViolation(InvalidFormat, LevelMedium, fieldDetails(field), "%s is not valid UTF-8", field)
	}
	if v := s.classify(field, trimmed); v != nil {
		return "", v
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) && r != '\t' {
			return "", NewViolation(InvalidFormat, LevelMedium,
				map[string]any{"field": field, "character": fmt.Sprintf("%U", r)},
				"%s contains control character %U", field, r)
		}
	}
	return trimmed, nil
}

// SanitizeQueryDict validates a structured query and returns a deep copy.
// Any key starting with '$' fails the whole query; operator keys are never
// stripped.
func (s *Sanitizer) SanitizeQueryDict(value any) (map[string]any, error) {
	if value == nil {
		return nil, NewViolation(InvalidFormat, LevelMedium, fieldDetails("query"), "structured query is required")
	}

	root, ok := value.(map[string]any)
	if !ok {
		converted, convErr := toStringMap(value)
		if convErr != nil {
			return nil, NewViolation(InvalidFormat, LevelMedium,
				map[string]any{"field": "query", "type": fmt.Sprintf("%T", value)},
				"structured query must be a mapping with string keys")
		}
		root = converted
	}

	out, err := s.sanitizeMap(root, "", 1)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Sanitizer) sanitizeMap(m map[string]any, path string, depth int) (map[string]any, error) {
	if depth > s.cfg.MaxQueryDepth {
		return nil, NewViolation(InvalidFormat, LevelHigh,
			map[string]any{"field": path, "max_depth": s.cfg.MaxQueryDepth},
			"structured query nested deeper than %d levels", s.cfg.MaxQueryDepth)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Keys first: an operator anywhere in this level rejects the query even
	// if an earlier value would also fail.
	for _, k := range keys {
		if err := s.checkKey(k, joinPath(path, k)); err != nil {
			return nil, err
		}
	}

	out := make(map[string]any, len(m))
	for _, k := range keys {
		v, err := s.sanitizeValue(m[k], joinPath(path, k), depth)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (s *Sanitizer) checkKey(key, path string) error {
	if strings.HasPrefix(key, "$") {
		level := LevelHigh
		if codeOperators[key] {
			level = LevelCritical
		}
		return NewViolation(NoSQLInjection, level,
			map[string]any{"field": path, "operator": truncate(key, maxFragmentLength)},
			"operator key %q is not allowed", truncate(key, maxFragmentLength))
	}
	if key == "" {
		return NewViolation(InvalidFormat, LevelMedium, fieldDetails(path), "empty key in structured query")
	}
	if len(key) > s.cfg.MaxKeyLength {
		return NewViolation(FieldTooLong, LevelMedium,
			map[string]any{"field": truncate(path, maxFragmentLength), "length": len(key), "max_length": s.cfg.MaxKeyLength},
			"key exceeds %d characters", s.cfg.MaxKeyLength)
	}
	if v := s.classify(path, key); v != nil {
		return v
	}
	return nil
}

func (s *Sanitizer) sanitizeValue(v any, path string, depth int) (any, error) {
	switch val := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return val, nil
	case string:
		if len(val) > s.cfg.MaxStringLength {
			return nil, NewViolation(FieldTooLong, LevelMedium,
				map[string]any{"field": path, "length": len(val), "max_length": s.cfg.MaxStringLength},
				"value exceeds %d bytes", s.cfg.MaxStringLength)
		}
		if viol := s.classify(path, val); viol != nil {
			return nil, viol
		}
		return val, nil
	case map[string]any:
		return s.sanitizeMap(val, path, depth+1)
	case []any:
		return s.sanitizeSlice(val, path, depth)
	case []string:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = item
		}
		return s.sanitizeSlice(items, path, depth)
	default:
		if converted, err := toStringMap(v); err == nil {
			return s.sanitizeMap(converted, path, depth+1)
		}
		return nil, NewViolation(InvalidFormat, LevelMedium,
			map[string]any{"field": path, "type": fmt.Sprintf("%T", v)},
			"unsupported value type %T", v)
	}
}

func (s *Sanitizer) sanitizeSlice(items []any, path string, depth int) ([]any, error) {
	if depth+1 > s.cfg.MaxQueryDepth {
		return nil, NewViolation(InvalidFormat, LevelHigh,
			map[string]any{"field": path, "max_depth": s.cfg.MaxQueryDepth},
			"structured query nested deeper than %d levels", s.cfg.MaxQueryDepth)
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := s.sanitizeValue(item, fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// requireString rejects nil, mappings and non-string values
func (s *Sanitizer) requireString(field string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case nil:
		return "", NewViolation(InvalidFormat, LevelMedium, fieldDetails(field), "%s is required", field)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map {
		level := LevelHigh
		operator := ""
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := iter.Key().Interface().(string)
			if !ok || !strings.HasPrefix(k, "$") {
				continue
			}
			level = LevelCritical
			operator = k
			break
		}
		details := fieldDetails(field)
		if operator != "" {
			details["operator"] = truncate(operator, maxFragmentLength)
		}
		return "", NewViolation(NoSQLInjection, level, details,
			"%s must be a string, got a mapping", field)
	}

	return "", NewViolation(InvalidFormat, LevelMedium,
		map[string]any{"field": field, "type": fmt.Sprintf("%T", value)},
		"%s must be a string, got %T", field, value)
}

// classify turns the strongest pattern match into a violation, or returns nil
func (s *Sanitizer) classify(field, value string) *Violation {
	m, ok := Strongest(s.lib.Match(value))
	if !ok {
		return nil
	}
	return NewViolation(m.Type, m.Level,
		map[string]any{"field": field, "pattern": m.Pattern, "fragment": m.Fragment},
		"%s matches %s pattern %q", field, m.Type, m.Pattern)
}

func fieldDetails(field string) map[string]any {
	return map[string]any{"field": field}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// toStringMap converts any map with string keys into map[string]any
func toStringMap(value any) (map[string]any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("not a string-keyed map: %T", value)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, nil
}
