package security

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// UnknownSource is the identifier used when the caller supplies none
const UnknownSource = "unknown"

// DetectorConfig holds threat detector settings
type DetectorConfig struct {
	// RateLimitThreshold is the number of violations a source may commit
	// inside RateLimitWindow before it is rate limited
	RateLimitThreshold int
	RateLimitWindow    time.Duration
	MaxTrackedSources  int
	// MaxDepth bounds payload nesting; deeper payloads are rejected
	MaxDepth        int
	MaxStringLength int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// DefaultDetectorConfig returns the default detector settings
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		RateLimitThreshold: 10,
		RateLimitWindow:    time.Minute,
		MaxTrackedSources:  10000,
		MaxDepth:           32,
		MaxStringLength:    65536,
	}
}

// Detector scans arbitrary payloads for injection signatures and tracks
// repeat offenders per source identifier.
type Detector struct {
	lib     *Library
	cfg     DetectorConfig
	limiter *RateLimiter
	now     func() time.Time
}

// NewDetector creates a threat detector. A nil lib uses the built-in catalog.
func NewDetector(lib *Library, cfg DetectorConfig) *Detector {
	if lib == nil {
		lib = MustNewLibrary()
	}
	d := DefaultDetectorConfig()
	if cfg.RateLimitThreshold <= 0 {
		cfg.RateLimitThreshold = d.RateLimitThreshold
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = d.RateLimitWindow
	}
	if cfg.MaxTrackedSources <= 0 {
		cfg.MaxTrackedSources = d.MaxTrackedSources
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = d.MaxStringLength
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Detector{
		lib:     lib,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimitThreshold, cfg.RateLimitWindow, cfg.MaxTrackedSources),
		now:     now,
	}
}

// Library returns the pattern library the detector matches against
func (d *Detector) Library() *Library {
	return d.lib
}

// Limiter returns the per-source rate limiter
func (d *Detector) Limiter() *RateLimiter {
	return d.limiter
}

// DetectThreat scans payload and updates the rate-limit table for source.
// It returns the strongest violation found, or nil for a clean payload from
// a source that is not rate limited. Once a source exceeds the threshold
// every call returns a CRITICAL RATE_LIMITED violation, even for clean
// payloads, until enough of its violations leave the window.
func (d *Detector) DetectThreat(payload any, source string) *Violation {
	source = NormalizeSource(source)
	now := d.now()

	found, ok := d.scan(payload)
	var cause *Violation
	if ok {
		cause = found.violation(now, source)
	}

	limited, entry := d.limiter.Observe(source, cause != nil, now)
	if limited {
		return d.rateLimited(now, source, entry, cause)
	}
	return cause
}

// Scan returns the strongest violation in payload without touching the
// rate-limit table
func (d *Detector) Scan(payload any) *Violation {
	found, ok := d.scan(payload)
	if !ok {
		return nil
	}
	return found.violation(d.now(), "")
}

// RecordViolation counts a violation raised outside the detector against
// source and reports whether the source is now rate limited
func (d *Detector) RecordViolation(source string, v *Violation) bool {
	if v == nil {
		return d.IsRateLimited(source)
	}
	limited, _ := d.limiter.Observe(NormalizeSource(source), true, d.now())
	return limited
}

// IsRateLimited reports whether source is currently rate limited
func (d *Detector) IsRateLimited(source string) bool {
	return d.limiter.IsLimited(NormalizeSource(source), d.now())
}

// RateLimitedSources returns the currently rate limited sources
func (d *Detector) RateLimitedSources() []string {
	return d.limiter.LimitedSources(d.now())
}

func (d *Detector) rateLimited(now time.Time, source string, entry RateLimitEntry, cause *Violation) *Violation {
	details := map[string]any{
		"source":          source,
		"violation_count": entry.InWindow,
		"threshold":       d.limiter.Threshold(),
		"window":          d.limiter.Window().String(),
	}
	if cause != nil {
		details["cause_type"] = string(cause.Type)
		details["cause_level"] = cause.Level.String()
		details["cause_message"] = cause.Message
		if p, ok := cause.Details["pattern"]; ok {
			details["pattern"] = p
		}
	}
	return newViolationAt(now, RateLimited, LevelCritical, details,
		"source %s exceeded %d violations within %s", source, d.limiter.Threshold(), d.limiter.Window())
}

// NormalizeSource maps an empty source identifier to UnknownSource
func NormalizeSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return UnknownSource
	}
	return source
}

// finding is the best candidate seen during a scan
type finding struct {
	Match
	path    string
	message string
}

func (f finding) violation(now time.Time, source string) *Violation {
	details := map[string]any{
		"pattern": f.Pattern,
	}
	if f.Fragment != "" {
		details["fragment"] = f.Fragment
	}
	if f.path != "" {
		details["field"] = f.path
	}
	if source != "" {
		details["source"] = source
	}
	msg := f.message
	if msg == "" {
		msg = fmt.Sprintf("%s pattern %q matched", f.Type, f.Pattern)
		if f.path != "" {
			msg += " in " + f.path
		}
	}
	return newViolationAt(now, f.Type, f.Level, details, "%s", msg)
}

type walker struct {
	d    *Detector
	best finding
	hit  bool
}

func (d *Detector) scan(payload any) (finding, bool) {
	w := &walker{d: d}
	w.walk(reflect.ValueOf(payload), "", 0)
	return w.best, w.hit
}

// consider keeps f if it outranks the current best. Earlier findings win ties.
func (w *walker) consider(f finding) {
	if !w.hit || f.outranks(w.best.Match) {
		w.best = f
		w.hit = true
	}
}

// done reports whether nothing can outrank the current best
func (w *walker) done() bool {
	return w.hit && w.best.Level == LevelCritical && w.best.Type == typePriority[0]
}

func (w *walker) walk(v reflect.Value, path string, depth int) {
	if !v.IsValid() || w.done() {
		return
	}
	if depth > w.d.cfg.MaxDepth {
		w.consider(finding{
			Match:   Match{Type: InvalidFormat, Level: LevelHigh, Pattern: "max-depth"},
			path:    path,
			message: fmt.Sprintf("payload nested deeper than %d levels", w.d.cfg.MaxDepth),
		})
		return
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		w.walk(v.Elem(), path, depth)

	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		w.walk(v.Elem(), path, depth+1)

	case reflect.String:
		w.leaf(v.String(), path)

	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			name := fmt.Sprint(k.Interface())
			child := joinPath(path, name)
			w.key(name, child)
			w.walk(v.MapIndex(k), child, depth+1)
			if w.done() {
				return
			}
		}

	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if v.Kind() == reflect.Slice {
				w.leaf(string(v.Bytes()), path)
			}
			return
		}
		for i := 0; i < v.Len(); i++ {
			w.walk(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1)
			if w.done() {
				return
			}
		}

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name, ok := fieldName(field)
			if !ok {
				continue
			}
			w.walk(v.Field(i), joinPath(path, name), depth+1)
			if w.done() {
				return
			}
		}
	}
}

func (w *walker) key(name, path string) {
	if strings.HasPrefix(name, "$") {
		level := LevelHigh
		if codeOperators[name] {
			level = LevelCritical
		}
		w.consider(finding{
			Match:   Match{Type: NoSQLInjection, Level: level, Pattern: "operator-key", Fragment: truncate(name, maxFragmentLength)},
			path:    path,
			message: fmt.Sprintf("operator key %q in payload", truncate(name, maxFragmentLength)),
		})
	}
	w.leaf(name, path)
}

func (w *walker) leaf(s, path string) {
	if len(s) > w.d.cfg.MaxStringLength {
		w.consider(finding{
			Match:   Match{Type: FieldTooLong, Level: LevelMedium, Pattern: "max-length"},
			path:    path,
			message: fmt.Sprintf("value of %d bytes exceeds %d", len(s), w.d.cfg.MaxStringLength),
		})
		return
	}
	for _, m := range w.d.lib.Match(s) {
		w.consider(finding{Match: m, path: path})
	}
}

// fieldName prefers the json tag name of a struct field. Unexported and
// json:"-" fields are skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	return f.Name, true
}
