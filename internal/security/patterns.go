package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// LibraryVersion is the version of the built-in pattern catalog. Bump the
// minor version when patterns are added and the major version when a
// pattern is removed or reclassified.
const LibraryVersion = "1.5.0"

// PatternKind selects how a pattern is matched
type PatternKind string

const (
	// KindLiteral matches a case-sensitive substring
	KindLiteral PatternKind = "literal"
	// KindKeyword matches any of a set of case-insensitive substrings
	KindKeyword PatternKind = "keyword"
	// KindRegex matches a regular expression
	KindRegex PatternKind = "regex"
)

// Pattern is a single threat signature
type Pattern struct {
	Name     string
	Type     ViolationType
	Level    ThreatLevel
	Kind     PatternKind
	Expr     string   // literal text or regular expression
	Keywords []string // for KindKeyword

	re *regexp.Regexp
}

// Match is one pattern hit inside a payload
type Match struct {
	Type     ViolationType `json:"violation_type"`
	Level    ThreatLevel   `json:"threat_level"`
	Pattern  string        `json:"pattern"`
	Fragment string        `json:"fragment"`
}

const maxFragmentLength = 64

// Library is an immutable, versioned catalog of threat signatures
type Library struct {
	version  *semver.Version
	patterns []Pattern
}

// shellVerbs are commands commonly chained after a separator in injection payloads
const shellVerbs = `(rm|cat|ls|wget|curl|nc|ncat|bash|sh|zsh|chmod|chown|whoami|id|uname|ping|python|perl|php|ruby|node|nslookup|echo|kill|sleep|powershell|cmd|` +
	`reboot|shutdown|halt|base64|xargs|tee|true|false|exec|eval|env|sudo|su|dd|awk|sed|grep|telnet|ssh|nohup|mkfifo|touch|mv|cp)\b`

// commandToken is a command given by path, or any word followed by an option flag
const commandToken = `([/~]|\.{1,2}/|[A-Za-z][\w.-]*\s+-{1,2}[A-Za-z])`

func builtinPatterns() []Pattern {
	return []Pattern{
		// NoSQL operators
		{Name: "nosql-code-operator", Type: NoSQLInjection, Level: LevelCritical, Kind: KindRegex,
			Expr: `\$(where|function|accumulator|expr)\b`},
		{Name: "nosql-query-operator", Type: NoSQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `\$(ne|eq|gt|gte|lt|lte|in|nin|regex|or|and|not|nor|exists|elemMatch|type|mod|all|size|text|lookup|jsonSchema)\b`},

		// Command injection
		{Name: "command-substitution", Type: CommandInjection, Level: LevelCritical, Kind: KindLiteral, Expr: "$("},
		{Name: "command-backtick", Type: CommandInjection, Level: LevelCritical, Kind: KindLiteral, Expr: "`"},
		{Name: "command-and-chain", Type: CommandInjection, Level: LevelHigh, Kind: KindLiteral, Expr: "&&"},
		{Name: "command-separator", Type: CommandInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `;\s*` + shellVerbs},
		{Name: "command-pipe", Type: CommandInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `\|\|?\s*` + shellVerbs},
		{Name: "command-chain-path", Type: CommandInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `[;|]\s*` + commandToken},
		{Name: "command-or-chain", Type: CommandInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `\|\|\s*[A-Za-z/~.]`},
		{Name: "command-redirect", Type: CommandInjection, Level: LevelMedium, Kind: KindRegex,
			Expr: `>\s*/(etc|dev|tmp|var)/`},

		// XXE
		{Name: "xxe-declaration", Type: XXEInjection, Level: LevelCritical, Kind: KindKeyword,
			Keywords: []string{"<!doctype", "<!entity"}},
		{Name: "xxe-external-id", Type: XXEInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)\b(SYSTEM|PUBLIC)\s+["']`},
		{Name: "xxe-scheme", Type: XXEInjection, Level: LevelHigh, Kind: KindKeyword,
			Keywords: []string{"file://", "expect://", "php://"}},

		// SQL in injection context
		{Name: "sql-union-select", Type: SQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)\bunion\s+(all\s+)?select\b`},
		{Name: "sql-drop", Type: SQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)\bdrop\s+(table|database|schema|index|view|collection)\b`},
		{Name: "sql-tautology", Type: SQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)\bor\s+['"]?\d+['"]?\s*=\s*['"]?\d+`},
		{Name: "sql-string-tautology", Type: SQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)['"]\s*or\s+['"][^'"]*['"]\s*=\s*['"]`},
		{Name: "sql-comment-terminator", Type: SQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `;\s*--`},
		{Name: "sql-quote-comment", Type: SQLInjection, Level: LevelMedium, Kind: KindRegex,
			Expr: `'\s*(--|#|/\*)`},
		{Name: "sql-statement", Type: SQLInjection, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)\b(insert\s+into|delete\s+from|xp_cmdshell|waitfor\s+delay|sleep\s*\(\s*\d)`},

		// LDAP
		{Name: "ldap-wildcard-break", Type: LDAPInjection, Level: LevelHigh, Kind: KindLiteral, Expr: "*)("},
		{Name: "ldap-filter-break", Type: LDAPInjection, Level: LevelMedium, Kind: KindLiteral, Expr: ")("},
		{Name: "ldap-filter-operator", Type: LDAPInjection, Level: LevelMedium, Kind: KindRegex,
			Expr: `\(\s*[|&!]\s*\(`},

		// XPath
		{Name: "xpath-tautology", Type: XPathInjection, Level: LevelHigh, Kind: KindKeyword,
			Keywords: []string{"' or '1'='1", `" or "1"="1`, "' or ''='", "' or 1=1 or '"}},
		{Name: "xpath-function", Type: XPathInjection, Level: LevelMedium, Kind: KindKeyword,
			Keywords: []string{"position()", "last()", "count(//", "name(/", "string-length("}},

		// Script injection
		{Name: "xss-script-tag", Type: XSS, Level: LevelHigh, Kind: KindRegex, Expr: `(?i)<\s*script\b`},
		{Name: "xss-javascript-uri", Type: XSS, Level: LevelHigh, Kind: KindRegex, Expr: `(?i)javascript\s*:`},
		{Name: "xss-event-handler", Type: XSS, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)\bon(error|load|click|mouseover|focus|submit)\s*=`},
		{Name: "xss-embed-tag", Type: XSS, Level: LevelMedium, Kind: KindRegex,
			Expr: `(?i)<\s*(iframe|object|embed|svg|img)\b`},

		// Path traversal
		{Name: "path-dot-dot", Type: PathTraversal, Level: LevelHigh, Kind: KindRegex, Expr: `\.\.[\\/]`},
		{Name: "path-encoded-dot-dot", Type: PathTraversal, Level: LevelHigh, Kind: KindKeyword,
			Keywords: []string{"%2e%2e", "..%2f", "..%5c", "%252e"}},
		{Name: "path-sensitive-file", Type: PathTraversal, Level: LevelHigh, Kind: KindRegex,
			Expr: `(?i)/etc/(passwd|shadow|hosts)\b`},
		{Name: "path-null-byte", Type: PathTraversal, Level: LevelHigh, Kind: KindLiteral, Expr: "\x00"},
	}
}

// NewLibrary builds the built-in catalog plus any extra patterns. Extra
// patterns are validated and their regular expressions compiled up front.
func NewLibrary(extra ...Pattern) (*Library, error) {
	version, err := semver.NewVersion(LibraryVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid library version %q: %w", LibraryVersion, err)
	}

	all := append(builtinPatterns(), extra...)
	compiled := make([]Pattern, 0, len(all))
	seen := make(map[string]bool, len(all))

	for _, p := range all {
		if p.Name == "" {
			return nil, fmt.Errorf("pattern name is required")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate pattern name: %s", p.Name)
		}
		seen[p.Name] = true

		if priorityOf(p.Type) >= len(typePriority) {
			return nil, fmt.Errorf("pattern %s: unknown violation type %q", p.Name, p.Type)
		}
		if p.Level < LevelLow || p.Level > LevelCritical {
			return nil, fmt.Errorf("pattern %s: invalid threat level %d", p.Name, p.Level)
		}

		switch p.Kind {
		case KindLiteral:
			if p.Expr == "" {
				return nil, fmt.Errorf("pattern %s: literal must not be empty", p.Name)
			}
		case KindKeyword:
			if len(p.Keywords) == 0 {
				return nil, fmt.Errorf("pattern %s: keyword set must not be empty", p.Name)
			}
			lowered := make([]string, 0, len(p.Keywords))
			for _, kw := range p.Keywords {
				if kw == "" {
					return nil, fmt.Errorf("pattern %s: empty keyword", p.Name)
				}
				lowered = append(lowered, strings.ToLower(kw))
			}
			p.Keywords = lowered
		case KindRegex:
			re, err := regexp.Compile(p.Expr)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
			}
			p.re = re
		default:
			return nil, fmt.Errorf("pattern %s: unknown kind %q", p.Name, p.Kind)
		}

		compiled = append(compiled, p)
	}

	return &Library{version: version, patterns: compiled}, nil
}

// MustNewLibrary is NewLibrary for the built-in catalog; it panics only if
// the built-in catalog itself is broken.
func MustNewLibrary() *Library {
	lib, err := NewLibrary()
	if err != nil {
		panic(err)
	}
	return lib
}

// Version returns the catalog version
func (l *Library) Version() *semver.Version {
	return l.version
}

// CheckVersion verifies the catalog satisfies a semver constraint such as
// ">= 1.2, < 2"
func (l *Library) CheckVersion(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid pattern library constraint %q: %w", constraint, err)
	}
	if !c.Check(l.version) {
		return fmt.Errorf("pattern library %s does not satisfy %q", l.version, constraint)
	}
	return nil
}

// Patterns returns a copy of the catalog in match order
func (l *Library) Patterns() []Pattern {
	out := make([]Pattern, len(l.patterns))
	copy(out, l.patterns)
	return out
}

// Match returns every pattern hit in payload, in catalog order. Each
// pattern contributes at most one match.
func (l *Library) Match(payload string) []Match {
	if payload == "" {
		return nil
	}

	var lowered string
	var matches []Match

	for i := range l.patterns {
		p := &l.patterns[i]
		var fragment string
		var hit bool

		switch p.Kind {
		case KindLiteral:
			if idx := strings.Index(payload, p.Expr); idx >= 0 {
				hit, fragment = true, p.Expr
			}
		case KindKeyword:
			if lowered == "" {
				lowered = strings.ToLower(payload)
			}
			for _, kw := range p.Keywords {
				if idx := strings.Index(lowered, kw); idx >= 0 {
					hit, fragment = true, kw
					break
				}
			}
		case KindRegex:
			if loc := p.re.FindStringIndex(payload); loc != nil {
				hit, fragment = true, payload[loc[0]:loc[1]]
			}
		}

		if hit {
			matches = append(matches, Match{
				Type:     p.Type,
				Level:    p.Level,
				Pattern:  p.Name,
				Fragment: truncate(fragment, maxFragmentLength),
			})
		}
	}

	return matches
}

// Strongest picks the winning match: highest level, then type priority,
// then catalog order.
func Strongest(matches []Match) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.outranks(best) {
			best = m
		}
	}
	return best, true
}

// outranks reports whether m beats other: higher level first, then the
// fixed violation type priority. Identical ranks do not outrank.
func (m Match) outranks(other Match) bool {
	if m.Level != other.Level {
		return m.Level > other.Level
	}
	return priorityOf(m.Type) < priorityOf(other.Type)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
