package security

import (
	"strings"
	"testing"
)

func matchTypes(matches []Match) map[ViolationType]bool {
	out := make(map[ViolationType]bool, len(matches))
	for _, m := range matches {
		out[m.Type] = true
	}
	return out
}

func TestLibraryMatchCoverage(t *testing.T) {
	lib := MustNewLibrary()

	tests := []struct {
		name    string
		payload string
		want    ViolationType
	}{
		{name: "ne operator", payload: `{"$ne": null}`, want: NoSQLInjection},
		{name: "gt operator", payload: "$gt", want: NoSQLInjection},
		{name: "where operator", payload: "$where: sleep(100)", want: NoSQLInjection},
		{name: "regex operator", payload: "$regex", want: NoSQLInjection},
		{name: "or operator", payload: "$or", want: NoSQLInjection},
		{name: "and operator", payload: "$and", want: NoSQLInjection},
		{name: "exists operator", payload: "$exists", want: NoSQLInjection},
		{name: "drop table", payload: "x'; DROP TABLE products", want: SQLInjection},
		{name: "union select", payload: "1 UNION SELECT password FROM users", want: SQLInjection},
		{name: "comment terminator", payload: "admin; --", want: SQLInjection},
		{name: "or tautology", payload: "x OR 1=1", want: SQLInjection},
		{name: "string tautology", payload: "' OR 'a'='a", want: SQLInjection},
		{name: "string tautology with comment", payload: "' OR 'x'='x' --", want: SQLInjection},
		{name: "double quoted tautology", payload: `" or "abc"="abc`, want: SQLInjection},
		{name: "semicolon chain", payload: "abc; rm -rf /", want: CommandInjection},
		{name: "pipe chain", payload: "abc | cat secrets", want: CommandInjection},
		{name: "and chain", payload: "abc && reboot", want: CommandInjection},
		{name: "semicolon absolute path", payload: "x; /bin/sh -i", want: CommandInjection},
		{name: "pipe absolute path", payload: "x | /usr/bin/id", want: CommandInjection},
		{name: "semicolon relative path", payload: "x;./run.sh", want: CommandInjection},
		{name: "semicolon reboot", payload: "a; reboot", want: CommandInjection},
		{name: "pipe base64", payload: "x | base64 -d", want: CommandInjection},
		{name: "pipe unknown command with flag", payload: "x | frobnicate --all", want: CommandInjection},
		{name: "or chain", payload: "x || true", want: CommandInjection},
		{name: "pipe xargs", payload: "ls | xargs rm", want: CommandInjection},
		{name: "backticks", payload: "`id`", want: CommandInjection},
		{name: "substitution", payload: "$(whoami)", want: CommandInjection},
		{name: "ldap filter break", payload: "admin)(uid=*", want: LDAPInjection},
		{name: "ldap wildcard break", payload: "*)(objectClass=*", want: LDAPInjection},
		{name: "xpath tautology", payload: "' or '1'='1", want: XPathInjection},
		{name: "xpath position", payload: "item[position()=1]", want: XPathInjection},
		{name: "doctype", payload: "<!DOCTYPE foo>", want: XXEInjection},
		{name: "entity", payload: `<!ENTITY xxe SYSTEM "file:///etc/passwd">`, want: XXEInjection},
		{name: "system identifier", payload: `SYSTEM "http://evil"`, want: XXEInjection},
		{name: "script tag", payload: "<script>alert(1)</script>", want: XSS},
		{name: "event handler", payload: `<img src=x onerror=alert(1)>`, want: XSS},
		{name: "javascript uri", payload: "javascript:alert(1)", want: XSS},
		{name: "dot dot slash", payload: "../../etc/passwd", want: PathTraversal},
		{name: "encoded traversal", payload: "%2e%2e%2fetc", want: PathTraversal},
		{name: "null byte", payload: "file\x00.png", want: PathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchTypes(lib.Match(tt.payload))
			if !got[tt.want] {
				t.Errorf("Match(%q) types = %v, want to include %s", tt.payload, got, tt.want)
			}
		})
	}
}

func TestLibraryMatchBenign(t *testing.T) {
	lib := MustNewLibrary()

	benign := []string{
		"ABC-123",
		"round",
		"blue aviator sunglasses",
		"men's titanium frames",
		"color: tortoise",
		"price 49.99",
		"Ray-Ban Wayfarer 2140",
		"for oval and heart faces",
		"lightweight; durable",
		"acetate | metal",
		"O'Reilly or 'classic' style",
	}
	for _, payload := range benign {
		if matches := lib.Match(payload); len(matches) != 0 {
			t.Errorf("Match(%q) = %v, want no matches", payload, matches)
		}
	}
}

func TestLibraryMatchReturnsAllMatches(t *testing.T) {
	lib := MustNewLibrary()

	matches := lib.Match(`<!DOCTYPE x> $where ' or '1'='1 ../etc/passwd`)
	types := matchTypes(matches)
	for _, want := range []ViolationType{XXEInjection, NoSQLInjection, SQLInjection, XPathInjection, PathTraversal} {
		if !types[want] {
			t.Errorf("expected match of type %s in %v", want, matches)
		}
	}
	if len(matches) < 5 {
		t.Errorf("len(matches) = %d, want at least 5", len(matches))
	}
}

func TestMatchOutranks(t *testing.T) {
	xss := Match{Type: XSS, Level: LevelHigh}
	tests := []struct {
		name string
		m    Match
		want bool
	}{
		{"higher level", Match{Type: PathTraversal, Level: LevelCritical}, true},
		{"higher priority at equal level", Match{Type: NoSQLInjection, Level: LevelHigh}, true},
		{"lower priority at equal level", Match{Type: InvalidFormat, Level: LevelHigh}, false},
		{"lower level", Match{Type: NoSQLInjection, Level: LevelMedium}, false},
		{"identical rank", Match{Type: XSS, Level: LevelHigh, Pattern: "other"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.outranks(xss); got != tt.want {
				t.Errorf("outranks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrongest(t *testing.T) {
	tests := []struct {
		name     string
		matches  []Match
		wantType ViolationType
		wantOK   bool
	}{
		{name: "empty", matches: nil, wantOK: false},
		{
			name: "higher level wins",
			matches: []Match{
				{Type: NoSQLInjection, Level: LevelHigh},
				{Type: XXEInjection, Level: LevelCritical},
			},
			wantType: XXEInjection,
			wantOK:   true,
		},
		{
			name: "priority breaks level ties",
			matches: []Match{
				{Type: XSS, Level: LevelHigh},
				{Type: SQLInjection, Level: LevelHigh},
				{Type: CommandInjection, Level: LevelHigh},
			},
			wantType: CommandInjection,
			wantOK:   true,
		},
		{
			name: "first wins identical rank",
			matches: []Match{
				{Type: SQLInjection, Level: LevelHigh, Pattern: "first"},
				{Type: SQLInjection, Level: LevelHigh, Pattern: "second"},
			},
			wantType: SQLInjection,
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Strongest(tt.matches)
			if ok != tt.wantOK {
				t.Fatalf("Strongest() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Type != tt.wantType {
				t.Errorf("Strongest() type = %s, want %s", got.Type, tt.wantType)
			}
			if tt.name == "first wins identical rank" && got.Pattern != "first" {
				t.Errorf("Strongest() pattern = %s, want first", got.Pattern)
			}
		})
	}
}

func TestNewLibraryExtraPatterns(t *testing.T) {
	t.Run("extra pattern is matched", func(t *testing.T) {
		lib, err := NewLibrary(Pattern{
			Name:  "internal-host",
			Type:  PathTraversal,
			Level: LevelMedium,
			Kind:  KindKeyword,
			Keywords: []string{
				"METADATA.internal",
			},
		})
		if err != nil {
			t.Fatalf("NewLibrary() error = %v", err)
		}
		matches := lib.Match("http://metadata.internal/latest")
		if len(matches) != 1 || matches[0].Pattern != "internal-host" {
			t.Errorf("Match() = %v, want internal-host", matches)
		}
	})

	invalid := []struct {
		name    string
		pattern Pattern
		wantErr string
	}{
		{name: "missing name", pattern: Pattern{Type: XSS, Level: LevelLow, Kind: KindLiteral, Expr: "x"}, wantErr: "name is required"},
		{name: "duplicate name", pattern: Pattern{Name: "xss-script-tag", Type: XSS, Level: LevelLow, Kind: KindLiteral, Expr: "x"}, wantErr: "duplicate"},
		{name: "bad regex", pattern: Pattern{Name: "bad", Type: XSS, Level: LevelLow, Kind: KindRegex, Expr: "("}, wantErr: "bad"},
		{name: "unknown type", pattern: Pattern{Name: "t", Type: "BOGUS", Level: LevelLow, Kind: KindLiteral, Expr: "x"}, wantErr: "unknown violation type"},
		{name: "bad level", pattern: Pattern{Name: "l", Type: XSS, Level: 9, Kind: KindLiteral, Expr: "x"}, wantErr: "invalid threat level"},
		{name: "empty keywords", pattern: Pattern{Name: "k", Type: XSS, Level: LevelLow, Kind: KindKeyword}, wantErr: "keyword set"},
		{name: "unknown kind", pattern: Pattern{Name: "u", Type: XSS, Level: LevelLow, Kind: "glob", Expr: "x"}, wantErr: "unknown kind"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLibrary(tt.pattern)
			if err == nil {
				t.Fatal("NewLibrary() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewLibrary() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLibraryVersion(t *testing.T) {
	lib := MustNewLibrary()

	if got := lib.Version().String(); got != LibraryVersion {
		t.Errorf("Version() = %s, want %s", got, LibraryVersion)
	}

	tests := []struct {
		constraint string
		wantErr    bool
	}{
		{constraint: "", wantErr: false},
		{constraint: ">= 1.0", wantErr: false},
		{constraint: "^1.2", wantErr: false},
		{constraint: ">= 2.0", wantErr: true},
		{constraint: "not a constraint", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			err := lib.CheckVersion(tt.constraint)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckVersion(%q) error = %v, wantErr %v", tt.constraint, err, tt.wantErr)
			}
		})
	}
}

func TestLibraryMatchMalformedInput(t *testing.T) {
	lib := MustNewLibrary()

	inputs := []string{
		"",
		"\xff\xfe\xfd",
		strings.Repeat("$", 10000),
		strings.Repeat("(", 5000) + strings.Repeat(")", 5000),
		"\x00\x01\x02",
	}
	for _, in := range inputs {
		// must not panic
		_ = lib.Match(in)
	}

	long := lib.Match(strings.Repeat("a", 200) + "$where")
	if len(long) == 0 {
		t.Fatal("expected a match")
	}
	for _, m := range long {
		if len(m.Fragment) > maxFragmentLength {
			t.Errorf("fragment length = %d, want <= %d", len(m.Fragment), maxFragmentLength)
		}
	}
}
