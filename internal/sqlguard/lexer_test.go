package sqlguard

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenizeRoundTripsInput(t *testing.T) {
	inputs := []string{
		"SELECT a, b FROM t WHERE c = 'it''s' -- done",
		"select \"Col\", `x` from t /* c */ where y = $$ a ; b $$",
		"SELECT 1.5e3, $1 FROM 表 # hash",
	}
	for _, in := range inputs {
		tokens, err := Tokenize(in)
		if err != nil {
			t.Fatalf("Tokenize(%q) error = %v", in, err)
		}
		var b strings.Builder
		for _, tok := range tokens {
			b.WriteString(tok.Text)
		}
		if b.String() != in {
			t.Fatalf("round trip = %q, want %q", b.String(), in)
		}
	}
}

func TestTokenizeKinds(t *testing.T) {
	tokens, err := Tokenize("SELECT 'a;b' AS \"x\" -- c\n;")
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}
	var kinds []TokenKind
	for _, tok := range tokens {
		if tok.Significant() || tok.Kind == TokenLineComment {
			kinds = append(kinds, tok.Kind)
		}
	}
	want := []TokenKind{TokenWord, TokenString, TokenWord, TokenQuotedIdent, TokenLineComment, TokenPunct}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	for _, in := range []string{"SELECT 'a", "SELECT \"a", "SELECT /* a", "SELECT $x$ a"} {
		_, err := Tokenize(in)
		var lexErr *LexError
		if !errors.As(err, &lexErr) {
			t.Fatalf("Tokenize(%q) error = %v, want *LexError", in, err)
		}
	}
}
