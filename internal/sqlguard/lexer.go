package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenKind int

const (
	TokenWhitespace TokenKind = iota
	TokenWord
	TokenNumber
	TokenString
	TokenQuotedIdent
	TokenLineComment
	TokenBlockComment
	TokenPunct
)

func (k TokenKind) String() string {
	switch k {
	case TokenWhitespace:
		return "whitespace"
	case TokenWord:
		return "word"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenQuotedIdent:
		return "quoted_ident"
	case TokenLineComment:
		return "line_comment"
	case TokenBlockComment:
		return "block_comment"
	default:
		return "punct"
	}
}

type Token struct {
	Kind  TokenKind
	Text  string
	Start int
}

// Significant reports whether the token carries meaning for statement shape.
func (t Token) Significant() bool {
	switch t.Kind {
	case TokenWhitespace, TokenLineComment, TokenBlockComment:
		return false
	default:
		return true
	}
}

// Upper is the upper-cased token text, used for keyword comparisons.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

type LexError struct {
	Offset int
	Reason string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Reason)
}

// Tokenize splits a statement into tokens. Concatenating every token's Text
// reproduces the input exactly.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(input) {
		start := i
		r, size := utf8.DecodeRuneInString(input[i:])
		var kind TokenKind

		switch {
		case unicode.IsSpace(r):
			kind = TokenWhitespace
			i = scanWhile(input, i, unicode.IsSpace)
		case r == '-' && strings.HasPrefix(input[i:], "--"), r == '#':
			kind = TokenLineComment
			i = scanLine(input, i)
		case r == '/' && strings.HasPrefix(input[i:], "/*"):
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				return tokens, &LexError{Offset: i, Reason: "unterminated block comment"}
			}
			kind = TokenBlockComment
			i = i + 2 + end + 2
		case r == '\'':
			end, err := scanQuoted(input, i, '\'')
			if err != nil {
				return tokens, err
			}
			kind = TokenString
			i = end
		case r == '"' || r == '`':
			end, err := scanQuoted(input, i, byte(r))
			if err != nil {
				return tokens, err
			}
			kind = TokenQuotedIdent
			i = end
		case r == '$' && dollarTag(input[i:]) != "":
			tag := dollarTag(input[i:])
			end := strings.Index(input[i+len(tag):], tag)
			if end < 0 {
				return tokens, &LexError{Offset: i, Reason: "unterminated dollar-quoted string"}
			}
			kind = TokenString
			i = i + len(tag) + end + len(tag)
		case unicode.IsDigit(r):
			kind = TokenNumber
			i = scanWhile(input, i, func(r rune) bool { return unicode.IsDigit(r) || r == '.' || r == 'e' || r == 'E' })
		case isWordStart(r):
			kind = TokenWord
			i = scanWhile(input, i, isWordPart)
		default:
			kind = TokenPunct
			i += size
		}

		tokens = append(tokens, Token{Kind: kind, Text: input[start:i], Start: start})
	}
	return tokens, nil
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func scanWhile(input string, i int, accept func(rune) bool) int {
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		if !accept(r) {
			break
		}
		i += size
	}
	return i
}

func scanLine(input string, i int) int {
	if end := strings.IndexByte(input[i:], '\n'); end >= 0 {
		return i + end
	}
	return len(input)
}

// scanQuoted returns the offset just past a quoted run; a doubled quote is an escape.
func scanQuoted(input string, i int, quote byte) (int, error) {
	j := i + 1
	for j < len(input) {
		if input[j] == quote {
			if j+1 < len(input) && input[j+1] == quote {
				j += 2
				continue
			}
			return j + 1, nil
		}
		j++
	}
	return 0, &LexError{Offset: i, Reason: fmt.Sprintf("unterminated %c-quoted text", quote)}
}

// dollarTag returns "$$" or "$name$" when s opens a dollar-quoted string.
func dollarTag(s string) string {
	if !strings.HasPrefix(s, "$") {
		return ""
	}
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}
