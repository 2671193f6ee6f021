package sqlguard

import "strings"

var displayKeywords = toSet(
	"SELECT", "DISTINCT", "FROM", "WHERE", "AND", "OR", "NOT", "IN", "IS", "NULL",
	"AS", "ON", "USING", "JOIN", "LEFT", "RIGHT", "INNER", "OUTER", "FULL", "CROSS", "NATURAL",
	"GROUP", "BY", "ORDER", "HAVING", "LIMIT", "OFFSET", "UNION", "INTERSECT", "EXCEPT", "ALL",
	"CASE", "WHEN", "THEN", "ELSE", "END", "ASC", "DESC", "LIKE", "ILIKE", "BETWEEN", "EXISTS",
	"WITH", "COUNT", "SUM", "AVG", "MIN", "MAX", "CAST", "COALESCE", "TRUE", "FALSE", "NULLS",
	"FIRST", "LAST", "OVER", "PARTITION", "FILTER", "INTERVAL",
)

var clauseStarts = toSet(
	"FROM", "WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "UNION", "INTERSECT", "EXCEPT",
	"JOIN", "LEFT", "RIGHT", "INNER", "FULL", "CROSS", "NATURAL",
)

// joinModifiers introduce a JOIN; the JOIN that follows them stays on the same line.
var joinModifiers = toSet("LEFT", "RIGHT", "INNER", "FULL", "CROSS", "NATURAL", "OUTER")

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Sanitize produces a display form of sql: trimmed, without trailing
// separators, keywords upper-cased and top-level clauses on their own lines.
// Literals, quoted identifiers and comments are copied unchanged. The result
// is for echo-back only and is never executed.
func Sanitize(sql string) string {
	trimmed := strings.TrimSpace(sql)
	trimmed = strings.TrimSpace(strings.TrimRight(trimmed, ";"))

	tokens, err := Tokenize(trimmed)
	if err != nil {
		return trimmed
	}

	// Moving line breaks could join or split a /* ... */ pair on one line, so
	// such statements keep their original line structure.
	reindent := !(strings.Contains(trimmed, "/*") && strings.Contains(trimmed, "*/"))

	var b strings.Builder
	depth := 0
	prevWord := ""
	for i, tok := range tokens {
		switch tok.Kind {
		case TokenWhitespace:
			b.WriteString(separator(tokens, i, depth, prevWord, reindent))
		case TokenWord:
			upper := tok.Upper()
			if _, ok := displayKeywords[upper]; ok {
				b.WriteString(upper)
			} else {
				b.WriteString(tok.Text)
			}
			prevWord = upper
		case TokenPunct:
			switch tok.Text {
			case "(":
				depth++
			case ")":
				if depth > 0 {
					depth--
				}
			}
			b.WriteString(tok.Text)
			prevWord = ""
		default:
			b.WriteString(tok.Text)
			if tok.Significant() {
				prevWord = ""
			}
		}
	}
	return b.String()
}

// separator picks the whitespace written in place of tokens[i]. Without
// reindenting the original text is kept: the injection patterns treat \r and
// \n differently, so even normalizing line endings could change a verdict.
func separator(tokens []Token, i, depth int, prevWord string, reindent bool) string {
	if !reindent {
		return tokens[i].Text
	}
	if i > 0 && tokens[i-1].Kind == TokenLineComment {
		return "\n"
	}
	if i+1 < len(tokens) && depth == 0 && tokens[i+1].Kind == TokenWord {
		next := tokens[i+1].Upper()
		if _, ok := clauseStarts[next]; ok {
			if _, modified := joinModifiers[prevWord]; !(modified && next == "JOIN") {
				return "\n"
			}
		}
	}
	return " "
}
