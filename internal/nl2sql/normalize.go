package nl2sql

import (
	"regexp"
	"strings"
)

const (
	// FailurePrefix marks a sentinel answer the backend was told to give when it
	// cannot produce a query.
	FailurePrefix = "ERROR:"

	ReasonNotSelect = "ERROR: generated statement is not a SELECT query"
)

const fence = "```"

// preambles are lead-ins some models put before the statement despite being told not to.
var preambles = []string{
	"根据您的查询需求，生成的SQL语句如下：",
	"SQL语句：",
	"查询语句：",
	"生成的SQL：",
	"答案：",
	"结果：",
	"SQL:",
	"Query:",
	"Answer:",
}

var infoStringPattern = regexp.MustCompile(`^[A-Za-z0-9_+.-]+$`)

// GenerationResult is either a SELECT candidate (OK) or a failure reason that
// is shown to the user as-is.
type GenerationResult struct {
	OK     bool   `json:"ok"`
	SQL    string `json:"sql,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func Success(sql string) GenerationResult {
	return GenerationResult{OK: true, SQL: sql}
}

func Failure(reason string) GenerationResult {
	return GenerationResult{Reason: reason}
}

// ExtractSQL pulls the single statement out of raw backend text. It never
// fails: when nothing matches, the trimmed input comes back unchanged.
func ExtractSQL(raw string) string {
	text := strings.TrimSpace(raw)

	candidate, fenced := fencedBlock(text)
	if !fenced {
		candidate = text
		if !startsWithSelect(candidate) {
			if line, ok := firstSelectLine(candidate); ok {
				candidate = line
			}
		}
	}

	candidate = strings.TrimSpace(candidate)
	for _, preamble := range preambles {
		if strings.HasPrefix(candidate, preamble) {
			candidate = strings.TrimSpace(strings.TrimPrefix(candidate, preamble))
		}
	}
	candidate = strings.TrimSuffix(candidate, ";")
	return strings.TrimSpace(candidate)
}

// Classify decides whether an extracted candidate is usable. A sentinel
// failure is returned verbatim.
func Classify(candidate string) GenerationResult {
	candidate = strings.TrimSpace(candidate)
	if strings.HasPrefix(candidate, FailurePrefix) {
		return Failure(candidate)
	}
	if !startsWithSelect(candidate) {
		return Failure(ReasonNotSelect)
	}
	return Success(candidate)
}

// Normalize is ExtractSQL followed by Classify.
func Normalize(raw string) GenerationResult {
	return Classify(ExtractSQL(raw))
}

func startsWithSelect(text string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), "SELECT")
}

// fencedBlock returns the interior of the first ```sql block, or failing that
// the interior of the first complete ``` block.
func fencedBlock(text string) (string, bool) {
	offset := 0
	for {
		idx := strings.Index(text[offset:], fence)
		if idx < 0 {
			break
		}
		start := offset + idx + len(fence)
		if isSQLTag(text[start:]) {
			rest := text[start+len("sql"):]
			if end := strings.Index(rest, fence); end >= 0 {
				rest = rest[:end]
			}
			return rest, true
		}
		offset = start
	}

	parts := strings.Split(text, fence)
	if len(parts) < 3 {
		return "", false
	}
	return dropInfoString(parts[1]), true
}

func isSQLTag(rest string) bool {
	if len(rest) < 3 || !strings.EqualFold(rest[:3], "sql") {
		return false
	}
	if len(rest) == 3 {
		return true
	}
	switch rest[3] {
	case '\n', '\r', ' ', '\t':
		return true
	default:
		return false
	}
}

// dropInfoString removes a language tag such as "postgresql" that directly
// follows an opening fence.
func dropInfoString(block string) string {
	firstLine, rest, found := strings.Cut(block, "\n")
	if !found || strings.TrimSpace(rest) == "" {
		return block
	}
	tag := strings.TrimSpace(firstLine)
	if tag != firstLine || !infoStringPattern.MatchString(tag) {
		return block
	}
	switch strings.ToUpper(tag) {
	case "SELECT", "WITH":
		return block
	}
	return rest
}

func firstSelectLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
			return trimmed, true
		}
	}
	return "", false
}
