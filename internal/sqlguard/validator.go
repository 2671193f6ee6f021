package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	RuleEmpty     = "empty"
	RuleNotSelect = "not_select"
	RuleKeyword   = "keyword"
	RuleFunction  = "function"
	RuleToken     = "token"
	RuleInjection = "injection"
	RulePassed    = "passed"
)

const (
	MessageEmpty     = "empty statement"
	MessageNotSelect = "only SELECT allowed"
	MessageInjection = "potential injection pattern"
	MessagePassed    = "check passed"
)

// DangerousKeywords is matched as a case-insensitive substring of the whole
// statement, so identifiers such as reset_at or insert_time are rejected too.
// EXECUTE precedes EXEC so the reported keyword is the longest one present.
var DangerousKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "SET", "EXECUTE", "EXEC", "CALL", "DECLARE",
	"INTO", "LOAD", "OUTFILE", "DUMPFILE",
}

var DangerousFunctions = []string{
	"LOAD_FILE", "INTO OUTFILE", "INTO DUMPFILE", "BENCHMARK", "SLEEP", "GET_LOCK",
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*(DROP|DELETE|UPDATE|INSERT)`),
	regexp.MustCompile(`(?i)UNION\s+SELECT.*--`),
	regexp.MustCompile(`/\*.*\*/`),
	regexp.MustCompile(`--.*`),
	regexp.MustCompile(`#.*`),
}

var keywordSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(DangerousKeywords))
	for _, kw := range DangerousKeywords {
		set[kw] = struct{}{}
	}
	return set
}()

type Verdict struct {
	Safe    bool   `json:"is_safe"`
	Message string `json:"message"`
	Rule    string `json:"rule"`
}

func pass() Verdict {
	return Verdict{Safe: true, Message: MessagePassed, Rule: RulePassed}
}

func reject(rule, message string) Verdict {
	return Verdict{Safe: false, Message: message, Rule: rule}
}

// Validator admits read-only SELECT statements. Strict adds the dangerous
// function denylist and a tokenized re-check of statement shape.
type Validator struct {
	Strict bool
}

func NewValidator(strict bool) *Validator {
	return &Validator{Strict: strict}
}

// Validate runs the checks in order and stops at the first failure.
func (v *Validator) Validate(sql string) Verdict {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return reject(RuleEmpty, MessageEmpty)
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return reject(RuleNotSelect, MessageNotSelect)
	}

	for _, kw := range DangerousKeywords {
		if strings.Contains(upper, kw) {
			return reject(RuleKeyword, "dangerous keyword detected: "+kw)
		}
	}

	if v.Strict {
		for _, fn := range DangerousFunctions {
			if strings.Contains(upper, fn) {
				return reject(RuleFunction, "dangerous function detected: "+fn)
			}
		}
		if verdict, ok := checkTokens(trimmed); !ok {
			return verdict
		}
	}

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(trimmed) {
			return reject(RuleInjection, MessageInjection)
		}
	}
	return pass()
}

// checkTokens requires every statement to open with the SELECT keyword and no
// bare word to be a denylisted keyword.
func checkTokens(sql string) (Verdict, bool) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return reject(RuleToken, "statement could not be tokenized"), false
	}

	statement := 1
	first := true
	for _, tok := range tokens {
		if !tok.Significant() {
			continue
		}
		if tok.Kind == TokenPunct && tok.Text == ";" {
			statement++
			first = true
			continue
		}
		if first {
			first = false
			if tok.Kind != TokenWord || tok.Upper() != "SELECT" {
				return reject(RuleToken, fmt.Sprintf("statement %d does not begin with SELECT", statement)), false
			}
		}
		if tok.Kind == TokenWord {
			if _, bad := keywordSet[tok.Upper()]; bad {
				return reject(RuleToken, "dangerous keyword token: "+tok.Upper()), false
			}
		}
	}
	return Verdict{}, true
}
