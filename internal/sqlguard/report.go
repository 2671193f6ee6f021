package sqlguard

import "strings"

type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report is the verdict plus the display form and a per-check breakdown.
type Report struct {
	Verdict
	Original  string  `json:"original"`
	Sanitized string  `json:"sanitized"`
	Checks    []Check `json:"checks"`
}

func (v *Validator) Report(sql string) Report {
	verdict := v.Validate(sql)
	return Report{
		Verdict:   verdict,
		Original:  sql,
		Sanitized: Sanitize(sql),
		Checks:    v.checks(sql, verdict),
	}
}

// checks lists each stage with the stage that stopped validation marked as
// failed; stages after it are reported as not reached.
func (v *Validator) checks(sql string, verdict Verdict) []Check {
	stages := []string{RuleEmpty, RuleNotSelect, RuleKeyword}
	if v.Strict {
		stages = append(stages, RuleFunction, RuleToken)
	}
	stages = append(stages, RuleInjection)

	out := make([]Check, 0, len(stages))
	reached := true
	for _, stage := range stages {
		switch {
		case !reached:
			out = append(out, Check{Name: stage, Passed: false, Detail: "not reached"})
		case stage == verdict.Rule:
			out = append(out, Check{Name: stage, Passed: false, Detail: verdict.Message})
			reached = false
		default:
			out = append(out, Check{Name: stage, Passed: true})
		}
	}
	if verdict.Safe && strings.TrimSpace(sql) != "" {
		out = append(out, Check{Name: RulePassed, Passed: true, Detail: verdict.Message})
	}
	return out
}
