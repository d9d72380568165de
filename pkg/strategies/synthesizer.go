/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: synthesizer.go
Description: Test case synthesis. Turns the declarative constraints of a rule set into
at most one minimal adversarial input per category per field, consulting the safety
allow-list before any case is generated. Output is deterministic for identical input.
*/

package strategies

import (
	"strconv"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
)

// Filler and fixed invalid values used by the generators
const (
	fillerChar      = "X"
	overflowPadding = 10
	patternBreaker  = "Invalid!@#$%^&*()"
	nonNumericValue = "abc123"
	unlistedOption  = "__unlisted_option__"
)

// Expected error patterns per category
const (
	PatternRequired   = "required"
	PatternTooLong    = "too long|maximum|exceed"
	PatternTooShort   = "too short|minimum|at least"
	PatternFormat     = "invalid|format|pattern"
	PatternBelowMin   = "minimum|below|greater"
	PatternAboveMax   = "maximum|above|less"
	PatternNonNumeric = "number|numeric|invalid"
	PatternUnlisted   = "invalid|option|select"
)

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func numericInput(typ string) bool {
	return typ == "number" || typ == "range"
}

// generate returns the cases one constraint yields, before de-duplication
func generate(c interfaces.FieldConstraint) []interfaces.TestCase {
	tc := func(cat interfaces.TestCategory, value, pattern string) interfaces.TestCase {
		return interfaces.TestCase{
			FieldID:              c.FieldID,
			Category:             cat,
			InvalidValue:         value,
			ExpectedErrorPattern: pattern,
		}
	}

	switch c.Kind {
	case interfaces.KindRequired:
		return []interfaces.TestCase{tc(interfaces.CategoryRequiredEmpty, "", PatternRequired)}

	case interfaces.KindMaxLength:
		n, err := strconv.Atoi(c.BoundValue)
		if err != nil || n <= 0 {
			return nil
		}
		return []interfaces.TestCase{tc(interfaces.CategoryExceedsMaxLength, strings.Repeat(fillerChar, n+overflowPadding), PatternTooLong)}

	case interfaces.KindMinLength:
		n, err := strconv.Atoi(c.BoundValue)
		if err != nil || n <= 1 {
			return nil
		}
		return []interfaces.TestCase{tc(interfaces.CategoryBelowMinLength, strings.Repeat(fillerChar, n-1), PatternTooShort)}

	case interfaces.KindPattern:
		return []interfaces.TestCase{tc(interfaces.CategoryPatternViolation, patternBreaker, PatternFormat)}

	case interfaces.KindNumericRange:
		var out []interfaces.TestCase
		if c.Min != nil {
			out = append(out, tc(interfaces.CategoryBelowMinimum, formatNumber(*c.Min-1), PatternBelowMin))
		}
		if c.Max != nil {
			out = append(out, tc(interfaces.CategoryAboveMaximum, formatNumber(*c.Max+1), PatternAboveMax))
		}
		if numericInput(c.InputType) {
			out = append(out, tc(interfaces.CategoryNonNumeric, nonNumericValue, PatternNonNumeric))
		}
		return out

	case interfaces.KindEnumerated:
		value := unlistedOption
		for contains(c.Options, value) {
			value += "_"
		}
		return []interfaces.TestCase{tc(interfaces.CategoryUnlistedOption, value, PatternUnlisted)}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Synthesize produces the test cases for a rule set. Constraints whose
// field is not allow-listed yield nothing.
func Synthesize(rules *interfaces.ValidationRuleSet, allow *AllowList) []interfaces.TestCase {
	if rules == nil {
		return nil
	}
	var out []interfaces.TestCase
	seen := make(map[string]bool)
	for _, c := range rules.DeclarativeConstraints {
		if !allow.Allows(c.FieldID) {
			continue
		}
		for _, tc := range generate(c) {
			if seen[tc.ID()] {
				continue
			}
			seen[tc.ID()] = true
			out = append(out, tc)
		}
	}
	return out
}

// SynthesizePage is Synthesize gated by the page deny list
func SynthesizePage(page string, rules *interfaces.ValidationRuleSet, allow *AllowList) []interfaces.TestCase {
	if !allow.PageAllowed(page) {
		return nil
	}
	return Synthesize(rules, allow)
}
