package template

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// Match is a placeholder found in template text. It only lives during
// compilation.
type Match struct {
	Start  int
	Length int
	Func   FuncKind
	// Args holds the raw arguments: the cardinality for GenerateId, table and
	// group for ReferenceValue, alternating label and weight for
	// GenerateWeightedLabels.
	Args []string
}

// End returns the offset just past the placeholder.
func (m Match) End() int {
	return m.Start + m.Length
}

var (
	timestampNowPattern   = regexp.MustCompile(`TimestampNow\s*\(\s*\)`)
	generateIDPattern     = regexp.MustCompile(`GenerateId\s*\(\s*(\d+)\s*\)`)
	referenceValuePattern = regexp.MustCompile(`ReferenceValue\s*\(([^,()]+),([^,()]+)\)`)
	weightedCallPattern   = regexp.MustCompile(`GenerateWeightedLabels\s*\(`)
	labelPairPattern      = regexp.MustCompile(`"([^"]+)"\s*,\s*(\d+)`)

	// callSitePattern finds everything that looks like a generator call so
	// that typos fail compilation instead of being copied through as text.
	callSitePattern = regexp.MustCompile(`\b(TimestampNow|ReferenceValue|Generate[A-Za-z0-9_]*)\s*\(`)
)

// Extract finds every placeholder in text. Each function kind is scanned
// independently; the result lists TimestampNow, ReferenceValue, GenerateId
// and GenerateWeightedLabels matches in that order, each kind in order of
// appearance. Unknown Generate*( calls and known calls whose arguments do
// not parse are compile errors.
func Extract(text string) ([]Match, error) {
	var matches []Match

	matches = append(matches, extractTimestampNow(text)...)

	refs, err := extractReferenceValues(text)
	if err != nil {
		return nil, err
	}
	matches = append(matches, refs...)

	ids, err := extractGenerateID(text)
	if err != nil {
		return nil, err
	}
	matches = append(matches, ids...)

	labels, err := extractWeightedLabels(text)
	if err != nil {
		return nil, err
	}
	matches = append(matches, labels...)

	if err := checkCallSites(text, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func extractTimestampNow(text string) []Match {
	var out []Match
	for _, loc := range timestampNowPattern.FindAllStringIndex(text, -1) {
		out = append(out, Match{Start: loc[0], Length: loc[1] - loc[0], Func: FuncTimestampNow})
	}
	return out
}

func extractReferenceValues(text string) ([]Match, error) {
	var out []Match
	for _, loc := range referenceValuePattern.FindAllStringSubmatchIndex(text, -1) {
		table := strings.TrimSpace(text[loc[2]:loc[3]])
		group := strings.TrimSpace(text[loc[4]:loc[5]])
		if table == "" || group == "" {
			return nil, compileError(loc[0], "ReferenceValue needs a table and a group")
		}
		out = append(out, Match{
			Start:  loc[0],
			Length: loc[1] - loc[0],
			Func:   FuncReferenceValue,
			Args:   []string{table, group},
		})
	}
	return out, nil
}

func extractGenerateID(text string) ([]Match, error) {
	var out []Match
	for _, loc := range generateIDPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[2]:loc[3]]
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, compileError(loc[0], "GenerateId cardinality "+raw+" is out of range")
		}
		if n <= 0 {
			return nil, compileError(loc[0], "GenerateId cardinality must be positive")
		}
		out = append(out, Match{
			Start:  loc[0],
			Length: loc[1] - loc[0],
			Func:   FuncGenerateID,
			Args:   []string{raw},
		})
	}
	return out, nil
}

// extractWeightedLabels scans each GenerateWeightedLabels call to its
// matching parenthesis, so labels may themselves contain parentheses.
func extractWeightedLabels(text string) ([]Match, error) {
	var out []Match
	for _, loc := range weightedCallPattern.FindAllStringIndex(text, -1) {
		open := loc[1] - 1
		end, ok := closingParen(text, open)
		if !ok {
			return nil, compileError(loc[0], "GenerateWeightedLabels is missing its closing parenthesis")
		}

		inner := text[open+1 : end]
		var args []string
		for _, m := range labelPairPattern.FindAllStringSubmatch(inner, -1) {
			args = append(args, m[1], m[2])
		}
		leftover := labelPairPattern.ReplaceAllString(inner, "")
		if strings.Trim(leftover, "(), \t\r\n") != "" {
			return nil, compileError(loc[0], "GenerateWeightedLabels arguments must be (\"label\", weight) pairs")
		}
		if _, err := newWeightedLabels(args); err != nil {
			return nil, compileError(loc[0], err.Error())
		}

		out = append(out, Match{
			Start:  loc[0],
			Length: end + 1 - loc[0],
			Func:   FuncWeightedLabels,
			Args:   args,
		})
	}
	return out, nil
}

// closingParen returns the index of the parenthesis closing the one at open.
// Parentheses inside double quoted strings are ignored.
func closingParen(text string, open int) (int, bool) {
	depth := 0
	inQuote := false
	for i := open; i < len(text); i++ {
		switch c := text[i]; {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func checkCallSites(text string, matches []Match) error {
	starts := make(map[int]bool, len(matches))
	for _, m := range matches {
		starts[m.Start] = true
	}

	for _, loc := range callSitePattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		switch name {
		case "TimestampNow", "ReferenceValue", "GenerateId", "GenerateWeightedLabels":
			if !starts[loc[0]] {
				return compileError(loc[0], "malformed "+name+" call")
			}
		default:
			return compileError(loc[0], "unknown generator function "+name)
		}
	}
	return nil
}

// weightedLabel is a label and its cumulative weight threshold.
type weightedLabel struct {
	label     string
	threshold int
}

// weightedLabels is an immutable weighted label set.
type weightedLabels struct {
	labels []weightedLabel
	total  int
}

// newWeightedLabels builds the cumulative thresholds from alternating
// label, weight arguments.
func newWeightedLabels(args []string) (*weightedLabels, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("GenerateWeightedLabels needs at least one label")
	}

	set := &weightedLabels{}
	for i := 0; i+1 < len(args); i += 2 {
		w, err := strconv.Atoi(args[i+1])
		if err != nil || w > math.MaxInt32 || set.total > math.MaxInt32-w {
			return nil, fmt.Errorf("label weight %s is out of range", args[i+1])
		}
		set.total += w
		set.labels = append(set.labels, weightedLabel{label: args[i], threshold: set.total})
	}
	if set.total == 0 {
		return nil, fmt.Errorf("GenerateWeightedLabels weights sum to zero")
	}
	return set, nil
}

// pick returns the first label whose threshold exceeds n, for n in [0, total).
func (s *weightedLabels) pick(n int) string {
	for _, l := range s.labels {
		if l.threshold > n {
			return l.label
		}
	}
	return s.labels[len(s.labels)-1].label
}

func compileError(offset int, message string) error {
	return errors.Newf(errors.ErrorTypeCompile, "%s at offset %d", message, offset).
		WithDetail("offset", offset)
}
