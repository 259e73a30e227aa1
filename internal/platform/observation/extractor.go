package observation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// separator accepts ':' and the ASCII, en, em and minus dashes between a
// label and its value.
const separator = `\s*[:\-\x{2013}\x{2014}\x{2212}]?\s*`

// Extractor applies a fixed rule table to text. It holds no mutable state
// and is safe for concurrent use.
type Extractor struct {
	rules []compiledRule
}

type compiledRule struct {
	Rule
	re        *regexp.Regexp
	first     int
	second    int
	unitGroup int
}

// NewExtractor compiles rules. Observations are reported rule by rule in the
// order given.
func NewExtractor(rules []Rule) (*Extractor, error) {
	e := &Extractor{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(r.pattern())
		if err != nil {
			return nil, fmt.Errorf("compile %s rule: %w", r.Type, err)
		}
		e.rules = append(e.rules, compiledRule{
			Rule:      r,
			re:        re,
			first:     re.SubexpIndex("v1"),
			second:    re.SubexpIndex("v2"),
			unitGroup: re.SubexpIndex("unit"),
		})
	}
	return e, nil
}

// MustNewExtractor is like NewExtractor but panics on an invalid rule.
func MustNewExtractor(rules []Rule) *Extractor {
	e, err := NewExtractor(rules)
	if err != nil {
		panic(err)
	}
	return e
}

var defaultExtractor = MustNewExtractor(DefaultRules())

// Extract runs the default rule table over text.
func Extract(text string) []Observation {
	return defaultExtractor.Extract(text)
}

func (r Rule) pattern() string {
	var b strings.Builder
	b.WriteString(`(?i)\b(?:`)
	b.WriteString(r.Label)
	b.WriteString(`)`)
	b.WriteString(separator)
	b.WriteString(`(?P<v1>` + r.Value + `)`)
	if r.Pair {
		b.WriteString(`\s*/\s*(?P<v2>` + r.Value + `)`)
	}
	if r.Unit != "" {
		unit := `\s*(?P<unit>` + r.Unit + `)`
		if r.UnitRequired {
			b.WriteString(unit)
		} else {
			b.WriteString(`(?:` + unit + `)?`)
		}
	}
	return b.String()
}

// Extract returns every observation found in text. It never fails: text
// that does not satisfy a rule is skipped. The result is empty, not nil,
// when nothing matches.
func (e *Extractor) Extract(text string) []Observation {
	out := []Observation{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	for i := range e.rules {
		out = e.rules[i].collect(text, out)
	}
	return out
}

func (r *compiledRule) collect(text string, out []Observation) []Observation {
	for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
		if adjacentToNumber(text, m[1]) {
			continue
		}
		if o, ok := r.build(text, m); ok {
			out = append(out, o)
		}
	}
	return out
}

func (r *compiledRule) build(text string, m []int) (Observation, bool) {
	o := Observation{Type: r.Type}
	first := group(text, m, r.first)

	var unitToken string
	if r.unitGroup >= 0 {
		unitToken = group(text, m, r.unitGroup)
	}

	if r.Pair {
		sys, err := strconv.Atoi(first)
		if err != nil {
			return Observation{}, false
		}
		dia, err := strconv.Atoi(group(text, m, r.second))
		if err != nil {
			return Observation{}, false
		}
		o.Systolic, o.Diastolic = sys, dia
	} else {
		v, err := strconv.ParseFloat(first, 64)
		if err != nil {
			return Observation{}, false
		}
		o.Value = v
	}

	unit, ok := r.resolveUnit(unitToken, o.Value)
	if !ok {
		return Observation{}, false
	}
	for _, c := range r.Conversions {
		if c.From == unit {
			o.Value = c.Apply(o.Value)
			unit = c.To
			break
		}
	}
	o.Unit = unit
	return o, true
}

func (r *compiledRule) resolveUnit(token string, v float64) (string, bool) {
	if token == "" {
		if r.InferUnit != nil {
			return r.InferUnit(v), true
		}
		return r.DefaultUnit, !r.UnitRequired
	}
	unit, ok := r.Units[normalizeUnit(token)]
	return unit, ok
}

func normalizeUnit(token string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '°' {
			return -1
		}
		return unicode.ToLower(r)
	}, token)
}

func group(text string, m []int, idx int) string {
	if idx < 0 || 2*idx+1 >= len(m) || m[2*idx] < 0 {
		return ""
	}
	return text[m[2*idx]:m[2*idx+1]]
}

// adjacentToNumber reports whether the match ending at end runs straight into
// more of a number or word, e.g. "HR 1234" or "Hb 14.2.3".
func adjacentToNumber(text string, end int) bool {
	if end >= len(text) {
		return false
	}
	r, size := utf8.DecodeRuneInString(text[end:])
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	if r == '.' {
		next, _ := utf8.DecodeRuneInString(text[end+size:])
		return unicode.IsDigit(next)
	}
	return false
}
