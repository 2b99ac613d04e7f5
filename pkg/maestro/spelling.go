package maestro

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
)

// RuleSpec rewrites every value matching Regex to Replace. Both sides are
// expressed in normalized form; Replace may use regexp expansion ($1).
type RuleSpec struct {
	Regex   string `yaml:"regex" json:"regex"`
	Replace string `yaml:"replace" json:"replace"`
}

type compiledRule struct {
	re      *regexp.Regexp
	replace string
}

// Spelling reconciles known alternate spellings of normalized values to their
// canonical normalized value. A nil *Spelling is the identity.
type Spelling struct {
	exact map[string]string
	rules []compiledRule
}

// CompileSpelling builds a Spelling from an exact substitution table and
// ordered regex rules. Keys of exact must already be normalized with norm,
// and no exact target may itself be rewritten.
func CompileSpelling(exact map[string]string, rules []RuleSpec, norm Normalizer) (*Spelling, error) {
	if len(exact) == 0 && len(rules) == 0 {
		return nil, nil
	}
	if norm == nil {
		norm = NormalizeLowercase
	}

	s := &Spelling{exact: make(map[string]string, len(exact))}
	for from, to := range exact {
		nf, nt := norm(from), norm(to)
		if nf != from {
			return nil, fmt.Errorf("spelling %q: source is not normalized (want %q)", from, nf)
		}
		s.exact[nf] = nt
	}

	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("spelling rule %q: %w", rule.Regex, err)
		}
		s.rules = append(s.rules, compiledRule{re: re, replace: rule.Replace})
	}

	targets := make([]string, 0, len(s.exact))
	for _, to := range s.exact {
		targets = append(targets, to)
	}
	sort.Strings(targets)
	for _, to := range targets {
		if got := s.Apply(to); got != to {
			return nil, fmt.Errorf("spelling target %q is itself rewritten to %q", to, got)
		}
	}
	return s, nil
}

// maxSpellingSteps bounds how many rewrites Apply follows from one value.
const maxSpellingSteps = 16

// Apply returns the canonical spelling of a normalized value. Exact
// substitutions win over rules; the first matching rule applies. Rewrites
// are repeated until the value stops changing. When rewrites cycle, the
// smallest value of the cycle is returned; when they do not settle within
// maxSpellingSteps, v is returned unchanged. Apply(Apply(v)) == Apply(v).
func (s *Spelling) Apply(v string) string {
	if s == nil {
		return v
	}
	cur := s.step(v)
	if cur == v {
		return v
	}
	seen := map[string]int{v: 0, cur: 1}
	path := []string{v, cur}
	for i := 1; i < maxSpellingSteps; i++ {
		next := s.step(cur)
		if next == cur {
			return cur
		}
		if at, ok := seen[next]; ok {
			return slices.Min(path[at:])
		}
		seen[next] = len(path)
		path = append(path, next)
		cur = next
	}
	return v
}

// step applies a single rewrite.
func (s *Spelling) step(v string) string {
	if to, ok := s.exact[v]; ok {
		return to
	}
	for _, r := range s.rules {
		if r.re.MatchString(v) {
			return r.re.ReplaceAllString(v, r.replace)
		}
	}
	return v
}

// Len returns the number of exact substitutions plus rules.
func (s *Spelling) Len() int {
	if s == nil {
		return 0
	}
	return len(s.exact) + len(s.rules)
}
