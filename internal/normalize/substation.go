package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nged-substations/internal/dataset"
)

// Normalizer maps raw facility names to simplified matching keys.
// It is safe for concurrent use.
type Normalizer struct {
	common  []*compiledRule
	sources map[dataset.SourceID][]*compiledRule
}

// New compiles a rule set. Pattern errors are reported here so that Simplify
// itself never fails.
func New(rules RuleSet) (*Normalizer, error) {
	common, err := compileRules(rules.Common)
	if err != nil {
		return nil, err
	}

	n := &Normalizer{
		common:  common,
		sources: make(map[dataset.SourceID][]*compiledRule, len(rules.Sources)),
	}
	for source, list := range rules.Sources {
		compiled, err := compileRules(list)
		if err != nil {
			return nil, err
		}
		n.sources[source] = compiled
	}
	return n, nil
}

// Default returns a normalizer using DefaultRules
func Default() *Normalizer {
	n, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return n
}

// Step is one stage of Explain output
type Step struct {
	Stage  string `json:"stage"`
	Output string `json:"output"`
}

// maxPasses bounds how often Simplify reruns the pipeline on its own output.
// Dropping an apostrophe can join runes that NFC then composes, so a single
// pass is not always stable.
const maxPasses = 4

// Simplify returns the matching key for raw within source. Unknown sources
// only get the common rules.
func (n *Normalizer) Simplify(raw string, source dataset.SourceID) string {
	s := n.simplifyOnce(raw, source)
	for i := 1; i < maxPasses; i++ {
		next := n.simplifyOnce(s, source)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (n *Normalizer) simplifyOnce(raw string, source dataset.SourceID) string {
	s := fold(raw)
	s = punctuate(s)
	s = n.stripNoise(s, source)
	return strings.TrimSpace(s)
}

// Explain runs Simplify and records the text after every stage.
func (n *Normalizer) Explain(raw string, source dataset.SourceID) []Step {
	steps := []Step{{Stage: "raw", Output: raw}}

	s := fold(raw)
	steps = append(steps, Step{Stage: "case_fold", Output: s})

	s = punctuate(s)
	steps = append(steps, Step{Stage: "punctuation", Output: s})

	s = n.stripNoise(s, source)
	steps = append(steps, Step{Stage: "noise", Output: s})

	s = strings.TrimSpace(s)
	steps = append(steps, Step{Stage: "trim", Output: s})

	if final := n.Simplify(raw, source); final != s {
		steps = append(steps, Step{Stage: "repeat", Output: final})
	}
	return steps
}

// stripNoise applies source rules then common rules until nothing changes.
// Running to a fixpoint is what makes Simplify idempotent: removing one token
// can expose another rule match.
func (n *Normalizer) stripNoise(s string, source dataset.SourceID) string {
	rules := make([]*compiledRule, 0, len(n.sources[source])+len(n.common))
	rules = append(rules, n.sources[source]...)
	rules = append(rules, n.common...)

	for {
		before := s
		for _, rule := range rules {
			s = collapse(rule.re.ReplaceAllString(s, " "))
		}
		if s == before {
			return s
		}
	}
}

// IsSimplified reports whether name is already a key Simplify would
// produce for source. Override keys that are not can never match.
func (n *Normalizer) IsSimplified(name string, source dataset.SourceID) bool {
	return n.Simplify(name, source) == name
}

// IsDegenerate reports whether a simplified name cannot serve as a join key
func IsDegenerate(simplified string) bool {
	for _, r := range simplified {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// fold lower-cases with Unicode case folding and drops combining marks,
// so "Ysbyty Ystwyth", "YSBYTY YSTWYTH" and accented spellings agree.
// Folding comes first so marks it introduces (İ folds to i plus a dot) are
// stripped too. The closing ToLower pins scripts whose fold target is the
// upper case form, such as Cherokee, to a single spelling.
func fold(s string) string {
	folded := cases.Fold().String(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, folded)
	if err != nil {
		stripped = folded
	}
	return strings.ToLower(stripped)
}

// punctuate keeps letters and digits, drops apostrophes, spells out "&" and
// turns everything else into single spaces.
func punctuate(s string) string {
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’' || r == '‘' || r == '`':
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteRune(' ')
		}
	}
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
