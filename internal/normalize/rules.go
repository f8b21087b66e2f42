package normalize

import (
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"

	"github.com/nged-substations/internal/dataset"
)

// NoiseRule describes a token sequence stripped from names during step 3.
// Literal patterns are normalized with the same case and punctuation rules as
// names, so "S/Stn" and "s stn" are equivalent. Regex patterns are applied to
// already-normalized text. Both only ever match whole space-delimited tokens.
type NoiseRule struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	Regex   bool   `mapstructure:"regex" yaml:"regex" json:"regex,omitempty"`
}

// RuleSet holds the common rules applied to every source plus per-source rules.
type RuleSet struct {
	Common  []NoiseRule                      `mapstructure:"common" yaml:"common" json:"common"`
	Sources map[dataset.SourceID][]NoiseRule `mapstructure:"sources" yaml:"sources" json:"sources"`
}

// Voltage descriptors seen in the location and flow tables, e.g.
// "Sheffield Road 33 11 6 6kv S Stn", "Infinity Park 33 11 Kv S Stn", "Aberaeron 11kV".
// Only two or three digit voltages and the "6 6" form of 6.6kV are taken, so
// a single digit belonging to the name ("Station 2 33kv") is kept.
var (
	ruleVoltageDescriptor = NoiseRule{Pattern: `(?:\d{2,3} )*(?:\d{2,3}|\d \d) ?kv`, Regex: true}
	ruleVoltageToken      = NoiseRule{Pattern: `132|66|33|11`, Regex: true}
	ruleBareKV            = NoiseRule{Pattern: "kv"}
	ruleSubstation        = NoiseRule{Pattern: "s stn"}
	rulePrimary           = NoiseRule{Pattern: "primary"}
)

// DefaultRules returns the rule set for the location table and the live
// primary flow resources.
func DefaultRules() RuleSet {
	return RuleSet{
		Common: []NoiseRule{
			ruleVoltageDescriptor,
			ruleVoltageToken,
			ruleBareKV,
			ruleSubstation,
			rulePrimary,
		},
		Sources: map[dataset.SourceID][]NoiseRule{
			dataset.LivePrimaryFlows: {
				{Pattern: "primary transformer flows"},
				{Pattern: "transformer flows"},
			},
		},
	}
}

// rulesFile is the YAML layout of a rule file. With extend_defaults the
// file's rules run before the default ones instead of replacing them.
type rulesFile struct {
	ExtendDefaults bool `yaml:"extend_defaults"`
	RuleSet        `yaml:",inline"`
}

// LoadRules reads a YAML rule file
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rule data
func ParseRules(data []byte) (RuleSet, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	if !file.ExtendDefaults {
		return file.RuleSet, nil
	}

	merged := DefaultRules()
	merged.Common = append(append([]NoiseRule{}, file.Common...), merged.Common...)
	for source, rules := range file.Sources {
		merged.Sources[source] = append(append([]NoiseRule{}, rules...), merged.Sources[source]...)
	}
	return merged, nil
}

// compiledRule matches a rule on token boundaries of normalized text
type compiledRule struct {
	source NoiseRule
	re     *regexp.Regexp
}

func compileRule(rule NoiseRule) (*compiledRule, error) {
	var body string
	if rule.Regex {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return nil, fmt.Errorf("invalid noise regex %q: %w", rule.Pattern, err)
		}
		body = rule.Pattern
	} else {
		literal := punctuate(fold(rule.Pattern))
		if literal == "" {
			return nil, fmt.Errorf("noise pattern %q is empty after normalization", rule.Pattern)
		}
		body = regexp.QuoteMeta(literal)
	}

	re, err := regexp.Compile(`(?:^| )(?:` + body + `)(?: |$)`)
	if err != nil {
		return nil, fmt.Errorf("invalid noise pattern %q: %w", rule.Pattern, err)
	}
	return &compiledRule{source: rule, re: re}, nil
}

func compileRules(rules []NoiseRule) ([]*compiledRule, error) {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	return compiled, nil
}
