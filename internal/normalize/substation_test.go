package normalize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nged-substations/internal/dataset"
)

func TestSimplify(t *testing.T) {
	n := Default()

	tests := []struct {
		name   string
		source dataset.SourceID
		input  string
		want   string
	}{
		{
			name:   "location name with voltage and substation suffix",
			source: dataset.SubstationLocations,
			input:  "Alliance And Leicester 33 11kv S Stn",
			want:   "alliance and leicester",
		},
		{
			name:   "flow resource with ampersand",
			source: dataset.LivePrimaryFlows,
			input:  "Alliance & Leicester Primary Transformer Flows",
			want:   "alliance and leicester",
		},
		{
			name:   "flow resource without counterpart",
			source: dataset.LivePrimaryFlows,
			input:  "Deanshanger Primary Transformer Flows",
			want:   "deanshanger",
		},
		{
			name:   "slash separated voltages",
			source: dataset.SubstationLocations,
			input:  "Sheepbridge 11/6 6kv S/Stn",
			want:   "sheepbridge",
		},
		{
			name:   "three voltages",
			source: dataset.SubstationLocations,
			input:  "Sheffield Road 33 11 6 6kv S Stn",
			want:   "sheffield road",
		},
		{
			name:   "detached kv",
			source: dataset.SubstationLocations,
			input:  "Infinity Park 33 11 Kv S Stn",
			want:   "infinity park",
		},
		{
			name:   "decimal voltage",
			source: dataset.SubstationLocations,
			input:  "Sandy Lane 33/6.6kV S Stn",
			want:   "sandy lane",
		},
		{
			name:   "single digit in the name is kept",
			source: dataset.SubstationLocations,
			input:  "Station 2 33kv",
			want:   "station 2",
		},
		{
			name:   "single digit before a voltage pair",
			source: dataset.SubstationLocations,
			input:  "Foo 2 33 11kv S Stn",
			want:   "foo 2",
		},
		{
			name:   "single digit before a decimal voltage",
			source: dataset.SubstationLocations,
			input:  "Works 3 11/6.6kV S Stn",
			want:   "works 3",
		},
		{
			name:   "historical flow resource",
			source: dataset.LivePrimaryFlows,
			input:  "Aberaeron 11kV Transformer Flows",
			want:   "aberaeron",
		},
		{
			name:   "live name ending in primary",
			source: dataset.LivePrimaryFlows,
			input:  "Ystradgynlais Primary",
			want:   "ystradgynlais",
		},
		{
			name:   "apostrophe dropped",
			source: dataset.SubstationLocations,
			input:  "King's Lynn",
			want:   "kings lynn",
		},
		{
			name:   "punctuation and whitespace runs",
			source: dataset.SubstationLocations,
			input:  "  Regent   St.  ",
			want:   "regent st",
		},
		{
			name:   "accents folded",
			source: dataset.SubstationLocations,
			input:  "Café Royal",
			want:   "cafe royal",
		},
		{
			name:   "flow rules not applied to other sources",
			source: dataset.SourceID("unknown"),
			input:  "Whatever Transformer Flows",
			want:   "whatever transformer flows",
		},
		{
			name:   "empty input",
			source: dataset.LivePrimaryFlows,
			input:  "",
			want:   "",
		},
		{
			name:   "only noise",
			source: dataset.LivePrimaryFlows,
			input:  "Primary Transformer Flows",
			want:   "",
		},
		{
			name:   "noise exposed by removal",
			source: dataset.LivePrimaryFlows,
			input:  "Hill S Primary Stn",
			want:   "hill",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Simplify(tt.input, tt.source))
		})
	}
}

func TestSimplifyIdempotent(t *testing.T) {
	n := Default()

	inputs := []string{
		"Alliance And Leicester 33 11kv S Stn",
		"Alliance & Leicester Primary Transformer Flows",
		"Sheepbridge 11/6 6kv S/Stn",
		"primary primary primary",
		"S S Stn Stn",
		"11 11 11kv kv",
		"ÅNGSTRÖM   Road & & Co.",
		"Straße Nord",
		"  ---  ",
		"42",
		"Hill S Primary Stn",
		"Park Lane",
		"Ꭰꭰ ᏸᏰ Ᏸ",
		"İstanbul DİŞ",
		"ᄀ'ᅡ Road",
		"ǅemal ǈuba",
	}
	// every assigned and unassigned code point up to the end of plane 2,
	// in batches, each rune standing alone and inside a word
	for start := rune(0); start < 0x30000; start += 64 {
		var b strings.Builder
		for r := start; r < start+64; r++ {
			if !utf8.ValidRune(r) {
				continue
			}
			b.WriteString("ab")
			b.WriteRune(r)
			b.WriteString("cd ")
			b.WriteRune(r)
			b.WriteByte(' ')
		}
		inputs = append(inputs, b.String())
	}
	sources := []dataset.SourceID{dataset.SubstationLocations, dataset.LivePrimaryFlows, "other"}

	for _, source := range sources {
		for _, input := range inputs {
			once := n.Simplify(input, source)
			twice := n.Simplify(once, source)
			if !assert.Equal(t, once, twice, "source %s input %q", source, input) {
				return
			}
		}
	}
}

func TestSimplifyCaseVariantsAgree(t *testing.T) {
	n := Default()

	tests := []struct {
		name  string
		upper string
		lower string
	}{
		{name: "latin", upper: "YSBYTY YSTWYTH", lower: "ysbyty ystwyth"},
		{name: "cherokee", upper: "ᎠᎡᎢ", lower: "ꭰꭱꭲ"},
		{name: "cherokee small letters", upper: "ᏰᏱ", lower: "ᏸᏹ"},
		{name: "dotted capital i", upper: "İLKLEY", lower: "ilkley"},
		{name: "greek final sigma", upper: "ΟΔΟΣ", lower: "οδος"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, n.Simplify(tt.lower, dataset.LivePrimaryFlows), n.Simplify(tt.upper, dataset.LivePrimaryFlows))
		})
	}
}

func TestSimplifyComposesAfterApostropheRemoval(t *testing.T) {
	n := Default()

	got := n.Simplify("ᄀ'ᅡ", dataset.SubstationLocations)
	assert.Equal(t, "가", got)

	steps := n.Explain("ᄀ'ᅡ", dataset.SubstationLocations)
	require.Len(t, steps, 6)
	assert.Equal(t, "repeat", steps[5].Stage)
	assert.Equal(t, got, steps[5].Output)
}

func TestExplain(t *testing.T) {
	n := Default()

	steps := n.Explain("Alliance & Leicester Primary Transformer Flows", dataset.LivePrimaryFlows)
	require.Len(t, steps, 5)

	assert.Equal(t, "raw", steps[0].Stage)
	assert.Equal(t, "alliance & leicester primary transformer flows", steps[1].Output)
	assert.Equal(t, "alliance and leicester primary transformer flows", steps[2].Output)
	assert.Equal(t, "alliance and leicester", steps[4].Output)
	assert.Equal(t, n.Simplify("Alliance & Leicester Primary Transformer Flows", dataset.LivePrimaryFlows), steps[4].Output)
}

func TestNewRejectsBadRules(t *testing.T) {
	_, err := New(RuleSet{Common: []NoiseRule{{Pattern: "(", Regex: true}}})
	require.Error(t, err)

	_, err = New(RuleSet{Sources: map[dataset.SourceID][]NoiseRule{"x": {{Pattern: "!!"}}}})
	require.Error(t, err)
}

func TestLiteralRulesAreNormalized(t *testing.T) {
	n, err := New(RuleSet{
		Sources: map[dataset.SourceID][]NoiseRule{
			"historic": {{Pattern: "S/Stn"}, {Pattern: "GRID & BSP"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "bishops wood", n.Simplify("Bishops Wood S Stn", "historic"))
	assert.Equal(t, "bishops wood", n.Simplify("Bishops Wood Grid and BSP", "historic"))
}

func TestIsDegenerate(t *testing.T) {
	assert.True(t, IsDegenerate(""))
	assert.True(t, IsDegenerate("42"))
	assert.True(t, IsDegenerate("6 6"))
	assert.False(t, IsDegenerate("kings lynn"))
	assert.False(t, IsDegenerate("a1"))
}

func TestParseRules(t *testing.T) {
	t.Run("replace", func(t *testing.T) {
		rules, err := ParseRules([]byte(`
common:
  - pattern: "s stn"
sources:
  historic:
    - pattern: "11kv transformer flows"
`))
		require.NoError(t, err)
		require.Len(t, rules.Common, 1)
		assert.Equal(t, "s stn", rules.Common[0].Pattern)
		require.Len(t, rules.Sources["historic"], 1)

		n, err := New(rules)
		require.NoError(t, err)
		assert.Equal(t, "aberaeron", n.Simplify("Aberaeron 11kV Transformer Flows", "historic"))
		assert.Equal(t, "aberaeron 33kv", n.Simplify("Aberaeron 33kV", dataset.SubstationLocations))
	})

	t.Run("extend defaults", func(t *testing.T) {
		rules, err := ParseRules([]byte(`
extend_defaults: true
common:
  - pattern: "tee"
`))
		require.NoError(t, err)
		assert.Len(t, rules.Common, len(DefaultRules().Common)+1)
		assert.Equal(t, "tee", rules.Common[0].Pattern)

		n, err := New(rules)
		require.NoError(t, err)
		assert.Equal(t, "deanshanger", n.Simplify("Deanshanger Tee 33kV", dataset.SubstationLocations))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseRules([]byte("common: [\n"))
		assert.Error(t, err)
	})
}
