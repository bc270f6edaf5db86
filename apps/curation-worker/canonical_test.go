package main

import (
	"reflect"
	"testing"
)

// TestCollapseABA verifies the three-token "A B A" pattern collapses to "A"
func TestCollapseABA(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "maraschino cherry",
			input:    "cherry maraschino cherry",
			expected: "cherry",
		},
		{
			name:     "two tokens pass through",
			input:    "black currant",
			expected: "black currant",
		},
		{
			name:     "three tokens without repeat pass through",
			input:    "fresh cut grass",
			expected: "fresh cut grass",
		},
		{
			name:     "four tokens pass through even with outer repeat",
			input:    "currant bud currant bud",
			expected: "currant bud currant bud",
		},
		{
			name:     "single token passes through",
			input:    "cherry",
			expected: "cherry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := collapseABA(tt.input)
			if result != tt.expected {
				t.Errorf("collapseABA(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestCollapseCheese verifies the exact "cheesy <variety> cheese" shape
func TestCollapseCheese(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "parmesan",
			input:    "cheesy parmesan cheese",
			expected: "cheesy",
		},
		{
			name:     "roquefort",
			input:    "cheesy roquefort cheese",
			expected: "cheesy",
		},
		{
			name:     "wrong first token passes through",
			input:    "sharp parmesan cheese",
			expected: "sharp parmesan cheese",
		},
		{
			name:     "wrong last token passes through",
			input:    "cheesy parmesan rind",
			expected: "cheesy parmesan rind",
		},
		{
			name:     "plain cheesy passes through",
			input:    "cheesy",
			expected: "cheesy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := collapseCheese(tt.input)
			if result != tt.expected {
				t.Errorf("collapseCheese(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestStripQualifier verifies trailing qualifier removal: first qualifier in
// list order wins, one removal per label
func TestStripQualifier(t *testing.T) {
	rule := stripQualifier(defaultCanonicalConfig().Qualifiers)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lemon peel",
			input:    "lemon peel",
			expected: "lemon",
		},
		{
			name:     "orange juice",
			input:    "orange juice",
			expected: "orange",
		},
		{
			name:     "egg yolk",
			input:    "egg yolk",
			expected: "egg",
		},
		{
			name:     "list order decides when several match",
			input:    "orange peel juice",
			expected: "orange juice",
		},
		{
			name:     "one removal per label",
			input:    "potato skin chip",
			expected: "potato chip",
		},
		{
			name:     "no qualifier passes through",
			input:    "lemon",
			expected: "lemon",
		},
		{
			name:     "qualifier word without leading space passes through",
			input:    "peel",
			expected: "peel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rule(tt.input)
			if result != tt.expected {
				t.Errorf("stripQualifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestCollapseSynonyms verifies substring-marked family collapse
func TestCollapseSynonyms(t *testing.T) {
	rule := collapseSynonyms(defaultCanonicalConfig().Families)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare marker",
			input:    "currant",
			expected: "black currant",
		},
		{
			name:     "compound variant",
			input:    "blackcurrant",
			expected: "black currant",
		},
		{
			name:     "phrase containing marker",
			input:    "currant bud",
			expected: "black currant",
		},
		{
			name:     "canonical form is stable",
			input:    "black currant",
			expected: "black currant",
		},
		{
			name:     "unrelated label passes through",
			input:    "raspberry",
			expected: "raspberry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rule(tt.input)
			if result != tt.expected {
				t.Errorf("collapseSynonyms(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestUnifyAdjectives verifies the L+"y" form folds onto L when the
// vocabulary holds both
func TestUnifyAdjectives(t *testing.T) {
	vocab := map[string]struct{}{
		"fish":  {},
		"fishy": {},
		"musk":  {},
		"woody": {},
		"berry": {},
	}
	rule := unifyAdjectives(vocab)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "both forms present",
			input:    "fishy",
			expected: "fish",
		},
		{
			name:     "noun form is stable",
			input:    "fish",
			expected: "fish",
		},
		{
			name:     "adjective without noun passes through",
			input:    "woody",
			expected: "woody",
		},
		{
			name:     "y-final word without pair passes through",
			input:    "berry",
			expected: "berry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rule(tt.input)
			if result != tt.expected {
				t.Errorf("unifyAdjectives(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestResolveContradictions verifies the no-odor sentinel is dropped only
// where a positive descriptor co-occurs
func TestResolveContradictions(t *testing.T) {
	rows := []EntityRow{
		{Key: "A", Labels: NewLabelSet("odorless", "musk")},
		{Key: "B", Labels: NewLabelSet("odorless")},
		{Key: "C", Labels: NewLabelSet("sweet", "fruity")},
	}

	out, removed := resolveContradictions(rows, "odorless")
	if removed != 1 {
		t.Errorf("resolveContradictions removed %d sentinels, want 1", removed)
	}
	if got := out[0].Labels.Sorted(); !reflect.DeepEqual(got, []string{"musk"}) {
		t.Errorf("entity A labels = %v, want [musk]", got)
	}
	if got := out[1].Labels.Sorted(); !reflect.DeepEqual(got, []string{"odorless"}) {
		t.Errorf("entity B labels = %v, want [odorless] (sentinel alone is kept)", got)
	}
	if got := out[2].Labels.Sorted(); !reflect.DeepEqual(got, []string{"fruity", "sweet"}) {
		t.Errorf("entity C labels = %v, want [fruity sweet]", got)
	}

	// Input rows are not mutated
	if !rows[0].Labels.Has("odorless") {
		t.Errorf("resolveContradictions mutated its input")
	}
}

// TestBuildCanonicalMapping verifies the composed battery over a mixed
// vocabulary, identity entries omitted
func TestBuildCanonicalMapping(t *testing.T) {
	vocab := map[string]struct{}{
		"cherry maraschino cherry": {},
		"cheesy parmesan cheese":   {},
		"lemon peel":               {},
		"currant bud":              {},
		"fish":                     {},
		"fishy":                    {},
		"alliaceous":               {},
		"sweet":                    {},
	}

	mapping := buildCanonicalMapping(vocab, defaultCanonicalConfig())

	expected := map[string]string{
		"cherry maraschino cherry": "cherry",
		"cheesy parmesan cheese":   "cheesy",
		"lemon peel":               "lemon",
		"currant bud":              "black currant",
		"fishy":                    "fish",
		"alliaceous":               "garlic",
	}
	if !reflect.DeepEqual(mapping, expected) {
		t.Errorf("buildCanonicalMapping = %v, want %v", mapping, expected)
	}
}

// TestBatteryRuleOrder verifies a label flows through rules in their
// contractual order: the ABA collapse runs before the synonym collapse sees
// the vocabulary
func TestBatteryRuleOrder(t *testing.T) {
	// "currant bud currant" is ABA, so it must become "currant" first and
	// then fold into the synonym family, not stay a three-token phrase.
	vocab := map[string]struct{}{"currant bud currant": {}}
	mapping := buildCanonicalMapping(vocab, defaultCanonicalConfig())

	if got := mapping["currant bud currant"]; got != "black currant" {
		t.Errorf("mapping[%q] = %q, want %q", "currant bud currant", got, "black currant")
	}
}

// TestAdjectiveUnificationSeesReshapedVocabulary verifies the adjective rule
// is built against the vocabulary as earlier rules left it
func TestAdjectiveUnificationSeesReshapedVocabulary(t *testing.T) {
	// "fish flesh" strips to "fish" at the qualifier stage; only then does
	// "fishy" gain its noun partner.
	vocab := map[string]struct{}{
		"fish flesh": {},
		"fishy":      {},
	}
	mapping := buildCanonicalMapping(vocab, defaultCanonicalConfig())

	expected := map[string]string{
		"fish flesh": "fish",
		"fishy":      "fish",
	}
	if !reflect.DeepEqual(mapping, expected) {
		t.Errorf("buildCanonicalMapping = %v, want %v", mapping, expected)
	}
}

// TestBatterySinglePass verifies the battery is one ordered pass, not a
// fixed-point iteration: a rewrite that lands on a shape an earlier rule
// would have matched keeps that shape
func TestBatterySinglePass(t *testing.T) {
	// Qualifier stripping turns this into "cherry maraschino cherry", an ABA
	// shape, but the ABA rule already ran.
	vocab := map[string]struct{}{"cherry maraschino cherry juice": {}}
	mapping := buildCanonicalMapping(vocab, defaultCanonicalConfig())

	if got := mapping["cherry maraschino cherry juice"]; got != "cherry maraschino cherry" {
		t.Errorf("mapping[%q] = %q, want %q (single pass, no re-entry)",
			"cherry maraschino cherry juice", got, "cherry maraschino cherry")
	}
}

// TestBatteryIdempotentOnCanonicalVocabulary verifies a second pass over an
// already-canonical vocabulary changes nothing
func TestBatteryIdempotentOnCanonicalVocabulary(t *testing.T) {
	vocab := map[string]struct{}{
		"cherry":        {},
		"cheesy":        {},
		"lemon":         {},
		"black currant": {},
		"fish":          {},
		"garlic":        {},
		"vanilla":       {},
		"citrus":        {},
		"hay":           {},
		"sweet":         {},
		"fruity":        {},
		"musk":          {},
		"odorless":      {},
	}

	first := buildCanonicalMapping(vocab, defaultCanonicalConfig())
	if len(first) != 0 {
		t.Fatalf("expected identity mapping on canonical vocabulary, got %v", first)
	}

	canonical := make(map[string]struct{}, len(vocab))
	for label := range vocab {
		canonical[label] = struct{}{}
	}
	second := buildCanonicalMapping(canonical, defaultCanonicalConfig())
	if len(second) != 0 {
		t.Errorf("expected second pass to change nothing, got %v", second)
	}
}

// TestApplyMapping verifies per-entity rewriting re-deduplicates collisions
func TestApplyMapping(t *testing.T) {
	rows := []EntityRow{
		{Key: "A", Labels: NewLabelSet("fishy", "fish", "sweet")},
		{Key: "B", Labels: NewLabelSet("lemon peel")},
		{Key: "C", Labels: NewLabelSet("musk")},
	}
	mapping := map[string]string{
		"fishy":      "fish",
		"lemon peel": "lemon",
	}

	out := applyMapping(rows, mapping)

	if got := out[0].Labels.Sorted(); !reflect.DeepEqual(got, []string{"fish", "sweet"}) {
		t.Errorf("entity A labels = %v, want [fish sweet] (collision collapsed)", got)
	}
	if got := out[1].Labels.Sorted(); !reflect.DeepEqual(got, []string{"lemon"}) {
		t.Errorf("entity B labels = %v, want [lemon]", got)
	}
	if got := out[2].Labels.Sorted(); !reflect.DeepEqual(got, []string{"musk"}) {
		t.Errorf("entity C labels = %v, want [musk]", got)
	}
}

// TestWithCorrections verifies reviewer corrections override built-in
// substitutions and add new ones
func TestWithCorrections(t *testing.T) {
	cfg := defaultCanonicalConfig().withCorrections([]LabelCorrection{
		{Label: " Alliaceous ", Replacement: "ONION"},
		{Label: "Woody-Lactone", Replacement: "woody"},
	})

	if got := cfg.Substitutions["alliaceous"]; got != "onion" {
		t.Errorf("correction did not override built-in: alliaceous -> %q, want onion", got)
	}
	if got := cfg.Substitutions["woody-lactone"]; got != "woody" {
		t.Errorf("new correction missing: woody-lactone -> %q, want woody", got)
	}
	if got := cfg.Substitutions["vanillin"]; got != "vanilla" {
		t.Errorf("untouched built-in lost: vanillin -> %q, want vanilla", got)
	}

	// The base config is not mutated
	base := defaultCanonicalConfig()
	if got := base.Substitutions["alliaceous"]; got != "garlic" {
		t.Errorf("withCorrections mutated the built-in table: alliaceous -> %q", got)
	}
}

// TestWithCorrectionsLastWins verifies a later correction for the same label
// supersedes an earlier one, matching the priority load order
func TestWithCorrectionsLastWins(t *testing.T) {
	cfg := defaultCanonicalConfig().withCorrections([]LabelCorrection{
		{Label: "alliaceous", Replacement: "onion"},
		{Label: "alliaceous", Replacement: "leek"},
	})
	if got := cfg.Substitutions["alliaceous"]; got != "leek" {
		t.Errorf("alliaceous -> %q, want leek (last correction wins)", got)
	}
}

// TestMappingSummary verifies the run-log rendering is sorted and limited
func TestMappingSummary(t *testing.T) {
	mapping := map[string]string{
		"fishy":      "fish",
		"alliaceous": "garlic",
		"lemon peel": "lemon",
	}

	full := mappingSummary(mapping, 0)
	expected := "alliaceous -> garlic, fishy -> fish, lemon peel -> lemon"
	if full != expected {
		t.Errorf("mappingSummary = %q, want %q", full, expected)
	}

	limited := mappingSummary(mapping, 1)
	if limited != "alliaceous -> garlic" {
		t.Errorf("mappingSummary limited = %q, want %q", limited, "alliaceous -> garlic")
	}
}
