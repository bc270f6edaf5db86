package main

import (
	"reflect"
	"testing"
)

// TestCleanLabel verifies descriptor token normalization: case folding,
// whitespace collapsing, and Unicode cleanup
func TestCleanLabel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases",
			input:    "FRUITY",
			expected: "fruity",
		},
		{
			name:     "trims and collapses whitespace",
			input:    "  burnt   sugar \t",
			expected: "burnt sugar",
		},
		{
			name:     "strips BOM",
			input:    "\uFEFFfruity",
			expected: "fruity",
		},
		{
			name:     "strips control characters",
			input:    "fru\x00ity\r",
			expected: "fruity",
		},
		{
			name:     "applies NFC normalization",
			input:    "café",
			expected: "café",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cleanLabel(tt.input)
			if result != tt.expected {
				t.Errorf("cleanLabel(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestExtractLabelsDelimited verifies delimiter-separated payload splitting
func TestExtractLabelsDelimited(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		delimiter string
		expected  []string
	}{
		{
			name:      "basic semicolon payload",
			payload:   "fruity;green;sweet",
			delimiter: ";",
			expected:  []string{"fruity", "green", "sweet"},
		},
		{
			name:      "whitespace around parts",
			payload:   " fruity ; green ",
			delimiter: ";",
			expected:  []string{"fruity", "green"},
		},
		{
			name:      "empty segments dropped",
			payload:   "fruity;;sweet;",
			delimiter: ";",
			expected:  []string{"fruity", "sweet"},
		},
		{
			name:      "duplicates collapsed keeping first-seen order",
			payload:   "sweet;fruity;SWEET",
			delimiter: ";",
			expected:  []string{"sweet", "fruity"},
		},
		{
			name:      "comma delimiter",
			payload:   "musk,amber",
			delimiter: ",",
			expected:  []string{"musk", "amber"},
		},
		{
			name:      "empty payload yields empty sequence",
			payload:   "",
			delimiter: ";",
			expected:  nil,
		},
		{
			name:      "whitespace-only payload yields empty sequence",
			payload:   "   ",
			delimiter: ";",
			expected:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractLabels(tt.payload, formatDelimited, tt.delimiter)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("extractLabels(%q) = %v, want %v", tt.payload, result, tt.expected)
			}
		})
	}
}

// TestExtractLabelsList verifies bracket/quote pseudo-list payload splitting
func TestExtractLabelsList(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected []string
	}{
		{
			name:     "single-quoted list",
			payload:  "['fruity', 'green']",
			expected: []string{"fruity", "green"},
		},
		{
			name:     "double-quoted list",
			payload:  `["musk", "amber"]`,
			expected: []string{"musk", "amber"},
		},
		{
			name:     "single element",
			payload:  "['odorless']",
			expected: []string{"odorless"},
		},
		{
			name:     "multi-word descriptors survive",
			payload:  "['burnt sugar', 'black currant']",
			expected: []string{"burnt sugar", "black currant"},
		},
		{
			name:     "empty list yields empty sequence",
			payload:  "[]",
			expected: nil,
		},
		{
			name:     "empty payload yields empty sequence",
			payload:  "",
			expected: nil,
		},
		{
			name:     "strip artifacts discarded",
			payload:  "[' ', 'green']",
			expected: []string{"green"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractLabels(tt.payload, formatList, "")
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("extractLabels(%q) = %v, want %v", tt.payload, result, tt.expected)
			}
		})
	}
}

// TestIndicatorLabels verifies per-label indicator columns produce naturally
// worded labels from the raw headers
func TestIndicatorLabels(t *testing.T) {
	rawHeaders := []string{"SMILES", "Almond", "Burnt Sugar", "Musk"}

	tests := []struct {
		name     string
		row      []string
		expected []string
	}{
		{
			name:     "two indicators set",
			row:      []string{"CCO", "1", "1", "0"},
			expected: []string{"almond", "burnt sugar"},
		},
		{
			name:     "indicator with surrounding whitespace",
			row:      []string{"CCO", " 1 ", "0", "0"},
			expected: []string{"almond"},
		},
		{
			name:     "no indicators set",
			row:      []string{"CCO", "0", "", "0"},
			expected: nil,
		},
		{
			name:     "non-binary cells ignored",
			row:      []string{"CCO", "yes", "2", "1"},
			expected: []string{"musk"},
		},
		{
			name:     "short row tolerated",
			row:      []string{"CCO", "1"},
			expected: []string{"almond"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := indicatorLabels(rawHeaders, tt.row, 0)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("indicatorLabels(%v) = %v, want %v", tt.row, result, tt.expected)
			}
		})
	}
}

// TestIndicatorLabelsSkipsKeyColumn verifies the entity key column never
// becomes a label even when its cell is 1
func TestIndicatorLabelsSkipsKeyColumn(t *testing.T) {
	rawHeaders := []string{"Almond", "SMILES", "Musk"}
	result := indicatorLabels(rawHeaders, []string{"1", "1", "1"}, 1)
	expected := []string{"almond", "musk"}
	if !reflect.DeepEqual(result, expected) {
		t.Errorf("indicatorLabels with key column 1 = %v, want %v", result, expected)
	}
}
