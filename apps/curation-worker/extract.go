package main

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// labelFormat identifies how a source encodes its descriptor payload.
type labelFormat string

const (
	// formatDelimited: one payload cell holding delimiter-joined descriptors,
	// e.g. "fruity;green;sweet".
	formatDelimited labelFormat = "delimited"
	// formatList: one payload cell holding a bracket/quote pseudo-list,
	// e.g. "['fruity', 'green']".
	formatList labelFormat = "list"
	// formatColumns: one binary indicator column per descriptor.
	formatColumns labelFormat = "columns"
)

// cleanLabel normalizes one descriptor token: NFC form, BOM and control
// characters stripped, lowercased, whitespace collapsed to single spaces.
func cleanLabel(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// splitDelimited splits a delimiter-joined payload into raw descriptor parts.
func splitDelimited(payload, delimiter string) []string {
	if strings.TrimSpace(payload) == "" {
		return nil
	}
	return strings.Split(payload, delimiter)
}

// splitQuotedList splits a bracket/quote pseudo-list payload. Brackets and
// list commas are structural and get stripped; the quote character delimits
// the descriptors; whatever whitespace-only fragments the strip leaves behind
// are discarded.
func splitQuotedList(payload string) []string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ',':
			return -1
		}
		return r
	}, payload)

	quote := "'"
	if !strings.Contains(s, "'") && strings.Contains(s, `"`) {
		quote = `"`
	}

	var parts []string
	for _, p := range strings.Split(s, quote) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// extractLabels turns one raw payload cell into a deduplicated sequence of
// cleaned atomic labels. A malformed or empty payload yields an empty
// sequence, never an error; entities may stay label-free until the final
// non-empty invariant is enforced.
func extractLabels(payload string, format labelFormat, delimiter string) []string {
	var parts []string
	switch format {
	case formatList:
		parts = splitQuotedList(payload)
	default:
		parts = splitDelimited(payload, delimiter)
	}
	return dedupeLabels(parts)
}

// indicatorLabels emits the column name for every indicator column whose cell
// is 1. Column names come from the raw (pre-normalization) header so that the
// emitted labels keep their natural wording.
func indicatorLabels(rawHeaders []string, row []string, keyIdx int) []string {
	var parts []string
	for i, cell := range row {
		if i == keyIdx || i >= len(rawHeaders) {
			continue
		}
		if strings.TrimSpace(cell) == "1" {
			parts = append(parts, rawHeaders[i])
		}
	}
	return dedupeLabels(parts)
}

// dedupeLabels cleans each part and drops empties and duplicates, keeping
// first-seen order.
func dedupeLabels(parts []string) []string {
	seen := make(map[string]struct{}, len(parts))
	var labels []string
	for _, p := range parts {
		label := cleanLabel(p)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}
