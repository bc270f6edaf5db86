package main

import (
	"fmt"
	"sort"
)

// LabelSet is the set of odor descriptors attached to one entity. A nil
// LabelSet behaves as the empty set for reads and unions.
type LabelSet map[string]struct{}

// NewLabelSet builds a set from the given labels, collapsing duplicates.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, label := range labels {
		s[label] = struct{}{}
	}
	return s
}

// Has reports whether label is a member.
func (s LabelSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Union returns a new set holding the members of both sets. Either side may
// be nil; the missing side contributes nothing.
func (s LabelSet) Union(other LabelSet) LabelSet {
	merged := make(LabelSet, len(s)+len(other))
	for label := range s {
		merged[label] = struct{}{}
	}
	for label := range other {
		merged[label] = struct{}{}
	}
	return merged
}

// Clone returns an independent copy.
func (s LabelSet) Clone() LabelSet {
	c := make(LabelSet, len(s))
	for label := range s {
		c[label] = struct{}{}
	}
	return c
}

// Sorted returns the members in ascending order, for deterministic output.
func (s LabelSet) Sorted() []string {
	labels := make([]string, 0, len(s))
	for label := range s {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// EntityRow pairs one molecule's structural identifier (SMILES string, exact
// text, never normalized) with its descriptor set.
type EntityRow struct {
	Key    string
	Labels LabelSet
}

// dedupeEntities collapses rows sharing an entity key into one row whose
// label set is the union of the contributing rows' sets. Rows keep first-seen
// order; a key's single row passes its set through without copying.
func dedupeEntities(rows []EntityRow) ([]EntityRow, error) {
	index := make(map[string]int, len(rows))
	out := make([]EntityRow, 0, len(rows))

	for _, row := range rows {
		if at, seen := index[row.Key]; seen {
			out[at].Labels = out[at].Labels.Union(row.Labels)
			continue
		}
		index[row.Key] = len(out)
		out = append(out, row)
	}

	// Post-condition: one output row per distinct input key.
	if len(out) != len(index) {
		return nil, fmt.Errorf("deduplication produced %d rows for %d distinct entity keys", len(out), len(index))
	}
	seen := make(map[string]struct{}, len(out))
	for _, row := range out {
		if _, dup := seen[row.Key]; dup {
			return nil, fmt.Errorf("duplicate entity key %q survived deduplication", row.Key)
		}
		seen[row.Key] = struct{}{}
	}

	return out, nil
}

// mergeTables full-outer-joins two deduplicated entity tables on entity key.
// Entities present in both carry the union of both label sets; a side that
// lacks the key contributes the empty set. Row order is a's order followed by
// b-only keys in b's order.
func mergeTables(a, b []EntityRow) ([]EntityRow, error) {
	bLabels := make(map[string]LabelSet, len(b))
	for _, row := range b {
		if _, dup := bLabels[row.Key]; dup {
			return nil, fmt.Errorf("merge input contains duplicate entity key %q", row.Key)
		}
		bLabels[row.Key] = row.Labels
	}

	merged := make([]EntityRow, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))

	for _, row := range a {
		if _, dup := seen[row.Key]; dup {
			return nil, fmt.Errorf("merge input contains duplicate entity key %q", row.Key)
		}
		seen[row.Key] = struct{}{}
		// A nil lookup result is the empty set, so the union is total.
		merged = append(merged, EntityRow{Key: row.Key, Labels: row.Labels.Union(bLabels[row.Key])})
	}
	for _, row := range b {
		if _, ok := seen[row.Key]; ok {
			continue
		}
		seen[row.Key] = struct{}{}
		merged = append(merged, EntityRow{Key: row.Key, Labels: row.Labels})
	}

	// Post-condition: output keys are exactly the union of both inputs' keys.
	union := make(map[string]struct{}, len(a)+len(b))
	for _, row := range a {
		union[row.Key] = struct{}{}
	}
	for _, row := range b {
		union[row.Key] = struct{}{}
	}
	if len(merged) != len(union) {
		return nil, fmt.Errorf("merge produced %d entities, want %d (union of %d and %d)",
			len(merged), len(union), len(a), len(b))
	}

	return merged, nil
}

// vocabulary collects every distinct label across all rows.
func vocabulary(rows []EntityRow) map[string]struct{} {
	vocab := make(map[string]struct{})
	for _, row := range rows {
		for label := range row.Labels {
			vocab[label] = struct{}{}
		}
	}
	return vocab
}
