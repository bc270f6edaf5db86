package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// LabelIndex is the frozen bijection between the final vocabulary and dense
// column indexes. Downstream consumers treat the order as a contract, so it
// must be identical across runs over identical input: support descending,
// ties broken alphabetically.
type LabelIndex struct {
	labels []string
	index  map[string]int
}

// buildLabelIndex freezes the surviving vocabulary's order and index mapping.
func buildLabelIndex(rows []EntityRow) (*LabelIndex, error) {
	support := countSupport(rows)
	labels := make([]string, 0, len(support))
	for label := range support {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if support[labels[i]] != support[labels[j]] {
			return support[labels[i]] > support[labels[j]]
		}
		return labels[i] < labels[j]
	})

	index := make(map[string]int, len(labels))
	for i, label := range labels {
		index[label] = i
	}

	li := &LabelIndex{labels: labels, index: index}
	for i, label := range labels {
		if index[label] != i {
			return nil, fmt.Errorf("label index is not a bijection: label %q maps to %d, slot is %d", label, index[label], i)
		}
	}
	return li, nil
}

// Len returns the vocabulary size.
func (li *LabelIndex) Len() int {
	return len(li.labels)
}

// Index returns the column index for a label.
func (li *LabelIndex) Index(label string) (int, bool) {
	i, ok := li.index[label]
	return i, ok
}

// Label returns the label at a column index.
func (li *LabelIndex) Label(i int) (string, bool) {
	if i < 0 || i >= len(li.labels) {
		return "", false
	}
	return li.labels[i], true
}

// Labels returns the vocabulary in index order.
func (li *LabelIndex) Labels() []string {
	out := make([]string, len(li.labels))
	copy(out, li.labels)
	return out
}

// encodeMatrix renders every entity's label set as a fixed-width binary row.
// The row sum must equal the set's cardinality and the whole-matrix sum must
// equal the sum of all cardinalities; both are checked so no label occurrence
// is lost or duplicated in encoding.
func encodeMatrix(rows []EntityRow, li *LabelIndex) ([][]uint8, error) {
	matrix := make([][]uint8, len(rows))
	total, want := 0, 0

	for i, row := range rows {
		vec := make([]uint8, li.Len())
		for label := range row.Labels {
			j, ok := li.Index(label)
			if !ok {
				return nil, fmt.Errorf("entity %q carries label %q outside the frozen vocabulary", row.Key, label)
			}
			vec[j] = 1
		}

		sum := 0
		for _, bit := range vec {
			sum += int(bit)
		}
		if sum != len(row.Labels) {
			return nil, fmt.Errorf("entity %q encodes %d labels, want %d", row.Key, sum, len(row.Labels))
		}
		total += sum
		want += len(row.Labels)
		matrix[i] = vec
	}

	if total != want {
		return nil, fmt.Errorf("matrix encodes %d label occurrences, want %d", total, want)
	}
	return matrix, nil
}

// dictionaryJSON serializes the bijection as one object holding both
// directions: label keys map to integer indexes, stringified index keys map
// back to labels. Either a label or an index can be looked up in the same
// map.
func (li *LabelIndex) dictionaryJSON() ([]byte, error) {
	dict := make(map[string]interface{}, 2*len(li.labels))
	for i, label := range li.labels {
		if _, clash := dict[label]; clash {
			return nil, fmt.Errorf("label %q collides with an index key in the dictionary", label)
		}
		dict[label] = i
		key := strconv.Itoa(i)
		if _, clash := dict[key]; clash {
			return nil, fmt.Errorf("index key %q collides with a label in the dictionary", key)
		}
		dict[key] = label
	}
	return json.MarshalIndent(dict, "", "  ")
}
