package main

import "fmt"

// countSupport returns, per label, the number of entities carrying it. Label
// sets hold each label at most once, so this is entity support, not raw
// occurrence count.
func countSupport(rows []EntityRow) map[string]int {
	support := make(map[string]int)
	for _, row := range rows {
		for label := range row.Labels {
			support[label]++
		}
	}
	return support
}

// filterBySupport removes every label whose entity support is strictly below
// minSupport from every label set, then removes entities left with no labels.
// The surviving table satisfies two invariants, both re-checked here: every
// remaining label's support is at least minSupport, and every remaining
// entity carries at least one label.
func filterBySupport(rows []EntityRow, minSupport int) ([]EntityRow, error) {
	support := countSupport(rows)
	kept := make(map[string]struct{}, len(support))
	for label, n := range support {
		if n >= minSupport {
			kept[label] = struct{}{}
		}
	}

	out := make([]EntityRow, 0, len(rows))
	for _, row := range rows {
		labels := make(LabelSet, len(row.Labels))
		for label := range row.Labels {
			if _, ok := kept[label]; ok {
				labels[label] = struct{}{}
			}
		}
		if len(labels) == 0 {
			continue
		}
		out = append(out, EntityRow{Key: row.Key, Labels: labels})
	}

	for label, n := range countSupport(out) {
		if n < minSupport {
			return nil, fmt.Errorf("label %q survived filtering with support %d, below threshold %d", label, n, minSupport)
		}
	}
	for _, row := range out {
		if len(row.Labels) == 0 {
			return nil, fmt.Errorf("entity %q survived filtering with no labels", row.Key)
		}
	}

	return out, nil
}
