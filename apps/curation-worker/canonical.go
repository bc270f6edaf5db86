package main

import (
	"sort"
	"strings"
)

// The descriptor vocabulary in the raw datasets is noisy: composite phrases
// wrap a core descriptor in low-information modifiers, adjective and noun
// forms of the same odor coexist, and annotators mark the same molecule both
// "odorless" and with positive descriptors. The battery below collapses that
// noise with an ordered list of total rewrite rules. Order is load-bearing:
// each rule's mapping is built against the vocabulary as reshaped by the
// rules before it. The battery runs exactly once per curation pass; it is not
// iterated to a fixed point, so a rewrite that lands on a phrase an earlier
// rule would have matched stays as it is until frequency filtering.

// ruleFunc rewrites one label. Every rule is total: labels outside the
// rule's pattern pass through unchanged.
type ruleFunc func(label string) string

// ruleBuilder constructs a ruleFunc against the current vocabulary. Most
// rules ignore the vocabulary; adjective unification inspects it.
type ruleBuilder func(vocab map[string]struct{}) ruleFunc

// SynonymFamily folds every label containing Marker into one canonical token.
type SynonymFamily struct {
	Marker    string
	Canonical string
}

// CanonicalConfig carries the fixed curation vocabulary tables. Tests swap in
// reduced tables; production uses defaultCanonicalConfig, optionally extended
// with reviewer corrections from the database.
type CanonicalConfig struct {
	// Sentinel is the "no odor" label removed wherever it co-occurs with a
	// positive descriptor.
	Sentinel string
	// Qualifiers are trailing low-information words, each with its leading
	// space. List order decides which qualifier is stripped when several
	// match; only the first match is removed per label.
	Qualifiers []string
	// Families are substring-marked synonym groups.
	Families []SynonymFamily
	// Substitutions are explicit one-off corrections applied after every
	// pattern rule.
	Substitutions map[string]string
}

func defaultCanonicalConfig() CanonicalConfig {
	return CanonicalConfig{
		Sentinel: "odorless",
		Qualifiers: []string{
			" skin", " peel", " rind", " leaf", " needle", " yolk",
			" root", " chip", " flesh", " seed", " fat", " juice", " butter",
		},
		Families: []SynonymFamily{
			{Marker: "currant", Canonical: "black currant"},
		},
		Substitutions: map[string]string{
			"alliaceous":   "garlic",
			"vanillin":     "vanilla",
			"citrus fruit": "citrus",
			"new mown hay": "hay",
		},
	}
}

// withCorrections layers reviewer-curated substitutions over the built-in
// table. Corrections arrive in priority order; a correction for a label the
// built-in table already covers wins.
func (cfg CanonicalConfig) withCorrections(corrections []LabelCorrection) CanonicalConfig {
	if len(corrections) == 0 {
		return cfg
	}
	subs := make(map[string]string, len(cfg.Substitutions)+len(corrections))
	for label, repl := range cfg.Substitutions {
		subs[label] = repl
	}
	for _, c := range corrections {
		subs[cleanLabel(c.Label)] = cleanLabel(c.Replacement)
	}
	out := cfg
	out.Substitutions = subs
	return out
}

// resolveContradictions drops the no-odor sentinel from every label set that
// also carries a positive descriptor; a set whose only member is the sentinel
// keeps it. Returns the rewritten rows and the number of sets touched.
func resolveContradictions(rows []EntityRow, sentinel string) ([]EntityRow, int) {
	out := make([]EntityRow, len(rows))
	removed := 0
	for i, row := range rows {
		labels := row.Labels
		if len(labels) > 1 && labels.Has(sentinel) {
			labels = labels.Clone()
			delete(labels, sentinel)
			removed++
		}
		out[i] = EntityRow{Key: row.Key, Labels: labels}
	}
	return out, removed
}

// canonicalBattery returns the mapping rules in their contractual order:
// ABA collapse, cheese collapse, qualifier stripping, synonym-family
// collapse, adjective unification, manual substitutions. Contradiction
// resolution runs before the battery because it depends on whole label sets,
// not single labels.
func canonicalBattery(cfg CanonicalConfig) []ruleBuilder {
	return []ruleBuilder{
		staticRule(collapseABA),
		staticRule(collapseCheese),
		staticRule(stripQualifier(cfg.Qualifiers)),
		staticRule(collapseSynonyms(cfg.Families)),
		unifyAdjectives,
		staticRule(substitute(cfg.Substitutions)),
	}
}

func staticRule(rule ruleFunc) ruleBuilder {
	return func(map[string]struct{}) ruleFunc { return rule }
}

// buildCanonicalMapping runs the ordered battery over the vocabulary and
// returns the composed raw-to-canonical mapping, identity entries omitted.
func buildCanonicalMapping(vocab map[string]struct{}, cfg CanonicalConfig) map[string]string {
	// target tracks each raw label's canonical form so far.
	target := make(map[string]string, len(vocab))
	for label := range vocab {
		target[label] = label
	}

	for _, build := range canonicalBattery(cfg) {
		current := make(map[string]struct{}, len(target))
		for _, t := range target {
			current[t] = struct{}{}
		}
		rule := build(current)
		for raw, t := range target {
			target[raw] = rule(t)
		}
	}

	mapping := make(map[string]string)
	for raw, t := range target {
		if raw != t {
			mapping[raw] = t
		}
	}
	return mapping
}

// applyMapping rewrites every entity's labels through the composed mapping
// and re-deduplicates: a label collapsing onto one already in the set does
// not duplicate it.
func applyMapping(rows []EntityRow, mapping map[string]string) []EntityRow {
	out := make([]EntityRow, len(rows))
	for i, row := range rows {
		labels := make(LabelSet, len(row.Labels))
		for label := range row.Labels {
			if canonical, ok := mapping[label]; ok {
				label = canonical
			}
			labels[label] = struct{}{}
		}
		out[i] = EntityRow{Key: row.Key, Labels: labels}
	}
	return out
}

// collapseABA rewrites a three-token "A B A" label to "A": the repeated outer
// word is the descriptor, the middle word is modifier noise
// ("cherry maraschino cherry" to "cherry").
func collapseABA(label string) string {
	parts := strings.Fields(label)
	if len(parts) == 3 && parts[0] == parts[2] {
		return parts[0]
	}
	return label
}

// collapseCheese rewrites the exact three-token "cheesy <variety> cheese"
// shape to "cheesy"; the variety is finer-grained than the vocabulary keeps.
func collapseCheese(label string) string {
	parts := strings.Fields(label)
	if len(parts) == 3 && parts[0] == "cheesy" && parts[2] == "cheese" {
		return "cheesy"
	}
	return label
}

// stripQualifier removes the first list-order qualifier found in the label,
// one removal per label ("lemon peel" to "lemon"). Qualifiers carry their
// leading space, so single-word labels never match.
func stripQualifier(qualifiers []string) ruleFunc {
	return func(label string) string {
		for _, q := range qualifiers {
			if strings.Contains(label, q) {
				return strings.TrimSpace(strings.Replace(label, q, "", 1))
			}
		}
		return label
	}
}

// collapseSynonyms rewrites any label containing a family marker to that
// family's canonical token.
func collapseSynonyms(families []SynonymFamily) ruleFunc {
	return func(label string) string {
		for _, f := range families {
			if strings.Contains(label, f.Marker) {
				return f.Canonical
			}
		}
		return label
	}
}

// unifyAdjectives maps the adjective form L+"y" onto the noun form L whenever
// the vocabulary holds both ("fishy" to "fish"). One scan over the vocabulary
// with set lookups finds every such pair.
func unifyAdjectives(vocab map[string]struct{}) ruleFunc {
	adjectives := make(map[string]string)
	for label := range vocab {
		if len(label) < 2 || !strings.HasSuffix(label, "y") {
			continue
		}
		noun := label[:len(label)-1]
		if _, ok := vocab[noun]; ok {
			adjectives[label] = noun
		}
	}
	return func(label string) string {
		if noun, ok := adjectives[label]; ok {
			return noun
		}
		return label
	}
}

// substitute applies the explicit one-off correction table.
func substitute(subs map[string]string) ruleFunc {
	return func(label string) string {
		if replacement, ok := subs[label]; ok {
			return replacement
		}
		return label
	}
}

// mappingSummary renders a stable "raw -> canonical" listing for run logs.
func mappingSummary(mapping map[string]string, limit int) string {
	raws := make([]string, 0, len(mapping))
	for raw := range mapping {
		raws = append(raws, raw)
	}
	sort.Strings(raws)
	if limit > 0 && len(raws) > limit {
		raws = raws[:limit]
	}
	var b strings.Builder
	for i, raw := range raws {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(raw)
		b.WriteString(" -> ")
		b.WriteString(mapping[raw])
	}
	return b.String()
}
