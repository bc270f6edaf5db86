package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RunResult captures one curation run's statistics and artifact locations.
type RunResult struct {
	RunID            string
	Trigger          string
	LeffingwellRows  int
	GoodscentsRows   int
	MergedEntities   int
	FinalEntities    int
	RawVocabulary    int
	FinalVocabulary  int
	DroppedLabels    int
	SentinelRemovals int
	CorrectionsUsed  int
	CSVPath          string
	DictionaryPath   string
	StartedAt        time.Time
	CompletedAt      time.Time
}

// CuratedSet is the pipeline's terminal product: surviving entities, the
// frozen label index, and the dense incidence matrix, plus the run's
// vocabulary statistics.
type CuratedSet struct {
	Entities []EntityRow
	Index    *LabelIndex
	Matrix   [][]uint8
	Support  map[string]int
	Mapping  map[string]string

	MergedEntities      int
	RawVocabulary       int
	CanonicalVocabulary int
	DroppedLabels       int
	SentinelRemovals    int
}

// stageTrace reports one completed pipeline stage; nil disables tracing.
type stageTrace func(stage string, took time.Duration)

// curate runs the full stage battery over two extracted source tables. The
// stage order is the pipeline's contract: per-source deduplication, full
// outer merge, contradiction resolution, the canonicalization battery,
// frequency filtering, then index and matrix encoding. Every stage consumes
// one table and produces the next; none is re-entered.
func curate(leffingwell, goodscents []EntityRow, cfg CanonicalConfig, minSupport int, trace stageTrace) (*CuratedSet, error) {
	if trace == nil {
		trace = func(string, time.Duration) {}
	}

	start := time.Now()
	leffDedup, err := dedupeEntities(leffingwell)
	if err != nil {
		return nil, fmt.Errorf("leffingwell deduplication: %w", err)
	}
	goodDedup, err := dedupeEntities(goodscents)
	if err != nil {
		return nil, fmt.Errorf("goodscents deduplication: %w", err)
	}
	trace("dedupe", time.Since(start))

	start = time.Now()
	merged, err := mergeTables(leffDedup, goodDedup)
	if err != nil {
		return nil, fmt.Errorf("cross-dataset merge: %w", err)
	}
	trace("merge", time.Since(start))

	start = time.Now()
	resolved, sentinelRemovals := resolveContradictions(merged, cfg.Sentinel)
	rawVocab := vocabulary(resolved)
	mapping := buildCanonicalMapping(rawVocab, cfg)
	canonical := applyMapping(resolved, mapping)
	trace("canonicalize", time.Since(start))

	start = time.Now()
	filtered, err := filterBySupport(canonical, minSupport)
	if err != nil {
		return nil, fmt.Errorf("frequency filter: %w", err)
	}
	trace("filter", time.Since(start))

	start = time.Now()
	index, err := buildLabelIndex(filtered)
	if err != nil {
		return nil, fmt.Errorf("label index: %w", err)
	}
	matrix, err := encodeMatrix(filtered, index)
	if err != nil {
		return nil, fmt.Errorf("matrix encoding: %w", err)
	}
	trace("encode", time.Since(start))

	canonicalVocab := vocabulary(canonical)
	return &CuratedSet{
		Entities:            filtered,
		Index:               index,
		Matrix:              matrix,
		Support:             countSupport(filtered),
		Mapping:             mapping,
		MergedEntities:      len(merged),
		RawVocabulary:       len(rawVocab),
		CanonicalVocabulary: len(canonicalVocab),
		DroppedLabels:       len(canonicalVocab) - index.Len(),
		SentinelRemovals:    sentinelRemovals,
	}, nil
}

// runCuration executes one full curation run: load both sources, curate,
// write artifacts, and persist the summary. Runs are serialized; a second
// trigger waits for the first to finish.
func (w *Worker) runCuration(ctx context.Context, trigger string) (*RunResult, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	result := &RunResult{
		RunID:     uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	log.Printf("[run %s] starting curation (trigger=%s)", result.RunID, trigger)

	status := "error"
	defer func() {
		w.metrics.runsTotal.WithLabelValues(trigger, status).Inc()
	}()

	loadStart := time.Now()
	leffingwell, leffRows, err := w.loadSource(ctx, w.config.Leffingwell)
	if err != nil {
		return nil, fmt.Errorf("failed to load leffingwell source: %w", err)
	}
	goodscents, goodRows, err := w.loadSource(ctx, w.config.Goodscents)
	if err != nil {
		return nil, fmt.Errorf("failed to load goodscents source: %w", err)
	}
	w.metrics.stageDuration.WithLabelValues("load").Observe(time.Since(loadStart).Seconds())
	result.LeffingwellRows = leffRows
	result.GoodscentsRows = goodRows

	// Reviewer corrections extend the built-in substitution table when a
	// database is configured; without one the run is fully determined by the
	// shipped tables.
	cfg := defaultCanonicalConfig()
	if w.db != nil {
		corrections, err := w.loadLabelCorrections(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load label corrections: %w", err)
		}
		cfg = cfg.withCorrections(corrections)
		result.CorrectionsUsed = len(corrections)
	}

	set, err := curate(leffingwell, goodscents, cfg, w.config.MinLabelSupport,
		func(stage string, took time.Duration) {
			w.metrics.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
		})
	if err != nil {
		return nil, err
	}

	w.metrics.entityCount.WithLabelValues("merged").Set(float64(set.MergedEntities))
	w.metrics.entityCount.WithLabelValues("final").Set(float64(len(set.Entities)))
	w.metrics.vocabularySize.WithLabelValues("raw").Set(float64(set.RawVocabulary))
	w.metrics.vocabularySize.WithLabelValues("canonical").Set(float64(set.CanonicalVocabulary))
	w.metrics.vocabularySize.WithLabelValues("final").Set(float64(set.Index.Len()))

	writeStart := time.Now()
	csvPath, dictPath, err := w.writeArtifacts(ctx, result.RunID, set)
	if err != nil {
		return nil, err
	}
	w.metrics.stageDuration.WithLabelValues("write").Observe(time.Since(writeStart).Seconds())
	result.CSVPath = csvPath
	result.DictionaryPath = dictPath

	result.MergedEntities = set.MergedEntities
	result.FinalEntities = len(set.Entities)
	result.RawVocabulary = set.RawVocabulary
	result.FinalVocabulary = set.Index.Len()
	result.DroppedLabels = set.DroppedLabels
	result.SentinelRemovals = set.SentinelRemovals
	result.CompletedAt = time.Now()

	if w.db != nil {
		if err := w.storeRunSummary(ctx, result); err != nil {
			log.Printf("[run %s] failed to store run summary: %v", result.RunID, err)
		}
		if err := w.storeLabelStats(ctx, result.RunID, set); err != nil {
			log.Printf("[run %s] failed to store label stats: %v", result.RunID, err)
		}
		if err := w.storeCuratedRows(ctx, result.RunID, set); err != nil {
			log.Printf("[run %s] failed to store curated rows: %v", result.RunID, err)
		}
	}

	status = "success"
	w.metrics.runDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	log.Printf("[run %s] completed in %s: %d entities, %d labels (merged %d entities, raw vocabulary %d, dropped %d labels below support %d)",
		result.RunID, result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond),
		result.FinalEntities, result.FinalVocabulary, result.MergedEntities,
		result.RawVocabulary, result.DroppedLabels, w.config.MinLabelSupport)
	if len(set.Mapping) > 0 {
		log.Printf("[run %s] vocabulary rewrites (first 20): %s", result.RunID, mappingSummary(set.Mapping, 20))
	}

	return result, nil
}
