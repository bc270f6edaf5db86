package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// ensureSchema creates the curation schema and tables when they are missing.
// All statements are idempotent; the sink service creates the same
// corrections table, so either service can boot first.
func ensureSchema(db *sql.DB) error {
	queries := []string{
		`CREATE SCHEMA IF NOT EXISTS curation`,
		`CREATE TABLE IF NOT EXISTS curation.runs (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT UNIQUE NOT NULL,
			run_trigger TEXT,
			leffingwell_rows INTEGER,
			goodscents_rows INTEGER,
			merged_entities INTEGER,
			final_entities INTEGER,
			raw_vocabulary INTEGER,
			final_vocabulary INTEGER,
			dropped_labels INTEGER,
			sentinel_removals INTEGER,
			corrections_used INTEGER,
			csv_path TEXT,
			dictionary_path TEXT,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS curation.label_stats (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			label TEXT NOT NULL,
			label_index INTEGER NOT NULL,
			support INTEGER NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS curation.entity_labels (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			smiles TEXT NOT NULL,
			labels TEXT[] NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS curation.label_corrections (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			replacement TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 100,
			annotator TEXT,
			note TEXT,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS curation.event_log (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT,
			event_action TEXT,
			run_id TEXT,
			payload JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create curation tables: %w", err)
		}
	}
	return nil
}

// loadLabelCorrections loads active reviewer corrections in priority order.
func (w *Worker) loadLabelCorrections(ctx context.Context) ([]LabelCorrection, error) {
	query := `
        SELECT id, label, replacement, priority, is_active
        FROM curation.label_corrections
        WHERE is_active = true
        ORDER BY priority ASC, id ASC
    `

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("load_corrections").Inc()
		return nil, fmt.Errorf("failed to query label corrections: %w", err)
	}
	defer rows.Close()

	var corrections []LabelCorrection
	for rows.Next() {
		var c LabelCorrection
		if err := rows.Scan(&c.ID, &c.Label, &c.Replacement, &c.Priority, &c.IsActive); err != nil {
			log.Printf("Failed to scan label correction: %v", err)
			continue
		}
		corrections = append(corrections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading label corrections: %w", err)
	}

	log.Printf("Loaded %d label corrections", len(corrections))
	return corrections, nil
}

// storeRunSummary records one completed run.
func (w *Worker) storeRunSummary(ctx context.Context, result *RunResult) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO curation.runs (
			run_id, run_trigger, leffingwell_rows, goodscents_rows,
			merged_entities, final_entities, raw_vocabulary, final_vocabulary,
			dropped_labels, sentinel_removals, corrections_used,
			csv_path, dictionary_path, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		result.RunID, result.Trigger, result.LeffingwellRows, result.GoodscentsRows,
		result.MergedEntities, result.FinalEntities, result.RawVocabulary, result.FinalVocabulary,
		result.DroppedLabels, result.SentinelRemovals, result.CorrectionsUsed,
		result.CSVPath, result.DictionaryPath, result.StartedAt, result.CompletedAt,
	)
	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("store_run").Inc()
		return fmt.Errorf("failed to insert run summary: %w", err)
	}
	return nil
}

// storeLabelStats bulk-inserts per-label support counts for one run.
func (w *Worker) storeLabelStats(ctx context.Context, runID string, set *CuratedSet) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("begin_transaction").Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyInSchema("curation", "label_stats",
		"run_id", "label", "label_index", "support", "created_at",
	))
	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("prepare_insert").Inc()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, label := range set.Index.Labels() {
		if _, err := stmt.Exec(runID, label, i, set.Support[label], now); err != nil {
			log.Printf("Failed to insert label stat for %q: %v", label, err)
			w.metrics.databaseErrors.WithLabelValues("insert_label_stat").Inc()
		}
	}

	if _, err := stmt.Exec(); err != nil {
		w.metrics.databaseErrors.WithLabelValues("exec_bulk_insert").Inc()
		return fmt.Errorf("failed to execute bulk insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		w.metrics.databaseErrors.WithLabelValues("commit_transaction").Inc()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Stored %d label stats for run %s", set.Index.Len(), runID)
	return nil
}

// storeCuratedRows bulk-inserts the final entity table for one run.
func (w *Worker) storeCuratedRows(ctx context.Context, runID string, set *CuratedSet) error {
	if len(set.Entities) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("begin_transaction").Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyInSchema("curation", "entity_labels",
		"run_id", "smiles", "labels", "created_at",
	))
	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("prepare_insert").Inc()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, row := range set.Entities {
		if _, err := stmt.Exec(runID, row.Key, pq.Array(row.Labels.Sorted()), now); err != nil {
			log.Printf("Failed to insert curated row for %q: %v", row.Key, err)
			w.metrics.databaseErrors.WithLabelValues("insert_entity").Inc()
		}
	}

	if _, err := stmt.Exec(); err != nil {
		w.metrics.databaseErrors.WithLabelValues("exec_bulk_insert").Inc()
		return fmt.Errorf("failed to execute bulk insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		w.metrics.databaseErrors.WithLabelValues("commit_transaction").Inc()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Stored %d curated entities for run %s", len(set.Entities), runID)
	return nil
}

// storeWebhookEvent appends one webhook receipt to the audit log.
func (w *Worker) storeWebhookEvent(action string, payload []byte, runID string) error {
	_, err := w.db.Exec(`
		INSERT INTO curation.event_log (
			event_type, event_action, run_id, payload, created_at
		) VALUES ($1, $2, $3, $4, NOW())
	`, "webhook", action, runID, payload)

	if err != nil {
		w.metrics.databaseErrors.WithLabelValues("store_webhook").Inc()
	}
	return err
}
