package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"
)

// correctionRecord is the outbox payload for one stored correction.
type correctionRecord struct {
	EventID       string    `json:"event_id"`
	CorrectionID  int64     `json:"correction_id"`
	Label         string    `json:"label"`
	Replacement   string    `json:"replacement"`
	Priority      int       `json:"priority"`
	Annotator     string    `json:"annotator,omitempty"`
	Note          string    `json:"note,omitempty"`
	SchemaVersion string    `json:"schema_version"`
	Source        string    `json:"source"`
	ReceivedAt    time.Time `json:"received_at"`
}

// enqueueCorrectionTx adds an outbox notification inside the transaction that
// stored the correction itself.
func enqueueCorrectionTx(ctx context.Context, tx *sql.Tx, correctionID int64, c CorrectionInput, annotator, schemaVersion string) error {
	record := correctionRecord{
		EventID:       fmt.Sprintf("correction-%d", correctionID),
		CorrectionID:  correctionID,
		Label:         c.Label,
		Replacement:   c.Replacement,
		Priority:      c.Priority,
		Annotator:     annotator,
		Note:          c.Note,
		SchemaVersion: schemaVersion,
		Source:        "curation_sink",
		ReceivedAt:    time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal correction record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO curation.corrections_outbox (event_id, payload, schema_version)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		record.EventID,
		string(payloadJSON),
		schemaVersion,
	)
	if err != nil {
		return fmt.Errorf("insert into corrections_outbox: %w", err)
	}

	return nil
}

type outboxRecord struct {
	ID        int64
	Payload   json.RawMessage
	CreatedAt time.Time
	Attempts  int
}

type outboxProcessor struct {
	db           *sql.DB
	notifier     *webhookClient
	batchSize    int
	pollInterval time.Duration
	lockTimeout  time.Duration
	maxAttempts  int
}

func newOutboxProcessor(db *sql.DB, cfg *Config) *outboxProcessor {
	return &outboxProcessor{
		db:           db,
		notifier:     newWebhookClient(cfg.WebhookURL, cfg.WebhookSecret),
		batchSize:    cfg.OutboxBatchSize,
		pollInterval: cfg.OutboxInterval,
		lockTimeout:  cfg.OutboxLockTimeout,
		maxAttempts:  cfg.OutboxMaxAttempts,
	}
}

func (p *outboxProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := false
		records, err := p.claimBatch(ctx)
		if err != nil {
			log.Printf("Outbox: claim batch failed: %v", err)
		} else if len(records) > 0 {
			if err := p.flushRecords(ctx, records); err != nil {
				log.Printf("Outbox: flush failed: %v", err)
			}
			processed = true
		}

		if !processed {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *outboxProcessor) claimBatch(ctx context.Context) ([]outboxRecord, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload, created_at, attempts
		FROM curation.corrections_outbox
		WHERE processed_at IS NULL
		  AND attempts < $3
		  AND (locked_at IS NULL OR locked_at < NOW() - ($2 * INTERVAL '1 second'))
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		p.batchSize,
		int(p.lockTimeout.Seconds()),
		p.maxAttempts,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []outboxRecord
	for rows.Next() {
		var rec outboxRecord
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.CreatedAt, &rec.Attempts); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(records) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE curation.corrections_outbox
		SET locked_at = NOW(), attempts = attempts + 1
		WHERE id = ANY($1)`,
		pq.Array(ids),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return records, nil
}

// flushRecords sends one coalesced notification for the whole batch; the
// worker reloads every active correction on each run, so a single nudge is
// enough no matter how many corrections landed.
func (p *outboxProcessor) flushRecords(ctx context.Context, records []outboxRecord) error {
	event := buildNotification(records)

	if err := p.notifier.Notify(ctx, event); err != nil {
		log.Printf("Outbox: notify failed: %v", err)
		notifyTotal.WithLabelValues("error").Inc()
		if updateErr := p.markFailed(ctx, records, err); updateErr != nil {
			log.Printf("Outbox: mark failed error: %v", updateErr)
		}
		recordsFailedTotal.Add(float64(len(records)))
		return err
	}

	notifyTotal.WithLabelValues("ok").Inc()
	if err := p.markProcessed(ctx, records); err != nil {
		log.Printf("Outbox: mark processed error: %v", err)
		return err
	}
	recordsProcessedTotal.Add(float64(len(records)))
	return nil
}

// workerEvent matches the payload curation-worker accepts on /webhook.
type workerEvent struct {
	Action string                 `json:"action"`
	Reason string                 `json:"reason,omitempty"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

func buildNotification(records []outboxRecord) workerEvent {
	labels := make([]string, 0, len(records))
	for _, rec := range records {
		var payload correctionRecord
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			continue
		}
		labels = append(labels, payload.Label)
		if len(labels) == 10 {
			break
		}
	}

	return workerEvent{
		Action: "CORRECTIONS_UPDATED",
		Reason: fmt.Sprintf("%d new label corrections", len(records)),
		Meta: map[string]interface{}{
			"correction_count": len(records),
			"labels":           labels,
			"notification_id":  uuid.NewString(),
		},
	}
}

func (p *outboxProcessor) markProcessed(ctx context.Context, records []outboxRecord) error {
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	_, err := p.db.ExecContext(ctx, `
		UPDATE curation.corrections_outbox
		SET processed_at = NOW(), last_error = NULL, locked_at = NULL
		WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	return err
}

func (p *outboxProcessor) markFailed(ctx context.Context, records []outboxRecord, cause error) error {
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		if p.maxAttempts > 0 && rec.Attempts+1 >= p.maxAttempts {
			log.Printf("Outbox: record %d exceeded max attempts (%d)", rec.ID, p.maxAttempts)
		}
		ids = append(ids, rec.ID)
	}

	errMsg := truncateError(cause, 512)
	_, err := p.db.ExecContext(ctx, `
		UPDATE curation.corrections_outbox
		SET last_error = $2, locked_at = NULL
		WHERE id = ANY($1)`,
		pq.Array(ids),
		errMsg,
	)
	return err
}

func truncateError(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}

type webhookClient struct {
	url    string
	secret string
	http   *http.Client
}

func newWebhookClient(url, secret string) *webhookClient {
	return &webhookClient{
		url:    url,
		secret: secret,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Notify POSTs the event to the worker webhook, signed the same way the
// worker verifies.
func (c *webhookClient) Notify(ctx context.Context, event workerEvent) error {
	if c.url == "" {
		return fmt.Errorf("webhook url not configured")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Curation-Signature", signBody(body, c.secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	return nil
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
