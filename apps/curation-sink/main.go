package main

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all environment variables
type Config struct {
	ListenAddr        string
	DatabaseURL       string
	IngestToken       string
	WebhookURL        string
	WebhookSecret     string
	SchemaVersion     string
	OutboxBatchSize   int
	OutboxInterval    time.Duration
	OutboxLockTimeout time.Duration
	OutboxMaxAttempts int
}

func loadConfig() *Config {
	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8090"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		IngestToken:       os.Getenv("INGEST_TOKEN"),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		SchemaVersion:     getEnv("SCHEMA_VERSION", "1.0.0"),
		OutboxBatchSize:   getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxInterval:    getDurationEnv("OUTBOX_INTERVAL", 15*time.Second),
		OutboxLockTimeout: getDurationEnv("OUTBOX_LOCK_TIMEOUT", 5*time.Minute),
		OutboxMaxAttempts: getIntEnv("OUTBOX_MAX_ATTEMPTS", 12),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
		log.Printf("Invalid integer for %s: %s", key, value)
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		log.Printf("Invalid duration for %s: %s", key, value)
	}
	return fallback
}

var db *sql.DB

func initDB(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, running without database")
		return nil
	}

	var err error
	db, err = sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// The corrections table matches the one curation-worker creates so either
	// service can boot first.
	schema := `
    CREATE SCHEMA IF NOT EXISTS curation;

	CREATE TABLE IF NOT EXISTS curation.label_corrections (
		id BIGSERIAL PRIMARY KEY,
		label TEXT NOT NULL,
		replacement TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 100,
		annotator TEXT,
		note TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

    CREATE TABLE IF NOT EXISTS curation.corrections_outbox (
        id BIGSERIAL PRIMARY KEY,
        event_id TEXT UNIQUE,
        payload JSONB NOT NULL,
        schema_version TEXT,
        created_at TIMESTAMPTZ DEFAULT NOW(),
        processed_at TIMESTAMPTZ,
        attempts INT DEFAULT 0,
        last_error TEXT,
        locked_at TIMESTAMPTZ
    );

	CREATE INDEX IF NOT EXISTS idx_corrections_outbox_pending
		ON curation.corrections_outbox (processed_at, created_at);

	CREATE INDEX IF NOT EXISTS idx_label_corrections_active
		ON curation.label_corrections (label) WHERE is_active;
    `

	if _, err := db.ExecContext(ctx, schema); err != nil {
		// Log but don't fail - tables might already exist
		log.Printf("Warning: schema creation had issues (may already exist): %v", err)
	}

	log.Println("Database initialized successfully")
	return nil
}

// CorrectionInput is a single vocabulary correction a reviewer submits. An
// identity correction (replacement equal to label) is valid; it cancels a
// built-in substitution for that label.
type CorrectionInput struct {
	Label       string `json:"label"`
	Replacement string `json:"replacement"`
	Priority    int    `json:"priority,omitempty"`
	Note        string `json:"note,omitempty"`
}

// CorrectionSubmission is the payload accepted on /ingest.
type CorrectionSubmission struct {
	Annotator   string            `json:"annotator,omitempty"`
	Corrections []CorrectionInput `json:"corrections"`
}

func validateCorrection(c CorrectionInput) (CorrectionInput, error) {
	c.Label = strings.TrimSpace(c.Label)
	c.Replacement = strings.TrimSpace(c.Replacement)

	if c.Label == "" {
		return c, fmt.Errorf("label is required")
	}
	if c.Replacement == "" {
		return c, fmt.Errorf("replacement is required")
	}
	if len(c.Label) > 200 || len(c.Replacement) > 200 {
		return c, fmt.Errorf("label and replacement must be at most 200 characters")
	}
	if c.Priority <= 0 {
		c.Priority = 100
	}
	return c, nil
}

func authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	got = strings.TrimPrefix(got, "Bearer ")
	if got == "" {
		got = r.Header.Get("X-Ingest-Token")
	}
	// Constant time comparison
	return hmac.Equal([]byte(got), []byte(token))
}

func ingestHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !authorized(r, cfg.IngestToken) {
			correctionsTotal.WithLabelValues("unauthorized").Inc()
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		var submission CorrectionSubmission
		if err := json.Unmarshal(body, &submission); err != nil {
			// Single-object submissions are accepted as a convenience
			var single CorrectionInput
			if err2 := json.Unmarshal(body, &single); err2 != nil || single.Label == "" {
				correctionsTotal.WithLabelValues("invalid").Inc()
				http.Error(w, "Invalid JSON", http.StatusBadRequest)
				return
			}
			submission = CorrectionSubmission{Corrections: []CorrectionInput{single}}
		}

		if len(submission.Corrections) == 0 {
			correctionsTotal.WithLabelValues("invalid").Inc()
			http.Error(w, "No corrections in payload", http.StatusBadRequest)
			return
		}

		validated := make([]CorrectionInput, 0, len(submission.Corrections))
		for i, c := range submission.Corrections {
			clean, err := validateCorrection(c)
			if err != nil {
				correctionsTotal.WithLabelValues("invalid").Inc()
				http.Error(w, fmt.Sprintf("correction %d: %v", i, err), http.StatusBadRequest)
				return
			}
			validated = append(validated, clean)
		}

		if db == nil {
			http.Error(w, "Database not configured", http.StatusServiceUnavailable)
			return
		}

		ids, err := storeCorrections(r.Context(), validated, submission.Annotator, cfg.SchemaVersion)
		if err != nil {
			log.Printf("Failed to store corrections: %v", err)
			correctionsTotal.WithLabelValues("error").Inc()
			http.Error(w, "Failed to store corrections", http.StatusInternalServerError)
			return
		}

		correctionsTotal.WithLabelValues("accepted").Add(float64(len(ids)))
		log.Printf("Ingested %d corrections from %q", len(ids), submission.Annotator)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"accepted": len(ids),
			"ids":      ids,
		})
	}
}

// storeCorrections inserts the batch and its outbox notifications in one
// transaction so a stored correction always produces a worker notification.
func storeCorrections(ctx context.Context, corrections []CorrectionInput, annotator, schemaVersion string) ([]int64, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(corrections))
	for _, c := range corrections {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO curation.label_corrections (label, replacement, priority, annotator, note)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			c.Label, c.Replacement, c.Priority, annotator, c.Note,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert correction %q: %w", c.Label, err)
		}

		if err := enqueueCorrectionTx(ctx, tx, id, c, annotator, schemaVersion); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit corrections: %w", err)
	}
	return ids, nil
}

func correctionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	label := strings.TrimSpace(r.URL.Query().Get("label"))
	includeInactive := r.URL.Query().Get("include_inactive") == "1"

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	query := `
        SELECT id, label, replacement, priority, annotator, note, is_active, created_at
        FROM curation.label_corrections
        WHERE ($1 = '' OR label = $1)
          AND (is_active OR $2)
        ORDER BY priority ASC, id ASC
        LIMIT 500`

	rows, err := db.QueryContext(ctx, query, label, includeInactive)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type item struct {
		ID          int64     `json:"id"`
		Label       string    `json:"label"`
		Replacement string    `json:"replacement"`
		Priority    int       `json:"priority"`
		Annotator   *string   `json:"annotator,omitempty"`
		Note        *string   `json:"note,omitempty"`
		IsActive    bool      `json:"is_active"`
		CreatedAt   time.Time `json:"created_at"`
	}

	var out struct {
		Items []item `json:"items"`
	}

	for rows.Next() {
		var it item
		if err := rows.Scan(&it.ID, &it.Label, &it.Replacement, &it.Priority, &it.Annotator, &it.Note, &it.IsActive, &it.CreatedAt); err != nil {
			http.Error(w, "scan failed", http.StatusInternalServerError)
			return
		}
		out.Items = append(out.Items, it)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, "rows error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"ok":       true,
		"database": db != nil,
	}

	// Test database connection if available
	if db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			status["database"] = false
			status["db_error"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func main() {
	cfg := loadConfig()

	// Initialize database
	if err := initDB(cfg); err != nil {
		log.Printf("Warning: Database initialization failed: %v", err)
		// Continue without database
	}

	// Metrics registry
	initMetrics()

	var outboxCancel context.CancelFunc
	if db != nil && cfg.WebhookURL != "" {
		processor := newOutboxProcessor(db, cfg)
		ctx, cancel := context.WithCancel(context.Background())
		outboxCancel = cancel
		log.Printf("Outbox processor enabled: webhook=%s batch=%d interval=%s",
			cfg.WebhookURL, cfg.OutboxBatchSize, cfg.OutboxInterval)
		go processor.run(ctx)
	}
	if outboxCancel != nil {
		defer outboxCancel()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ingest", ingestHandler(cfg))
	mux.HandleFunc("/corrections", correctionsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Starting curation-sink on %s", cfg.ListenAddr)
	if cfg.DatabaseURL != "" {
		log.Println("Database: connected")
	} else {
		log.Println("Database: not configured")
	}
	if cfg.WebhookURL != "" {
		log.Printf("Worker notifications: configured for %s", cfg.WebhookURL)
	}

	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatal(err)
	}
}
