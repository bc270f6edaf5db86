package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds application configuration
type Config struct {
	Port            string
	WebhookSecret   string // For signature verification
	DatabaseURL     string // Optional; enables corrections loading and persistence
	OutputDir       string
	OutputS3Bucket  string // Optional; artifacts are also uploaded when set
	S3Region        string
	S3Endpoint      string // For testing with MinIO
	RunOnStartup    bool
	WatchDir        string // Optional; triggers runs when source files change
	MinLabelSupport int
	HTTPTimeout     time.Duration
	RunTimeout      time.Duration
	ShutdownTimeout time.Duration
	Leffingwell     SourceSpec
	Goodscents      SourceSpec
}

// Worker runs the dataset curation pipeline
type Worker struct {
	config     *Config
	db         *sql.DB
	s3Client   *s3.Client
	metrics    *Metrics
	httpClient *http.Client

	// One curation run at a time; concurrent triggers queue here.
	runMu sync.Mutex
}

// LabelCorrection is a reviewer-curated vocabulary substitution loaded from
// the database and applied on top of the built-in substitution table.
type LabelCorrection struct {
	ID          int64
	Label       string
	Replacement string
	Priority    int
	IsActive    bool
}

// Metrics holds Prometheus metrics
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	runDuration      prometheus.Histogram
	entityCount      *prometheus.GaugeVec
	vocabularySize   *prometheus.GaugeVec
	webhooksReceived *prometheus.CounterVec
	databaseErrors   *prometheus.CounterVec
}

func main() {
	// Load configuration
	cfg := loadConfig()

	// Initialize database when persistence is configured
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = initDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
	} else {
		log.Println("DATABASE_URL not set; corrections loading and persistence disabled")
	}

	// Initialize S3 client when any source or output lives in S3
	var s3Client *s3.Client
	if needsS3(cfg) {
		var err error
		s3Client, err = initS3Client(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3 client: %v", err)
		}
	}

	// Initialize metrics
	metrics := initMetrics()

	// Create worker
	worker := &Worker{
		config:     cfg,
		db:         db,
		s3Client:   s3Client,
		metrics:    metrics,
		httpClient: newHTTPClient(cfg.HTTPTimeout),
	}

	// Set up HTTP handlers
	http.HandleFunc("/webhook", worker.handleWebhook)
	http.HandleFunc("/health", worker.handleHealth)
	http.Handle("/metrics", promhttp.Handler())

	// Start HTTP server
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background triggers share one cancelable context
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	if cfg.RunOnStartup {
		go worker.runOnStartup(runCtx)
	}

	if cfg.WatchDir != "" {
		go worker.watchSourceDir(runCtx, cfg.WatchDir)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down gracefully...")
		cancelRuns()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Curation worker starting on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// runOnStartup executes one curation pass shortly after boot, retrying a few
// times so the worker survives sources that are still warming up.
func (w *Worker) runOnStartup(ctx context.Context) {
	time.Sleep(2 * time.Second)

	for attempt := 1; attempt <= 3; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
		result, err := w.runCuration(runCtx, "startup")
		cancel()

		if err == nil {
			log.Printf("Startup curation run %s completed: %d entities, %d labels",
				result.RunID, result.FinalEntities, result.FinalVocabulary)
			return
		}

		log.Printf("Startup curation run failed (attempt %d/3): %v", attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt*attempt) * 5 * time.Second):
		}
	}

	log.Println("Startup curation run gave up after 3 attempts")
}

func loadConfig() *Config {
	cfg := &Config{
		Port:            getEnvOrDefault("PORT", "8089"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		OutputDir:       getEnvOrDefault("OUTPUT_DIR", "./output"),
		OutputS3Bucket:  os.Getenv("OUTPUT_S3_BUCKET"),
		S3Region:        getEnvOrDefault("AWS_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"), // Optional, for MinIO testing
		RunOnStartup:    getBoolEnvOrDefault("RUN_ON_STARTUP", false),
		WatchDir:        os.Getenv("WATCH_DIR"),
		MinLabelSupport: getIntEnvOrDefault("MIN_LABEL_SUPPORT", 30),
		HTTPTimeout:     getDurationEnvOrDefault("HTTP_TIMEOUT", 60*time.Second),
		RunTimeout:      getDurationEnvOrDefault("RUN_TIMEOUT", 10*time.Minute),
		ShutdownTimeout: getDurationEnvOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
		Leffingwell:     loadSourceSpec("LEFFINGWELL", formatDelimited),
		Goodscents:      loadSourceSpec("GOODSCENTS", formatList),
	}

	// Validate required configuration
	if cfg.Leffingwell.Location == "" {
		log.Fatal("LEFFINGWELL_SOURCE is required")
	}
	if cfg.Goodscents.Location == "" {
		log.Fatal("GOODSCENTS_SOURCE is required")
	}
	if cfg.MinLabelSupport < 1 {
		log.Fatalf("MIN_LABEL_SUPPORT must be positive, got %d", cfg.MinLabelSupport)
	}

	return cfg
}

// loadSourceSpec reads one dataset source's settings from PREFIX_* env vars.
func loadSourceSpec(prefix string, defaultFormat labelFormat) SourceSpec {
	format := labelFormat(getEnvOrDefault(prefix+"_FORMAT", string(defaultFormat)))
	switch format {
	case formatDelimited, formatList, formatColumns:
	default:
		log.Fatalf("%s_FORMAT must be one of delimited, list, columns; got %q", prefix, format)
	}

	return SourceSpec{
		Name:        strings.ToLower(prefix),
		Location:    os.Getenv(prefix + "_SOURCE"),
		Format:      format,
		Delimiter:   getEnvOrDefault(prefix+"_DELIMITER", ";"),
		KeyColumn:   os.Getenv(prefix + "_KEY_COLUMN"),
		LabelColumn: os.Getenv(prefix + "_LABEL_COLUMN"),
	}
}

func needsS3(cfg *Config) bool {
	return cfg.OutputS3Bucket != "" ||
		strings.HasPrefix(cfg.Leffingwell.Location, "s3://") ||
		strings.HasPrefix(cfg.Goodscents.Location, "s3://")
}

func initDatabase(dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	// Ensure schema exists
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}

	return db, nil
}

func initS3Client(cfg *Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.S3Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){}
	if cfg.S3Endpoint != "" {
		// For MinIO/testing
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, opts...), nil
}

func initMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curation_runs_total",
				Help: "Total number of curation runs",
			},
			[]string{"trigger", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curation_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "curation_run_duration_seconds",
				Help:    "End-to-end curation run duration",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		entityCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "curation_entities",
				Help: "Entity count after each pipeline stage, from the latest run",
			},
			[]string{"stage"},
		),
		vocabularySize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "curation_vocabulary_size",
				Help: "Label vocabulary size at each pipeline stage, from the latest run",
			},
			[]string{"stage"},
		),
		webhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curation_webhooks_received_total",
				Help: "Total number of webhooks received",
			},
			[]string{"event_type", "status"},
		),
		databaseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curation_database_errors_total",
				Help: "Total number of database errors",
			},
			[]string{"operation"},
		),
	}

	// Register metrics
	reg.MustRegister(
		m.runsTotal,
		m.stageDuration,
		m.runDuration,
		m.entityCount,
		m.vocabularySize,
		m.webhooksReceived,
		m.databaseErrors,
	)

	return m
}

// newHTTPClient builds the hardened client used for source downloads.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	database := "disabled"
	if w.db != nil {
		// Check database connectivity
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := w.db.PingContext(ctx); err != nil {
			w.metrics.databaseErrors.WithLabelValues("health_check").Inc()
			http.Error(rw, fmt.Sprintf(`{"status":"unhealthy","error":"%v"}`, err), http.StatusServiceUnavailable)
			return
		}
		database = "ok"
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprintf(rw, `{"status":"healthy","database":%q,"timestamp":"%s"}`,
		database, time.Now().Format(time.RFC3339))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
