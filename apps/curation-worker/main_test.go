package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("CURATION_TEST_STR", "custom")
	if got := getEnvOrDefault("CURATION_TEST_STR", "fallback"); got != "custom" {
		t.Errorf("getEnvOrDefault = %q, want %q", got, "custom")
	}
	if got := getEnvOrDefault("CURATION_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("getEnvOrDefault = %q, want %q", got, "fallback")
	}
	t.Setenv("CURATION_TEST_EMPTY", "")
	if got := getEnvOrDefault("CURATION_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("getEnvOrDefault with empty value = %q, want %q", got, "fallback")
	}
}

func TestGetIntEnvOrDefault(t *testing.T) {
	t.Setenv("CURATION_TEST_INT", "42")
	if got := getIntEnvOrDefault("CURATION_TEST_INT", 30); got != 42 {
		t.Errorf("getIntEnvOrDefault = %d, want 42", got)
	}
	t.Setenv("CURATION_TEST_BAD_INT", "not-a-number")
	if got := getIntEnvOrDefault("CURATION_TEST_BAD_INT", 30); got != 30 {
		t.Errorf("getIntEnvOrDefault with bad value = %d, want 30", got)
	}
	if got := getIntEnvOrDefault("CURATION_TEST_UNSET", 30); got != 30 {
		t.Errorf("getIntEnvOrDefault unset = %d, want 30", got)
	}
}

func TestGetBoolEnvOrDefault(t *testing.T) {
	t.Setenv("CURATION_TEST_BOOL", "true")
	if !getBoolEnvOrDefault("CURATION_TEST_BOOL", false) {
		t.Errorf("getBoolEnvOrDefault(true) = false")
	}
	t.Setenv("CURATION_TEST_BOOL_NUM", "1")
	if !getBoolEnvOrDefault("CURATION_TEST_BOOL_NUM", false) {
		t.Errorf("getBoolEnvOrDefault(1) = false")
	}
	t.Setenv("CURATION_TEST_BAD_BOOL", "yep")
	if getBoolEnvOrDefault("CURATION_TEST_BAD_BOOL", false) {
		t.Errorf("getBoolEnvOrDefault with bad value = true, want default false")
	}
}

func TestGetDurationEnvOrDefault(t *testing.T) {
	t.Setenv("CURATION_TEST_DUR", "90s")
	if got := getDurationEnvOrDefault("CURATION_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("getDurationEnvOrDefault = %v, want 90s", got)
	}
	t.Setenv("CURATION_TEST_BAD_DUR", "ninety")
	if got := getDurationEnvOrDefault("CURATION_TEST_BAD_DUR", time.Minute); got != time.Minute {
		t.Errorf("getDurationEnvOrDefault with bad value = %v, want 1m", got)
	}
}

func TestLoadSourceSpec(t *testing.T) {
	t.Setenv("TESTSRC_SOURCE", "/data/raw/source.csv")
	t.Setenv("TESTSRC_FORMAT", "columns")
	t.Setenv("TESTSRC_KEY_COLUMN", "#1")

	spec := loadSourceSpec("TESTSRC", formatDelimited)

	if spec.Name != "testsrc" {
		t.Errorf("Name = %q, want testsrc", spec.Name)
	}
	if spec.Location != "/data/raw/source.csv" {
		t.Errorf("Location = %q", spec.Location)
	}
	if spec.Format != formatColumns {
		t.Errorf("Format = %q, want columns", spec.Format)
	}
	if spec.Delimiter != ";" {
		t.Errorf("Delimiter = %q, want default ;", spec.Delimiter)
	}
	if spec.KeyColumn != "#1" {
		t.Errorf("KeyColumn = %q, want #1", spec.KeyColumn)
	}
}

func TestLoadSourceSpecDefaults(t *testing.T) {
	t.Setenv("DEFSRC_SOURCE", "/data/raw/behavior.xlsx")

	spec := loadSourceSpec("DEFSRC", formatList)

	if spec.Format != formatList {
		t.Errorf("Format = %q, want the default list format", spec.Format)
	}
	if spec.Delimiter != ";" {
		t.Errorf("Delimiter = %q, want ;", spec.Delimiter)
	}
	if spec.LabelColumn != "" {
		t.Errorf("LabelColumn = %q, want empty", spec.LabelColumn)
	}
}

func TestNeedsS3(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		expected bool
	}{
		{
			name:     "all local",
			cfg:      &Config{Leffingwell: SourceSpec{Location: "/data/a.csv"}, Goodscents: SourceSpec{Location: "/data/b.csv"}},
			expected: false,
		},
		{
			name:     "output bucket set",
			cfg:      &Config{OutputS3Bucket: "curated-datasets"},
			expected: true,
		},
		{
			name:     "leffingwell in s3",
			cfg:      &Config{Leffingwell: SourceSpec{Location: "s3://raw/leffingwell.csv"}},
			expected: true,
		},
		{
			name:     "goodscents in s3",
			cfg:      &Config{Goodscents: SourceSpec{Location: "s3://raw/goodscents.xlsx"}},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsS3(tt.cfg); got != tt.expected {
				t.Errorf("needsS3 = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHandleHealthWithoutDatabase(t *testing.T) {
	w := testWorker("")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	w.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"healthy"`) {
		t.Errorf("body = %q, want healthy status", body)
	}
	if !strings.Contains(body, "disabled") {
		t.Errorf("body = %q, want database disabled marker", body)
	}
}
