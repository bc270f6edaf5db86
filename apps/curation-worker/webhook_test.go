package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// testWorker builds a Worker wired to a private metrics registry. The source
// locations do not exist, so an accepted run fails fast in the background and
// only logs.
func testWorker(secret string) *Worker {
	return &Worker{
		config: &Config{
			WebhookSecret:   secret,
			OutputDir:       "/nonexistent/output",
			MinLabelSupport: 30,
			RunTimeout:      time.Second,
			Leffingwell: SourceSpec{
				Name:      "leffingwell",
				Location:  "/nonexistent/leffingwell.csv",
				Format:    formatDelimited,
				Delimiter: ";",
			},
			Goodscents: SourceSpec{
				Name:     "goodscents",
				Location: "/nonexistent/goodscents.csv",
				Format:   formatList,
			},
		},
		metrics: newMetrics(prometheus.NewRegistry()),
	}
}

func signTestBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	w := testWorker("test-secret")
	body := []byte(`{"action":"RUN_CURATION"}`)

	if !w.verifyWebhookSignature(body, signTestBody("test-secret", body)) {
		t.Errorf("expected matching signature to verify")
	}
	if w.verifyWebhookSignature(body, signTestBody("wrong-secret", body)) {
		t.Errorf("expected signature from wrong secret to fail")
	}
	if w.verifyWebhookSignature(body, "") {
		t.Errorf("expected empty signature to fail")
	}
}

func TestHandleWebhookMethodNotAllowed(t *testing.T) {
	w := testWorker("")
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()

	w.handleWebhook(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	w := testWorker("test-secret")
	body := `{"action":"RUN_CURATION"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Curation-Signature", "deadbeef")
	rec := httptest.NewRecorder()

	w.handleWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleWebhookRejectsInvalidJSON(t *testing.T) {
	w := testWorker("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	w.handleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebhookAcknowledgesNonTrigger(t *testing.T) {
	w := testWorker("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"action":"PING"}`))
	rec := httptest.NewRecorder()

	w.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "not a curation trigger") {
		t.Errorf("body = %q, want non-trigger acknowledgment", rec.Body.String())
	}
}

func TestHandleWebhookAcceptsSignedTrigger(t *testing.T) {
	w := testWorker("test-secret")
	body := `{"action":"CORRECTIONS_UPDATED","reason":"3 new label corrections"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Curation-Signature", signTestBody("test-secret", []byte(body)))
	rec := httptest.NewRecorder()

	w.handleWebhook(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if !strings.Contains(rec.Body.String(), "accepted") {
		t.Errorf("body = %q, want accepted status", rec.Body.String())
	}
}

func TestHandleWebhookAcceptsUnsignedWhenNoSecret(t *testing.T) {
	w := testWorker("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"action":"RUN_CURATION"}`))
	rec := httptest.NewRecorder()

	w.handleWebhook(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}
