package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

// CurationEvent is the payload accepted on /webhook. SOURCE_UPDATED and
// CORRECTIONS_UPDATED arrive from the intake services when new raw data or
// reviewer corrections land; RUN_CURATION is the manual trigger.
type CurationEvent struct {
	Action string                 `json:"action"`
	Reason string                 `json:"reason,omitempty"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

func (w *Worker) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024)) // 1MB limit
	if err != nil {
		log.Printf("Failed to read webhook body: %v", err)
		w.metrics.webhooksReceived.WithLabelValues("unknown", "error").Inc()
		http.Error(rw, "Failed to read request body", http.StatusBadRequest)
		return
	}

	// Verify webhook signature if secret is configured
	if w.config.WebhookSecret != "" {
		signature := r.Header.Get("X-Curation-Signature")
		if !w.verifyWebhookSignature(body, signature) {
			log.Printf("Invalid webhook signature")
			w.metrics.webhooksReceived.WithLabelValues("unknown", "invalid_signature").Inc()
			http.Error(rw, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	// Parse webhook payload
	var event CurationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("Failed to parse webhook payload: %v", err)
		w.metrics.webhooksReceived.WithLabelValues("unknown", "invalid_json").Inc()
		http.Error(rw, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	log.Printf("Received webhook: action=%s reason=%s", event.Action, event.Reason)
	w.metrics.webhooksReceived.WithLabelValues(event.Action, "received").Inc()

	// Only run-triggering events start a pipeline pass
	switch event.Action {
	case "RUN_CURATION", "SOURCE_UPDATED", "CORRECTIONS_UPDATED":
	default:
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, `{"status":"acknowledged","reason":"not a curation trigger"}`)
		return
	}

	// Store webhook event in database for audit trail
	if w.db != nil {
		if err := w.storeWebhookEvent(event.Action, body, ""); err != nil {
			log.Printf("Failed to store webhook event: %v", err)
			// Continue processing even if audit log fails
		}
	}

	// Run the pipeline asynchronously; the run mutex serializes overlapping
	// triggers.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.RunTimeout)
		defer cancel()

		result, err := w.runCuration(ctx, "webhook")
		if err != nil {
			log.Printf("Webhook-triggered curation failed: %v", err)
			return
		}
		log.Printf("Webhook-triggered curation run %s completed", result.RunID)
	}()

	// Return immediate response
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	fmt.Fprint(rw, `{"status":"accepted","message":"curation run started"}`)
}

func (w *Worker) verifyWebhookSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// Triggers are signed with HMAC-SHA256 over the raw body
	mac := hmac.New(sha256.New, []byte(w.config.WebhookSecret))
	mac.Write(body)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	// Constant time comparison to prevent timing attacks
	return hmac.Equal([]byte(signature), []byte(expectedMAC))
}
