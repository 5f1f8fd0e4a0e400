// Relay webhook receiver example.
//
// A minimal subscriber that verifies Relay skill lifecycle webhooks.
//
// Usage:
//
//	export RELAY_WEBHOOK_SECRET="whsec_your_secret_here"
//	go run main.go
//
// Then register http://your-server:9000/webhook under /api/admin/webhooks.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

const replayWindow = 5 * time.Minute

// SkillEvent is the body Relay POSTs for skill.deleted, skill.reviewed and
// skill.merged.
type SkillEvent struct {
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		SkillID  string `json:"skill_id"`
		Slug     string `json:"slug"`
		ActorID  string `json:"actor_id"`
		Status   string `json:"status"`
		Action   string `json:"action"`
		TargetID string `json:"target_id"`
	} `json:"data"`
}

func main() {
	secret := os.Getenv("RELAY_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("RELAY_WEBHOOK_SECRET environment variable is required")
	}

	http.HandleFunc("/webhook", webhookHandler(secret))
	http.HandleFunc("/health", healthHandler)

	log.Println("Starting webhook receiver on :9000")
	log.Fatal(http.ListenAndServe(":9000", nil))
}

func webhookHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		ts, err := strconv.ParseInt(r.Header.Get("X-Relay-Timestamp"), 10, 64)
		if err != nil {
			http.Error(w, "Missing timestamp", http.StatusUnauthorized)
			return
		}
		if !verifySignature(secret, r.Header.Get("X-Relay-Signature"), ts, body, time.Now()) {
			log.Println("Rejected delivery", r.Header.Get("X-Relay-Delivery-Id"))
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var event SkillEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		log.Printf("Received %s for skill %s (tenant %s, actor %s)",
			event.EventType, event.Data.SkillID, event.TenantID, event.Data.ActorID)
		if event.EventType == "skill.merged" {
			log.Printf("  merged into %s", event.Data.TargetID)
		}

		// Relay treats any 2xx as delivered; anything else is retried.
		w.WriteHeader(http.StatusNoContent)
	}
}

// verifySignature checks the hex HMAC-SHA256 of "{timestamp}.{body}" and
// rejects timestamps outside the replay window.
func verifySignature(secret, signature string, timestamp int64, body []byte, now time.Time) bool {
	age := now.Sub(time.Unix(timestamp, 0))
	if age > replayWindow || age < -replayWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
