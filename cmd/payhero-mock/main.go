package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"time"

	"activation-relay/internal/payload"
	"github.com/google/uuid"
)

const (
	contentType = "application/json"
	errorRate   = 0.5
)

var (
	successRatio = flag.Float64("success-ratio", 0.8, "Share of payments settled with a Success callback")
	maxDelay     = flag.Duration("max-callback-delay", 8*time.Second, "Upper bound of the random callback delay")
	addr         = flag.String("addr", ":8085", "Listen address")
)

type messageResponse struct {
	Message string `json:"message"`
}

func main() {
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/payments", paymentsHandler)
	mux.HandleFunc("POST /always-fail/api/v2/payments", alwaysFailHandler)
	mux.HandleFunc("POST /random-fail/api/v2/payments", randomFailHandler)

	log.Printf("Mock gateway listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, loggingMiddleware(countMiddleware(mux))))
}

func paymentsHandler(w http.ResponseWriter, r *http.Request) {
	var push payload.STKPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}
	if push.ExternalReference == "" || push.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "amount and external_reference are required"})
		return
	}

	checkoutID := "ws_CO_" + uuid.NewString()
	success := true
	writeJSON(w, http.StatusCreated, payload.STKPushResponse{
		Success:           &success,
		Status:            "QUEUED",
		Reference:         uuid.NewString(),
		CheckoutRequestID: checkoutID,
	})

	if push.CallbackURL != "" {
		go sendCallback(push, checkoutID)
	}
}

// sendCallback settles the payment after the payer would have answered the prompt.
func sendCallback(push payload.STKPush, checkoutID string) {
	time.Sleep(time.Duration(rand.Int64N(int64(*maxDelay) + 1)))

	response := map[string]any{
		"Amount":            push.Amount,
		"CheckoutRequestID": checkoutID,
		"ExternalReference": push.ExternalReference,
		"Phone":             "+" + push.PhoneNumber,
	}
	if rand.Float64() < *successRatio {
		response["Status"] = "Success"
		response["ResultCode"] = 0
		response["ResultDesc"] = "The service request is processed successfully."
		response["MpesaReceiptNumber"] = "MCK" + uuid.NewString()[:7]
	} else {
		response["Status"] = "Failed"
		response["ResultCode"] = 1032
		response["ResultDesc"] = "Request cancelled by user"
	}

	body, _ := json.Marshal(map[string]any{"status": true, "response": response})
	resp, err := http.Post(push.CallbackURL, contentType, bytes.NewReader(body))
	if err != nil {
		log.Printf("Callback for %s failed: %v", push.ExternalReference, err)
		return
	}
	resp.Body.Close()
	log.Printf("Callback for %s delivered: %s (%d)", push.ExternalReference, response["Status"], resp.StatusCode)
}

func alwaysFailHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, messageResponse{Message: "channel unavailable"})
}

func randomFailHandler(w http.ResponseWriter, r *http.Request) {
	if rand.Float64() < errorRate {
		writeJSON(w, http.StatusServiceUnavailable, messageResponse{Message: "channel unavailable"})
		return
	}
	paymentsHandler(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
