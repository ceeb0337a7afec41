// Package relay serves the HTTP surface between the payer's client, the
// mobile-money gateway and the settlement service.
package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"activation-relay/internal/gateway"
	"activation-relay/internal/logcontext"
	"activation-relay/internal/payload"
	"activation-relay/internal/phone"
	"activation-relay/internal/settlement"
	"activation-relay/internal/snapshot"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const (
	maxBodyBytes   = 1 << 20
	maxAmount      = 1 << 53
	statusFailure  = "Failure"
	initiatedNote  = "STK Push initiated, waiting for user confirmation."
	paymentFailed  = "Payment failed"
	notFoundDetail = "No record found for this reference"
)

type Gateway interface {
	InitiatePayment(ctx context.Context, phone string, amount int64, reference string) (*gateway.Result, error)
}

type Settler interface {
	Settle(ctx context.Context, n payload.Notification) (settlement.Result, error)
}

type Handler struct {
	gateway   Gateway
	settler   Settler
	snapshots snapshot.Store
	logger    *slog.Logger
}

func NewHandler(gw Gateway, settler Settler, snapshots snapshot.Store, logger *slog.Logger) *Handler {
	return &Handler{gateway: gw, settler: settler, snapshots: snapshots, logger: logger}
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req payload.PayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		requestCounter("pay", "invalid").Inc()
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Status: statusFailure, Message: "Invalid request body: " + err.Error()})
		return
	}

	amount, msg := validatePay(req)
	if msg != "" {
		requestCounter("pay", "invalid").Inc()
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Status: statusFailure, Message: msg})
		return
	}

	reference := strings.TrimSpace(req.Reference)
	ctx = logcontext.AppendCtx(ctx, slog.String("reference", reference))
	fullPhone := phone.WithCountryCode(req.Phone)

	result, err := h.gateway.InitiatePayment(ctx, fullPhone, amount, reference)
	if err != nil {
		h.logger.ErrorContext(ctx, "Payment initiation error", "error", err)
		requestCounter("pay", "upstream_error").Inc()
		writeJSON(w, http.StatusInternalServerError, initiationFailure(err))
		return
	}

	h.remember(ctx, reference, snapshot.Entry{
		Status:            result.Status,
		Details:           initiatedNote,
		CheckoutRequestID: result.CheckoutRequestID,
	})

	requestCounter("pay", "success").Inc()
	writeJSON(w, http.StatusOK, payload.PayResponse{
		Status:            result.Status,
		Message:           result.Message,
		CheckoutRequestID: result.CheckoutRequestID,
		ExternalReference: reference,
		Raw:               result.Raw,
	})
}

func validatePay(req payload.PayRequest) (int64, string) {
	if strings.TrimSpace(req.Phone) == "" {
		return 0, "phone is required"
	}
	if strings.TrimSpace(req.Reference) == "" {
		return 0, "reference is required"
	}
	amount := float64(req.Amount)
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, "amount must be a positive number"
	}
	if amount != math.Trunc(amount) {
		return 0, "amount must be a whole number"
	}
	if amount > maxAmount {
		return 0, "amount is too large"
	}
	return int64(amount), ""
}

func initiationFailure(err error) payload.ErrorResponse {
	resp := payload.ErrorResponse{Status: statusFailure, Message: paymentFailed}

	var gwErr *gateway.Error
	switch {
	case errors.As(err, &gwErr):
		if gwErr.Message != "" {
			resp.Message = gwErr.Message
		} else {
			resp.Message = gwErr.Error()
		}
		resp.Error = gwErr.Body
	case err != nil && err.Error() != "":
		resp.Message = err.Error()
	}
	return resp
}

// handleCallback always answers 200: a non-2xx makes the gateway retry the
// same notification indefinitely. Internal failures are only logged.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading callback body", "error", err)
	}

	n := payload.ParseCallback(body)
	if n.ExternalReference != "" {
		ctx = logcontext.AppendCtx(ctx, slog.String("reference", n.ExternalReference))
		h.remember(ctx, n.ExternalReference, snapshot.Entry{
			Status:       n.Status,
			ResultCode:   n.ResultCode,
			ResultDesc:   n.ResultDesc,
			FullCallback: n.AuditPayload(),
		})
	}

	// Settlement outlives the request so a dropped connection cannot undo it.
	result, err := h.settler.Settle(context.WithoutCancel(ctx), n)
	if err != nil {
		h.logger.ErrorContext(ctx, "Callback processing error", "error", err, "payload", string(body))
		requestCounter("callback", "internal_error").Inc()
	} else {
		requestCounter("callback", string(result)).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reference := chi.URLParam(r, "externalRef")

	entry, ok, err := h.snapshots.Get(ctx, reference)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading status snapshot", "error", err, "reference", reference)
	}
	if !ok || err != nil {
		requestCounter("status", "not_found").Inc()
		writeJSON(w, http.StatusNotFound, payload.ErrorResponse{Status: statusFailure, Message: notFoundDetail})
		return
	}

	requestCounter("status", "found").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "Success", "payment_status": entry})
}

func (h *Handler) remember(ctx context.Context, reference string, entry snapshot.Entry) {
	if err := h.snapshots.Put(ctx, reference, entry); err != nil {
		h.logger.WarnContext(ctx, "Error storing status snapshot", "error", err)
	}
}

func requestCounter(endpoint, result string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`relay_requests_total{endpoint="` + endpoint + `",result="` + result + `"}`)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
