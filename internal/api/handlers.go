/**
 * @description
 * This file contains the HTTP handlers for the payroll-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/app"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
)

// PayrollHandlers holds the application services that handlers will use.
type PayrollHandlers struct {
	service *app.Service
	jobs    *app.Jobs
	repo    store.Repository
	poller  app.PollerConfig
}

// NewPayrollHandlers creates the handler set for the payroll routes.
func NewPayrollHandlers(service *app.Service, jobs *app.Jobs, repo store.Repository, poller app.PollerConfig) *PayrollHandlers {
	return &PayrollHandlers{service: service, jobs: jobs, repo: repo, poller: poller}
}

// invoiceResponse augments the stored invoice with its derived display
// status, so overdue shows up without ever being written to the database.
type invoiceResponse struct {
	domain.Invoice
	DisplayStatus string `json:"display_status"`
}

func buildInvoiceResponse(inv domain.Invoice, today time.Time) invoiceResponse {
	return invoiceResponse{Invoice: inv, DisplayStatus: inv.DisplayStatus(today)}
}

func (h *PayrollHandlers) authedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sub, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

// ListInvoicesHandler returns the authenticated employer's invoices.
// GET /invoices?status=&limit=&offset=
func (h *PayrollHandlers) ListInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	employerID, ok := h.authedUserID(w, r)
	if !ok {
		return
	}

	opts := store.ListOptions{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	invoices, err := h.repo.ListInvoicesByEmployer(r.Context(), employerID, opts)
	if err != nil {
		log.Printf("ListInvoicesHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	today := time.Now().UTC()
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, buildInvoiceResponse(inv, today))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetInvoiceHandler returns one invoice, owner-only.
// GET /invoices/{id}
func (h *PayrollHandlers) GetInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUserID(w, r)
	if !ok {
		return
	}
	inv, ok := h.loadOwnedInvoice(w, r, userID)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, buildInvoiceResponse(*inv, time.Now().UTC()))
}

// PayInvoiceHandler lets the employer trigger collection of a pending
// invoice. POST /invoices/{id}/pay
func (h *PayrollHandlers) PayInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUserID(w, r)
	if !ok {
		return
	}
	inv, ok := h.loadOwnedInvoice(w, r, userID)
	if !ok {
		return
	}

	tx, err := h.service.ProcessEmployerPayment(r.Context(), inv.ID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvoiceNotPayable):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrNoPaymentRoute):
			h.writeError(w, http.StatusUnprocessableEntity, "no payment method available for your billing contact")
		default:
			log.Printf("PayInvoiceHandler: %v", err)
			h.writeError(w, http.StatusBadGateway, "payment initiation failed")
		}
		return
	}

	if tx.Status == domain.TransactionPending {
		h.service.StartStatusPoller(r.Context(), tx.ExternalReference, h.poller)
	}
	h.writeJSON(w, http.StatusAccepted, tx)
}

// GetInvoiceStatusHandler reports the payment progress of an invoice.
// GET /invoices/{id}/status
func (h *PayrollHandlers) GetInvoiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUserID(w, r)
	if !ok {
		return
	}
	inv, ok := h.loadOwnedInvoice(w, r, userID)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"status":         inv.Status,
		"display_status": inv.DisplayStatus(time.Now().UTC()),
	}
	if tx, err := h.repo.GetTransactionByExternalReference(r.Context(), inv.InvoiceNumber); err == nil {
		resp["transaction_status"] = tx.Status
		resp["provider"] = tx.PaymentProvider
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListPaymentsHandler returns the authenticated worker's salary payments.
// GET /payments?status=&limit=&offset=
func (h *PayrollHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	workerID, ok := h.authedUserID(w, r)
	if !ok {
		return
	}

	opts := store.ListOptions{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	payments, err := h.repo.ListPaymentsByWorker(r.Context(), workerID, opts)
	if err != nil {
		log.Printf("ListPaymentsHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}

// GetPaymentHandler returns one worker payment, owner-only.
// GET /payments/{id}
func (h *PayrollHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	workerID, ok := h.authedUserID(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}

	p, err := h.repo.GetWorkerPaymentByID(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		log.Printf("GetPaymentHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if p.WorkerID != workerID {
		h.writeError(w, http.StatusNotFound, "Payment not found")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// Internal (service-to-service) handlers
// ---------------------------------------------------------------------------

// GenerateInvoicesHandler triggers invoice generation for a period.
// POST /internal/cycles/{year}/{month}/generate-invoices
func (h *PayrollHandlers) GenerateInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	year, month, ok := h.cycleParams(w, r)
	if !ok {
		return
	}

	summary, err := h.jobs.GenerateInvoicesForPeriod(r.Context(), month, year)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// DisburseHandler triggers salary disbursement for a period.
// POST /internal/cycles/{year}/{month}/disburse
func (h *PayrollHandlers) DisburseHandler(w http.ResponseWriter, r *http.Request) {
	year, month, ok := h.cycleParams(w, r)
	if !ok {
		return
	}

	summary, err := h.jobs.DisburseForPeriod(r.Context(), month, year)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// CloseCycleHandler freezes a completed cycle.
// POST /internal/cycles/{year}/{month}/close
func (h *PayrollHandlers) CloseCycleHandler(w http.ResponseWriter, r *http.Request) {
	year, month, ok := h.cycleParams(w, r)
	if !ok {
		return
	}

	cycle, err := h.jobs.CloseCycleForPeriod(r.Context(), month, year)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cycle)
}

// GetCycleHandler returns a cycle's totals and milestone flags.
// GET /internal/cycles/{year}/{month}
func (h *PayrollHandlers) GetCycleHandler(w http.ResponseWriter, r *http.Request) {
	year, month, ok := h.cycleParams(w, r)
	if !ok {
		return
	}

	cycle, err := h.repo.GetCycle(r.Context(), month, year)
	if err != nil {
		if errors.Is(err, store.ErrCycleNotFound) {
			h.writeError(w, http.StatusNotFound, "Cycle not found")
			return
		}
		log.Printf("GetCycleHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, cycle)
}

// NeedsReconciliationHandler lists stuck transactions for operators.
// GET /internal/transactions/needs-reconciliation?age_hours=
func (h *PayrollHandlers) NeedsReconciliationHandler(w http.ResponseWriter, r *http.Request) {
	age := 6 * time.Hour
	if v := r.URL.Query().Get("age_hours"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			age = time.Duration(hours) * time.Hour
		}
	}

	txs, err := h.repo.ListTransactionsNeedingReconciliation(r.Context(), time.Now().UTC().Add(-age))
	if err != nil {
		log.Printf("NeedsReconciliationHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(txs),
		"transactions": txs,
	})
}

// CancelInvoiceHandler cancels a pending invoice (admin escape hatch).
// POST /internal/invoices/{id}/cancel
func (h *PayrollHandlers) CancelInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadInvoiceParam(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	from := inv.Status
	effects, err := inv.Cancel(now)
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	applied, err := h.repo.UpdateInvoiceStatus(r.Context(), inv, from)
	if err != nil {
		log.Printf("CancelInvoiceHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !applied {
		h.writeError(w, http.StatusConflict, "invoice was modified concurrently")
		return
	}
	h.service.ExecuteEffects(r.Context(), effects)
	h.writeJSON(w, http.StatusOK, inv)
}

// markPaidRequest is the manual reconciliation payload: how the money
// actually arrived, verified by an operator out of band.
type markPaidRequest struct {
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference"`
}

// MarkInvoicePaidHandler records an out-of-band invoice payment.
// POST /internal/invoices/{id}/mark-paid
func (h *PayrollHandlers) MarkInvoicePaidHandler(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadInvoiceParam(w, r)
	if !ok {
		return
	}

	var req markPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PaymentMethod == "" || req.TransactionReference == "" {
		h.writeError(w, http.StatusBadRequest, "payment_method and transaction_reference are required")
		return
	}

	now := time.Now().UTC()
	from := inv.Status
	effects, err := inv.MarkPaid(req.PaymentMethod, req.TransactionReference, now)
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	applied, err := h.repo.UpdateInvoiceStatus(r.Context(), inv, from)
	if err != nil {
		log.Printf("MarkInvoicePaidHandler: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !applied {
		h.writeError(w, http.StatusConflict, "invoice was modified concurrently")
		return
	}
	h.service.ExecuteEffects(r.Context(), effects)
	h.writeJSON(w, http.StatusOK, inv)
}

// refundRequest carries the operator's reason for reversing a payment.
type refundRequest struct {
	Reason string `json:"reason"`
}

// RefundPaymentHandler records an out-of-band reversal of a completed
// salary payment.
// POST /internal/payments/{id}/refund
func (h *PayrollHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}

	var req refundRequest
	if r.Body != nil {
		// Body is optional; a bare POST refunds without a reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	tx, err := h.service.RefundWorkerPayment(r.Context(), paymentID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPaymentNotFound):
			h.writeError(w, http.StatusNotFound, "Payment not found")
		case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, app.ErrPaymentAlreadyClaimed):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("RefundPaymentHandler: %v", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (h *PayrollHandlers) loadOwnedInvoice(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (*domain.Invoice, bool) {
	inv, ok := h.loadInvoiceParam(w, r)
	if !ok {
		return nil, false
	}
	if inv.EmployerID != userID {
		h.writeError(w, http.StatusNotFound, "Invoice not found")
		return nil, false
	}
	return inv, true
}

func (h *PayrollHandlers) loadInvoiceParam(w http.ResponseWriter, r *http.Request) (*domain.Invoice, bool) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice id")
		return nil, false
	}

	inv, err := h.repo.GetInvoiceByID(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found")
			return nil, false
		}
		log.Printf("loadInvoiceParam: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return inv, true
}

func (h *PayrollHandlers) cycleParams(w http.ResponseWriter, r *http.Request) (year, month int, ok bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2000 || year > 2200 {
		h.writeError(w, http.StatusBadRequest, "Invalid year")
		return 0, 0, false
	}
	month, err = strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		h.writeError(w, http.StatusBadRequest, "Invalid month")
		return 0, 0, false
	}
	return year, month, true
}

func (h *PayrollHandlers) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrJobAlreadyRunning):
		h.writeError(w, http.StatusConflict, "job is already running")
	case errors.Is(err, store.ErrCycleNotFound):
		h.writeError(w, http.StatusNotFound, "Cycle not found")
	case errors.Is(err, store.ErrCycleOrder):
		h.writeError(w, http.StatusConflict, "cycle milestones must complete in order")
	case errors.Is(err, store.ErrCycleClosed):
		h.writeError(w, http.StatusConflict, "cycle is closed")
	default:
		log.Printf("writeJobError: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PayrollHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PayrollHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
