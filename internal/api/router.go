/**
 * @description
 * This file sets up the HTTP router for the payroll-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the security settings the router needs.
type RouterConfig struct {
	JWKSURL               string
	AuthAudience          string
	AuthIssuer            string
	InternalAPIKey        string
	WebhookLimiter        RateLimiter
	WebhookLimitPerMinute int
}

// PayrollRoutes creates and returns a new router for the payroll service.
func PayrollRoutes(h *PayrollHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider callbacks: authenticated by signature, not by JWT.
	r.Group(func(r chi.Router) {
		r.Use(WebhookRateLimitMiddleware(cfg.WebhookLimiter, cfg.WebhookLimitPerMinute))
		r.Post("/webhooks/mtn", h.WebhookHandler("mtn_mobile_money"))
		r.Post("/webhooks/airtel", h.WebhookHandler("airtel_money"))
		r.Post("/webhooks/flutterwave", h.WebhookHandler("flutterwave"))
	})

	// Group routes that require user authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWKSURL, cfg.AuthAudience, cfg.AuthIssuer))

		r.Get("/invoices", h.ListInvoicesHandler)
		r.Get("/invoices/{id}", h.GetInvoiceHandler)
		r.Post("/invoices/{id}/pay", h.PayInvoiceHandler)
		r.Get("/invoices/{id}/status", h.GetInvoiceStatusHandler)

		r.Get("/payments", h.ListPaymentsHandler)
		r.Get("/payments/{id}", h.GetPaymentHandler)
	})

	// Service-to-service routes guarded by the shared internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(cfg.InternalAPIKey))

		r.Post("/internal/cycles/{year}/{month}/generate-invoices", h.GenerateInvoicesHandler)
		r.Post("/internal/cycles/{year}/{month}/disburse", h.DisburseHandler)
		r.Post("/internal/cycles/{year}/{month}/close", h.CloseCycleHandler)
		r.Get("/internal/cycles/{year}/{month}", h.GetCycleHandler)
		r.Get("/internal/transactions/needs-reconciliation", h.NeedsReconciliationHandler)
		r.Post("/internal/invoices/{id}/cancel", h.CancelInvoiceHandler)
		r.Post("/internal/invoices/{id}/mark-paid", h.MarkInvoicePaidHandler)
		r.Post("/internal/payments/{id}/refund", h.RefundPaymentHandler)
	})

	return r
}
