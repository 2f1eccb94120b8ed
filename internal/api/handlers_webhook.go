/**
 * @description
 * Webhook endpoints for provider payment callbacks. Each provider posts to
 * its own route; the flow is the same for all three: verify the signature
 * (reject with 403 if it does not check out), parse the payload (400 if
 * malformed), then apply the reported status through the shared settlement
 * path. Replayed callbacks and callbacks for unknown references are
 * acknowledged with 200 so providerside retry loops wind down.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/workconnect/payroll-service/internal/store"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

// WebhookHandler handles POST /webhooks/{provider} for one gateway.
func (h *PayrollHandlers) WebhookHandler(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw, ok := h.service.Gateway(providerName)
		if !ok {
			h.writeError(w, http.StatusNotFound, "unknown provider")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		if !gw.ValidateWebhook(body, r.Header) {
			log.Printf("level=warn component=webhook msg=\"signature validation failed\" provider=%s remote=%s", providerName, r.RemoteAddr)
			h.writeError(w, http.StatusForbidden, "invalid signature")
			return
		}

		event, err := gw.ParseWebhook(body)
		if err != nil {
			log.Printf("level=warn component=webhook msg=\"unparseable payload\" provider=%s err=%v", providerName, err)
			h.writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		if err := h.service.HandleWebhookEvent(r.Context(), event); err != nil {
			if errors.Is(err, store.ErrTransactionNotFound) {
				// Not ours (or already purged). Acknowledge so the provider
				// stops retrying; the reconciliation job is the backstop.
				log.Printf("level=warn component=webhook msg=\"no matching transaction\" provider=%s reference=%q provider_tx=%q", providerName, event.Reference, event.ProviderTransactionID)
				h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
				return
			}
			log.Printf("level=error component=webhook msg=\"event processing failed\" provider=%s err=%v", providerName, err)
			h.writeError(w, http.StatusInternalServerError, "processing failed")
			return
		}

		h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}
