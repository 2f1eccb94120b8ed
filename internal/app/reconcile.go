/**
 * @description
 * Shared settlement path for provider outcomes. Webhook callbacks and the
 * status poller both funnel into ApplyTransactionStatus, so a webhook and a
 * concurrent poll of the same transaction cannot apply conflicting updates:
 * the conditional ledger settle decides a single winner and the loser's
 * update becomes a no-op.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/gateway"
)

// HandleWebhookEvent resolves the ledger row a verified provider callback
// refers to and applies its status. Unknown references are an error so the
// caller can reject the callback; replays of settled transactions succeed
// silently.
func (s *Service) HandleWebhookEvent(ctx context.Context, event *gateway.WebhookEvent) error {
	tx, err := s.repo.FindTransactionForEvent(ctx, event.ProviderTransactionID, event.Reference)
	if err != nil {
		return fmt.Errorf("no transaction for webhook event (provider id %q, reference %q): %w", event.ProviderTransactionID, event.Reference, err)
	}
	return s.ApplyTransactionStatus(ctx, tx, event.Status, event.ProviderStatus, event.ProviderTransactionID, event.Raw)
}

// ApplyTransactionStatus applies a provider-reported outcome to a ledger row
// and, for terminal outcomes, to the invoice or worker payment the row
// drives. The ledger settle and the entity transition commit in one database
// transaction; effects run only after that commit.
func (s *Service) ApplyTransactionStatus(ctx context.Context, tx *domain.PaymentTransaction, status gateway.Status, providerStatus, providerTransactionID string, raw []byte) error {
	if tx.Status.Terminal() {
		// Replayed webhook or a poll racing a webhook that already landed.
		log.Printf("ApplyTransactionStatus: transaction %s already %s, ignoring %s", tx.ExternalReference, tx.Status, status)
		return nil
	}

	now := time.Now().UTC()
	var internalRef *string
	if providerTransactionID != "" {
		internalRef = &providerTransactionID
	}
	var pStatus *string
	if providerStatus != "" {
		pStatus = &providerStatus
	}

	if status == gateway.StatusPending {
		if _, err := s.repo.SettleTransaction(ctx, tx.ID, store.SettleTransactionParams{
			Status:            domain.TransactionPending,
			ProviderStatus:    pStatus,
			InternalReference: internalRef,
			ProviderResponse:  raw,
		}); err != nil {
			return fmt.Errorf("failed to record pending status: %w", err)
		}
		return nil
	}

	target := domain.TransactionFailed
	if status == gateway.StatusSuccessful {
		target = domain.TransactionSuccessful
	}

	var effects []domain.Effect
	var applied bool
	err := s.repo.Atomic(ctx, func(r store.Repository) error {
		var err error
		applied, err = r.SettleTransaction(ctx, tx.ID, store.SettleTransactionParams{
			Status:            target,
			ProviderStatus:    pStatus,
			InternalReference: internalRef,
			ProviderResponse:  raw,
			CompletedAt:       &now,
		})
		if err != nil {
			return fmt.Errorf("failed to settle transaction: %w", err)
		}
		if !applied {
			// Another writer settled the row first; its entity update stands.
			return nil
		}

		switch {
		case tx.InvoiceID != nil:
			effects, err = s.settleInvoice(ctx, r, tx, target, now)
		case tx.WorkerPaymentID != nil:
			effects, err = s.settleWorkerPayment(ctx, r, tx, target, providerTransactionID, providerStatus, now)
		}
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("ApplyTransactionStatus: transaction %s settled concurrently, dropped %s", tx.ExternalReference, status)
		return nil
	}

	tx.Status = target
	s.ExecuteEffects(ctx, effects)
	log.Printf("ApplyTransactionStatus: transaction %s settled as %s (provider status %q)", tx.ExternalReference, target, providerStatus)
	return nil
}

// settleInvoice applies a collection outcome to the linked invoice. A failed
// collection leaves the invoice pending so the employer can try again; only
// success moves it to paid.
func (s *Service) settleInvoice(ctx context.Context, r store.Repository, tx *domain.PaymentTransaction, target domain.TransactionStatus, now time.Time) ([]domain.Effect, error) {
	if target != domain.TransactionSuccessful {
		return nil, nil
	}

	inv, err := r.GetInvoiceByID(ctx, *tx.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice for settlement: %w", err)
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return nil, nil
	}

	effects, err := inv.MarkPaid(tx.PaymentProvider, tx.ExternalReference, now)
	if err != nil {
		return nil, err
	}
	ok, err := r.UpdateInvoiceStatus(ctx, inv, domain.InvoiceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if !ok {
		// Concurrent transition won; do not emit duplicate effects.
		return nil, nil
	}
	return effects, nil
}

// settleWorkerPayment applies a disbursement outcome to the linked payment.
func (s *Service) settleWorkerPayment(ctx context.Context, r store.Repository, tx *domain.PaymentTransaction, target domain.TransactionStatus, providerTransactionID, providerStatus string, now time.Time) ([]domain.Effect, error) {
	p, err := r.GetWorkerPaymentByID(ctx, *tx.WorkerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load worker payment for settlement: %w", err)
	}
	if p.Status.Terminal() || p.Status == domain.PaymentStatusCompleted {
		return nil, nil
	}

	if target == domain.TransactionSuccessful {
		txID := providerTransactionID
		if txID == "" {
			txID = tx.ExternalReference
		}
		effects, err := p.MarkCompleted(txID, now)
		if err != nil {
			return nil, err
		}
		ok, err := r.UpdatePaymentStatus(ctx, p, domain.PaymentStatusProcessing)
		if err != nil {
			return nil, fmt.Errorf("failed to mark payment completed: %w", err)
		}
		if !ok {
			return nil, nil
		}
		return effects, nil
	}

	reason := providerStatus
	if reason == "" {
		reason = "provider reported failure"
	}
	from := p.Status
	effects, err := p.MarkFailed(reason, now)
	if err != nil {
		return nil, err
	}
	ok, err := r.UpdatePaymentStatus(ctx, p, from)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return effects, nil
}
