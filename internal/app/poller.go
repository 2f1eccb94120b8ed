/**
 * @description
 * Bounded status poller for transactions whose confirmation webhook has not
 * arrived. Each initiated payment gets its own poll loop: a fixed number of
 * provider status checks at a fixed interval. If the window closes with the
 * transaction still unsettled, the poller gives up and flags it for
 * reconciliation; it never polls forever.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/pkg/gateway"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollAttempts = 10
)

// PollerConfig bounds a single transaction's poll loop.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

func (c PollerConfig) normalized() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultPollAttempts
	}
	return c
}

// StartStatusPoller launches a background poll loop for one transaction.
// The loop stops on the first terminal outcome or after MaxAttempts checks,
// whichever comes first. The loop outlives the caller's context: an HTTP
// request context ends the moment the response is written, long before the
// first tick, so the poll runs on a detached copy.
func (s *Service) StartStatusPoller(ctx context.Context, txID string, cfg PollerConfig) {
	go s.pollTransactionStatus(context.WithoutCancel(ctx), txID, cfg.normalized())
}

func (s *Service) pollTransactionStatus(ctx context.Context, externalReference string, cfg PollerConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			log.Printf("pollTransactionStatus: context cancelled for %s after %d attempts", externalReference, attempt-1)
			// The transaction may still be unsettled; hand it to operators
			// rather than dropping it silently.
			s.flagForReconciliation(context.WithoutCancel(ctx), externalReference)
			return
		case <-ticker.C:
		}

		tx, err := s.repo.GetTransactionByExternalReference(ctx, externalReference)
		if err != nil {
			log.Printf("pollTransactionStatus: failed to load %s: %v", externalReference, err)
			continue
		}
		if tx.Status.Terminal() {
			// Webhook landed between polls.
			return
		}
		if tx.InternalReference == nil || *tx.InternalReference == "" {
			log.Printf("pollTransactionStatus: %s has no provider id yet (attempt %d/%d)", externalReference, attempt, cfg.MaxAttempts)
			continue
		}

		gw, ok := s.gateways[tx.PaymentProvider]
		if !ok {
			log.Printf("pollTransactionStatus: no gateway %s for %s, abandoning", tx.PaymentProvider, externalReference)
			return
		}

		result := gw.CheckStatus(ctx, *tx.InternalReference)
		if !result.Success {
			log.Printf("pollTransactionStatus: status check failed for %s (attempt %d/%d): %s", externalReference, attempt, cfg.MaxAttempts, result.Error)
			continue
		}
		if result.Status == gateway.StatusPending {
			continue
		}

		if err := s.ApplyTransactionStatus(ctx, tx, result.Status, result.ProviderStatus, *tx.InternalReference, result.RawResponse); err != nil {
			log.Printf("pollTransactionStatus: failed to apply %s to %s: %v", result.Status, externalReference, err)
			continue
		}
		return
	}

	s.flagForReconciliation(ctx, externalReference)
}

// flagForReconciliation marks a transaction as needing manual attention
// after the poll window closed without a terminal outcome. The row stays
// pending; the reconciliation listing surfaces it to operators.
func (s *Service) flagForReconciliation(ctx context.Context, externalReference string) {
	tx, err := s.repo.GetTransactionByExternalReference(ctx, externalReference)
	if err != nil {
		log.Printf("flagForReconciliation: failed to load %s: %v", externalReference, err)
		return
	}
	if tx.Status.Terminal() {
		return
	}

	log.Printf("level=warn component=payroll_service msg=\"poll window exhausted, needs reconciliation\" reference=%s provider=%s", tx.ExternalReference, tx.PaymentProvider)

	userID := tx.PayerUserID
	if userID == nil {
		userID = tx.PayeeUserID
	}
	if userID == nil {
		return
	}
	s.ExecuteEffects(ctx, []domain.Effect{
		domain.NotifyEffect(*userID, domain.NotifyReconciliationNeeded, map[string]interface{}{
			"reference": tx.ExternalReference,
			"provider":  tx.PaymentProvider,
		}, time.Now().UTC()),
	})
}
