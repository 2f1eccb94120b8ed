package app

import (
	"context"
	"testing"
	"time"

	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/pkg/gateway"
)

func TestPollTransactionStatus_AppliesTerminalOutcome(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)

	svc, stubs, _ := newTestService(repo, &stubProfileClient{})
	stubs["mtn_mobile_money"].statusResult = gateway.StatusResult{
		Success:        true,
		Status:         gateway.StatusSuccessful,
		ProviderStatus: "SUCCESSFUL",
	}

	svc.pollTransactionStatus(context.Background(), tx.ExternalReference, PollerConfig{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
	})

	if len(stubs["mtn_mobile_money"].statusChecks) != 1 {
		t.Fatalf("expected polling to stop after the terminal outcome, got %d checks", len(stubs["mtn_mobile_money"].statusChecks))
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected invoice settled by the poller, got %s", storedInv.Status)
	}
}

func TestPollTransactionStatus_StopsWhenWebhookLandsFirst(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionSuccessful)

	svc, stubs, _ := newTestService(repo, &stubProfileClient{})

	svc.pollTransactionStatus(context.Background(), tx.ExternalReference, PollerConfig{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
	})

	if len(stubs["mtn_mobile_money"].statusChecks) != 0 {
		t.Fatal("a settled transaction must never be polled")
	}
}

func TestPollTransactionStatus_ExhaustionFlagsReconciliation(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)

	svc, stubs, publisher := newTestService(repo, &stubProfileClient{})
	stubs["mtn_mobile_money"].statusResult = gateway.StatusResult{
		Success:        true,
		Status:         gateway.StatusPending,
		ProviderStatus: "PENDING",
	}

	svc.pollTransactionStatus(context.Background(), tx.ExternalReference, PollerConfig{
		Interval:    time.Millisecond,
		MaxAttempts: 3,
	})

	if got := len(stubs["mtn_mobile_money"].statusChecks); got != 3 {
		t.Fatalf("expected exactly 3 bounded attempts, got %d", got)
	}
	// The transaction stays pending; an operator notification goes out.
	stored, _ := repo.GetTransactionByExternalReference(context.Background(), tx.ExternalReference)
	if stored.Status != domain.TransactionPending {
		t.Fatalf("exhaustion must not synthesize an outcome, got %s", stored.Status)
	}
	kinds := publisher.notificationKinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifyReconciliationNeeded {
		t.Fatalf("expected a reconciliation needed notification, got %v", kinds)
	}
}

func TestPollTransactionStatus_ContextCancelStops(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)

	svc, stubs, publisher := newTestService(repo, &stubProfileClient{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc.pollTransactionStatus(ctx, tx.ExternalReference, PollerConfig{
		Interval:    time.Hour,
		MaxAttempts: 10,
	})

	if len(stubs["mtn_mobile_money"].statusChecks) != 0 {
		t.Fatal("a cancelled poller must not call the provider")
	}
	// A cancelled loop leaves the transaction unsettled; operators hear
	// about it instead of the row going dark.
	kinds := publisher.notificationKinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifyReconciliationNeeded {
		t.Fatalf("expected a reconciliation needed notification on cancellation, got %v", kinds)
	}
}

func TestStartStatusPoller_OutlivesCallerContext(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)

	svc, stubs, _ := newTestService(repo, &stubProfileClient{})
	stubs["mtn_mobile_money"].statusResult = gateway.StatusResult{
		Success:        true,
		Status:         gateway.StatusSuccessful,
		ProviderStatus: "SUCCESSFUL",
	}

	// The HTTP handlers hand the poller their request context, which dies
	// as soon as the response is written. The poll must keep going.
	ctx, cancel := context.WithCancel(context.Background())
	svc.StartStatusPoller(ctx, tx.ExternalReference, PollerConfig{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
	})
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
		if stored.Status == domain.InvoiceStatusPaid {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("poller abandoned the transaction when the caller's context was cancelled")
}
