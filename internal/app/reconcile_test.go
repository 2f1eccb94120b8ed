package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/gateway"
)

func seedCollectionTransaction(repo *memoryRepo, inv *domain.Invoice, status domain.TransactionStatus) *domain.PaymentTransaction {
	providerID := "prov-123"
	tx := &domain.PaymentTransaction{
		ID:                uuid.New(),
		TransactionType:   domain.TransactionEmployerPayment,
		ExternalReference: inv.InvoiceNumber,
		InternalReference: &providerID,
		Amount:            inv.TotalAmount,
		Currency:          "UGX",
		PaymentProvider:   "mtn_mobile_money",
		Status:            status,
		PayerUserID:       &inv.EmployerID,
		InvoiceID:         &inv.ID,
	}
	repo.addTransaction(tx)
	return tx
}

func TestApplyTransactionStatus_SuccessMarksInvoicePaid(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	err := svc.ApplyTransactionStatus(context.Background(), tx, gateway.StatusSuccessful, "SUCCESSFUL", "prov-123", []byte(`{"status":"SUCCESSFUL"}`))
	if err != nil {
		t.Fatalf("ApplyTransactionStatus returned error: %v", err)
	}

	storedTx, _ := repo.GetTransactionByExternalReference(context.Background(), tx.ExternalReference)
	if storedTx.Status != domain.TransactionSuccessful {
		t.Fatalf("expected ledger row successful, got %s", storedTx.Status)
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected invoice paid, got %s", storedInv.Status)
	}
	if storedInv.PaymentMethod == nil || *storedInv.PaymentMethod != "mtn_mobile_money" {
		t.Fatal("expected payment method recorded on the invoice")
	}

	kinds := publisher.notificationKinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifyInvoicePaid {
		t.Fatalf("expected an invoice paid notification, got %v", kinds)
	}
	if len(publisher.disbursements) != 1 || publisher.disbursements[0].InvoiceID != inv.ID {
		t.Fatal("expected a disbursement due event for the paid invoice")
	}
}

func TestApplyTransactionStatus_FailedCollectionLeavesInvoicePending(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	err := svc.ApplyTransactionStatus(context.Background(), tx, gateway.StatusFailed, "PAYER_DECLINED", "prov-123", nil)
	if err != nil {
		t.Fatalf("ApplyTransactionStatus returned error: %v", err)
	}

	storedTx, _ := repo.GetTransactionByExternalReference(context.Background(), tx.ExternalReference)
	if storedTx.Status != domain.TransactionFailed {
		t.Fatalf("expected ledger row failed, got %s", storedTx.Status)
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPending {
		t.Fatalf("a failed collection must leave the invoice pending for retry, got %s", storedInv.Status)
	}
	if len(publisher.notifications) != 0 || len(publisher.disbursements) != 0 {
		t.Fatal("no effects expected for a failed collection")
	}
}

func TestApplyTransactionStatus_TerminalReplayIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	inv.Status = domain.InvoiceStatusPaid
	tx := seedCollectionTransaction(repo, inv, domain.TransactionSuccessful)
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	// A replayed webhook reporting failure for an already settled row.
	err := svc.ApplyTransactionStatus(context.Background(), tx, gateway.StatusFailed, "EXPIRED", "prov-123", nil)
	if err != nil {
		t.Fatalf("replay must succeed silently, got %v", err)
	}

	storedTx, _ := repo.GetTransactionByExternalReference(context.Background(), tx.ExternalReference)
	if storedTx.Status != domain.TransactionSuccessful {
		t.Fatalf("settled ledger row must be immutable, got %s", storedTx.Status)
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("paid invoice must not be reversed by a replay, got %s", storedInv.Status)
	}
	if len(publisher.notificationKinds()) != 0 {
		t.Fatal("no effects expected for a replayed settlement")
	}
}

func TestApplyTransactionStatus_PendingUpdatesLedgerOnly(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionInitiated)
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	err := svc.ApplyTransactionStatus(context.Background(), tx, gateway.StatusPending, "PENDING", "prov-123", nil)
	if err != nil {
		t.Fatalf("ApplyTransactionStatus returned error: %v", err)
	}

	storedTx, _ := repo.GetTransactionByExternalReference(context.Background(), tx.ExternalReference)
	if storedTx.Status != domain.TransactionPending {
		t.Fatalf("expected ledger row pending, got %s", storedTx.Status)
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPending {
		t.Fatalf("pending status must not touch the invoice, got %s", storedInv.Status)
	}
	if len(publisher.notificationKinds()) != 0 {
		t.Fatal("no effects expected for a pending update")
	}
}

func TestApplyTransactionStatus_SuccessfulDisbursementCompletesPayment(t *testing.T) {
	repo := newMemoryRepo()
	p := seedPendingPayment(repo, domain.MethodMobileMoneyMTN)
	p.Status = domain.PaymentStatusProcessing

	providerID := "mtn-payout-9"
	tx := &domain.PaymentTransaction{
		ID:                uuid.New(),
		TransactionType:   domain.TransactionWorkerDisbursement,
		ExternalReference: p.PaymentReference,
		InternalReference: &providerID,
		PaymentProvider:   "mtn_mobile_money",
		Status:            domain.TransactionPending,
		PayeeUserID:       &p.WorkerID,
		WorkerPaymentID:   &p.ID,
	}
	repo.addTransaction(tx)
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	err := svc.ApplyTransactionStatus(context.Background(), tx, gateway.StatusSuccessful, "SUCCESSFUL", providerID, nil)
	if err != nil {
		t.Fatalf("ApplyTransactionStatus returned error: %v", err)
	}

	stored, _ := repo.GetWorkerPaymentByID(context.Background(), p.ID)
	if stored.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected payment completed, got %s", stored.Status)
	}
	if stored.TransactionID == nil || *stored.TransactionID != providerID {
		t.Fatal("expected provider transaction id recorded on the payment")
	}
	kinds := publisher.notificationKinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifySalaryCompleted {
		t.Fatalf("expected a salary completed notification, got %v", kinds)
	}
}

func TestApplyTransactionStatus_FailedDisbursementMarksPaymentFailed(t *testing.T) {
	repo := newMemoryRepo()
	p := seedPendingPayment(repo, domain.MethodMobileMoneyMTN)
	p.Status = domain.PaymentStatusProcessing

	providerID := "mtn-payout-9"
	tx := &domain.PaymentTransaction{
		ID:                uuid.New(),
		TransactionType:   domain.TransactionWorkerDisbursement,
		ExternalReference: p.PaymentReference,
		InternalReference: &providerID,
		PaymentProvider:   "mtn_mobile_money",
		Status:            domain.TransactionPending,
		PayeeUserID:       &p.WorkerID,
		WorkerPaymentID:   &p.ID,
	}
	repo.addTransaction(tx)
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	err := svc.ApplyTransactionStatus(context.Background(), tx, gateway.StatusFailed, "PAYEE_NOT_FOUND", providerID, nil)
	if err != nil {
		t.Fatalf("ApplyTransactionStatus returned error: %v", err)
	}

	stored, _ := repo.GetWorkerPaymentByID(context.Background(), p.ID)
	if stored.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected payment failed, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("expected retry count incremented, got %d", stored.RetryCount)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "PAYEE_NOT_FOUND" {
		t.Fatal("expected provider status recorded as the failure reason")
	}
	kinds := publisher.notificationKinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifySalaryFailed {
		t.Fatalf("expected a salary failed notification, got %v", kinds)
	}
}

func TestHandleWebhookEvent_UnknownReference(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo, &stubProfileClient{})

	err := svc.HandleWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ProviderTransactionID: "never-seen",
		Reference:             "INV-2024-03-MISSING1",
		Status:                gateway.StatusSuccessful,
	})
	if !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound for unknown event, got %v", err)
	}
}

func TestHandleWebhookEvent_ResolvesByProviderID(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)
	svc, _, _ := newTestService(repo, &stubProfileClient{})

	err := svc.HandleWebhookEvent(context.Background(), &gateway.WebhookEvent{
		ProviderTransactionID: *tx.InternalReference,
		Status:                gateway.StatusSuccessful,
		ProviderStatus:        "SUCCESSFUL",
	})
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected invoice paid after webhook, got %s", storedInv.Status)
	}
}
