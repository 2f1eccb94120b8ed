package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/contractclient"
	"github.com/workconnect/payroll-service/pkg/gateway"
)

type stubContractClient struct {
	contracts []contractclient.Contract
	err       error
}

func (c *stubContractClient) ListActiveContracts(ctx context.Context, month, year int) ([]contractclient.Contract, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.contracts, nil
}

func newTestJobs(repo *memoryRepo, contracts ContractClient, svc *Service) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(repo, contracts, svc, NewFeeCalculator(repo), nil, logger, JobsConfig{
		InvoiceDueDays: 7,
	})
}

func TestGenerateInvoicesForPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo, &stubProfileClient{})

	categoryID := uuid.New()
	fixed := int64(50000)
	repo.feeCfgs[categoryID] = &domain.ServiceFeeConfig{
		CategoryID:  categoryID,
		FeeType:     domain.FeeFixedAmount,
		FixedAmount: &fixed,
		IsActive:    true,
	}

	contracts := &stubContractClient{contracts: []contractclient.Contract{
		{ID: uuid.New(), EmployerID: uuid.New(), WorkerID: uuid.New(), CategoryID: categoryID, MonthlySalary: 300000},
		{ID: uuid.New(), EmployerID: uuid.New(), WorkerID: uuid.New(), CategoryID: uuid.New(), MonthlySalary: 400000}, // no config: fallback fee
	}}
	jobs := newTestJobs(repo, contracts, svc)

	summary, err := jobs.GenerateInvoicesForPeriod(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("GenerateInvoicesForPeriod returned error: %v", err)
	}
	if summary.Created != 2 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.TotalSalaries != 700000 {
		t.Fatalf("expected total salaries 700000, got %d", summary.TotalSalaries)
	}
	// 50000 fixed + 25% fallback of 400000.
	if summary.TotalFees != 150000 {
		t.Fatalf("expected total fees 150000, got %d", summary.TotalFees)
	}

	cycle, err := repo.GetCycle(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("expected cycle created: %v", err)
	}
	if !cycle.InvoicesGenerated {
		t.Fatal("expected invoices generated flag set")
	}
	if cycle.TotalContracts != 2 || cycle.TotalWorkerSalaries != 700000 {
		t.Fatalf("unexpected cycle totals: %+v", cycle)
	}

	invoices, _ := repo.ListInvoicesByCycle(context.Background(), cycle.ID, domain.InvoiceStatusPending)
	if len(invoices) != 2 {
		t.Fatalf("expected 2 pending invoices, got %d", len(invoices))
	}
	for _, inv := range invoices {
		if inv.TotalAmount != inv.WorkerSalaryAmount+inv.ServiceFeeAmount+inv.AdditionalFees {
			t.Fatalf("invoice %s breaks the amount identity", inv.InvoiceNumber)
		}
	}
}

func TestGenerateInvoicesForPeriod_RerunSkipsExisting(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo, &stubProfileClient{})
	contracts := &stubContractClient{contracts: []contractclient.Contract{
		{ID: uuid.New(), EmployerID: uuid.New(), WorkerID: uuid.New(), CategoryID: uuid.New(), MonthlySalary: 300000},
	}}
	jobs := newTestJobs(repo, contracts, svc)

	if _, err := jobs.GenerateInvoicesForPeriod(context.Background(), 3, 2024); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	summary, err := jobs.GenerateInvoicesForPeriod(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if summary.Created != 0 || summary.Skipped != 1 {
		t.Fatalf("expected rerun to skip the existing invoice, got %+v", summary)
	}

	// Totals must not be double counted.
	cycle, _ := repo.GetCycle(context.Background(), 3, 2024)
	if cycle.TotalContracts != 1 {
		t.Fatalf("expected totals counted once, got %d contracts", cycle.TotalContracts)
	}
}

func TestGenerateInvoicesForPeriod_ClosedCycle(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo, &stubProfileClient{})
	cycle, _ := repo.GetOrCreateCycle(context.Background(), 3, 2024)
	cycle.CycleClosed = true
	jobs := newTestJobs(repo, &stubContractClient{}, svc)

	if _, err := jobs.GenerateInvoicesForPeriod(context.Background(), 3, 2024); !errors.Is(err, store.ErrCycleClosed) {
		t.Fatalf("expected ErrCycleClosed, got %v", err)
	}
}

func TestDisburseForPeriod_RequiresInvoicesGenerated(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo, &stubProfileClient{})
	repo.GetOrCreateCycle(context.Background(), 3, 2024)
	jobs := newTestJobs(repo, &stubContractClient{}, svc)

	if _, err := jobs.DisburseForPeriod(context.Background(), 3, 2024); !errors.Is(err, store.ErrCycleOrder) {
		t.Fatalf("expected ErrCycleOrder before invoice generation, got %v", err)
	}
}

func TestDisburseForPeriod(t *testing.T) {
	repo := newMemoryRepo()

	cycle, _ := repo.GetOrCreateCycle(context.Background(), 3, 2024)
	cycle.InvoicesGenerated = true

	paidAt := time.Now()
	paidInvoice := &domain.Invoice{
		ID:                 uuid.New(),
		InvoiceNumber:      "INV-2024-03-AAAA0001",
		CycleID:            cycle.ID,
		ContractID:         uuid.New(),
		EmployerID:         uuid.New(),
		WorkerID:           uuid.New(),
		WorkerSalaryAmount: 300000,
		ServiceFeeAmount:   75000,
		TotalAmount:        375000,
		Status:             domain.InvoiceStatusPaid,
		PaidDate:           &paidAt,
	}
	repo.addInvoice(paidInvoice)
	pendingInvoice := &domain.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: "INV-2024-03-AAAA0002",
		CycleID:       cycle.ID,
		ContractID:    uuid.New(),
		Status:        domain.InvoiceStatusPending,
	}
	repo.addInvoice(pendingInvoice)

	profiles := &stubProfileClient{payout: &domain.PayoutMethod{
		WorkerID:      paidInvoice.WorkerID,
		MethodType:    domain.MethodMobileMoneyMTN,
		AccountNumber: "+256771234567",
		IsDefault:     true,
	}}
	svc, stubs, _ := newTestService(repo, profiles)
	stubs["mtn_mobile_money"].disbursementResult = gateway.DisbursementResult{
		Success:               true,
		ProviderTransactionID: "mtn-payout-1",
	}
	jobs := newTestJobs(repo, &stubContractClient{}, svc)

	summary, err := jobs.DisburseForPeriod(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("DisburseForPeriod returned error: %v", err)
	}
	if summary.Initiated != 1 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(stubs["mtn_mobile_money"].disbursements) != 1 {
		t.Fatalf("expected 1 disbursement call, got %d", len(stubs["mtn_mobile_money"].disbursements))
	}

	p, err := repo.GetWorkerPaymentByInvoiceID(context.Background(), paidInvoice.ID)
	if err != nil {
		t.Fatalf("expected worker payment created: %v", err)
	}
	if p.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected payment in processing, got %s", p.Status)
	}

	stored, _ := repo.GetCycle(context.Background(), 3, 2024)
	if !stored.PaymentsProcessed {
		t.Fatal("expected payments processed flag set after the run")
	}

	// Rerun skips the in-flight payment instead of paying twice.
	again, err := jobs.DisburseForPeriod(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("second DisburseForPeriod returned error: %v", err)
	}
	if again.Initiated != 0 || again.Skipped != 1 {
		t.Fatalf("expected rerun to skip, got %+v", again)
	}
	if len(stubs["mtn_mobile_money"].disbursements) != 1 {
		t.Fatal("rerun must not call the provider again")
	}
}

func TestSweepOverdueInvoices(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, publisher := newTestService(repo, &stubProfileClient{})

	overdue := &domain.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: "INV-2024-03-AAAA0001",
		EmployerID:    uuid.New(),
		Status:        domain.InvoiceStatusPending,
		TotalAmount:   375000,
		DueDate:       time.Now().AddDate(0, 0, -3),
	}
	repo.addInvoice(overdue)
	current := &domain.Invoice{
		ID:      uuid.New(),
		Status:  domain.InvoiceStatusPending,
		DueDate: time.Now().AddDate(0, 0, 3),
	}
	repo.addInvoice(current)

	jobs := newTestJobs(repo, &stubContractClient{}, svc)
	jobs.SweepOverdueInvoices()

	kinds := publisher.notificationKinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifyInvoiceOverdue {
		t.Fatalf("expected one overdue notification, got %v", kinds)
	}
	// The sweep never mutates invoice state.
	stored, _ := repo.GetInvoiceByID(context.Background(), overdue.ID)
	if stored.Status != domain.InvoiceStatusPending {
		t.Fatalf("sweep must not change stored status, got %s", stored.Status)
	}
}

func TestReconcileStuckTransactions(t *testing.T) {
	repo := newMemoryRepo()
	inv := seedPendingInvoice(repo)
	tx := seedCollectionTransaction(repo, inv, domain.TransactionPending)
	tx.InitiatedAt = time.Now().Add(-12 * time.Hour)
	repo.txs[tx.ID].InitiatedAt = tx.InitiatedAt

	svc, stubs, _ := newTestService(repo, &stubProfileClient{})
	stubs["mtn_mobile_money"].statusResult = gateway.StatusResult{
		Success:        true,
		Status:         gateway.StatusSuccessful,
		ProviderStatus: "SUCCESSFUL",
	}
	jobs := newTestJobs(repo, &stubContractClient{}, svc)
	jobs.ReconcileStuckTransactions()

	if len(stubs["mtn_mobile_money"].statusChecks) != 1 {
		t.Fatalf("expected 1 status check, got %d", len(stubs["mtn_mobile_money"].statusChecks))
	}
	storedInv, _ := repo.GetInvoiceByID(context.Background(), inv.ID)
	if storedInv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected reconciliation to settle the invoice, got %s", storedInv.Status)
	}
}

func TestCloseCycleForPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo, &stubProfileClient{})
	cycle, _ := repo.GetOrCreateCycle(context.Background(), 3, 2024)
	jobs := newTestJobs(repo, &stubContractClient{}, svc)

	// Closing before the milestones is rejected.
	if _, err := jobs.CloseCycleForPeriod(context.Background(), 3, 2024); !errors.Is(err, store.ErrCycleOrder) {
		t.Fatalf("expected ErrCycleOrder, got %v", err)
	}

	cycle.InvoicesGenerated = true
	cycle.PaymentsProcessed = true
	closed, err := jobs.CloseCycleForPeriod(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("CloseCycleForPeriod returned error: %v", err)
	}
	if !closed.CycleClosed || closed.ClosedAt == nil {
		t.Fatal("expected cycle closed with timestamp")
	}

	// Closing again is idempotent.
	again, err := jobs.CloseCycleForPeriod(context.Background(), 3, 2024)
	if err != nil {
		t.Fatalf("repeat close returned error: %v", err)
	}
	if !again.CycleClosed {
		t.Fatal("expected cycle to stay closed")
	}
}
