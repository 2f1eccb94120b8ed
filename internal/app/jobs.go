/**
 * @description
 * Scheduled job implementations for the payroll-service: monthly invoice
 * generation, salary disbursement, the overdue invoice sweep, stuck
 * transaction reconciliation, and cycle close. Every job is idempotent (a
 * re-run skips work already done) and guarded by a distributed lock so
 * overlapping triggers across replicas run at most once.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/contractclient"
	"github.com/workconnect/payroll-service/pkg/gateway"
)

// ErrJobAlreadyRunning is returned when another replica holds the job lock.
var ErrJobAlreadyRunning = errors.New("job is already running elsewhere")

// ContractClient defines the interface for communicating with the contract service.
type ContractClient interface {
	ListActiveContracts(ctx context.Context, month, year int) ([]contractclient.Contract, error)
}

// InvoiceGenerationSummary reports one invoice generation run.
type InvoiceGenerationSummary struct {
	CycleID       uuid.UUID `json:"cycle_id"`
	Created       int       `json:"created"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	TotalSalaries int64     `json:"total_salaries"`
	TotalFees     int64     `json:"total_fees"`
}

// DisbursementSummary reports one disbursement run.
type DisbursementSummary struct {
	CycleID   uuid.UUID `json:"cycle_id"`
	Initiated int       `json:"initiated"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// JobsConfig carries the tunables the jobs need.
type JobsConfig struct {
	InvoiceDueDays    int           // days after generation until an invoice is overdue
	ReconciliationAge time.Duration // how stale a non-terminal transaction must be
	LockTTL           time.Duration
	Poller            PollerConfig
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      store.Repository
	contracts ContractClient
	workflow  *Service
	fees      *FeeCalculator
	lock      *RedisJobLock
	logger    *slog.Logger
	cfg       JobsConfig
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, contracts ContractClient, workflow *Service, fees *FeeCalculator, lock *RedisJobLock, logger *slog.Logger, cfg JobsConfig) *Jobs {
	if cfg.InvoiceDueDays <= 0 {
		cfg.InvoiceDueDays = 10
	}
	if cfg.ReconciliationAge <= 0 {
		cfg.ReconciliationAge = 6 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Jobs{
		repo:      repo,
		contracts: contracts,
		workflow:  workflow,
		fees:      fees,
		lock:      lock,
		logger:    logger,
		cfg:       cfg,
	}
}

// GenerateMonthlyInvoices is the cron entrypoint: it generates invoices for
// the current calendar month.
func (j *Jobs) GenerateMonthlyInvoices() {
	now := time.Now().UTC()
	if _, err := j.GenerateInvoicesForPeriod(context.Background(), int(now.Month()), now.Year()); err != nil {
		j.logger.Error("invoice generation job failed", "error", err)
	}
}

// GenerateInvoicesForPeriod creates one invoice per active contract for the
// period. Re-running is safe: contracts already invoiced this cycle are
// skipped via the unique (contract, cycle) index, and one bad contract never
// aborts the rest of the batch.
func (j *Jobs) GenerateInvoicesForPeriod(ctx context.Context, month, year int) (*InvoiceGenerationSummary, error) {
	release, ok, err := j.lock.Acquire(ctx, fmt.Sprintf("invoice_generation:%d-%02d", year, month), j.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobAlreadyRunning
	}
	defer release()

	j.logger.Info("starting invoice generation", "month", month, "year", year)

	cycle, err := j.repo.GetOrCreateCycle(ctx, month, year)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare cycle: %w", err)
	}
	if cycle.CycleClosed {
		return nil, store.ErrCycleClosed
	}

	contracts, err := j.contracts.ListActiveContracts(ctx, month, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list active contracts: %w", err)
	}

	now := time.Now().UTC()
	dueDate := now.AddDate(0, 0, j.cfg.InvoiceDueDays)
	summary := &InvoiceGenerationSummary{CycleID: cycle.ID}

	for _, c := range contracts {
		fee, err := j.fees.FeeForCategory(ctx, c.CategoryID, c.MonthlySalary, now)
		if err != nil {
			j.logger.Error("fee resolution failed, skipping contract", "contract_id", c.ID, "error", err)
			summary.Failed++
			continue
		}

		inv := &domain.Invoice{
			ID:                 uuid.New(),
			InvoiceNumber:      domain.InvoiceNumber(year, month, c.ID),
			CycleID:            cycle.ID,
			ContractID:         c.ID,
			EmployerID:         c.EmployerID,
			WorkerID:           c.WorkerID,
			WorkerSalaryAmount: c.MonthlySalary,
			ServiceFeeAmount:   fee,
			AdditionalFees:     0,
			TotalAmount:        c.MonthlySalary + fee,
			Status:             domain.InvoiceStatusPending,
			DueDate:            dueDate,
		}
		if err := j.repo.CreateInvoice(ctx, inv); err != nil {
			if errors.Is(err, store.ErrDuplicateInvoice) {
				summary.Skipped++
				continue
			}
			j.logger.Error("invoice creation failed", "contract_id", c.ID, "error", err)
			summary.Failed++
			continue
		}
		summary.Created++
		summary.TotalSalaries += c.MonthlySalary
		summary.TotalFees += fee
	}

	if summary.Created > 0 {
		if err := j.repo.AddCycleTotals(ctx, cycle.ID, summary.Created, summary.TotalSalaries, summary.TotalFees); err != nil {
			return summary, fmt.Errorf("failed to update cycle totals: %w", err)
		}
	}
	if err := j.repo.MarkCycleInvoicesGenerated(ctx, cycle.ID, now); err != nil {
		return summary, fmt.Errorf("failed to mark cycle invoices generated: %w", err)
	}

	j.logger.Info("invoice generation finished", "month", month, "year", year,
		"created", summary.Created, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// DisburseWorkerSalaries is the cron entrypoint: it disburses salaries for
// the current calendar month.
func (j *Jobs) DisburseWorkerSalaries() {
	now := time.Now().UTC()
	if _, err := j.DisburseForPeriod(context.Background(), int(now.Month()), now.Year()); err != nil {
		j.logger.Error("disbursement job failed", "error", err)
	}
}

// DisburseForPeriod pushes a salary to every worker whose invoice for the
// period is paid. Workers whose disbursement already completed or is in
// flight are skipped; individual failures never abort the batch.
func (j *Jobs) DisburseForPeriod(ctx context.Context, month, year int) (*DisbursementSummary, error) {
	release, ok, err := j.lock.Acquire(ctx, fmt.Sprintf("disbursement:%d-%02d", year, month), j.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobAlreadyRunning
	}
	defer release()

	j.logger.Info("starting salary disbursement", "month", month, "year", year)

	cycle, err := j.repo.GetCycle(ctx, month, year)
	if err != nil {
		return nil, err
	}
	if !cycle.InvoicesGenerated {
		return nil, store.ErrCycleOrder
	}

	paid, err := j.repo.ListInvoicesByCycle(ctx, cycle.ID, domain.InvoiceStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to list paid invoices: %w", err)
	}

	summary := &DisbursementSummary{CycleID: cycle.ID}
	for _, inv := range paid {
		p, err := j.workflow.CreateWorkerPaymentForInvoice(ctx, inv.ID)
		if err != nil {
			j.logger.Error("worker payment creation failed", "invoice", inv.InvoiceNumber, "error", err)
			summary.Failed++
			continue
		}
		if p.Status == domain.PaymentStatusCompleted || p.Status == domain.PaymentStatusProcessing {
			summary.Skipped++
			continue
		}

		tx, err := j.workflow.DisburseWorkerSalary(ctx, p.ID)
		if err != nil {
			if errors.Is(err, ErrPaymentAlreadyClaimed) || errors.Is(err, ErrPaymentNotDisbursable) {
				summary.Skipped++
				continue
			}
			j.logger.Error("disbursement failed", "payment", p.PaymentReference, "error", err)
			summary.Failed++
			continue
		}
		summary.Initiated++
		if tx.Status == domain.TransactionPending {
			j.workflow.StartStatusPoller(ctx, tx.ExternalReference, j.cfg.Poller)
		}
	}

	if err := j.repo.MarkCyclePaymentsProcessed(ctx, cycle.ID, time.Now().UTC()); err != nil {
		return summary, fmt.Errorf("failed to mark cycle payments processed: %w", err)
	}

	j.logger.Info("salary disbursement finished", "month", month, "year", year,
		"initiated", summary.Initiated, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// SweepOverdueInvoices notifies employers of pending invoices past their due
// date. Overdue is a derived view, so the sweep writes no invoice state; it
// only nudges.
func (j *Jobs) SweepOverdueInvoices() {
	ctx := context.Background()
	release, ok, err := j.lock.Acquire(ctx, "overdue_sweep", j.cfg.LockTTL)
	if err != nil {
		j.logger.Error("overdue sweep lock failed", "error", err)
		return
	}
	if !ok {
		return
	}
	defer release()

	now := time.Now().UTC()
	overdue, err := j.repo.ListOverdueInvoices(ctx, now)
	if err != nil {
		j.logger.Error("failed to list overdue invoices", "error", err)
		return
	}
	if len(overdue) == 0 {
		j.logger.Info("no overdue invoices")
		return
	}

	j.logger.Info("notifying overdue invoices", "count", len(overdue))
	for _, inv := range overdue {
		j.workflow.ExecuteEffects(ctx, []domain.Effect{
			domain.NotifyEffect(inv.EmployerID, domain.NotifyInvoiceOverdue, map[string]interface{}{
				"invoice_number": inv.InvoiceNumber,
				"total_amount":   inv.TotalAmount,
				"due_date":       inv.DueDate.Format("2006-01-02"),
			}, now),
		})
	}
}

// ReconcileStuckTransactions checks every non-terminal transaction older
// than the reconciliation age directly against its provider. This is the
// safety net behind the bounded poller: whatever the poll window missed is
// eventually retried here.
func (j *Jobs) ReconcileStuckTransactions() {
	ctx := context.Background()
	release, ok, err := j.lock.Acquire(ctx, "reconciliation", j.cfg.LockTTL)
	if err != nil {
		j.logger.Error("reconciliation lock failed", "error", err)
		return
	}
	if !ok {
		return
	}
	defer release()

	cutoff := time.Now().UTC().Add(-j.cfg.ReconciliationAge)
	stuck, err := j.repo.ListTransactionsNeedingReconciliation(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to list stuck transactions", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	j.logger.Info("reconciling stuck transactions", "count", len(stuck))
	for i := range stuck {
		tx := &stuck[i]
		if tx.InternalReference == nil || *tx.InternalReference == "" {
			j.logger.Warn("stuck transaction has no provider id", "reference", tx.ExternalReference)
			continue
		}
		gw, ok := j.workflow.Gateway(tx.PaymentProvider)
		if !ok {
			j.logger.Warn("no gateway for stuck transaction", "reference", tx.ExternalReference, "provider", tx.PaymentProvider)
			continue
		}

		result := gw.CheckStatus(ctx, *tx.InternalReference)
		if !result.Success {
			j.logger.Warn("status check failed during reconciliation", "reference", tx.ExternalReference, "error", result.Error)
			continue
		}
		if result.Status == gateway.StatusPending {
			continue
		}
		if err := j.workflow.ApplyTransactionStatus(ctx, tx, result.Status, result.ProviderStatus, *tx.InternalReference, result.RawResponse); err != nil {
			j.logger.Error("failed to apply reconciled status", "reference", tx.ExternalReference, "error", err)
		}
	}
}

// CloseCycleForPeriod freezes a cycle once invoices were generated and
// payments processed. The repository guard enforces milestone order.
func (j *Jobs) CloseCycleForPeriod(ctx context.Context, month, year int) (*domain.PayrollCycle, error) {
	cycle, err := j.repo.GetCycle(ctx, month, year)
	if err != nil {
		return nil, err
	}
	if cycle.CycleClosed {
		return cycle, nil
	}
	if err := j.repo.CloseCycle(ctx, cycle.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return j.repo.GetCycle(ctx, month, year)
}
