/**
 * @description
 * PostgreSQL implementation of the `Repository` interface: payroll cycles,
 * employer invoices, and worker payments. Ledger and fee-config queries live
 * in postgres_repository_ledger.go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/workconnect/payroll-service/internal/domain"
)

var (
	ErrCycleNotFound      = errors.New("payroll cycle not found")
	ErrCycleOrder         = errors.New("cycle milestone order violated")
	ErrCycleClosed        = errors.New("payroll cycle is closed")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrDuplicateInvoice   = errors.New("invoice already exists for contract and cycle")
	ErrPaymentNotFound    = errors.New("worker payment not found")
	ErrDuplicatePayment   = errors.New("worker payment already exists for invoice")
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrDuplicateReference  = errors.New("external reference already used")
	ErrFeeConfigNotFound   = errors.New("no active fee config for category")
)

// querier is the subset of pgx operations shared by *pgxpool.Pool and
// pgx.Tx, letting repository methods run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository
// interface for PostgreSQL.
type PostgresRepository struct {
	db   querier
	pool *pgxpool.Pool // nil when this repository is transaction-scoped
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool, pool: pool}
}

// Atomic runs fn against a repository bound to a single database
// transaction. Nested calls reuse the enclosing transaction.
func (r *PostgresRepository) Atomic(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	scoped := &PostgresRepository{db: tx}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---------------------------------------------------------------------------
// Payroll cycles
// ---------------------------------------------------------------------------

const cycleColumns = `id, month, year, total_contracts, total_worker_salaries, total_service_fees,
	total_revenue, invoices_generated, payments_processed, cycle_closed,
	invoice_generation_date, payment_processing_date, closed_at, created_at`

func scanCycle(row pgx.Row) (*domain.PayrollCycle, error) {
	var c domain.PayrollCycle
	err := row.Scan(
		&c.ID, &c.Month, &c.Year, &c.TotalContracts, &c.TotalWorkerSalaries, &c.TotalServiceFees,
		&c.TotalRevenue, &c.InvoicesGenerated, &c.PaymentsProcessed, &c.CycleClosed,
		&c.InvoiceGenerationDate, &c.PaymentProcessingDate, &c.ClosedAt, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetOrCreateCycle returns the cycle for (month, year), creating it if it
// does not exist yet. The unique (month, year) index makes concurrent
// creation safe.
func (r *PostgresRepository) GetOrCreateCycle(ctx context.Context, month, year int) (*domain.PayrollCycle, error) {
	query := `
		INSERT INTO payroll_cycles (id, month, year, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (month, year) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, uuid.New(), month, year); err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}
	return r.GetCycle(ctx, month, year)
}

// GetCycle retrieves the cycle for (month, year).
func (r *PostgresRepository) GetCycle(ctx context.Context, month, year int) (*domain.PayrollCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM payroll_cycles WHERE month = $1 AND year = $2`
	return scanCycle(r.db.QueryRow(ctx, query, month, year))
}

// GetCycleByID retrieves a cycle by its id.
func (r *PostgresRepository) GetCycleByID(ctx context.Context, cycleID uuid.UUID) (*domain.PayrollCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM payroll_cycles WHERE id = $1`
	return scanCycle(r.db.QueryRow(ctx, query, cycleID))
}

// AddCycleTotals accumulates the running totals for a cycle. Rejected once
// the cycle is closed: closed cycles are immutable for audit integrity.
func (r *PostgresRepository) AddCycleTotals(ctx context.Context, cycleID uuid.UUID, contracts int, salaries, fees int64) error {
	query := `
		UPDATE payroll_cycles
		SET total_contracts = total_contracts + $2,
		    total_worker_salaries = total_worker_salaries + $3,
		    total_service_fees = total_service_fees + $4,
		    total_revenue = total_revenue + $4
		WHERE id = $1 AND cycle_closed = false`
	tag, err := r.db.Exec(ctx, query, cycleID, contracts, salaries, fees)
	if err != nil {
		return fmt.Errorf("add cycle totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleClosed
	}
	return nil
}

// MarkCycleInvoicesGenerated sets the first milestone flag. Monotonic: the
// flag is never cleared.
func (r *PostgresRepository) MarkCycleInvoicesGenerated(ctx context.Context, cycleID uuid.UUID, at time.Time) error {
	query := `
		UPDATE payroll_cycles
		SET invoices_generated = true,
		    invoice_generation_date = COALESCE(invoice_generation_date, $2)
		WHERE id = $1 AND cycle_closed = false`
	tag, err := r.db.Exec(ctx, query, cycleID, at)
	if err != nil {
		return fmt.Errorf("mark invoices generated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleClosed
	}
	return nil
}

// MarkCyclePaymentsProcessed sets the second milestone flag. The WHERE
// clause enforces flag order: invoices must have been generated first.
func (r *PostgresRepository) MarkCyclePaymentsProcessed(ctx context.Context, cycleID uuid.UUID, at time.Time) error {
	query := `
		UPDATE payroll_cycles
		SET payments_processed = true,
		    payment_processing_date = COALESCE(payment_processing_date, $2)
		WHERE id = $1 AND invoices_generated = true AND cycle_closed = false`
	tag, err := r.db.Exec(ctx, query, cycleID, at)
	if err != nil {
		return fmt.Errorf("mark payments processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleOrder
	}
	return nil
}

// CloseCycle sets the final milestone flag, freezing the cycle's totals.
func (r *PostgresRepository) CloseCycle(ctx context.Context, cycleID uuid.UUID, at time.Time) error {
	query := `
		UPDATE payroll_cycles
		SET cycle_closed = true,
		    closed_at = COALESCE(closed_at, $2)
		WHERE id = $1 AND invoices_generated = true AND payments_processed = true AND cycle_closed = false`
	tag, err := r.db.Exec(ctx, query, cycleID, at)
	if err != nil {
		return fmt.Errorf("close cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleOrder
	}
	return nil
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

const invoiceColumns = `id, invoice_number, payroll_cycle_id, contract_id, employer_id, worker_id,
	worker_salary_amount, service_fee_amount, additional_fees, total_amount,
	status, due_date, paid_date, payment_method, transaction_reference, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.CycleID, &inv.ContractID, &inv.EmployerID, &inv.WorkerID,
		&inv.WorkerSalaryAmount, &inv.ServiceFeeAmount, &inv.AdditionalFees, &inv.TotalAmount,
		&inv.Status, &inv.DueDate, &inv.PaidDate, &inv.PaymentMethod, &inv.TransactionReference,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// CreateInvoice inserts a new invoice. The unique (contract_id,
// payroll_cycle_id) index guarantees at most one invoice per contract per
// month; the total is validated here so a bad caller cannot persist an
// inconsistent breakdown.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.TotalAmount != inv.WorkerSalaryAmount+inv.ServiceFeeAmount+inv.AdditionalFees {
		return fmt.Errorf("invoice %s: total %d does not equal sum of components", inv.InvoiceNumber, inv.TotalAmount)
	}

	query := `
		INSERT INTO employer_invoices (
			id, invoice_number, payroll_cycle_id, contract_id, employer_id, worker_id,
			worker_salary_amount, service_fee_amount, additional_fees, total_amount,
			status, due_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())`
	_, err := r.db.Exec(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.CycleID, inv.ContractID, inv.EmployerID, inv.WorkerID,
		inv.WorkerSalaryAmount, inv.ServiceFeeAmount, inv.AdditionalFees, inv.TotalAmount,
		inv.Status, inv.DueDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateInvoice
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetInvoiceByID retrieves an invoice by its id.
func (r *PostgresRepository) GetInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM employer_invoices WHERE id = $1`
	return scanInvoice(r.db.QueryRow(ctx, query, invoiceID))
}

// GetInvoiceByNumber retrieves an invoice by its unique invoice number.
func (r *PostgresRepository) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM employer_invoices WHERE invoice_number = $1`
	return scanInvoice(r.db.QueryRow(ctx, query, invoiceNumber))
}

func scanInvoices(rows pgx.Rows) ([]domain.Invoice, error) {
	defer rows.Close()
	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// ListInvoicesByCycle lists a cycle's invoices, optionally filtered by
// stored status.
func (r *PostgresRepository) ListInvoicesByCycle(ctx context.Context, cycleID uuid.UUID, status domain.InvoiceStatus) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM employer_invoices WHERE payroll_cycle_id = $1`
	args := []any{cycleID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices by cycle: %w", err)
	}
	return scanInvoices(rows)
}

// ListInvoicesByEmployer lists an employer's invoices, newest first.
func (r *PostgresRepository) ListInvoicesByEmployer(ctx context.Context, employerID uuid.UUID, opts ListOptions) ([]domain.Invoice, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + invoiceColumns + ` FROM employer_invoices WHERE employer_id = $1`
	args := []any{employerID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices by employer: %w", err)
	}
	return scanInvoices(rows)
}

// ListOverdueInvoices returns pending invoices whose due date has passed.
// Overdue is derived here, on read; it is never written to the status
// column.
func (r *PostgresRepository) ListOverdueInvoices(ctx context.Context, asOf time.Time) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM employer_invoices
		WHERE status = 'pending' AND due_date < $1 ORDER BY due_date`
	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("list overdue invoices: %w", err)
	}
	return scanInvoices(rows)
}

// UpdateInvoiceStatus persists an invoice's status fields guarded on the
// expected current status. A false return means a concurrent writer already
// moved the invoice on; the caller must treat the transition as not applied.
func (r *PostgresRepository) UpdateInvoiceStatus(ctx context.Context, inv *domain.Invoice, from domain.InvoiceStatus) (bool, error) {
	query := `
		UPDATE employer_invoices
		SET status = $2, paid_date = $3, payment_method = $4, transaction_reference = $5, updated_at = now()
		WHERE id = $1 AND status = $6`
	tag, err := r.db.Exec(ctx, query,
		inv.ID, inv.Status, inv.PaidDate, inv.PaymentMethod, inv.TransactionReference, from,
	)
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ---------------------------------------------------------------------------
// Worker payments
// ---------------------------------------------------------------------------

const paymentColumns = `id, payment_reference, payroll_cycle_id, contract_id, worker_id, invoice_id,
	salary_amount, deductions, net_amount, payment_method, payment_provider, account_number, account_name,
	status, transaction_id, failure_reason, retry_count, scheduled_date, disbursement_date, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.WorkerPayment, error) {
	var p domain.WorkerPayment
	err := row.Scan(
		&p.ID, &p.PaymentReference, &p.CycleID, &p.ContractID, &p.WorkerID, &p.InvoiceID,
		&p.SalaryAmount, &p.Deductions, &p.NetAmount, &p.MethodType, &p.ProviderName, &p.AccountNumber, &p.AccountName,
		&p.Status, &p.TransactionID, &p.FailureReason, &p.RetryCount, &p.ScheduledDate, &p.DisbursementDate,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateWorkerPayment inserts a new worker payment. The unique invoice_id
// index guarantees at most one payment per invoice, which is what makes the
// disbursement job and the queue consumer redelivery-safe.
func (r *PostgresRepository) CreateWorkerPayment(ctx context.Context, p *domain.WorkerPayment) error {
	query := `
		INSERT INTO worker_payments (
			id, payment_reference, payroll_cycle_id, contract_id, worker_id, invoice_id,
			salary_amount, deductions, net_amount, payment_method, payment_provider, account_number, account_name,
			status, retry_count, scheduled_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.PaymentReference, p.CycleID, p.ContractID, p.WorkerID, p.InvoiceID,
		p.SalaryAmount, p.Deductions, p.NetAmount, p.MethodType, p.ProviderName, p.AccountNumber, p.AccountName,
		p.Status, p.RetryCount, p.ScheduledDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("create worker payment: %w", err)
	}
	return nil
}

// GetWorkerPaymentByID retrieves a worker payment by its id.
func (r *PostgresRepository) GetWorkerPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.WorkerPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM worker_payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, paymentID))
}

// GetWorkerPaymentByInvoiceID retrieves the payment linked to an invoice.
func (r *PostgresRepository) GetWorkerPaymentByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*domain.WorkerPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM worker_payments WHERE invoice_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, invoiceID))
}

func scanPayments(rows pgx.Rows) ([]domain.WorkerPayment, error) {
	defer rows.Close()
	var payments []domain.WorkerPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ListPaymentsByWorker lists a worker's payments, newest first.
func (r *PostgresRepository) ListPaymentsByWorker(ctx context.Context, workerID uuid.UUID, opts ListOptions) ([]domain.WorkerPayment, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + paymentColumns + ` FROM worker_payments WHERE worker_id = $1`
	args := []any{workerID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments by worker: %w", err)
	}
	return scanPayments(rows)
}

// ListPaymentsByCycle lists a cycle's payments, optionally filtered by status.
func (r *PostgresRepository) ListPaymentsByCycle(ctx context.Context, cycleID uuid.UUID, status domain.PaymentStatus) ([]domain.WorkerPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM worker_payments WHERE payroll_cycle_id = $1`
	args := []any{cycleID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments by cycle: %w", err)
	}
	return scanPayments(rows)
}

// ClaimPaymentForProcessing atomically moves a pending or failed payment to
// processing. The conditional UPDATE is the duplicate-trigger guard: two
// concurrent disbursement attempts produce exactly one claim.
func (r *PostgresRepository) ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE worker_payments
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'failed')`
	tag, err := r.db.Exec(ctx, query, paymentID, at)
	if err != nil {
		return false, fmt.Errorf("claim payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePaymentStatus persists a payment's status fields guarded on the
// expected current status.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, p *domain.WorkerPayment, from domain.PaymentStatus) (bool, error) {
	query := `
		UPDATE worker_payments
		SET status = $2, transaction_id = $3, failure_reason = $4, retry_count = $5,
		    disbursement_date = $6, updated_at = now()
		WHERE id = $1 AND status = $7`
	tag, err := r.db.Exec(ctx, query,
		p.ID, p.Status, p.TransactionID, p.FailureReason, p.RetryCount, p.DisbursementDate, from,
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
