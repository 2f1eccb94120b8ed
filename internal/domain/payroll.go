/**
 * @description
 * This file defines the core domain models for the payroll-service: the monthly
 * payroll cycle, employer invoices, and worker salary payments. These structs
 * map directly to their database tables and are shared by the store, app, and
 * api layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (UGX has no
 *   minor unit, so 1 == 1 shilling), which avoids floating-point inaccuracies
 *   with financial data.
 * - Invoice amounts are immutable after creation; only `status` and the
 *   payment fields populated on the PAID transition ever change.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayrollCycle is the monthly anchor for invoice generation and salary
// disbursement. One row exists per (month, year) pair.
type PayrollCycle struct {
	ID    uuid.UUID `json:"id"`
	Month int       `json:"month"`
	Year  int       `json:"year"`

	// Running totals, accumulated only by the invoice-generation job.
	TotalContracts      int   `json:"total_contracts"`
	TotalWorkerSalaries int64 `json:"total_worker_salaries"`
	TotalServiceFees    int64 `json:"total_service_fees"`
	TotalRevenue        int64 `json:"total_revenue"`

	// Milestone flags. Monotonic: once true, never false again, and they
	// may only be set in declaration order.
	InvoicesGenerated bool `json:"invoices_generated"`
	PaymentsProcessed bool `json:"payments_processed"`
	CycleClosed       bool `json:"cycle_closed"`

	InvoiceGenerationDate *time.Time `json:"invoice_generation_date,omitempty"`
	PaymentProcessingDate *time.Time `json:"payment_processing_date,omitempty"`
	ClosedAt              *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CycleName returns the human-readable period name, e.g. "March 2024".
func (c *PayrollCycle) CycleName() string {
	if c.Month < 1 || c.Month > 12 {
		return fmt.Sprintf("Month %d, %d", c.Month, c.Year)
	}
	return time.Date(c.Year, time.Month(c.Month), 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}

// CanMarkInvoicesGenerated reports whether the invoicesGenerated flag may be set.
func (c *PayrollCycle) CanMarkInvoicesGenerated() bool {
	return !c.CycleClosed
}

// CanMarkPaymentsProcessed reports whether the paymentsProcessed flag may be
// set. Flag order is enforced here: invoices must be generated first.
func (c *PayrollCycle) CanMarkPaymentsProcessed() bool {
	return c.InvoicesGenerated && !c.CycleClosed
}

// CanClose reports whether the cycle may be closed. A closed cycle's totals
// are frozen for audit; corrections happen out of band, never by mutation.
func (c *PayrollCycle) CanClose() bool {
	return c.InvoicesGenerated && c.PaymentsProcessed && !c.CycleClosed
}

// InvoiceStatus is the closed set of stored invoice states. Overdue is a
// derived view (see Invoice.IsOverdue), not a stored state.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// invoiceTransitions is the legality table for stored invoice transitions.
// paid and cancelled are terminal.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusPending: {InvoiceStatusPaid, InvoiceStatusCancelled},
}

// CanTransition reports whether moving to `next` is legal from s.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s InvoiceStatus) Terminal() bool {
	return len(invoiceTransitions[s]) == 0
}

// Invoice bills an employer for one contract in one payroll cycle:
// the worker's salary plus the platform service fee. Unique on
// (contract, cycle) so at most one invoice exists per contract per month.
type Invoice struct {
	ID            uuid.UUID `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`

	CycleID    uuid.UUID `json:"payroll_cycle_id"`
	ContractID uuid.UUID `json:"contract_id"`
	EmployerID uuid.UUID `json:"employer_id"`
	WorkerID   uuid.UUID `json:"worker_id"`

	// Amount breakdown, immutable after creation.
	// TotalAmount = WorkerSalaryAmount + ServiceFeeAmount + AdditionalFees.
	WorkerSalaryAmount int64 `json:"worker_salary_amount"`
	ServiceFeeAmount   int64 `json:"service_fee_amount"`
	AdditionalFees     int64 `json:"additional_fees"`
	TotalAmount        int64 `json:"total_amount"`

	Status               InvoiceStatus `json:"status"`
	DueDate              time.Time     `json:"due_date"`
	PaidDate             *time.Time    `json:"paid_date,omitempty"`
	PaymentMethod        *string       `json:"payment_method,omitempty"`
	TransactionReference *string       `json:"transaction_reference,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOverdue reports whether the invoice is unpaid past its due date. Overdue
// is computed wherever it is displayed or filtered; it never appears in the
// stored status column.
func (i *Invoice) IsOverdue(today time.Time) bool {
	return i.Status == InvoiceStatusPending && i.DueDate.Before(truncateToDay(today))
}

// DisplayStatus is the coarse status shown to employers: the stored status,
// except a pending invoice past due reads as "overdue".
func (i *Invoice) DisplayStatus(today time.Time) string {
	if i.IsOverdue(today) {
		return "overdue"
	}
	return string(i.Status)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// PaymentStatus is the closed set of worker payment states.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// paymentTransitions is the legality table for worker payment transitions.
// failed is retryable (back to processing on a new disbursement attempt);
// refunded is terminal and reachable only from completed via admin action.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
}

// CanTransition reports whether moving to `next` is legal from s.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// PaymentMethodType identifies how a worker receives their salary.
type PaymentMethodType string

const (
	MethodMobileMoneyMTN    PaymentMethodType = "mobile_money_mtn"
	MethodMobileMoneyAirtel PaymentMethodType = "mobile_money_airtel"
	MethodBankTransfer      PaymentMethodType = "bank_transfer"
	MethodCashPickup        PaymentMethodType = "cash_pickup"
)

// WorkerPayment disburses the full salary for one paid invoice to the worker.
// The payout method fields are a snapshot taken at creation time so a worker
// editing their payout details cannot alter an in-flight disbursement.
type WorkerPayment struct {
	ID               uuid.UUID `json:"id"`
	PaymentReference string    `json:"payment_reference"`

	CycleID    uuid.UUID `json:"payroll_cycle_id"`
	ContractID uuid.UUID `json:"contract_id"`
	WorkerID   uuid.UUID `json:"worker_id"`
	InvoiceID  uuid.UUID `json:"invoice_id"`

	SalaryAmount int64 `json:"salary_amount"`
	Deductions   int64 `json:"deductions"`
	NetAmount    int64 `json:"net_amount"` // SalaryAmount - Deductions

	// Payout method snapshot.
	MethodType    PaymentMethodType `json:"payment_method"`
	ProviderName  *string           `json:"payment_provider,omitempty"`
	AccountNumber string            `json:"account_number"`
	AccountName   *string           `json:"account_name,omitempty"`

	Status           PaymentStatus `json:"status"`
	TransactionID    *string       `json:"transaction_id,omitempty"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	RetryCount       int           `json:"retry_count"`
	ScheduledDate    time.Time     `json:"scheduled_date"`
	DisbursementDate *time.Time    `json:"disbursement_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PayoutMethod is a worker's configured payout destination as exposed by the
// profile service. The payroll service reads it once, when creating a
// WorkerPayment, and copies the fields it needs.
type PayoutMethod struct {
	ID            uuid.UUID         `json:"id"`
	WorkerID      uuid.UUID         `json:"worker_id"`
	MethodType    PaymentMethodType `json:"method_type"`
	ProviderName  *string           `json:"provider_name,omitempty"`
	AccountNumber string            `json:"account_number"`
	AccountName   *string           `json:"account_name,omitempty"`
	BankName      *string           `json:"bank_name,omitempty"`
	IsDefault     bool              `json:"is_default"`
}

// InvoiceNumber builds the unique invoice reference for a contract in a
// cycle, e.g. "INV-2024-03-ABCD1234". The contract id suffix makes the
// reference stable across retried generation runs.
func InvoiceNumber(year int, month int, contractID uuid.UUID) string {
	return fmt.Sprintf("INV-%d-%02d-%s", year, month, shortContractRef(contractID))
}

// PaymentReference builds the unique worker payment reference for a contract
// in a cycle, e.g. "PAY-2024-03-ABCD1234".
func PaymentReference(year int, month int, contractID uuid.UUID) string {
	return fmt.Sprintf("PAY-%d-%02d-%s", year, month, shortContractRef(contractID))
}

func shortContractRef(contractID uuid.UUID) string {
	hex := fmt.Sprintf("%x", [16]byte(contractID))
	return fmt.Sprintf("%.8s", toUpperHex(hex))
}

func toUpperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
