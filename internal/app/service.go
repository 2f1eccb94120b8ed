/**
 * @description
 * This file contains the core business logic for the payroll-service. The
 * `Service` struct orchestrates money movement: collecting invoice payments
 * from employers and disbursing salaries to workers, coordinating between
 * the database repository, the payment gateway adapters, the profile and
 * contract services, and the message broker.
 *
 * Key features:
 * - Routes each payment to a provider from the employer's billing contact
 *   (phone prefix for mobile money, email for card payments).
 * - Records every gateway call in the payment_transactions ledger before
 *   the provider is contacted, so the unique external reference is the
 *   idempotency barrier for retries.
 * - State transitions return effects; the service executes them only after
 *   the transition has committed.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/gateway, pkg/profileclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/gateway"
	"github.com/workconnect/payroll-service/pkg/profileclient"
	"github.com/workconnect/payroll-service/pkg/rabbitmq"
)

// Phone prefixes that decide the mobile money provider.
var (
	mtnPrefixes    = []string{"+25676", "+25677", "+25678"}
	airtelPrefixes = []string{"+25670", "+25674", "+25675"}
)

var (
	ErrInvoiceNotPayable     = errors.New("invoice is not in a payable state")
	ErrNoPaymentRoute        = errors.New("no payment provider matches the billing contact")
	ErrPaymentAlreadyClaimed = errors.New("payment is already being processed")
	ErrPaymentNotDisbursable = errors.New("payment is not in a disbursable state")
)

// ProfileClient is the slice of the profile service the workflow needs.
type ProfileClient interface {
	GetBillingContact(ctx context.Context, userID uuid.UUID) (*profileclient.BillingContact, error)
	GetDefaultPayoutMethod(ctx context.Context, workerID uuid.UUID) (*domain.PayoutMethod, error)
}

// Service provides the core business logic for payroll payments.
type Service struct {
	repo          store.Repository
	gateways      map[string]gateway.Gateway
	profileClient ProfileClient
	eventProducer rabbitmq.Publisher
	currency      string
}

// NewService creates a new payroll payment service instance.
func NewService(repo store.Repository, gateways map[string]gateway.Gateway, profiles ProfileClient, producer rabbitmq.Publisher, currency string) *Service {
	return &Service{
		repo:          repo,
		gateways:      gateways,
		profileClient: profiles,
		eventProducer: producer,
		currency:      currency,
	}
}

// Gateway returns the adapter registered under the given provider name.
func (s *Service) Gateway(name string) (gateway.Gateway, bool) {
	g, ok := s.gateways[name]
	return g, ok
}

// SelectGateway routes a payment to a provider from the billing contact.
// Phone prefix decides the mobile money operator; an email address falls
// back to card collection. No match is a validation error, not a provider
// failure.
func (s *Service) SelectGateway(phone, email string) (gateway.Gateway, error) {
	phone = strings.TrimSpace(phone)
	for _, p := range mtnPrefixes {
		if strings.HasPrefix(phone, p) {
			return s.namedGateway("mtn_mobile_money")
		}
	}
	for _, p := range airtelPrefixes {
		if strings.HasPrefix(phone, p) {
			return s.namedGateway("airtel_money")
		}
	}
	if strings.TrimSpace(email) != "" {
		return s.namedGateway("flutterwave")
	}
	return nil, ErrNoPaymentRoute
}

func (s *Service) namedGateway(name string) (gateway.Gateway, error) {
	g, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("gateway %s is not configured", name)
	}
	return g, nil
}

// ProcessEmployerPayment initiates collection of an invoice's total from the
// employer. The ledger row is written before the provider is contacted; the
// invoice itself stays pending until the provider confirms via webhook or
// poll.
func (s *Service) ProcessEmployerPayment(ctx context.Context, invoiceID uuid.UUID) (*domain.PaymentTransaction, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	if inv.Status != domain.InvoiceStatusPending {
		return nil, fmt.Errorf("invoice %s is %s: %w", inv.InvoiceNumber, inv.Status, ErrInvoiceNotPayable)
	}

	contact, err := s.profileClient.GetBillingContact(ctx, inv.EmployerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find employer billing contact: %w", err)
	}

	gw, err := s.SelectGateway(contact.Phone, contact.Email)
	if err != nil {
		return nil, err
	}

	reference, existing, err := s.nextCollectionReference(ctx, inv.InvoiceNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// A collection for this invoice is already in flight or complete.
		log.Printf("ProcessEmployerPayment: invoice %s already has active transaction %s (status %s)", inv.InvoiceNumber, existing.ExternalReference, existing.Status)
		return existing, nil
	}

	now := time.Now().UTC()
	tx := &domain.PaymentTransaction{
		ID:                uuid.New(),
		TransactionType:   domain.TransactionEmployerPayment,
		ExternalReference: reference,
		Amount:            inv.TotalAmount,
		Currency:          s.currency,
		PaymentMethod:     "collection",
		PaymentProvider:   gw.Name(),
		Status:            domain.TransactionInitiated,
		PayerUserID:       &inv.EmployerID,
		InvoiceID:         &inv.ID,
		InitiatedAt:       now,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			// Lost a race with a concurrent initiation for the same invoice.
			return s.repo.GetTransactionByExternalReference(ctx, reference)
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	result := gw.InitiateCollection(ctx, gateway.CollectionRequest{
		Amount:    inv.TotalAmount,
		Reference: reference,
		Phone:     contact.Phone,
		Email:     contact.Email,
		PayerName: contact.Name,
		Narration: fmt.Sprintf("Invoice %s", inv.InvoiceNumber),
	})

	if !result.Success {
		log.Printf("ProcessEmployerPayment: collection %s via %s rejected: %s", reference, gw.Name(), result.Error)
		providerStatus := "rejected"
		if _, err := s.repo.SettleTransaction(ctx, tx.ID, store.SettleTransactionParams{
			Status:           domain.TransactionFailed,
			ProviderStatus:   &providerStatus,
			ProviderResponse: result.RawResponse,
			CompletedAt:      &now,
		}); err != nil {
			return nil, fmt.Errorf("failed to record rejected collection: %w", err)
		}
		tx.Status = domain.TransactionFailed
		return tx, fmt.Errorf("collection via %s failed: %s", gw.Name(), result.Error)
	}

	var internalRef *string
	if result.ProviderTransactionID != "" {
		internalRef = &result.ProviderTransactionID
	}
	if _, err := s.repo.SettleTransaction(ctx, tx.ID, store.SettleTransactionParams{
		Status:            domain.TransactionPending,
		InternalReference: internalRef,
		ProviderResponse:  result.RawResponse,
	}); err != nil {
		return nil, fmt.Errorf("failed to record pending collection: %w", err)
	}
	tx.Status = domain.TransactionPending
	tx.InternalReference = internalRef
	tx.ProviderResponse = result.RawResponse

	log.Printf("ProcessEmployerPayment: collection %s initiated via %s for invoice %s amount %d", reference, gw.Name(), inv.InvoiceNumber, inv.TotalAmount)
	return tx, nil
}

// nextCollectionReference returns the external reference for a fresh
// collection attempt on an invoice, or the existing transaction when one is
// already pending or successful. Failed attempts get retry-suffixed
// references so each attempt keeps a distinct ledger row.
func (s *Service) nextCollectionReference(ctx context.Context, invoiceNumber string) (string, *domain.PaymentTransaction, error) {
	ref := invoiceNumber
	for attempt := 1; ; attempt++ {
		existing, err := s.repo.GetTransactionByExternalReference(ctx, ref)
		if errors.Is(err, store.ErrTransactionNotFound) {
			return ref, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to check reference %s: %w", ref, err)
		}
		if !existing.Status.Terminal() || existing.Status == domain.TransactionSuccessful {
			return "", existing, nil
		}
		ref = fmt.Sprintf("%s-R%d", invoiceNumber, attempt)
	}
}

// DisburseWorkerSalary pushes a worker's net salary through their payout
// method. The conditional claim guarantees exactly one concurrent attempt;
// redelivered queue messages and overlapping job runs all funnel through it.
func (s *Service) DisburseWorkerSalary(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentTransaction, error) {
	p, err := s.repo.GetWorkerPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find worker payment: %w", err)
	}
	if p.Status != domain.PaymentStatusPending && p.Status != domain.PaymentStatusFailed {
		return nil, fmt.Errorf("payment %s is %s: %w", p.PaymentReference, p.Status, ErrPaymentNotDisbursable)
	}

	gw, err := s.disbursementGateway(p)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reference := p.PaymentReference
	if p.RetryCount > 0 {
		reference = fmt.Sprintf("%s-R%d", p.PaymentReference, p.RetryCount)
	}

	tx := &domain.PaymentTransaction{
		ID:                uuid.New(),
		TransactionType:   domain.TransactionWorkerDisbursement,
		ExternalReference: reference,
		Amount:            p.NetAmount,
		Currency:          s.currency,
		PaymentMethod:     string(p.MethodType),
		PaymentProvider:   gw.Name(),
		Status:            domain.TransactionInitiated,
		PayeeUserID:       &p.WorkerID,
		WorkerPaymentID:   &p.ID,
		InitiatedAt:       now,
	}

	// Claim and ledger row commit together, so a crash can never leave a
	// processing payment without its transaction row.
	var claimed bool
	err = s.repo.Atomic(ctx, func(r store.Repository) error {
		var cerr error
		claimed, cerr = r.ClaimPaymentForProcessing(ctx, p.ID, now)
		if cerr != nil {
			return fmt.Errorf("failed to claim payment: %w", cerr)
		}
		if !claimed {
			return nil
		}
		if cerr := r.CreateTransaction(ctx, tx); cerr != nil {
			if errors.Is(cerr, store.ErrDuplicateReference) {
				return fmt.Errorf("reference %s already used: %w", reference, cerr)
			}
			return fmt.Errorf("failed to record transaction: %w", cerr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrPaymentAlreadyClaimed
	}

	accountName := ""
	if p.AccountName != nil {
		accountName = *p.AccountName
	}
	result := gw.InitiateDisbursement(ctx, gateway.DisbursementRequest{
		Amount:        p.NetAmount,
		Reference:     reference,
		AccountNumber: p.AccountNumber,
		AccountName:   accountName,
		Narration:     fmt.Sprintf("Salary %s", p.PaymentReference),
	})

	if !result.Success {
		log.Printf("DisburseWorkerSalary: disbursement %s via %s rejected: %s", reference, gw.Name(), result.Error)
		effects, terr := p.MarkFailed(result.Error, now)
		if terr != nil {
			return tx, terr
		}

		// Ledger and payment settle in one commit; the failure effects fire
		// only if our CAS won. If a webhook completed the payment while the
		// provider call was in flight, the worker must not hear "failed".
		providerStatus := "rejected"
		var settled, applied bool
		err = s.repo.Atomic(ctx, func(r store.Repository) error {
			var serr error
			settled, serr = r.SettleTransaction(ctx, tx.ID, store.SettleTransactionParams{
				Status:           domain.TransactionFailed,
				ProviderStatus:   &providerStatus,
				ProviderResponse: result.RawResponse,
				CompletedAt:      &now,
			})
			if serr != nil {
				return fmt.Errorf("failed to record rejected disbursement: %w", serr)
			}
			var uerr error
			applied, uerr = r.UpdatePaymentStatus(ctx, p, domain.PaymentStatusProcessing)
			if uerr != nil {
				return fmt.Errorf("failed to record payment failure: %w", uerr)
			}
			return nil
		})
		if err != nil {
			return tx, err
		}
		if settled {
			tx.Status = domain.TransactionFailed
		}
		if applied {
			s.ExecuteEffects(ctx, effects)
		}
		return tx, fmt.Errorf("disbursement via %s failed: %s", gw.Name(), result.Error)
	}

	var internalRef *string
	if result.ProviderTransactionID != "" {
		internalRef = &result.ProviderTransactionID
	}
	if _, err := s.repo.SettleTransaction(ctx, tx.ID, store.SettleTransactionParams{
		Status:            domain.TransactionPending,
		InternalReference: internalRef,
		ProviderResponse:  result.RawResponse,
	}); err != nil {
		return nil, fmt.Errorf("failed to record pending disbursement: %w", err)
	}
	tx.Status = domain.TransactionPending
	tx.InternalReference = internalRef

	log.Printf("DisburseWorkerSalary: disbursement %s initiated via %s for payment %s amount %d", reference, gw.Name(), p.PaymentReference, p.NetAmount)
	return tx, nil
}

func (s *Service) disbursementGateway(p *domain.WorkerPayment) (gateway.Gateway, error) {
	switch p.MethodType {
	case domain.MethodMobileMoneyMTN:
		return s.namedGateway("mtn_mobile_money")
	case domain.MethodMobileMoneyAirtel:
		return s.namedGateway("airtel_money")
	case domain.MethodBankTransfer:
		return s.namedGateway("flutterwave")
	default:
		return nil, fmt.Errorf("payout method %s has no provider route: %w", p.MethodType, ErrNoPaymentRoute)
	}
}

// CreateWorkerPaymentForInvoice materializes the worker payment owed for a
// paid invoice, snapshotting the worker's current default payout method.
// Safe to call repeatedly: the unique invoice link makes the second call
// return the existing payment.
func (s *Service) CreateWorkerPaymentForInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.WorkerPayment, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	if inv.Status != domain.InvoiceStatusPaid {
		return nil, fmt.Errorf("invoice %s is %s, only paid invoices are disbursable", inv.InvoiceNumber, inv.Status)
	}

	if existing, err := s.repo.GetWorkerPaymentByInvoiceID(ctx, inv.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, fmt.Errorf("failed to check existing payment: %w", err)
	}

	cycle, err := s.repo.GetCycleByID(ctx, inv.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payroll cycle: %w", err)
	}

	method, err := s.profileClient.GetDefaultPayoutMethod(ctx, inv.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout method for worker %s: %w", inv.WorkerID, err)
	}

	now := time.Now().UTC()
	p := &domain.WorkerPayment{
		ID:               uuid.New(),
		PaymentReference: domain.PaymentReference(cycle.Year, cycle.Month, inv.ContractID),
		CycleID:          inv.CycleID,
		ContractID:       inv.ContractID,
		WorkerID:         inv.WorkerID,
		InvoiceID:        inv.ID,
		SalaryAmount:     inv.WorkerSalaryAmount,
		Deductions:       0,
		NetAmount:        inv.WorkerSalaryAmount,
		MethodType:       method.MethodType,
		ProviderName:     method.ProviderName,
		AccountNumber:    method.AccountNumber,
		AccountName:      method.AccountName,
		Status:           domain.PaymentStatusPending,
		ScheduledDate:    now,
	}
	if err := s.repo.CreateWorkerPayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			return s.repo.GetWorkerPaymentByInvoiceID(ctx, inv.ID)
		}
		return nil, fmt.Errorf("failed to create worker payment: %w", err)
	}
	return p, nil
}

// RefundWorkerPayment records an operator-initiated reversal of a completed
// salary payment. The money moves back out of band (support desk, provider
// console); this records the reversal in the ledger and flips the payment to
// refunded so it can never be disbursed again.
func (s *Service) RefundWorkerPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.PaymentTransaction, error) {
	p, err := s.repo.GetWorkerPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find worker payment: %w", err)
	}

	now := time.Now().UTC()
	if err := p.MarkRefunded(now); err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdatePaymentStatus(ctx, p, domain.PaymentStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("payment %s changed concurrently: %w", p.PaymentReference, ErrPaymentAlreadyClaimed)
	}

	providerStatus := "refunded"
	if reason != "" {
		providerStatus = reason
	}
	tx := &domain.PaymentTransaction{
		ID:                uuid.New(),
		TransactionType:   domain.TransactionRefund,
		ExternalReference: fmt.Sprintf("%s-REFUND", p.PaymentReference),
		Amount:            p.NetAmount,
		Currency:          s.currency,
		PaymentMethod:     string(p.MethodType),
		PaymentProvider:   "manual",
		Status:            domain.TransactionSuccessful,
		ProviderStatus:    &providerStatus,
		PayeeUserID:       &p.WorkerID,
		WorkerPaymentID:   &p.ID,
		InitiatedAt:       now,
		CompletedAt:       &now,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to record refund transaction: %w", err)
	}

	log.Printf("RefundWorkerPayment: payment %s refunded, amount %d", p.PaymentReference, p.NetAmount)
	return tx, nil
}

// ExecuteEffects performs the side effects a committed transition returned.
// Effects are fire-and-forget: a publish failure is logged, never propagated,
// because the state change they describe has already committed.
func (s *Service) ExecuteEffects(ctx context.Context, effects []domain.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case domain.EffectNotify:
			if e.Notification == nil {
				continue
			}
			if err := s.eventProducer.PublishNotification(ctx, *e.Notification); err != nil {
				log.Printf("level=warn component=payroll_service msg=\"notification publish failed\" user_id=%s kind=%s err=%v", e.Notification.UserID, e.Notification.Kind, err)
			}
		case domain.EffectScheduleDisbursement:
			if e.Disbursement == nil {
				continue
			}
			if err := s.eventProducer.PublishDisbursementDue(ctx, *e.Disbursement); err != nil {
				log.Printf("level=error component=payroll_service msg=\"disbursement due publish failed\" invoice_id=%s err=%v", e.Disbursement.InvoiceID, err)
			}
		}
	}
}
