package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/gateway"
	"github.com/workconnect/payroll-service/pkg/profileclient"
)

// memoryRepo is an in-memory Repository used across the package's tests. It
// reproduces the conditional-update semantics the real store has because the
// orchestration under test depends on them.
type memoryRepo struct {
	store.Repository

	mu       sync.Mutex
	cycles   map[uuid.UUID]*domain.PayrollCycle
	invoices map[uuid.UUID]*domain.Invoice
	payments map[uuid.UUID]*domain.WorkerPayment
	txs      map[uuid.UUID]*domain.PaymentTransaction
	feeCfgs  map[uuid.UUID]*domain.ServiceFeeConfig
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		cycles:   make(map[uuid.UUID]*domain.PayrollCycle),
		invoices: make(map[uuid.UUID]*domain.Invoice),
		payments: make(map[uuid.UUID]*domain.WorkerPayment),
		txs:      make(map[uuid.UUID]*domain.PaymentTransaction),
		feeCfgs:  make(map[uuid.UUID]*domain.ServiceFeeConfig),
	}
}

func (m *memoryRepo) addCycle(c *domain.PayrollCycle) { m.cycles[c.ID] = c }

func (m *memoryRepo) addInvoice(inv *domain.Invoice) { m.invoices[inv.ID] = inv }

func (m *memoryRepo) addPayment(p *domain.WorkerPayment) { m.payments[p.ID] = p }

func (m *memoryRepo) addTransaction(tx *domain.PaymentTransaction) { m.txs[tx.ID] = tx }

func (m *memoryRepo) GetOrCreateCycle(ctx context.Context, month, year int) (*domain.PayrollCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cycles {
		if c.Month == month && c.Year == year {
			return c, nil
		}
	}
	c := &domain.PayrollCycle{ID: uuid.New(), Month: month, Year: year, CreatedAt: time.Now()}
	m.cycles[c.ID] = c
	return c, nil
}

func (m *memoryRepo) GetCycle(ctx context.Context, month, year int) (*domain.PayrollCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cycles {
		if c.Month == month && c.Year == year {
			return c, nil
		}
	}
	return nil, store.ErrCycleNotFound
}

func (m *memoryRepo) GetCycleByID(ctx context.Context, cycleID uuid.UUID) (*domain.PayrollCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return nil, store.ErrCycleNotFound
	}
	return c, nil
}

func (m *memoryRepo) AddCycleTotals(ctx context.Context, cycleID uuid.UUID, contracts int, salaries, fees int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return store.ErrCycleNotFound
	}
	c.TotalContracts += contracts
	c.TotalWorkerSalaries += salaries
	c.TotalServiceFees += fees
	c.TotalRevenue += fees
	return nil
}

func (m *memoryRepo) MarkCycleInvoicesGenerated(ctx context.Context, cycleID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return store.ErrCycleNotFound
	}
	if !c.CanMarkInvoicesGenerated() {
		return store.ErrCycleClosed
	}
	c.InvoicesGenerated = true
	if c.InvoiceGenerationDate == nil {
		c.InvoiceGenerationDate = &at
	}
	return nil
}

func (m *memoryRepo) MarkCyclePaymentsProcessed(ctx context.Context, cycleID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return store.ErrCycleNotFound
	}
	if !c.CanMarkPaymentsProcessed() {
		return store.ErrCycleOrder
	}
	c.PaymentsProcessed = true
	if c.PaymentProcessingDate == nil {
		c.PaymentProcessingDate = &at
	}
	return nil
}

func (m *memoryRepo) CloseCycle(ctx context.Context, cycleID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return store.ErrCycleNotFound
	}
	if !c.CanClose() {
		return store.ErrCycleOrder
	}
	c.CycleClosed = true
	c.ClosedAt = &at
	return nil
}

func (m *memoryRepo) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invoices {
		if existing.ContractID == inv.ContractID && existing.CycleID == inv.CycleID {
			return store.ErrDuplicateInvoice
		}
	}
	m.invoices[inv.ID] = inv
	return nil
}

func (m *memoryRepo) GetInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, store.ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (m *memoryRepo) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.InvoiceNumber == invoiceNumber {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, store.ErrInvoiceNotFound
}

func (m *memoryRepo) ListInvoicesByCycle(ctx context.Context, cycleID uuid.UUID, status domain.InvoiceStatus) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.CycleID == cycleID && (status == "" || inv.Status == status) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListOverdueInvoices(ctx context.Context, asOf time.Time) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.IsOverdue(asOf) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdateInvoiceStatus(ctx context.Context, inv *domain.Invoice, from domain.InvoiceStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.invoices[inv.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	copied := *inv
	m.invoices[inv.ID] = &copied
	return true, nil
}

func (m *memoryRepo) CreateWorkerPayment(ctx context.Context, p *domain.WorkerPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.InvoiceID == p.InvoiceID {
			return store.ErrDuplicatePayment
		}
	}
	m.payments[p.ID] = p
	return nil
}

func (m *memoryRepo) GetWorkerPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.WorkerPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memoryRepo) GetWorkerPaymentByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*domain.WorkerPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memoryRepo) ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return false, store.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentStatusPending && p.Status != domain.PaymentStatusFailed {
		return false, nil
	}
	p.Status = domain.PaymentStatusProcessing
	p.UpdatedAt = at
	return true, nil
}

func (m *memoryRepo) UpdatePaymentStatus(ctx context.Context, p *domain.WorkerPayment, from domain.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	copied := *p
	m.payments[p.ID] = &copied
	return true, nil
}

func (m *memoryRepo) CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.txs {
		if existing.ExternalReference == tx.ExternalReference {
			return store.ErrDuplicateReference
		}
	}
	m.txs[tx.ID] = tx
	return nil
}

func (m *memoryRepo) GetTransactionByExternalReference(ctx context.Context, reference string) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.ExternalReference == reference {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (m *memoryRepo) FindTransactionForEvent(ctx context.Context, providerTransactionID, reference string) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	for _, tx := range m.txs {
		if providerTransactionID != "" && tx.InternalReference != nil && *tx.InternalReference == providerTransactionID {
			copied := *tx
			m.mu.Unlock()
			return &copied, nil
		}
	}
	m.mu.Unlock()
	if reference != "" {
		return m.GetTransactionByExternalReference(ctx, reference)
	}
	return nil, store.ErrTransactionNotFound
}

func (m *memoryRepo) SettleTransaction(ctx context.Context, txID uuid.UUID, params store.SettleTransactionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionInitiated && tx.Status != domain.TransactionPending {
		return false, nil
	}
	tx.Status = params.Status
	if params.ProviderStatus != nil {
		tx.ProviderStatus = params.ProviderStatus
	}
	if params.InternalReference != nil {
		tx.InternalReference = params.InternalReference
	}
	if params.ProviderResponse != nil {
		tx.ProviderResponse = params.ProviderResponse
	}
	if params.CompletedAt != nil {
		tx.CompletedAt = params.CompletedAt
	}
	return true, nil
}

func (m *memoryRepo) ListTransactionsNeedingReconciliation(ctx context.Context, olderThan time.Time) ([]domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentTransaction
	for _, tx := range m.txs {
		if !tx.Status.Terminal() && tx.InitiatedAt.Before(olderThan) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetActiveFeeConfig(ctx context.Context, categoryID uuid.UUID, asOf time.Time) (*domain.ServiceFeeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.feeCfgs[categoryID]
	if !ok {
		return nil, store.ErrFeeConfigNotFound
	}
	return cfg, nil
}

func (m *memoryRepo) Atomic(ctx context.Context, fn func(store.Repository) error) error {
	return fn(m)
}

// stubGateway is a configurable Gateway for tests.
type stubGateway struct {
	name string

	collectionResult   gateway.CollectionResult
	disbursementResult gateway.DisbursementResult
	statusResult       gateway.StatusResult

	collections   []gateway.CollectionRequest
	disbursements []gateway.DisbursementRequest
	statusChecks  []string

	// onDisburse, when set, runs while the provider call is in flight,
	// before the result is returned. Lets tests interleave a webhook.
	onDisburse func()

	validateWebhook bool
	webhookEvent    *gateway.WebhookEvent
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) InitiateCollection(ctx context.Context, req gateway.CollectionRequest) gateway.CollectionResult {
	g.collections = append(g.collections, req)
	return g.collectionResult
}

func (g *stubGateway) InitiateDisbursement(ctx context.Context, req gateway.DisbursementRequest) gateway.DisbursementResult {
	g.disbursements = append(g.disbursements, req)
	if g.onDisburse != nil {
		g.onDisburse()
	}
	return g.disbursementResult
}

func (g *stubGateway) CheckStatus(ctx context.Context, providerTransactionID string) gateway.StatusResult {
	g.statusChecks = append(g.statusChecks, providerTransactionID)
	return g.statusResult
}

func (g *stubGateway) ValidateWebhook(body []byte, headers http.Header) bool {
	return g.validateWebhook
}

func (g *stubGateway) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	return g.webhookEvent, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu            sync.Mutex
	notifications []domain.NotificationEvent
	disbursements []domain.DisbursementDueEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *recordingPublisher) PublishDisbursementDue(ctx context.Context, event domain.DisbursementDueEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disbursements = append(p.disbursements, event)
	return nil
}

func (p *recordingPublisher) PublishNotification(ctx context.Context, event domain.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, event)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) notificationKinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, 0, len(p.notifications))
	for _, n := range p.notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// stubProfileClient returns canned billing contacts and payout methods.
type stubProfileClient struct {
	contact *profileclient.BillingContact
	payout  *domain.PayoutMethod
	err     error
}

func (c *stubProfileClient) GetBillingContact(ctx context.Context, userID uuid.UUID) (*profileclient.BillingContact, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.contact, nil
}

func (c *stubProfileClient) GetDefaultPayoutMethod(ctx context.Context, workerID uuid.UUID) (*domain.PayoutMethod, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.payout, nil
}
