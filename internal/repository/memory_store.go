package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// MemoryStore is an in-process Store. Transactions are serialised and run
// against a copy of the data that replaces the committed state only when the
// transaction function returns nil.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	plots        map[uuid.UUID]models.Plot
	contracts    map[uuid.UUID]models.PlotSaleContract
	installments map[uuid.UUID][]models.ContractInstallment
	payments     []models.ContractPayment
	events       []models.ContractEvent
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			plots:        make(map[uuid.UUID]models.Plot),
			contracts:    make(map[uuid.UUID]models.PlotSaleContract),
			installments: make(map[uuid.UUID][]models.ContractInstallment),
		},
	}
}

// PutPlot inserts or replaces a plot
func (s *MemoryStore) PutPlot(plot models.Plot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plot.ID == uuid.Nil {
		plot.ID = uuid.New()
	}
	if plot.Availability == "" {
		plot.Availability = models.PlotAvailable
	}
	s.state.plots[plot.ID] = plot
}

// WithinTx runs fn against a snapshot and commits it if fn succeeds
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(&memoryTx{state: working}); err != nil {
		return err
	}

	// A transaction that outlived its deadline rolls back.
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = working
	return nil
}

func (s *MemoryStore) GetPlot(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.plot(id)
}

func (s *MemoryStore) GetContract(ctx context.Context, id uuid.UUID) (*models.PlotSaleContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.contract(id)
}

func (s *MemoryStore) ListInstallments(ctx context.Context, contractID uuid.UUID) ([]models.ContractInstallment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ContractInstallment(nil), s.state.installments[contractID]...), nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, contractID uuid.UUID) ([]models.ContractPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payments []models.ContractPayment
	for _, p := range s.state.payments {
		if p.ContractID == contractID {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, contractID uuid.UUID) ([]models.ContractEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.ContractEvent
	for _, e := range s.state.events {
		if e.ContractID == contractID {
			events = append(events, e)
		}
	}
	return events, nil
}

func (s *MemoryStore) ListContractIDsByStatus(ctx context.Context, status models.ContractStatus) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contracts []models.PlotSaleContract
	for _, c := range s.state.contracts {
		if c.Status == status {
			contracts = append(contracts, c)
		}
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].CreatedAt.Before(contracts[j].CreatedAt)
	})

	ids := make([]uuid.UUID, len(contracts))
	for i, c := range contracts {
		ids[i] = c.ID
	}
	return ids, nil
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		plots:        make(map[uuid.UUID]models.Plot, len(st.plots)),
		contracts:    make(map[uuid.UUID]models.PlotSaleContract, len(st.contracts)),
		installments: make(map[uuid.UUID][]models.ContractInstallment, len(st.installments)),
		payments:     append([]models.ContractPayment(nil), st.payments...),
		events:       append([]models.ContractEvent(nil), st.events...),
	}
	for id, p := range st.plots {
		c.plots[id] = p
	}
	for id, k := range st.contracts {
		c.contracts[id] = k
	}
	for id, rows := range st.installments {
		c.installments[id] = append([]models.ContractInstallment(nil), rows...)
	}
	return c
}

func (st *memoryState) plot(id uuid.UUID) (*models.Plot, error) {
	p, ok := st.plots[id]
	if !ok || p.DeletedAt.Valid {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (st *memoryState) contract(id uuid.UUID) (*models.PlotSaleContract, error) {
	c, ok := st.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// memoryTx mutates a working copy owned by one transaction
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) LockPlot(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	return t.state.plot(id)
}

func (t *memoryTx) ClaimPlot(ctx context.Context, plotID, contractID uuid.UUID) (bool, error) {
	p, ok := t.state.plots[plotID]
	if !ok || p.DeletedAt.Valid || p.ActiveContractID != nil || p.Availability != models.PlotAvailable {
		return false, nil
	}
	id := contractID
	p.ActiveContractID = &id
	p.Availability = models.PlotSold
	p.UpdatedAt = time.Now().UTC()
	t.state.plots[plotID] = p
	return true, nil
}

func (t *memoryTx) ReleasePlot(ctx context.Context, plotID, contractID uuid.UUID) error {
	p, ok := t.state.plots[plotID]
	if !ok || p.ActiveContractID == nil || *p.ActiveContractID != contractID {
		return nil
	}
	p.ActiveContractID = nil
	p.Availability = models.PlotAvailable
	p.UpdatedAt = time.Now().UTC()
	t.state.plots[plotID] = p
	return nil
}

func (t *memoryTx) CreateContract(ctx context.Context, contract *models.PlotSaleContract) error {
	if _, exists := t.state.contracts[contract.ID]; exists {
		return fmt.Errorf("contract %s already exists", contract.ID)
	}
	t.state.contracts[contract.ID] = *contract
	return nil
}

func (t *memoryTx) LockContract(ctx context.Context, id uuid.UUID) (*models.PlotSaleContract, error) {
	return t.state.contract(id)
}

func (t *memoryTx) SaveContract(ctx context.Context, contract *models.PlotSaleContract) error {
	if _, exists := t.state.contracts[contract.ID]; !exists {
		return ErrNotFound
	}
	t.state.contracts[contract.ID] = *contract
	return nil
}

func (t *memoryTx) CreateInstallments(ctx context.Context, installments []models.ContractInstallment) error {
	for _, row := range installments {
		for _, existing := range t.state.installments[row.ContractID] {
			if existing.InstallmentNo == row.InstallmentNo {
				return fmt.Errorf("installment %d already exists for contract %s", row.InstallmentNo, row.ContractID)
			}
		}
		t.state.installments[row.ContractID] = append(t.state.installments[row.ContractID], row)
	}
	for contractID, rows := range t.state.installments {
		sort.Slice(rows, func(i, j int) bool { return rows[i].InstallmentNo < rows[j].InstallmentNo })
		t.state.installments[contractID] = rows
	}
	return nil
}

func (t *memoryTx) LockInstallments(ctx context.Context, contractID uuid.UUID) ([]models.ContractInstallment, error) {
	return append([]models.ContractInstallment(nil), t.state.installments[contractID]...), nil
}

func (t *memoryTx) SaveInstallment(ctx context.Context, installment *models.ContractInstallment) error {
	rows := t.state.installments[installment.ContractID]
	for i := range rows {
		if rows[i].ID == installment.ID {
			rows[i] = *installment
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) CreatePayment(ctx context.Context, payment *models.ContractPayment) error {
	t.state.payments = append(t.state.payments, *payment)
	return nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, event *models.ContractEvent) error {
	t.state.events = append(t.state.events, *event)
	return nil
}

// MemoryResolver resolves tenants to in-memory stores. Tenants registered
// with Fail resolve to the given error.
type MemoryResolver struct {
	mu     sync.RWMutex
	stores map[string]*MemoryStore
	errs   map[string]error
}

// NewMemoryResolver creates an empty resolver
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		stores: make(map[string]*MemoryStore),
		errs:   make(map[string]error),
	}
}

// Store returns the tenant's store, creating it on first use
func (r *MemoryResolver) Store(tenantID string) *MemoryStore {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.stores[tenantID]
	if !ok {
		store = NewMemoryStore()
		r.stores[tenantID] = store
	}
	return store
}

// Fail makes resolution of tenantID return err
func (r *MemoryResolver) Fail(tenantID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[tenantID] = err
}

func (r *MemoryResolver) StoreFor(ctx context.Context, tenantID string) (Store, error) {
	r.mu.RLock()
	err := r.errs[tenantID]
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return r.Store(tenantID), nil
}
