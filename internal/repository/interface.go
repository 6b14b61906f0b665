package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// ErrNotFound is returned when a plot or contract does not exist
var ErrNotFound = errors.New("record not found")

// Store is the contract ledger storage of a single tenant
type Store interface {
	// WithinTx runs fn in one transaction. fn's writes are committed only if it
	// returns nil; any error or panic rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// GetPlot retrieves a plot that has not been soft-deleted
	GetPlot(ctx context.Context, id uuid.UUID) (*models.Plot, error)

	// GetContract retrieves a contract by ID
	GetContract(ctx context.Context, id uuid.UUID) (*models.PlotSaleContract, error)

	// ListInstallments retrieves a contract's installments ordered by installment number
	ListInstallments(ctx context.Context, contractID uuid.UUID) ([]models.ContractInstallment, error)

	// ListPayments retrieves a contract's cash ledger in the order it was written
	ListPayments(ctx context.Context, contractID uuid.UUID) ([]models.ContractPayment, error)

	// ListEvents retrieves a contract's audit trail in the order it was written
	ListEvents(ctx context.Context, contractID uuid.UUID) ([]models.ContractEvent, error)

	// ListContractIDsByStatus retrieves the IDs of all contracts in a status
	ListContractIDsByStatus(ctx context.Context, status models.ContractStatus) ([]uuid.UUID, error)
}

// Tx is the set of reads and writes available inside a ledger transaction.
// Lock methods hold the returned rows exclusively until the transaction ends.
type Tx interface {
	// LockPlot retrieves and locks a plot that has not been soft-deleted
	LockPlot(ctx context.Context, id uuid.UUID) (*models.Plot, error)

	// ClaimPlot sets the plot's active contract and marks it SOLD, only if no
	// contract currently holds it. Returns false when the plot was not claimable.
	ClaimPlot(ctx context.Context, plotID, contractID uuid.UUID) (bool, error)

	// ReleasePlot clears the plot's active contract and marks it AVAILABLE,
	// only if contractID currently holds it.
	ReleasePlot(ctx context.Context, plotID, contractID uuid.UUID) error

	CreateContract(ctx context.Context, contract *models.PlotSaleContract) error
	LockContract(ctx context.Context, id uuid.UUID) (*models.PlotSaleContract, error)
	SaveContract(ctx context.Context, contract *models.PlotSaleContract) error

	CreateInstallments(ctx context.Context, installments []models.ContractInstallment) error
	LockInstallments(ctx context.Context, contractID uuid.UUID) ([]models.ContractInstallment, error)
	SaveInstallment(ctx context.Context, installment *models.ContractInstallment) error

	CreatePayment(ctx context.Context, payment *models.ContractPayment) error
	AppendEvent(ctx context.Context, event *models.ContractEvent) error
}

// StoreResolver maps a tenant to its isolated store. The returned store is
// borrowed for the duration of one operation.
type StoreResolver interface {
	StoreFor(ctx context.Context, tenantID string) (Store, error)
}

// Ensure implementations satisfy the interfaces
var (
	_ Store         = (*GormStore)(nil)
	_ Tx            = (*gormTx)(nil)
	_ Store         = (*MemoryStore)(nil)
	_ Tx            = (*memoryTx)(nil)
	_ StoreResolver = (*TenantStoreResolver)(nil)
	_ StoreResolver = (*MemoryResolver)(nil)
)
