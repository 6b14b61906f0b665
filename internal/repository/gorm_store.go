package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// GormStore is the Store backed by a tenant's postgres database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a tenant database handle
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// WithinTx runs fn inside a database transaction
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

// GetPlot retrieves a plot by ID
func (s *GormStore) GetPlot(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	var plot models.Plot
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&plot).Error; err != nil {
		return nil, notFound(err, "plot")
	}
	return &plot, nil
}

// GetContract retrieves a contract by ID
func (s *GormStore) GetContract(ctx context.Context, id uuid.UUID) (*models.PlotSaleContract, error) {
	var contract models.PlotSaleContract
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&contract).Error; err != nil {
		return nil, notFound(err, "contract")
	}
	return &contract, nil
}

// ListInstallments retrieves a contract's installments
func (s *GormStore) ListInstallments(ctx context.Context, contractID uuid.UUID) ([]models.ContractInstallment, error) {
	var installments []models.ContractInstallment
	if err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("installment_no ASC").
		Find(&installments).Error; err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	return installments, nil
}

// ListPayments retrieves a contract's payments
func (s *GormStore) ListPayments(ctx context.Context, contractID uuid.UUID) ([]models.ContractPayment, error) {
	var payments []models.ContractPayment
	if err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// ListEvents retrieves a contract's events
func (s *GormStore) ListEvents(ctx context.Context, contractID uuid.UUID) ([]models.ContractEvent, error) {
	var events []models.ContractEvent
	if err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListContractIDsByStatus retrieves contract IDs in a status
func (s *GormStore) ListContractIDsByStatus(ctx context.Context, status models.ContractStatus) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).
		Model(&models.PlotSaleContract{}).
		Where("status = ?", status).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s contracts: %w", status, err)
	}
	return ids, nil
}

// gormTx implements Tx with SELECT ... FOR UPDATE row locks
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) locked(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) LockPlot(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	var plot models.Plot
	if err := t.locked(ctx).Where("id = ?", id).First(&plot).Error; err != nil {
		return nil, notFound(err, "plot")
	}
	return &plot, nil
}

func (t *gormTx) ClaimPlot(ctx context.Context, plotID, contractID uuid.UUID) (bool, error) {
	result := t.db.WithContext(ctx).
		Model(&models.Plot{}).
		Where("id = ? AND active_contract_id IS NULL AND availability = ?", plotID, models.PlotAvailable).
		Updates(map[string]interface{}{
			"active_contract_id": contractID,
			"availability":       models.PlotSold,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim plot: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (t *gormTx) ReleasePlot(ctx context.Context, plotID, contractID uuid.UUID) error {
	result := t.db.WithContext(ctx).
		Model(&models.Plot{}).
		Where("id = ? AND active_contract_id = ?", plotID, contractID).
		Updates(map[string]interface{}{
			"active_contract_id": nil,
			"availability":       models.PlotAvailable,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release plot: %w", result.Error)
	}
	return nil
}

func (t *gormTx) CreateContract(ctx context.Context, contract *models.PlotSaleContract) error {
	if err := t.db.WithContext(ctx).Create(contract).Error; err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (t *gormTx) LockContract(ctx context.Context, id uuid.UUID) (*models.PlotSaleContract, error) {
	var contract models.PlotSaleContract
	if err := t.locked(ctx).Where("id = ?", id).First(&contract).Error; err != nil {
		return nil, notFound(err, "contract")
	}
	return &contract, nil
}

func (t *gormTx) SaveContract(ctx context.Context, contract *models.PlotSaleContract) error {
	if err := t.db.WithContext(ctx).Save(contract).Error; err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (t *gormTx) CreateInstallments(ctx context.Context, installments []models.ContractInstallment) error {
	if len(installments) == 0 {
		return nil
	}
	if err := t.db.WithContext(ctx).Create(&installments).Error; err != nil {
		return fmt.Errorf("failed to create installments: %w", err)
	}
	return nil
}

func (t *gormTx) LockInstallments(ctx context.Context, contractID uuid.UUID) ([]models.ContractInstallment, error) {
	var installments []models.ContractInstallment
	if err := t.locked(ctx).
		Where("contract_id = ?", contractID).
		Order("installment_no ASC").
		Find(&installments).Error; err != nil {
		return nil, fmt.Errorf("failed to lock installments: %w", err)
	}
	return installments, nil
}

func (t *gormTx) SaveInstallment(ctx context.Context, installment *models.ContractInstallment) error {
	if err := t.db.WithContext(ctx).Save(installment).Error; err != nil {
		return fmt.Errorf("failed to save installment %d: %w", installment.InstallmentNo, err)
	}
	return nil
}

func (t *gormTx) CreatePayment(ctx context.Context, payment *models.ContractPayment) error {
	if err := t.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (t *gormTx) AppendEvent(ctx context.Context, event *models.ContractEvent) error {
	if err := t.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
