package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/repository"
)

// Operation names used for logging and metrics
const (
	OpCreateContract      = "create_contract"
	OpPostPayment         = "post_payment"
	OpEvaluateDelinquency = "evaluate_delinquency"
	OpCancelContract      = "cancel_contract"
	OpGetContract         = "get_contract"
)

// EventPublisher streams committed contract events
type EventPublisher interface {
	PublishContractEvents(ctx context.Context, tenantID string, events []models.ContractEvent)
}

// Observer records operation outcomes
type Observer interface {
	ObserveOperation(operation, result string, duration time.Duration)
}

// ContractServiceConfig holds the dependencies of a ContractService
type ContractServiceConfig struct {
	Stores           repository.StoreResolver
	Publisher        EventPublisher   // Optional
	Observer         Observer         // Optional
	Logger           *logrus.Logger
	Clock            func() time.Time // Default: time.Now
	OperationTimeout time.Duration    // Default: 30 seconds
}

// ContractService implements the plot sale contract ledger: origination,
// payment posting, delinquency evaluation and cancellation settlement.
// Every mutating operation runs as one transaction in the tenant's database.
type ContractService struct {
	stores    repository.StoreResolver
	publisher EventPublisher
	observer  Observer
	logger    *logrus.Logger
	now       func() time.Time
	timeout   time.Duration
}

// NewContractService creates a new contract ledger service
func NewContractService(cfg ContractServiceConfig) *ContractService {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &ContractService{
		stores:    cfg.Stores,
		publisher: cfg.Publisher,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		now:       cfg.Clock,
		timeout:   cfg.OperationTimeout,
	}
}

// txScope carries the state of one ledger transaction
type txScope struct {
	tx     repository.Tx
	now    time.Time
	actor  string
	events []models.ContractEvent
}

// emit appends an event to the contract's audit trail. Events of one
// transaction are stamped a microsecond apart so the trail sorts in
// emission order.
func (sc *txScope) emit(ctx context.Context, contractID uuid.UUID, eventType models.ContractEventType, payload interface{}) error {
	at := sc.now.Add(time.Duration(len(sc.events)) * time.Microsecond)
	event, err := models.NewContractEvent(contractID, eventType, payload, sc.actor, at)
	if err != nil {
		return err
	}
	if err := sc.tx.AppendEvent(ctx, event); err != nil {
		return err
	}
	sc.events = append(sc.events, *event)
	return nil
}

// store resolves the tenant's store
func (s *ContractService) store(ctx context.Context, tenantID string) (repository.Store, error) {
	store, err := s.stores.StoreFor(ctx, tenantID)
	if err != nil {
		return nil, NewInfrastructureError("tenant database unavailable", err)
	}
	return store, nil
}

// transact runs fn in one bounded transaction on store. Panics are recovered
// and rolled back. Events emitted by fn are published once the transaction
// has committed.
func (s *ContractService) transact(ctx context.Context, tenantID string, store repository.Store, actor string, fn func(ctx context.Context, sc *txScope) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sc *txScope
	err := recoverTx(func() error {
		return store.WithinTx(ctx, func(tx repository.Tx) error {
			sc = &txScope{tx: tx, now: s.now().UTC(), actor: actor}
			return fn(ctx, sc)
		})
	})
	if err != nil {
		return s.classify(ctx, tenantID, err)
	}

	if s.publisher != nil && len(sc.events) > 0 {
		pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer pubCancel()
		s.publisher.PublishContractEvents(pubCtx, tenantID, sc.events)
	}
	return nil
}

func recoverTx(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewInfrastructureError("unexpected failure in ledger transaction", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// classify passes expected failures through and wraps everything else as an
// infrastructure error, logging it with full context
func (s *ContractService) classify(ctx context.Context, tenantID string, err error) error {
	if kind := KindOf(err); kind != KindInfrastructure {
		return err
	}

	ledgerErr, ok := AsLedgerError(err)
	if !ok {
		message := "ledger transaction failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			message = "ledger transaction timed out"
		}
		ledgerErr = NewInfrastructureError(message, err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
	}).WithError(err).Error(ledgerErr.Message)
	return ledgerErr
}

// observe reports an operation outcome to the observer
func (s *ContractService) observe(operation string, start time.Time, err error) {
	if s.observer == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	s.observer.ObserveOperation(operation, result, time.Since(start))
}

// CreateContract originates a contract on an available plot. The plot claim,
// contract row, installment schedule and CREATED event are written in one
// transaction; concurrent attempts on the same plot yield exactly one contract.
func (s *ContractService) CreateContract(ctx context.Context, tenantID string, req models.CreateContractRequest, actingUserID string) (contractID uuid.UUID, err error) {
	defer func(start time.Time) { s.observe(OpCreateContract, start, err) }(time.Now())

	if err := validateCreateContract(req, actingUserID); err != nil {
		return uuid.Nil, err
	}

	rows, err := generateSchedule(req)
	if err != nil {
		return uuid.Nil, err
	}

	store, err := s.store(ctx, tenantID)
	if err != nil {
		return uuid.Nil, err
	}

	contract := buildContract(req, rows, actingUserID)

	err = s.transact(ctx, tenantID, store, actingUserID, func(ctx context.Context, sc *txScope) error {
		plot, err := sc.tx.LockPlot(ctx, req.PlotID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewLedgerError(KindPlotNotSellable, msgPlotNotSellable)
		}
		if err != nil {
			return err
		}
		if !plot.IsSellable() {
			return NewLedgerError(KindPlotNotSellable, msgPlotNotSellable)
		}

		claimed, err := sc.tx.ClaimPlot(ctx, plot.ID, contract.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return NewLedgerError(KindPlotNotSellable, msgPlotNotSellable)
		}

		contract.CreatedAt = sc.now
		contract.UpdatedAt = sc.now
		if err := sc.tx.CreateContract(ctx, contract); err != nil {
			return err
		}

		installments := make([]models.ContractInstallment, len(rows))
		for i, row := range rows {
			installments[i] = models.ContractInstallment{
				ID:            uuid.New(),
				ContractID:    contract.ID,
				InstallmentNo: row.InstallmentNo,
				DueDate:       row.DueDate,
				AmountDue:     row.AmountDue,
				AmountPaid:    zeroMoney,
				Status:        models.InstallmentPending,
				CreatedAt:     sc.now,
				UpdatedAt:     sc.now,
			}
		}
		if err := sc.tx.CreateInstallments(ctx, installments); err != nil {
			return err
		}

		return sc.emit(ctx, contract.ID, models.EventCreated, map[string]interface{}{
			"plotId":             contract.PlotID,
			"clientContactId":    contract.ClientContactID,
			"purchasePlan":       contract.PurchasePlan,
			"termMonths":         contract.TermMonths,
			"totalContractValue": contract.TotalContractValue,
			"financedAmount":     contract.FinancedAmount,
			"installments":       len(installments),
		})
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"contract_id": contract.ID.String(),
		"plot_id":     contract.PlotID.String(),
		"total":       contract.TotalContractValue.StringFixed(models.MoneyScale),
		"term_months": contract.TermMonths,
	}).Info("Contract created")

	return contract.ID, nil
}
