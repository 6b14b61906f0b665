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

// delinquency describes why a contract qualifies as delinquent as of a date
type delinquency struct {
	since         time.Time
	installments  []int
	daysPastGrace int
}

// assessDelinquency returns the unpaid installments late by more than the
// contract's threshold beyond grace, or nil when there are none
func assessDelinquency(contract *models.PlotSaleContract, installments []models.ContractInstallment, asOf time.Time) *delinquency {
	var d *delinquency
	for i := range installments {
		inst := &installments[i]
		if inst.IsPaid() {
			continue
		}
		late := inst.DaysPastGrace(asOf, contract.GraceDays)
		if late <= contract.DelinquentDaysThreshold {
			continue
		}
		if d == nil {
			d = &delinquency{since: models.DateOf(inst.DueDate)}
		}
		if inst.DueDate.Before(d.since) {
			d.since = models.DateOf(inst.DueDate)
		}
		if late > d.daysPastGrace {
			d.daysPastGrace = late
		}
		d.installments = append(d.installments, inst.InstallmentNo)
	}
	return d
}

// EvaluateDelinquency flags every ACTIVE contract of the tenant that has an
// installment overdue beyond grace and threshold as of asOf. Each contract is
// evaluated in its own transaction. Contracts already DELINQUENT are left
// untouched, so re-running for the same date flags nothing new. Returns the
// number of contracts newly flagged.
func (s *ContractService) EvaluateDelinquency(ctx context.Context, tenantID string, asOf time.Time) (flagged int, err error) {
	defer func(start time.Time) { s.observe(OpEvaluateDelinquency, start, err) }(time.Now())

	asOf = models.DateOf(asOf)

	store, err := s.store(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	ids, err := store.ListContractIDsByStatus(ctx, models.ContractActive)
	if err != nil {
		return 0, s.classify(ctx, tenantID, err)
	}

	for _, id := range ids {
		newlyFlagged, err := s.evaluateContract(ctx, tenantID, store, id, asOf)
		if err != nil {
			return flagged, fmt.Errorf("evaluating contract %s: %w", id, err)
		}
		if newlyFlagged {
			flagged++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"as_of":     asOf.Format(models.DateLayout),
		"evaluated": len(ids),
		"flagged":   flagged,
	}).Info("Delinquency evaluation completed")

	return flagged, nil
}

// systemActor is recorded as the author of events raised by the sweep
const systemActor = "system:delinquency-sweep"

func (s *ContractService) evaluateContract(ctx context.Context, tenantID string, store repository.Store, contractID uuid.UUID, asOf time.Time) (bool, error) {
	flagged := false

	err := s.transact(ctx, tenantID, store, systemActor, func(ctx context.Context, sc *txScope) error {
		contract, err := sc.tx.LockContract(ctx, contractID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// Re-checked under lock: a payment or cancellation may have won the race.
		if contract.Status != models.ContractActive {
			return nil
		}

		installments, err := sc.tx.LockInstallments(ctx, contract.ID)
		if err != nil {
			return err
		}

		d := assessDelinquency(contract, installments, asOf)
		if d == nil {
			return nil
		}

		contract.Status = models.ContractDelinquent
		if contract.DelinquentSince == nil {
			since := d.since
			contract.DelinquentSince = &since
		}
		contract.UpdatedAt = sc.now
		if err := sc.tx.SaveContract(ctx, contract); err != nil {
			return err
		}

		flagged = true
		return sc.emit(ctx, contract.ID, models.EventDelinquentFlagged, map[string]interface{}{
			"asOf":                models.NewDate(asOf),
			"delinquentSince":     models.NewDate(*contract.DelinquentSince),
			"overdueInstallments": d.installments,
			"daysPastGrace":       d.daysPastGrace,
		})
	})
	if err != nil {
		return false, err
	}

	if flagged {
		s.logger.WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"contract_id": contractID.String(),
			"as_of":       asOf.Format(models.DateLayout),
		}).Info("Contract flagged delinquent")
	}
	return flagged, nil
}
