package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/repository"
)

// Allocation is the part of a payment applied to one installment
type Allocation struct {
	InstallmentNo int                      `json:"installmentNo"`
	Amount        decimal.Decimal          `json:"amount"`
	Status        models.InstallmentStatus `json:"status"`
}

// allocate applies amount to installments oldest first and returns what was
// applied to each and the unapplied remainder
func allocate(installments []models.ContractInstallment, amount decimal.Decimal, at time.Time) ([]Allocation, decimal.Decimal) {
	var allocations []Allocation
	remaining := amount

	for i := range installments {
		if !remaining.IsPositive() {
			break
		}
		applied := installments[i].Apply(remaining, at)
		if !applied.IsPositive() {
			continue
		}
		remaining = remaining.Sub(applied)
		allocations = append(allocations, Allocation{
			InstallmentNo: installments[i].InstallmentNo,
			Amount:        applied,
			Status:        installments[i].Status,
		})
	}
	return allocations, remaining
}

func allPaid(installments []models.ContractInstallment) bool {
	for i := range installments {
		if !installments[i].IsPaid() {
			return false
		}
	}
	return true
}

func anyOverdue(installments []models.ContractInstallment, asOf time.Time, graceDays int) bool {
	for i := range installments {
		if installments[i].IsOverdue(asOf, graceDays) {
			return true
		}
	}
	return false
}

// PostPayment applies an incoming payment to the contract's oldest unpaid
// installments. The full amount is written to the cash ledger even when part
// of it exceeds what is outstanding; that excess is not allocated.
// Duplicate submissions are not detected and produce a second ledger entry.
func (s *ContractService) PostPayment(ctx context.Context, tenantID string, contractID uuid.UUID, req models.PostPaymentRequest, actingUserID string) (paymentID uuid.UUID, err error) {
	defer func(start time.Time) { s.observe(OpPostPayment, start, err) }(time.Now())

	if err := validatePostPayment(req, actingUserID); err != nil {
		return uuid.Nil, err
	}

	store, err := s.store(ctx, tenantID)
	if err != nil {
		return uuid.Nil, err
	}

	var status models.ContractStatus
	var unapplied decimal.Decimal

	err = s.transact(ctx, tenantID, store, actingUserID, func(ctx context.Context, sc *txScope) error {
		contract, err := sc.tx.LockContract(ctx, contractID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewLedgerError(KindContractNotFound, msgContractNotFound)
		}
		if err != nil {
			return err
		}
		if !contract.MayAcceptPayment() {
			return NewLedgerError(KindContractClosed, msgContractClosed)
		}

		installments, err := sc.tx.LockInstallments(ctx, contract.ID)
		if err != nil {
			return err
		}

		receivedAt := sc.now
		if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
			receivedAt = req.ReceivedAt.UTC()
		}

		var allocations []Allocation
		allocations, unapplied = allocate(installments, req.Amount, receivedAt)

		touched := make(map[int]bool, len(allocations))
		for _, a := range allocations {
			touched[a.InstallmentNo] = true
		}
		for i := range installments {
			if !touched[installments[i].InstallmentNo] {
				continue
			}
			installments[i].UpdatedAt = sc.now
			if err := sc.tx.SaveInstallment(ctx, &installments[i]); err != nil {
				return err
			}
		}

		payment := &models.ContractPayment{
			ID:              uuid.New(),
			ContractID:      contract.ID,
			ClientContactID: contract.ClientContactID,
			Direction:       models.PaymentIn,
			Amount:          req.Amount,
			ReceivedAt:      receivedAt,
			Method:          req.Method,
			Reference:       req.Reference,
			CreatedBy:       actingUserID,
			CreatedAt:       sc.now,
		}
		if err := sc.tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		paymentID = payment.ID

		wasDelinquent := contract.Status == models.ContractDelinquent
		changed := false
		switch {
		case allPaid(installments):
			if wasDelinquent {
				if err := sc.emit(ctx, contract.ID, models.EventCured, map[string]interface{}{
					"paymentId":       payment.ID,
					"delinquentSince": contract.DelinquentSince,
				}); err != nil {
					return err
				}
			}
			contract.Status = models.ContractCompleted
			contract.DelinquentSince = nil
			changed = true
			if err := sc.emit(ctx, contract.ID, models.EventCompleted, map[string]interface{}{
				"paymentId": payment.ID,
			}); err != nil {
				return err
			}

		case wasDelinquent && !anyOverdue(installments, sc.now, contract.GraceDays):
			if err := sc.emit(ctx, contract.ID, models.EventCured, map[string]interface{}{
				"paymentId":       payment.ID,
				"delinquentSince": contract.DelinquentSince,
			}); err != nil {
				return err
			}
			contract.Status = models.ContractActive
			contract.DelinquentSince = nil
			changed = true
		}

		if changed {
			contract.UpdatedAt = sc.now
			if err := sc.tx.SaveContract(ctx, contract); err != nil {
				return err
			}
		}
		status = contract.Status

		return sc.emit(ctx, contract.ID, models.EventPaymentApplied, map[string]interface{}{
			"paymentId":   payment.ID,
			"amount":      req.Amount,
			"applied":     req.Amount.Sub(unapplied),
			"unapplied":   unapplied,
			"allocations": allocations,
			"status":      contract.Status,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}

	fields := logrus.Fields{
		"tenant_id":   tenantID,
		"contract_id": contractID.String(),
		"payment_id":  paymentID.String(),
		"amount":      req.Amount.StringFixed(models.MoneyScale),
		"status":      string(status),
	}
	if unapplied.IsPositive() {
		fields["unapplied"] = unapplied.StringFixed(models.MoneyScale)
	}
	s.logger.WithFields(fields).Info("Payment posted")

	return paymentID, nil
}
