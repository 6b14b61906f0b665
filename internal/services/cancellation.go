package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/repository"
)

// ComputeSettlement returns the cancellation fee and refund for the amount
// absorbed by the schedule. The fee never exceeds totalPaid and the refund is
// never negative.
func ComputeSettlement(totalPaid, feePercent decimal.Decimal) models.CancellationSettlement {
	if totalPaid.IsNegative() {
		totalPaid = decimal.Zero
	}

	fee := models.RoundMoney(totalPaid.Mul(feePercent).Div(hundredPct))
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	if fee.GreaterThan(totalPaid) {
		fee = totalPaid
	}

	refund := totalPaid.Sub(fee)
	if refund.IsNegative() {
		refund = decimal.Zero
	}

	return models.CancellationSettlement{
		CancellationFeeAmount: fee,
		RefundAmount:          refund,
	}
}

// CancelContract terminates an ACTIVE or DELINQUENT contract, settles the
// fee and refund on what its installments absorbed, records the refund as an
// OUT payment and releases the plot. Overpayment float is not refunded here.
func (s *ContractService) CancelContract(ctx context.Context, tenantID string, contractID uuid.UUID, req models.CancelContractRequest, actingUserID string) (settlement *models.CancellationSettlement, err error) {
	defer func(start time.Time) { s.observe(OpCancelContract, start, err) }(time.Now())

	if err := validateCancelContract(req, actingUserID); err != nil {
		return nil, err
	}

	store, err := s.store(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var result models.CancellationSettlement
	var plotID uuid.UUID

	err = s.transact(ctx, tenantID, store, actingUserID, func(ctx context.Context, sc *txScope) error {
		contract, err := sc.tx.LockContract(ctx, contractID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewLedgerError(KindContractNotFound, msgContractNotFound)
		}
		if err != nil {
			return err
		}
		if !contract.MayCancel() {
			return NewLedgerError(KindContractNotCancellable, msgContractNotCancellable)
		}

		installments, err := sc.tx.LockInstallments(ctx, contract.ID)
		if err != nil {
			return err
		}

		totalPaid := decimal.Zero
		for _, inst := range installments {
			totalPaid = totalPaid.Add(inst.AmountPaid)
		}
		result = ComputeSettlement(totalPaid, contract.CancellationFeePercent)

		reason := strings.TrimSpace(req.Reason)
		cancelledAt := sc.now
		cancelledBy := actingUserID
		fee := result.CancellationFeeAmount
		refund := result.RefundAmount

		contract.Status = models.ContractCancelled
		contract.CancelledAt = &cancelledAt
		contract.CancelledBy = &cancelledBy
		contract.CancellationReason = &reason
		contract.CancellationFeeAmount = &fee
		contract.RefundAmount = &refund
		contract.UpdatedAt = sc.now
		if err := sc.tx.SaveContract(ctx, contract); err != nil {
			return err
		}

		var refundPaymentID *uuid.UUID
		if refund.IsPositive() {
			payment := &models.ContractPayment{
				ID:              uuid.New(),
				ContractID:      contract.ID,
				ClientContactID: contract.ClientContactID,
				Direction:       models.PaymentOut,
				Amount:          refund,
				ReceivedAt:      sc.now,
				Method:          req.RefundMethod,
				Reference:       req.RefundReference,
				CreatedBy:       actingUserID,
				CreatedAt:       sc.now,
			}
			if err := sc.tx.CreatePayment(ctx, payment); err != nil {
				return err
			}
			refundPaymentID = &payment.ID
		}

		if err := sc.tx.ReleasePlot(ctx, contract.PlotID, contract.ID); err != nil {
			return err
		}
		plotID = contract.PlotID

		return sc.emit(ctx, contract.ID, models.EventCancelled, map[string]interface{}{
			"reason":                reason,
			"totalPaid":             totalPaid,
			"cancellationFeeAmount": fee,
			"refundAmount":          refund,
			"refundPaymentId":       refundPaymentID,
			"plotId":                contract.PlotID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"contract_id": contractID.String(),
		"plot_id":     plotID.String(),
		"fee":         result.CancellationFeeAmount.StringFixed(models.MoneyScale),
		"refund":      result.RefundAmount.StringFixed(models.MoneyScale),
	}).Info("Contract cancelled")

	return &result, nil
}
