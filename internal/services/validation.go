package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/schedule"
)

const (
	minTermMonths   = 1
	maxTermMonths   = 24
	maxReasonLength = 1000
	maxMethodLength = 50
	maxRefLength    = 255
)

var (
	zeroMoney  = decimal.Zero
	hundredPct = decimal.NewFromInt(100)
)

func isMoney(d decimal.Decimal) bool {
	return d.Equal(models.RoundMoney(d))
}

func validateActor(actingUserID string) error {
	if strings.TrimSpace(actingUserID) == "" {
		return NewValidationError("actingUserId", "acting user is required")
	}
	return nil
}

func validateCreateContract(req models.CreateContractRequest, actingUserID string) error {
	if err := validateActor(actingUserID); err != nil {
		return err
	}
	if req.PlotID == uuid.Nil {
		return NewValidationError("plotId", "plot is required")
	}
	if req.ClientContactID == uuid.Nil {
		return NewValidationError("clientContactId", "client contact is required")
	}
	if req.StartDate.IsZero() {
		return NewValidationError("startDate", "start date is required")
	}
	if req.TermMonths < minTermMonths || req.TermMonths > maxTermMonths {
		return NewValidationError("termMonths", fmt.Sprintf("term must be between %d and %d months", minTermMonths, maxTermMonths))
	}
	if !req.TotalContractValue.IsPositive() {
		return NewValidationError("totalContractValue", "total contract value must be greater than zero")
	}
	if !isMoney(req.TotalContractValue) {
		return NewValidationError("totalContractValue", "total contract value must have at most 2 decimal places")
	}
	if !req.PurchasePlan.IsValid() {
		return NewValidationError("purchasePlan", "purchase plan must be FLAT_RATE or DOWNPAYMENT")
	}

	switch req.PurchasePlan {
	case models.PlanFlatRate:
		if req.DownpaymentPercent != nil || req.DownpaymentAmount != nil {
			return NewValidationError("purchasePlan", "downpayment is only allowed with the DOWNPAYMENT plan")
		}
	case models.PlanDownpayment:
		if (req.DownpaymentPercent == nil) == (req.DownpaymentAmount == nil) {
			return NewValidationError("downpayment", "provide exactly one of downpaymentPercent or downpaymentAmount")
		}
		if p := req.DownpaymentPercent; p != nil && (!p.IsPositive() || p.GreaterThan(hundredPct)) {
			return NewValidationError("downpaymentPercent", "downpayment percent must be greater than 0 and at most 100")
		}
		if a := req.DownpaymentAmount; a != nil {
			if !a.IsPositive() {
				return NewValidationError("downpaymentAmount", "downpayment amount must be greater than zero")
			}
			if !isMoney(*a) {
				return NewValidationError("downpaymentAmount", "downpayment amount must have at most 2 decimal places")
			}
		}
	}

	if req.CancellationFeePercent.IsNegative() || req.CancellationFeePercent.GreaterThan(hundredPct) {
		return NewValidationError("cancellationFeePercent", "cancellation fee percent must be between 0 and 100")
	}
	if req.GraceDays < 0 {
		return NewValidationError("graceDays", "grace days cannot be negative")
	}
	if req.DelinquentDaysThreshold < 0 {
		return NewValidationError("delinquentDaysThreshold", "delinquent days threshold cannot be negative")
	}
	return nil
}

func validatePostPayment(req models.PostPaymentRequest, actingUserID string) error {
	if err := validateActor(actingUserID); err != nil {
		return err
	}
	if !req.Amount.IsPositive() {
		return NewValidationError("amount", "payment amount must be greater than zero")
	}
	if !isMoney(req.Amount) {
		return NewValidationError("amount", "payment amount must have at most 2 decimal places")
	}
	if len(req.Method) > maxMethodLength {
		return NewValidationError("method", fmt.Sprintf("method cannot exceed %d characters", maxMethodLength))
	}
	if len(req.Reference) > maxRefLength {
		return NewValidationError("reference", fmt.Sprintf("reference cannot exceed %d characters", maxRefLength))
	}
	return nil
}

func validateCancelContract(req models.CancelContractRequest, actingUserID string) error {
	if err := validateActor(actingUserID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return NewValidationError("reason", "cancellation reason is required")
	}
	if len(req.Reason) > maxReasonLength {
		return NewValidationError("reason", fmt.Sprintf("reason cannot exceed %d characters", maxReasonLength))
	}
	if len(req.RefundMethod) > maxMethodLength {
		return NewValidationError("refundMethod", fmt.Sprintf("refund method cannot exceed %d characters", maxMethodLength))
	}
	if len(req.RefundReference) > maxRefLength {
		return NewValidationError("refundReference", fmt.Sprintf("refund reference cannot exceed %d characters", maxRefLength))
	}
	return nil
}

func generateSchedule(req models.CreateContractRequest) ([]schedule.Installment, error) {
	return schedule.Generate(schedule.Params{
		StartDate:          req.StartDate.Time,
		TotalContractValue: req.TotalContractValue,
		TermMonths:         req.TermMonths,
		Plan:               req.PurchasePlan,
		DownpaymentPercent: req.DownpaymentPercent,
		DownpaymentAmount:  req.DownpaymentAmount,
	})
}

// buildContract assembles a new ACTIVE contract from validated terms and its schedule
func buildContract(req models.CreateContractRequest, rows []schedule.Installment, actingUserID string) *models.PlotSaleContract {
	contract := &models.PlotSaleContract{
		ID:                      uuid.New(),
		PlotID:                  req.PlotID,
		ClientContactID:         req.ClientContactID,
		Status:                  models.ContractActive,
		StartDate:               models.DateOf(req.StartDate.Time),
		TermMonths:              req.TermMonths,
		TotalContractValue:      req.TotalContractValue,
		PurchasePlan:            req.PurchasePlan,
		FinancedAmount:          req.TotalContractValue,
		CancellationFeePercent:  req.CancellationFeePercent,
		GraceDays:               req.GraceDays,
		DelinquentDaysThreshold: req.DelinquentDaysThreshold,
		CreatedBy:               actingUserID,
	}

	if req.PurchasePlan == models.PlanDownpayment {
		down := rows[0].AmountDue
		contract.DownpaymentAmount = &down
		contract.DownpaymentPercent = req.DownpaymentPercent
		contract.FinancedAmount = req.TotalContractValue.Sub(down)
	}
	return contract
}
