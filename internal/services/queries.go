package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/repository"
)

// GetContract returns a contract with its installments, cash ledger and audit trail
func (s *ContractService) GetContract(ctx context.Context, tenantID string, contractID uuid.UUID) (detail *models.ContractDetail, err error) {
	defer func(start time.Time) { s.observe(OpGetContract, start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	store, err := s.store(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	contract, err := store.GetContract(ctx, contractID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewLedgerError(KindContractNotFound, msgContractNotFound)
	}
	if err != nil {
		return nil, s.classify(ctx, tenantID, err)
	}

	installments, err := store.ListInstallments(ctx, contractID)
	if err != nil {
		return nil, s.classify(ctx, tenantID, err)
	}
	payments, err := store.ListPayments(ctx, contractID)
	if err != nil {
		return nil, s.classify(ctx, tenantID, err)
	}
	events, err := store.ListEvents(ctx, contractID)
	if err != nil {
		return nil, s.classify(ctx, tenantID, err)
	}

	detail = &models.ContractDetail{
		Contract:     *contract,
		Installments: installments,
		Payments:     payments,
		Events:       events,
	}
	if detail.Installments == nil {
		detail.Installments = []models.ContractInstallment{}
	}
	if detail.Payments == nil {
		detail.Payments = []models.ContractPayment{}
	}
	if detail.Events == nil {
		detail.Events = []models.ContractEvent{}
	}
	return detail, nil
}

// GetContractSummary aggregates a contract's balances. OverpaymentFloat is
// cash received that no installment absorbed.
func (s *ContractService) GetContractSummary(ctx context.Context, tenantID string, contractID uuid.UUID) (*models.ContractSummary, error) {
	detail, err := s.GetContract(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	return Summarize(detail, s.now()), nil
}

// Summarize computes the balances of a contract as of now
func Summarize(detail *models.ContractDetail, now time.Time) *models.ContractSummary {
	contract := detail.Contract
	summary := &models.ContractSummary{
		ContractID:       contract.ID,
		Status:           contract.Status,
		TotalDue:         decimal.Zero,
		TotalPaid:        decimal.Zero,
		Outstanding:      decimal.Zero,
		TotalReceived:    decimal.Zero,
		TotalRefunded:    decimal.Zero,
		OverpaymentFloat: decimal.Zero,
		OverdueAmount:    decimal.Zero,
		DelinquentSince:  contract.DelinquentSince,
	}

	for i := range detail.Installments {
		inst := &detail.Installments[i]
		summary.TotalDue = summary.TotalDue.Add(inst.AmountDue)
		summary.TotalPaid = summary.TotalPaid.Add(inst.AmountPaid)
		summary.Outstanding = summary.Outstanding.Add(inst.Outstanding())

		if inst.IsPaid() {
			summary.PaidInstallments++
			continue
		}
		summary.OpenInstallments++
		if summary.NextDueDate == nil {
			due := models.NewDate(inst.DueDate)
			summary.NextDueDate = &due
		}
		if inst.IsOverdue(now, contract.GraceDays) {
			summary.OverdueAmount = summary.OverdueAmount.Add(inst.Outstanding())
		}
	}

	for _, p := range detail.Payments {
		switch p.Direction {
		case models.PaymentIn:
			summary.TotalReceived = summary.TotalReceived.Add(p.Amount)
		case models.PaymentOut:
			summary.TotalRefunded = summary.TotalRefunded.Add(p.Amount)
		}
	}

	if unapplied := summary.TotalReceived.Sub(summary.TotalPaid); unapplied.IsPositive() {
		summary.OverpaymentFloat = unapplied
	}
	return summary
}
