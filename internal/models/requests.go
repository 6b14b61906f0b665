package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Date is a calendar date carried as YYYY-MM-DD on the wire
type Date struct {
	time.Time
}

// NewDate truncates t to a calendar date
func NewDate(t time.Time) Date {
	return Date{Time: DateOf(t)}
}

// UnmarshalJSON parses a YYYY-MM-DD string
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// MarshalJSON renders the date as YYYY-MM-DD
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

// CreateContractRequest carries the terms of a new plot sale
type CreateContractRequest struct {
	PlotID                  uuid.UUID        `json:"plotId"`
	ClientContactID         uuid.UUID        `json:"clientContactId"`
	StartDate               Date             `json:"startDate"`
	TermMonths              int              `json:"termMonths"`
	TotalContractValue      decimal.Decimal  `json:"totalContractValue"`
	PurchasePlan            PurchasePlan     `json:"purchasePlan"`
	DownpaymentPercent      *decimal.Decimal `json:"downpaymentPercent,omitempty"`
	DownpaymentAmount       *decimal.Decimal `json:"downpaymentAmount,omitempty"`
	CancellationFeePercent  decimal.Decimal  `json:"cancellationFeePercent"`
	GraceDays               int              `json:"graceDays"`
	DelinquentDaysThreshold int              `json:"delinquentDaysThreshold"`
}

// PostPaymentRequest carries an incoming payment
type PostPaymentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	ReceivedAt *time.Time      `json:"receivedAt,omitempty"`
	Method     string          `json:"method,omitempty"`
	Reference  string          `json:"reference,omitempty"`
}

// CancelContractRequest carries the reason and refund routing of a cancellation
type CancelContractRequest struct {
	Reason          string `json:"reason"`
	RefundMethod    string `json:"refundMethod,omitempty"`
	RefundReference string `json:"refundReference,omitempty"`
}

// EvaluateDelinquencyRequest optionally overrides the evaluation date
type EvaluateDelinquencyRequest struct {
	AsOf *Date `json:"asOf,omitempty"`
}

// CreateContractResponse is returned after a contract is originated
type CreateContractResponse struct {
	ContractID uuid.UUID `json:"contractId"`
}

// PostPaymentResponse is returned after a payment is posted
type PostPaymentResponse struct {
	PaymentID uuid.UUID `json:"paymentId"`
}

// CancellationSettlement is the fee/refund outcome of a cancellation
type CancellationSettlement struct {
	CancellationFeeAmount decimal.Decimal `json:"cancellationFeeAmount"`
	RefundAmount          decimal.Decimal `json:"refundAmount"`
}

// ContractDetail is a contract with its full ledger
type ContractDetail struct {
	Contract     PlotSaleContract      `json:"contract"`
	Installments []ContractInstallment `json:"installments"`
	Payments     []ContractPayment     `json:"payments"`
	Events       []ContractEvent       `json:"events"`
}

// ContractSummary aggregates a contract's balances for reconciliation
type ContractSummary struct {
	ContractID       uuid.UUID       `json:"contractId"`
	Status           ContractStatus  `json:"status"`
	TotalDue         decimal.Decimal `json:"totalDue"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	TotalReceived    decimal.Decimal `json:"totalReceived"`
	TotalRefunded    decimal.Decimal `json:"totalRefunded"`
	OverpaymentFloat decimal.Decimal `json:"overpaymentFloat"`
	PaidInstallments int             `json:"paidInstallments"`
	OpenInstallments int             `json:"openInstallments"`
	NextDueDate      *Date           `json:"nextDueDate,omitempty"`
	OverdueAmount    decimal.Decimal `json:"overdueAmount"`
	DelinquentSince  *time.Time      `json:"delinquentSince,omitempty"`
}

// TenantSweepResult is the outcome of the delinquency sweep for one tenant
type TenantSweepResult struct {
	TenantID string `json:"tenantId"`
	Updated  *int   `json:"updated,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the tenant's sweep failed
func (r TenantSweepResult) Failed() bool {
	return r.Error != ""
}

// SweepReport is the aggregate of a cross-tenant sweep
type SweepReport struct {
	OK      bool                `json:"ok"`
	Tenants int                 `json:"tenants"`
	Results []TenantSweepResult `json:"results"`
}
