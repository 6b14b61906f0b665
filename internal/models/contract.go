package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContractStatus represents the lifecycle state of a plot sale contract
type ContractStatus string

const (
	ContractActive     ContractStatus = "ACTIVE"
	ContractDelinquent ContractStatus = "DELINQUENT"
	ContractCompleted  ContractStatus = "COMPLETED"
	ContractCancelled  ContractStatus = "CANCELLED"
)

// IsTerminal reports whether the status can never change again
func (s ContractStatus) IsTerminal() bool {
	return s == ContractCompleted || s == ContractCancelled
}

// PurchasePlan selects how the schedule is generated
type PurchasePlan string

const (
	PlanFlatRate    PurchasePlan = "FLAT_RATE"
	PlanDownpayment PurchasePlan = "DOWNPAYMENT"
)

// IsValid checks if the plan is supported
func (p PurchasePlan) IsValid() bool {
	return p == PlanFlatRate || p == PlanDownpayment
}

// PlotSaleContract is an installment sale of exactly one plot to one client
type PlotSaleContract struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	PlotID          uuid.UUID      `json:"plotId" gorm:"type:uuid;not null;index"`
	ClientContactID uuid.UUID      `json:"clientContactId" gorm:"type:uuid;not null;index"`
	Status          ContractStatus `json:"status" gorm:"type:varchar(20);not null;index"`

	// Terms
	StartDate               time.Time        `json:"startDate" gorm:"type:date;not null"`
	TermMonths              int              `json:"termMonths" gorm:"not null"`
	TotalContractValue      decimal.Decimal  `json:"totalContractValue" gorm:"type:decimal(15,2);not null"`
	PurchasePlan            PurchasePlan     `json:"purchasePlan" gorm:"type:varchar(20);not null"`
	DownpaymentPercent      *decimal.Decimal `json:"downpaymentPercent,omitempty" gorm:"type:decimal(5,2)"`
	DownpaymentAmount       *decimal.Decimal `json:"downpaymentAmount,omitempty" gorm:"type:decimal(15,2)"`
	FinancedAmount          decimal.Decimal  `json:"financedAmount" gorm:"type:decimal(15,2);not null"`
	CancellationFeePercent  decimal.Decimal  `json:"cancellationFeePercent" gorm:"type:decimal(5,2);not null;default:0"`
	GraceDays               int              `json:"graceDays" gorm:"not null;default:0"`
	DelinquentDaysThreshold int              `json:"delinquentDaysThreshold" gorm:"not null;default:0"`

	DelinquentSince *time.Time `json:"delinquentSince,omitempty" gorm:"type:date"`

	// Settlement (set only on cancellation)
	CancelledAt           *time.Time       `json:"cancelledAt,omitempty"`
	CancelledBy           *string          `json:"cancelledBy,omitempty" gorm:"type:varchar(100)"`
	CancellationReason    *string          `json:"cancellationReason,omitempty" gorm:"type:text"`
	CancellationFeeAmount *decimal.Decimal `json:"cancellationFeeAmount,omitempty" gorm:"type:decimal(15,2)"`
	RefundAmount          *decimal.Decimal `json:"refundAmount,omitempty" gorm:"type:decimal(15,2)"`

	CreatedBy string    `json:"createdBy" gorm:"type:varchar(100)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (PlotSaleContract) TableName() string {
	return "plot_sale_contracts"
}

// IsOpen reports whether the contract still holds its plot
func (c *PlotSaleContract) IsOpen() bool {
	return c.Status == ContractActive || c.Status == ContractDelinquent
}

// MayAcceptPayment checks if payments can still be posted
func (c *PlotSaleContract) MayAcceptPayment() bool {
	return !c.Status.IsTerminal()
}

// MayCancel checks if the contract can be settled and terminated
func (c *PlotSaleContract) MayCancel() bool {
	return c.IsOpen()
}
