package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstallmentStatus represents how much of an installment has been paid
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPartial InstallmentStatus = "PARTIAL"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// ContractInstallment is one scheduled obligation of a contract
type ContractInstallment struct {
	ID            uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	ContractID    uuid.UUID         `json:"contractId" gorm:"type:uuid;not null;uniqueIndex:idx_contract_installment_no"`
	InstallmentNo int               `json:"installmentNo" gorm:"not null;uniqueIndex:idx_contract_installment_no"`
	DueDate       time.Time         `json:"dueDate" gorm:"type:date;not null;index"`
	AmountDue     decimal.Decimal   `json:"amountDue" gorm:"type:decimal(15,2);not null"`
	AmountPaid    decimal.Decimal   `json:"amountPaid" gorm:"type:decimal(15,2);not null;default:0"`
	Status        InstallmentStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING'"`
	PaidAt        *time.Time        `json:"paidAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (ContractInstallment) TableName() string {
	return "contract_installments"
}

// Outstanding returns the amount still owed on the installment
func (i *ContractInstallment) Outstanding() decimal.Decimal {
	out := i.AmountDue.Sub(i.AmountPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// IsPaid checks if nothing is owed
func (i *ContractInstallment) IsPaid() bool {
	return !i.Outstanding().IsPositive()
}

// Apply allocates up to amount to the installment and returns the part applied.
func (i *ContractInstallment) Apply(amount decimal.Decimal, at time.Time) decimal.Decimal {
	outstanding := i.Outstanding()
	if !outstanding.IsPositive() || !amount.IsPositive() {
		return decimal.Zero
	}

	applied := decimal.Min(amount, outstanding)
	i.AmountPaid = i.AmountPaid.Add(applied)
	if i.IsPaid() {
		i.Status = InstallmentPaid
		paidAt := at
		i.PaidAt = &paidAt
	} else {
		i.Status = InstallmentPartial
	}
	return applied
}

// DaysPastGrace returns how many whole days asOf lies beyond dueDate + graceDays.
// Zero or negative means the installment is not late yet.
func (i *ContractInstallment) DaysPastGrace(asOf time.Time, graceDays int) int {
	return DaysBetween(i.DueDate.AddDate(0, 0, graceDays), asOf)
}

// IsOverdue reports whether the installment is unpaid past its grace period as of asOf
func (i *ContractInstallment) IsOverdue(asOf time.Time, graceDays int) bool {
	return !i.IsPaid() && i.DaysPastGrace(asOf, graceDays) > 0
}
