package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentDirection distinguishes money received from money refunded
type PaymentDirection string

const (
	PaymentIn  PaymentDirection = "IN"
	PaymentOut PaymentDirection = "OUT"
)

// ContractPayment is an append-only cash ledger row. Rows are never updated or deleted.
type ContractPayment struct {
	ID              uuid.UUID        `json:"id" gorm:"type:uuid;primary_key"`
	ContractID      uuid.UUID        `json:"contractId" gorm:"type:uuid;not null;index"`
	ClientContactID uuid.UUID        `json:"clientContactId" gorm:"type:uuid;not null;index"`
	Direction       PaymentDirection `json:"direction" gorm:"type:varchar(3);not null"`
	Amount          decimal.Decimal  `json:"amount" gorm:"type:decimal(15,2);not null"`
	ReceivedAt      time.Time        `json:"receivedAt" gorm:"not null;index"`
	Method          string           `json:"method,omitempty" gorm:"type:varchar(50)"`
	Reference       string           `json:"reference,omitempty" gorm:"type:varchar(255)"`
	CreatedBy       string           `json:"createdBy" gorm:"type:varchar(100)"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// TableName specifies the table name
func (ContractPayment) TableName() string {
	return "contract_payments"
}
