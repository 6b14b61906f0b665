package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContractEventType names an entry in the contract audit trail
type ContractEventType string

const (
	EventCreated           ContractEventType = "CREATED"
	EventPaymentApplied    ContractEventType = "PAYMENT_APPLIED"
	EventDelinquentFlagged ContractEventType = "DELINQUENT_FLAGGED"
	EventCured             ContractEventType = "CURED"
	EventCompleted         ContractEventType = "COMPLETED"
	EventCancelled         ContractEventType = "CANCELLED"
)

// ContractEvent is an append-only audit trail entry
type ContractEvent struct {
	ID         uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	ContractID uuid.UUID         `json:"contractId" gorm:"type:uuid;not null;index"`
	Type       ContractEventType `json:"type" gorm:"type:varchar(30);not null;index"`
	Payload    datatypes.JSON    `json:"payload" gorm:"type:jsonb"`
	CreatedBy  string            `json:"createdBy" gorm:"type:varchar(100)"`
	CreatedAt  time.Time         `json:"createdAt" gorm:"index"`
}

// TableName specifies the table name
func (ContractEvent) TableName() string {
	return "contract_events"
}

// NewContractEvent builds an event with a JSON-encoded payload
func NewContractEvent(contractID uuid.UUID, eventType ContractEventType, payload interface{}, createdBy string, at time.Time) (*ContractEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event payload: %w", eventType, err)
	}

	return &ContractEvent{
		ID:         uuid.New(),
		ContractID: contractID,
		Type:       eventType,
		Payload:    datatypes.JSON(data),
		CreatedBy:  createdBy,
		CreatedAt:  at,
	}, nil
}
