package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

const subjectPrefix = "contracts"

// ContractEventMessage is the wire form of a published contract event
type ContractEventMessage struct {
	EventID    string          `json:"event_id"`
	TenantID   string          `json:"tenant_id"`
	ContractID string          `json:"contract_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Subject returns the subject an event is published on: contracts.{tenant}.{type}
func Subject(tenantID string, eventType models.ContractEventType) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, tenantID, eventType)
}

// NewContractEventMessage converts a stored event to its wire form
func NewContractEventMessage(tenantID string, event models.ContractEvent) ContractEventMessage {
	msg := ContractEventMessage{
		EventID:    event.ID.String(),
		TenantID:   tenantID,
		ContractID: event.ContractID.String(),
		Type:       string(event.Type),
		CreatedBy:  event.CreatedBy,
		OccurredAt: event.CreatedAt,
	}
	if len(event.Payload) > 0 {
		msg.Payload = json.RawMessage(event.Payload)
	}
	return msg
}

// Publisher publishes committed contract events to JetStream
type Publisher struct {
	client *Client
	logger *logrus.Logger
}

// NewPublisher creates a new contract event publisher
func NewPublisher(client *Client, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishContractEvents publishes events in order. Failures are logged and
// skipped; the events are already committed to the tenant database.
func (p *Publisher) PublishContractEvents(ctx context.Context, tenantID string, events []models.ContractEvent) {
	if len(events) == 0 {
		return
	}
	if !p.client.IsConnected() {
		p.logger.WithField("tenant_id", tenantID).Warn("NATS not connected, skipping contract event publish")
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, tenantID, event); err != nil {
			p.logger.WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"contract_id": event.ContractID.String(),
				"event_type":  string(event.Type),
			}).WithError(err).Error("Failed to publish contract event")
		}
	}
}

func (p *Publisher) publish(ctx context.Context, tenantID string, event models.ContractEvent) error {
	data, err := json.Marshal(NewContractEventMessage(tenantID, event))
	if err != nil {
		return fmt.Errorf("failed to marshal contract event: %w", err)
	}

	subject := Subject(tenantID, event.Type)
	ack, err := p.client.JetStream().Publish(subject, data, nats.Context(ctx), nats.MsgId(event.ID.String()))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"event_type": string(event.Type),
		"sequence":   ack.Sequence,
		"stream":     ack.Stream,
	}).Debug("Published contract event")
	return nil
}
