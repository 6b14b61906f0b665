package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlotAvailability represents whether a plot can be sold
type PlotAvailability string

const (
	PlotAvailable PlotAvailability = "AVAILABLE"
	PlotReserved  PlotAvailability = "RESERVED"
	PlotSold      PlotAvailability = "SOLD"
)

// Plot is a parcel of land that can be sold under one contract at a time.
// ActiveContractID is a lookup reference to the open contract, not ownership.
type Plot struct {
	ID               uuid.UUID        `json:"id" gorm:"type:uuid;primary_key"`
	ProjectID        *uuid.UUID       `json:"projectId,omitempty" gorm:"type:uuid;index"`
	PlotNumber       string           `json:"plotNumber" gorm:"type:varchar(100);not null;index"`
	Availability     PlotAvailability `json:"availability" gorm:"type:varchar(20);not null;default:'AVAILABLE';index"`
	ActiveContractID *uuid.UUID       `json:"activeContractId,omitempty" gorm:"type:uuid;index"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name
func (Plot) TableName() string {
	return "plots"
}

// IsSellable reports whether a new contract may be opened on the plot
func (p *Plot) IsSellable() bool {
	return !p.DeletedAt.Valid && p.ActiveContractID == nil && p.Availability == PlotAvailable
}
