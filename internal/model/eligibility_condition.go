package model

import "time"

// Condition operators.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpContains     = "contains"
	OpIn           = "in"
)

// EligibilityCondition is a dynamic rule (attribute, operator, value) a
// member must satisfy to register for the owning occurrence.
type EligibilityCondition struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	OccurrenceID  int64     `gorm:"index;not null" json:"occurrenceId"`
	EntityType    string    `gorm:"size:64;not null;default:'User'" json:"entityType"`
	AttributeName string    `gorm:"size:128;not null" json:"attributeName"`
	Operator      string    `gorm:"size:16;not null" json:"operator"`
	Value         string    `gorm:"not null" json:"value"`
	ErrorMessage  string    `json:"errorMessage"`
	Active        bool      `gorm:"not null" json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
}
