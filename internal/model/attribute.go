package model

import "time"

// Attribute is one row of the schema-less per-entity attribute store.
type Attribute struct {
	ID         int64     `gorm:"primaryKey"`
	EntityType string    `gorm:"size:64;not null;uniqueIndex:idx_attribute_key"`
	EntityID   int64     `gorm:"not null;uniqueIndex:idx_attribute_key"`
	Name       string    `gorm:"size:128;not null;uniqueIndex:idx_attribute_key"`
	Type       string    `gorm:"size:16;not null"`
	Value      string    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}
