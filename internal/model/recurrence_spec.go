package model

import "time"

// FrequencyWeekly is the only recurrence frequency currently defined.
const FrequencyWeekly = "weekly"

// RecurrenceSpec describes how a template occurrence repeats.
type RecurrenceSpec struct {
	ID           int64  `gorm:"primaryKey" json:"id"`
	OccurrenceID int64  `gorm:"uniqueIndex;not null" json:"occurrenceId"`
	Frequency    string `gorm:"size:16;not null;default:'weekly'" json:"frequency"`
	Interval     int    `gorm:"not null;default:1" json:"interval"`
	// Weekdays is a comma separated list of 0..6 (0 = Sunday). Empty means
	// the template's own weekday.
	Weekdays  string     `gorm:"size:32" json:"weekdays"`
	EndDate   *time.Time `json:"endDate"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
