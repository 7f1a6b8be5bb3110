package model

import "time"

// Occurrence statuses.
const (
	OccurrenceActive    = "active"
	OccurrenceCancelled = "cancelled"
)

// Occurrence is one concrete, dated instance of a club event. A template
// occurrence owns a RecurrenceSpec; occurrences generated from it point
// back through ParentEventID.
type Occurrence struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	ParentEventID *int64 `gorm:"index" json:"parentEventId"`
	Title         string `gorm:"size:256;not null" json:"title"`
	Description   string `json:"description"`
	Location      string `gorm:"size:256" json:"location"`

	StartAt time.Time `gorm:"not null;index" json:"startAt"`
	EndAt   time.Time `gorm:"not null" json:"endAt"`

	// Capacity. A nil MaxParticipants means unlimited.
	MaxParticipants     *int `json:"maxParticipants"`
	CurrentParticipants int  `gorm:"not null;default:0" json:"currentParticipants"`
	WaitingListDisabled bool `gorm:"not null;default:false" json:"waitingListDisabled"`

	// Eligibility parameters.
	MinLevel                       *string `gorm:"size:32" json:"minLevel"`
	MinAge                         *int    `json:"minAge"`
	MaxAge                         *int    `json:"maxAge"`
	RequiresMedicalCertificate     bool    `gorm:"not null;default:false" json:"requiresMedicalCertificate"`
	MedicalCertificateValidityDays *int    `json:"medicalCertificateValidityDays"`
	RequiresSwimmingTest           bool    `gorm:"not null;default:false" json:"requiresSwimmingTest"`

	Status    string    `gorm:"size:16;not null;default:'active'" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Associations
	Recurrence    *RecurrenceSpec        `gorm:"foreignKey:OccurrenceID;constraint:OnDelete:CASCADE" json:"recurrence,omitempty"`
	Conditions    []EligibilityCondition `gorm:"foreignKey:OccurrenceID;constraint:OnDelete:CASCADE" json:"conditions,omitempty"`
	Registrations []Registration         `gorm:"foreignKey:OccurrenceID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsGenerated reports whether the occurrence was produced from a series template.
func (o *Occurrence) IsGenerated() bool {
	return o.ParentEventID != nil
}

// SeriesID returns the id of the template that owns the occurrence's series.
func (o *Occurrence) SeriesID() int64 {
	if o.ParentEventID != nil {
		return *o.ParentEventID
	}
	return o.ID
}

// Duration is the length of the occurrence.
func (o *Occurrence) Duration() time.Duration {
	return o.EndAt.Sub(o.StartAt)
}
