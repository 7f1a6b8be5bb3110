package model

import "time"

// Registration statuses.
const (
	StatusRegistered  = "registered"
	StatusWaitingList = "waiting_list"
	StatusCancelled   = "cancelled"
)

// Registration links a member to an occurrence. Rows are never hard
// deleted; cancellation only changes Status.
type Registration struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	OccurrenceID int64     `gorm:"index:idx_registration_occurrence_status;not null" json:"occurrenceId"`
	MemberID     int64     `gorm:"index;not null" json:"memberId"`
	Status       string    `gorm:"size:16;index:idx_registration_occurrence_status;not null" json:"status"`
	Spots        int       `gorm:"not null;default:1" json:"spots"`
	RegisteredAt time.Time `gorm:"not null;index" json:"registeredAt"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsActive reports whether the registration still holds a spot or a place in line.
func (r *Registration) IsActive() bool {
	return r.Status == StatusRegistered || r.Status == StatusWaitingList
}
