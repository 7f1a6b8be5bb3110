package model

import "time"

// EntityUser is the entity type of members in the attribute store.
const EntityUser = "User"

// Member is a club member who registers for occurrences.
type Member struct {
	ID                     int64      `gorm:"primaryKey" json:"id"`
	Email                  string     `gorm:"uniqueIndex;size:256;not null" json:"email"`
	DisplayName            string     `gorm:"size:256" json:"displayName"`
	DivingLevel            string     `gorm:"size:32" json:"divingLevel"`
	BirthDate              *time.Time `json:"birthDate"`
	MedicalCertificateDate *time.Time `json:"medicalCertificateDate"`
	SwimmingTestPassed     bool       `gorm:"not null;default:false" json:"swimmingTestPassed"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`

	// Associations
	Subscriptions []PushSubscription `gorm:"foreignKey:MemberID" json:"-"`
}
