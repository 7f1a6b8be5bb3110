package model

import "time"

// PushSubscription holds the information for a member's browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	MemberID  int64     `gorm:"index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
