package models

import "time"

// VerificationFlow is the transient record behind one linking code. At most
// one unexpired row exists per player UUID; the code is unique across all
// rows. Rows are deleted on successful linking or swept once expired.
type VerificationFlow struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Code       string    `json:"code" gorm:"uniqueIndex;not null"`
	PlayerUUID string    `json:"player_uuid" gorm:"index;not null"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"not null"`
}

// TableName specifies the table name for VerificationFlow
func (VerificationFlow) TableName() string {
	return "verification_flows"
}

// Expired reports whether the flow's validity window has passed.
func (f *VerificationFlow) Expired(now time.Time) bool {
	return !f.ExpiresAt.After(now)
}
