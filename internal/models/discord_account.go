package models

import "time"

// DiscordAccount represents a Discord user known to the link service.
// DiscordID is the provider's snowflake, stored as an opaque string.
type DiscordAccount struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DiscordID    string    `json:"discord_id" gorm:"uniqueIndex;not null"`
	Username     string    `json:"username" gorm:"not null"`
	RefreshToken *string   `json:"-"` // nullable; rotated on every refresh
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for DiscordAccount
func (DiscordAccount) TableName() string {
	return "discord_accounts"
}
