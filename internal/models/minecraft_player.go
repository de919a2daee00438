package models

import "time"

// MinecraftPlayer represents a game identity, keyed by the platform UUID.
type MinecraftPlayer struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for MinecraftPlayer
func (MinecraftPlayer) TableName() string {
	return "minecraft_players"
}
