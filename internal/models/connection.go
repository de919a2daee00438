package models

import "time"

// Connection binds one DiscordAccount to one MinecraftPlayer. Both foreign
// keys carry unique indexes so the binding is 1:1 in each direction; a new
// link for an already-linked player replaces the old row atomically.
type Connection struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DiscordAccountID  uint      `json:"discord_account_id" gorm:"uniqueIndex;not null"`
	MinecraftPlayerID uint      `json:"minecraft_player_id" gorm:"uniqueIndex;not null"`
	CreatedAt         time.Time `json:"created_at"`

	// Relationships (optional, for eager loading)
	DiscordAccount  DiscordAccount  `json:"-" gorm:"foreignKey:DiscordAccountID"`
	MinecraftPlayer MinecraftPlayer `json:"-" gorm:"foreignKey:MinecraftPlayerID"`
}

// TableName specifies the table name for Connection
func (Connection) TableName() string {
	return "connections"
}
