package models

import (
	"time"

	"gorm.io/datatypes"
)

// Massnahme is an infrastructure measure imported onto the network. Its
// Netzbezug is fixed at session commit.
type Massnahme struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Bezeichnung  string         `gorm:"type:varchar(255)" json:"bezeichnung"`
	Organisation string         `gorm:"type:varchar(255);index" json:"organisation"`
	SessionID    string         `gorm:"type:varchar(36);index" json:"session_id"`
	Netzbezug    datatypes.JSON `json:"netzbezug"`
	CreatedAt    time.Time      `json:"created_at"`
}
