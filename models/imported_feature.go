package models

import (
	"time"

	"gorm.io/datatypes"
)

// ImportedFeature is one raw record pulled from a feature source.
// Rows are immutable after creation except for the Veraltet flag, which is
// set when a newer pull supersedes them. Kept for audit.
type ImportedFeature struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Quelle      string         `gorm:"type:varchar(255);index:idx_quelle_technid" json:"quelle"`
	TechnID     string         `gorm:"type:varchar(255);index:idx_quelle_technid" json:"techn_id"`
	Geom        string         `gorm:"type:text" json:"-"` // GeoJSON
	Attribute   datatypes.JSON `json:"attribute"`
	Veraltet    bool           `gorm:"default:false;index" json:"veraltet"`
	AbgerufenAm time.Time      `json:"abgerufen_am"`
}
