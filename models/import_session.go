package models

import (
	"time"

	"gorm.io/datatypes"
)

// ImportSessionStatus enumerated states of an import session.
const (
	SessionRunning       = "RUNNING"
	SessionAbgeschlossen = "ABGESCHLOSSEN" // finished, awaiting review
	SessionCommitted     = "COMMITTED"
	SessionAbgebrochen   = "ABGEBROCHEN"
)

// Log entry severities.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// Import session types.
const (
	ImportTypNetzklasse = "NETZKLASSE"
	ImportTypMassnahme  = "MASSNAHME"
)

// ImportSession is the persisted snapshot of one import run. The whole row is
// written on every state transition so the process can restart during the
// review suspension without losing the session.
type ImportSession struct {
	ID                      string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Typ                     string         `gorm:"type:varchar(50);index:idx_org_typ" json:"typ"`
	Organisation            string         `gorm:"type:varchar(255);index:idx_org_typ" json:"organisation"`
	Benutzer                string         `gorm:"type:varchar(255)" json:"benutzer"`
	Status                  string         `gorm:"type:varchar(50);index" json:"status"`
	Schritt                 string         `gorm:"type:varchar(50)" json:"schritt"`
	Grund                   string         `gorm:"type:varchar(255)" json:"grund,omitempty"` // set on ABGEBROCHEN
	AnzahlFeaturesOhneMatch int            `json:"anzahl_features_ohne_match"`
	Netzklasse              string         `gorm:"type:varchar(50)" json:"netzklasse,omitempty"` // NETZKLASSE imports only
	Payload                 datatypes.JSON `json:"payload,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
}

// IsTerminal reports whether no further transition is possible.
func (s *ImportSession) IsTerminal() bool {
	return s.Status == SessionCommitted || s.Status == SessionAbgebrochen
}

// ImportLogEintrag is one immutable log line of a session. Emission order is
// preserved by the autoincrement id.
type ImportLogEintrag struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(36);index" json:"session_id"`
	Severity  string    `gorm:"type:varchar(20)" json:"severity"`
	Message   string    `gorm:"type:text" json:"message"`
	Zeitpunkt time.Time `json:"zeitpunkt"`
}

// FeatureZuordnung is the per-feature matching outcome of a session: the
// feature's Netzbezug, automatic or manually corrected. An empty Netzbezug
// column marks a pending manual correction.
type FeatureZuordnung struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string         `gorm:"type:varchar(36);index" json:"session_id"`
	FeatureID int64          `gorm:"index" json:"feature_id"`
	Netzbezug datatypes.JSON `json:"netzbezug"`
	Manuell   bool           `gorm:"default:false" json:"manuell"`
}
