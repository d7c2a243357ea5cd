package models

import "time"

// KonsistenzregelVerletzung is the stable-identity record of one detected
// graph problem. At most one current row exists per (RegelTyp, Identitaet);
// a persisting violation updates GeprueftAm/Beschreibung in place.
type KonsistenzregelVerletzung struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RegelTyp     string    `gorm:"type:varchar(100);uniqueIndex:idx_regel_identitaet" json:"regel_typ"`
	Identitaet   string    `gorm:"type:varchar(255);uniqueIndex:idx_regel_identitaet" json:"identitaet"`
	Titel        string    `gorm:"type:varchar(255)" json:"titel"`
	Beschreibung string    `gorm:"type:text" json:"beschreibung"`
	Punkt1       string    `gorm:"type:text" json:"-"` // GeoJSON Point
	Punkt2       string    `gorm:"type:text" json:"-"` // optional second point
	ErkanntAm    time.Time `json:"erkannt_am"`         // first detection
	GeprueftAm   time.Time `json:"geprueft_am"`        // last run that still produced it
}
