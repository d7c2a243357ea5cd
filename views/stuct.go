package views

import (
	"github.com/WPS/radvis-sub019/methods"
)

type StartImportData struct {
	Typ          string `json:"typ" binding:"required"`
	Organisation string `json:"organisation" binding:"required"`
	Benutzer     string `json:"benutzer" binding:"required"`
	Netzklasse   string `json:"netzklasse"`
	Quelle       string `json:"quelle" binding:"required"`
}

type SessionActionData struct {
	Benutzer string `json:"benutzer" binding:"required"`
}

type ManuellerNetzbezugData struct {
	Benutzer    string            `json:"benutzer" binding:"required"`
	ZuordnungID int64             `json:"zuordnung_id" binding:"required"`
	Netzbezug   methods.Netzbezug `json:"netzbezug" binding:"required"`
}
