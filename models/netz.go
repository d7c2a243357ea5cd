package models

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Knoten is a node of the network graph.
type Knoten struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Geom string `gorm:"type:text" json:"-"` // GeoJSON Point
}

// Kante is an edge of the network graph with its line geometry.
type Kante struct {
	ID          int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	VonKnotenID int64   `gorm:"index" json:"von_knoten_id"`
	BisKnotenID int64   `gorm:"index" json:"bis_knoten_id"`
	Geom        string  `gorm:"type:text" json:"-"` // GeoJSON LineString
	Laenge      float64 `json:"laenge"`
	Netzklasse  string  `gorm:"type:varchar(50);index" json:"netzklasse"`
}

func (k *Knoten) Point() (orb.Point, error) {
	g, err := decodeGeom(k.Geom)
	if err != nil {
		return orb.Point{}, err
	}
	p, ok := g.(orb.Point)
	if !ok {
		return orb.Point{}, fmt.Errorf("knoten %d: geometry is %s, not Point", k.ID, g.GeoJSONType())
	}
	return p, nil
}

func (k *Kante) LineString() (orb.LineString, error) {
	g, err := decodeGeom(k.Geom)
	if err != nil {
		return nil, err
	}
	ls, ok := g.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("kante %d: geometry is %s, not LineString", k.ID, g.GeoJSONType())
	}
	return ls, nil
}

func decodeGeom(raw string) (orb.Geometry, error) {
	var g geojson.Geometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}

// EncodeGeom serializes a geometry into the text column representation.
func EncodeGeom(g orb.Geometry) string {
	data, _ := json.Marshal(geojson.NewGeometry(g))
	return string(data)
}
