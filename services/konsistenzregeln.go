package services

import (
	"fmt"

	"github.com/WPS/radvis-sub019/methods"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// KurzeKanteRegel flags edges shorter than a minimum length, usually
// digitization artifacts.
type KurzeKanteRegel struct {
	MinLaenge float64
}

func (r *KurzeKanteRegel) Typ() string { return "KURZE_KANTE" }

func (r *KurzeKanteRegel) Pruefe(index *NetzIndex) ([]VerletzungsKandidat, error) {
	var kandidaten []VerletzungsKandidat
	for _, k := range index.Kanten() {
		laenge := methods.Laenge(k.Line)
		if laenge >= r.MinLaenge {
			continue
		}
		kandidaten = append(kandidaten, VerletzungsKandidat{
			Identitaet:   fmt.Sprintf("kante:%d", k.Kante.ID),
			Titel:        "Kante unterschreitet Mindestlänge",
			Beschreibung: fmt.Sprintf("Kante %d ist nur %.1f lang (Minimum %.1f)", k.Kante.ID, laenge, r.MinLaenge),
			Punkt1:       k.Line[0],
		})
	}
	return kandidaten, nil
}

// KnotenNetzLueckeRegel flags node pairs that lie close together but are not
// joined by any edge, a likely gap in the network.
type KnotenNetzLueckeRegel struct {
	MaxAbstand float64
}

func (r *KnotenNetzLueckeRegel) Typ() string { return "NETZ_LUECKE" }

func (r *KnotenNetzLueckeRegel) Pruefe(index *NetzIndex) ([]VerletzungsKandidat, error) {
	knoten := index.Knoten()
	verbunden := make(map[[2]int64]bool)
	for _, k := range index.Kanten() {
		a, b := k.Kante.VonKnotenID, k.Kante.BisKnotenID
		if a > b {
			a, b = b, a
		}
		verbunden[[2]int64{a, b}] = true
	}
	var kandidaten []VerletzungsKandidat
	for i := 0; i < len(knoten); i++ {
		for j := i + 1; j < len(knoten); j++ {
			a, b := knoten[i], knoten[j]
			dist := planar.Distance(a.Point, b.Point)
			if dist == 0 || dist > r.MaxAbstand {
				continue
			}
			lo, hi := a.Knoten.ID, b.Knoten.ID
			if lo > hi {
				lo, hi = hi, lo
			}
			if verbunden[[2]int64{lo, hi}] {
				continue
			}
			p2 := b.Point
			kandidaten = append(kandidaten, VerletzungsKandidat{
				Identitaet:   fmt.Sprintf("knoten:%d-%d", lo, hi),
				Titel:        "Mögliche Netzlücke",
				Beschreibung: fmt.Sprintf("Knoten %d und %d liegen %.1f auseinander, sind aber nicht verbunden", lo, hi, dist),
				Punkt1:       a.Point,
				Punkt2:       &p2,
			})
		}
	}
	return kandidaten, nil
}

// KanteOhneKnotenbezugRegel flags edges whose geometry does not end at their
// referenced node geometry.
type KanteOhneKnotenbezugRegel struct {
	MaxAbstand float64
}

func (r *KanteOhneKnotenbezugRegel) Typ() string { return "KANTE_OHNE_KNOTENBEZUG" }

func (r *KanteOhneKnotenbezugRegel) Pruefe(index *NetzIndex) ([]VerletzungsKandidat, error) {
	punkte := make(map[int64]orb.Point)
	for _, n := range index.Knoten() {
		punkte[n.Knoten.ID] = n.Point
	}
	var kandidaten []VerletzungsKandidat
	for _, k := range index.Kanten() {
		ends := []struct {
			knotenID int64
			ende     orb.Point
			label    string
		}{
			{k.Kante.VonKnotenID, k.Line[0], "von"},
			{k.Kante.BisKnotenID, k.Line[len(k.Line)-1], "bis"},
		}
		for _, e := range ends {
			p, ok := punkte[e.knotenID]
			if !ok {
				kandidaten = append(kandidaten, VerletzungsKandidat{
					Identitaet:   fmt.Sprintf("kante:%d:%s", k.Kante.ID, e.label),
					Titel:        "Kante referenziert unbekannten Knoten",
					Beschreibung: fmt.Sprintf("Kante %d referenziert Knoten %d, der nicht existiert", k.Kante.ID, e.knotenID),
					Punkt1:       e.ende,
				})
				continue
			}
			if dist := planar.Distance(p, e.ende); dist > r.MaxAbstand {
				p2 := p
				kandidaten = append(kandidaten, VerletzungsKandidat{
					Identitaet:   fmt.Sprintf("kante:%d:%s", k.Kante.ID, e.label),
					Titel:        "Kantengeometrie endet abseits des Knotens",
					Beschreibung: fmt.Sprintf("Kante %d endet %.1f vom Knoten %d entfernt", k.Kante.ID, dist, e.knotenID),
					Punkt1:       e.ende,
					Punkt2:       &p2,
				})
			}
		}
	}
	return kandidaten, nil
}
