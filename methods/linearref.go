package methods

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Seite of a Kante a section applies to.
const (
	SeiteLinks      = "LINKS"
	SeiteRechts     = "RECHTS"
	SeiteBeidseitig = "BEIDSEITIG"
)

// LineareReferenz is a sub-span of a Kante by fractional position along its
// length, 0 <= Von < Bis <= 1.
type LineareReferenz struct {
	Von float64 `json:"von"`
	Bis float64 `json:"bis"`
}

// KantenSeitenAbschnitt references one section of one Kante.
type KantenSeitenAbschnitt struct {
	KanteID   int64           `json:"kante_id"`
	Abschnitt LineareReferenz `json:"abschnitt"`
	Seite     string          `json:"seite"`
}

// Netzbezug is a feature's resolved reference onto the network: edge sections
// for line features, a single Knoten for point features, or empty (no match).
type Netzbezug struct {
	KantenBezuege []KantenSeitenAbschnitt `json:"kanten_bezuege,omitempty"`
	KnotenID      *int64                  `json:"knoten_id,omitempty"`
}

func (n *Netzbezug) IsEmpty() bool {
	return n == nil || (len(n.KantenBezuege) == 0 && n.KnotenID == nil)
}

// Laenge is the planar length of a line string.
func Laenge(ls orb.LineString) float64 {
	return planar.Length(ls)
}

// ProjiziereAufKante projects a point onto a line string and returns the
// fractional position of the foot point along the line plus the distance.
func ProjiziereAufKante(ls orb.LineString, p orb.Point) (float64, float64) {
	if len(ls) < 2 {
		return 0, math.Inf(1)
	}
	total := planar.Length(ls)
	if total == 0 {
		return 0, math.Inf(1)
	}
	bestDist := math.Inf(1)
	bestPos := 0.0
	walked := 0.0
	for i := 0; i < len(ls)-1; i++ {
		a, b := ls[i], ls[i+1]
		segLen := planar.Distance(a, b)
		t, foot := projectOnSegment(a, b, p)
		d := planar.Distance(foot, p)
		if d < bestDist {
			bestDist = d
			bestPos = (walked + t*segLen) / total
		}
		walked += segLen
	}
	return clamp01(bestPos), bestDist
}

// projectOnSegment returns the clamped projection parameter t in [0,1] and
// the foot point of p on segment a-b.
func projectOnSegment(a, b, p orb.Point) (float64, orb.Point) {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return 0, a
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
	t = clamp01(t)
	return t, orb.Point{a[0] + t*dx, a[1] + t*dy}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalisiereAbschnitte sorts sections of one Kante by start position,
// clamps them to [0,1] and merges overlapping or touching spans, so that the
// Netzbezug invariant (ordered, non-overlapping) holds.
func NormalisiereAbschnitte(abschnitte []LineareReferenz) []LineareReferenz {
	var valid []LineareReferenz
	for _, a := range abschnitte {
		von, bis := clamp01(a.Von), clamp01(a.Bis)
		if bis < von {
			von, bis = bis, von
		}
		if bis-von <= 0 {
			continue
		}
		valid = append(valid, LineareReferenz{Von: von, Bis: bis})
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Von < valid[j].Von })
	merged := []LineareReferenz{valid[0]}
	for _, a := range valid[1:] {
		last := &merged[len(merged)-1]
		if a.Von <= last.Bis {
			if a.Bis > last.Bis {
				last.Bis = a.Bis
			}
			continue
		}
		merged = append(merged, a)
	}
	return merged
}
