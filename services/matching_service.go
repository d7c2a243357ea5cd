package services

import (
	"encoding/json"
	"fmt"

	"github.com/WPS/radvis-sub019/methods"
	"github.com/WPS/radvis-sub019/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// MatchingError marks a per-feature matching failure. It is recoverable: the
// session logs it and counts the feature as unmatched.
type MatchingError struct {
	FeatureID int64
	Grund     string
}

func (e *MatchingError) Error() string {
	return fmt.Sprintf("feature %d not matchable: %s", e.FeatureID, e.Grund)
}

// MatchingService resolves imported features onto the network graph. It is a
// pure function over the snapshot; safe for parallel use across features.
type MatchingService struct {
	index              *NetzIndex
	Toleranz           float64
	MindestMatchAnteil float64
}

func NewMatchingService(index *NetzIndex, toleranz float64, mindestMatchAnteil float64) *MatchingService {
	return &MatchingService{
		index:              index,
		Toleranz:           toleranz,
		MindestMatchAnteil: mindestMatchAnteil,
	}
}

// Match resolves one feature to a Netzbezug. An empty Netzbezug (nil error)
// means no match within tolerance; a *MatchingError means the feature itself
// is unusable.
func (s *MatchingService) Match(feature *models.ImportedFeature) (*methods.Netzbezug, error) {
	var g geojson.Geometry
	if err := json.Unmarshal([]byte(feature.Geom), &g); err != nil {
		return nil, &MatchingError{FeatureID: feature.ID, Grund: "unreadable geometry"}
	}
	switch geom := g.Geometry().(type) {
	case orb.Point:
		return s.matchPoint(feature.ID, geom)
	case orb.LineString:
		return s.matchLine(feature.ID, geom)
	case orb.MultiLineString:
		if len(geom) == 1 {
			return s.matchLine(feature.ID, geom[0])
		}
		return nil, &MatchingError{FeatureID: feature.ID, Grund: "multi-part geometry not supported"}
	default:
		return nil, &MatchingError{FeatureID: feature.ID, Grund: fmt.Sprintf("unsupported geometry type %s", g.Type)}
	}
}

func (s *MatchingService) matchPoint(featureID int64, p orb.Point) (*methods.Netzbezug, error) {
	id, _, ok := s.index.NearestKnoten(p, s.Toleranz)
	if !ok {
		return &methods.Netzbezug{}, nil
	}
	return &methods.Netzbezug{KnotenID: &id}, nil
}

type vertexMatch struct {
	kanteID int64
	frac    float64
	ok      bool
}

func (s *MatchingService) matchLine(featureID int64, line orb.LineString) (*methods.Netzbezug, error) {
	if len(line) < 2 || methods.Laenge(line) == 0 {
		return nil, &MatchingError{FeatureID: featureID, Grund: "zero-length geometry"}
	}
	if selfIntersects(line) {
		return nil, &MatchingError{FeatureID: featureID, Grund: "self-intersecting geometry"}
	}

	matches := make([]vertexMatch, len(line))
	for i, v := range line {
		kanteID, frac, _, ok := s.index.NearestKante(v, s.Toleranz)
		matches[i] = vertexMatch{kanteID: kanteID, frac: frac, ok: ok}
	}

	// length share of the feature whose segments project fully within tolerance
	total := methods.Laenge(line)
	matched := 0.0
	for i := 0; i < len(line)-1; i++ {
		if matches[i].ok && matches[i+1].ok {
			matched += planar.Distance(line[i], line[i+1])
		}
	}
	if matched/total < s.MindestMatchAnteil {
		return &methods.Netzbezug{}, nil
	}

	// group contiguous vertex runs on the same Kante into sections,
	// preserving geometric order along the feature
	type run struct {
		kanteID  int64
		von, bis float64
	}
	var runs []run
	for _, m := range matches {
		if !m.ok {
			continue
		}
		if len(runs) > 0 && runs[len(runs)-1].kanteID == m.kanteID {
			last := &runs[len(runs)-1]
			if m.frac < last.von {
				last.von = m.frac
			}
			if m.frac > last.bis {
				last.bis = m.frac
			}
			continue
		}
		runs = append(runs, run{kanteID: m.kanteID, von: m.frac, bis: m.frac})
	}

	// merge runs per Kante, first geometric appearance fixes the order
	var order []int64
	perKante := make(map[int64][]methods.LineareReferenz)
	for _, r := range runs {
		if _, seen := perKante[r.kanteID]; !seen {
			order = append(order, r.kanteID)
		}
		perKante[r.kanteID] = append(perKante[r.kanteID], methods.LineareReferenz{Von: r.von, Bis: r.bis})
	}

	bezug := &methods.Netzbezug{}
	for _, kanteID := range order {
		for _, abschnitt := range methods.NormalisiereAbschnitte(perKante[kanteID]) {
			bezug.KantenBezuege = append(bezug.KantenBezuege, methods.KantenSeitenAbschnitt{
				KanteID:   kanteID,
				Abschnitt: abschnitt,
				Seite:     methods.SeiteBeidseitig,
			})
		}
	}
	if len(bezug.KantenBezuege) == 0 {
		return &methods.Netzbezug{}, nil
	}
	return bezug, nil
}

// selfIntersects checks non-adjacent segment pairs for crossings.
func selfIntersects(line orb.LineString) bool {
	for i := 0; i < len(line)-1; i++ {
		for j := i + 2; j < len(line)-1; j++ {
			// skip closing-segment adjacency of rings
			if i == 0 && j == len(line)-2 && line[0] == line[len(line)-1] {
				continue
			}
			if segmentsCross(line[i], line[i+1], line[j], line[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(a, b, c, d orb.Point) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}
