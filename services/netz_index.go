package services

import (
	"fmt"
	"math"

	"github.com/WPS/radvis-sub019/methods"
	"github.com/WPS/radvis-sub019/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gorm.io/gorm"
)

type indexKante struct {
	kante models.Kante
	line  orb.LineString
}

type indexKnoten struct {
	knoten models.Knoten
	point  orb.Point
}

// NetzIndex is a read-only snapshot of the network graph with a grid-bucketed
// spatial index for nearest-edge and nearest-node queries. Safe for
// concurrent readers; a new snapshot is built per run.
type NetzIndex struct {
	kanten     []indexKante
	knoten     []indexKnoten
	cell       float64
	kantenGrid map[[2]int][]int
	knotenGrid map[[2]int][]int
}

// NewNetzIndex loads the full graph from the database into a snapshot.
func NewNetzIndex(db *gorm.DB, cellSize float64) (*NetzIndex, error) {
	var kanten []models.Kante
	if err := db.Find(&kanten).Error; err != nil {
		return nil, fmt.Errorf("failed to load kanten: %w", err)
	}
	var knoten []models.Knoten
	if err := db.Find(&knoten).Error; err != nil {
		return nil, fmt.Errorf("failed to load knoten: %w", err)
	}
	return BuildNetzIndex(kanten, knoten, cellSize)
}

// BuildNetzIndex indexes the given graph elements. Elements with unreadable
// geometry are skipped.
func BuildNetzIndex(kanten []models.Kante, knoten []models.Knoten, cellSize float64) (*NetzIndex, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("invalid cell size %f", cellSize)
	}
	x := &NetzIndex{
		cell:       cellSize,
		kantenGrid: make(map[[2]int][]int),
		knotenGrid: make(map[[2]int][]int),
	}
	for _, k := range kanten {
		line, err := k.LineString()
		if err != nil || len(line) < 2 {
			continue
		}
		idx := len(x.kanten)
		x.kanten = append(x.kanten, indexKante{kante: k, line: line})
		for _, c := range x.cellsForBound(line.Bound()) {
			x.kantenGrid[c] = append(x.kantenGrid[c], idx)
		}
	}
	for _, n := range knoten {
		p, err := n.Point()
		if err != nil {
			continue
		}
		idx := len(x.knoten)
		x.knoten = append(x.knoten, indexKnoten{knoten: n, point: p})
		c := x.cellOf(p)
		x.knotenGrid[c] = append(x.knotenGrid[c], idx)
	}
	return x, nil
}

func (x *NetzIndex) cellOf(p orb.Point) [2]int {
	return [2]int{int(math.Floor(p[0] / x.cell)), int(math.Floor(p[1] / x.cell))}
}

func (x *NetzIndex) cellsForBound(b orb.Bound) [][2]int {
	min := x.cellOf(b.Min)
	max := x.cellOf(b.Max)
	var cells [][2]int
	for cx := min[0]; cx <= max[0]; cx++ {
		for cy := min[1]; cy <= max[1]; cy++ {
			cells = append(cells, [2]int{cx, cy})
		}
	}
	return cells
}

// candidate cells within tolerance around p
func (x *NetzIndex) searchCells(p orb.Point, tol float64) [][2]int {
	r := int(math.Ceil(tol/x.cell)) + 1
	c := x.cellOf(p)
	var cells [][2]int
	for cx := c[0] - r; cx <= c[0]+r; cx++ {
		for cy := c[1] - r; cy <= c[1]+r; cy++ {
			cells = append(cells, [2]int{cx, cy})
		}
	}
	return cells
}

// NearestKante returns the closest Kante within tol of p, with the fractional
// position of the projection on it.
func (x *NetzIndex) NearestKante(p orb.Point, tol float64) (int64, float64, float64, bool) {
	bestDist := math.Inf(1)
	var bestID int64
	var bestFrac float64
	seen := make(map[int]bool)
	for _, c := range x.searchCells(p, tol) {
		for _, idx := range x.kantenGrid[c] {
			if seen[idx] {
				continue
			}
			seen[idx] = true
			frac, dist := methods.ProjiziereAufKante(x.kanten[idx].line, p)
			if dist < bestDist {
				bestDist = dist
				bestID = x.kanten[idx].kante.ID
				bestFrac = frac
			}
		}
	}
	if bestDist > tol {
		return 0, 0, 0, false
	}
	return bestID, bestFrac, bestDist, true
}

// NearestKnoten returns the closest Knoten within tol of p. Ties at equal
// distance go to the lower id for determinism.
func (x *NetzIndex) NearestKnoten(p orb.Point, tol float64) (int64, float64, bool) {
	bestDist := math.Inf(1)
	var bestID int64
	found := false
	for _, c := range x.searchCells(p, tol) {
		for _, idx := range x.knotenGrid[c] {
			n := x.knoten[idx]
			dist := planar.Distance(n.point, p)
			if dist > tol {
				continue
			}
			if !found || dist < bestDist || (dist == bestDist && n.knoten.ID < bestID) {
				found = true
				bestDist = dist
				bestID = n.knoten.ID
			}
		}
	}
	if !found {
		return 0, 0, false
	}
	return bestID, bestDist, true
}

// AnzahlKanten and AnzahlKnoten report snapshot sizes for job statistics.
func (x *NetzIndex) AnzahlKanten() int { return len(x.kanten) }

func (x *NetzIndex) AnzahlKnoten() int { return len(x.knoten) }

// KanteMitGeometrie pairs an edge with its decoded geometry for rule scans.
type KanteMitGeometrie struct {
	Kante models.Kante
	Line  orb.LineString
}

// KnotenMitGeometrie pairs a node with its decoded geometry.
type KnotenMitGeometrie struct {
	Knoten models.Knoten
	Point  orb.Point
}

func (x *NetzIndex) Kanten() []KanteMitGeometrie {
	out := make([]KanteMitGeometrie, len(x.kanten))
	for i, k := range x.kanten {
		out[i] = KanteMitGeometrie{Kante: k.kante, Line: k.line}
	}
	return out
}

func (x *NetzIndex) Knoten() []KnotenMitGeometrie {
	out := make([]KnotenMitGeometrie, len(x.knoten))
	for i, n := range x.knoten {
		out[i] = KnotenMitGeometrie{Knoten: n.knoten, Point: n.point}
	}
	return out
}
