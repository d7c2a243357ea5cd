package Transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"gitee.com/LJ_COOL/go-shp"
	"github.com/WPS/radvis-sub019/models"
	"github.com/axgle/mahonia"
	"github.com/paulmach/orb"
	"github.com/saintfish/chardet"
	"gorm.io/datatypes"
)

// ConvertSHPToFeatures reads an uploaded shapefile into raw import records.
// Point and polyline shapes are converted; other shape types are skipped and
// counted in the returned skip count.
func ConvertSHPToFeatures(shpfilePath string, quelle string) ([]models.ImportedFeature, int, error) {
	shape, err := shp.Open(shpfilePath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer shape.Close()

	fields := shape.Fields()
	encoding := readCPGEncoding(shpfilePath)
	now := time.Now().UTC()

	var features []models.ImportedFeature
	skipped := 0
	for shape.Next() {
		n, p := shape.Shape()

		var geom orb.Geometry
		switch s := p.(type) {
		case *shp.Point:
			geom = orb.Point{s.X, s.Y}
		case *shp.PointZ:
			geom = orb.Point{s.X, s.Y}
		case *shp.PointM:
			geom = orb.Point{s.X, s.Y}
		case *shp.PolyLine:
			geom = polylineToGeometry(s.Points, s.Parts)
		case *shp.PolyLineZ:
			geom = polylineToGeometry(s.Points, s.Parts)
		case *shp.PolyLineM:
			geom = polylineToGeometry(s.Points, s.Parts)
		default:
			skipped++
			continue
		}

		attrs := buildAttributes(n, shape, fields, encoding)
		payload, err := json.Marshal(attrs)
		if err != nil {
			skipped++
			continue
		}
		features = append(features, models.ImportedFeature{
			Quelle:      quelle,
			TechnID:     technID(quelle, n, attrs),
			Geom:        models.EncodeGeom(geom),
			Attribute:   datatypes.JSON(payload),
			AbgerufenAm: now,
		})
	}
	return features, skipped, nil
}

func polylineToGeometry(points []shp.Point, parts []int32) orb.Geometry {
	split := SplitPoints(points, parts)
	lines := make(orb.MultiLineString, 0, len(split))
	for _, part := range split {
		line := make(orb.LineString, 0, len(part))
		for _, p := range part {
			line = append(line, orb.Point{p.X, p.Y})
		}
		if len(line) >= 2 {
			lines = append(lines, line)
		}
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}

// SplitPoints splits a flat shapefile point array at the part offsets.
func SplitPoints(points []shp.Point, parts []int32) [][]shp.Point {
	if len(parts) <= 1 {
		return [][]shp.Point{points}
	}
	var result [][]shp.Point
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < end {
			result = append(result, points[start:end])
		}
	}
	return result
}

// readCPGEncoding reads the .cpg sidecar file, falling back to charset
// detection on the .dbf content.
func readCPGEncoding(shpfilePath string) string {
	dir := filepath.Dir(shpfilePath)
	base := strings.TrimSuffix(filepath.Base(shpfilePath), filepath.Ext(shpfilePath))
	cpgContent, err := os.ReadFile(filepath.Join(dir, base+".cpg"))
	if err == nil {
		return strings.TrimSpace(string(cpgContent))
	}
	dbfContent, err := os.ReadFile(filepath.Join(dir, base+".dbf"))
	if err != nil {
		return "UTF-8"
	}
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(dbfContent)
	if err != nil || result == nil {
		return "UTF-8"
	}
	return result.Charset
}

func buildAttributes(n int, shape *shp.Reader, fields []shp.Field, encoding string) map[string]interface{} {
	attrs := make(map[string]interface{})
	for k, f := range fields {
		name := decodeText(f.String(), encoding)
		value := decodeText(shape.ReadAttribute(n, k), encoding)
		attrs[strings.ToLower(name)] = value
	}
	return attrs
}

// decodeText converts attribute text to UTF-8 using the detected encoding.
func decodeText(s string, encoding string) string {
	if encoding == "" || strings.EqualFold(encoding, "UTF-8") || utf8.ValidString(s) {
		return s
	}
	decoder := mahonia.NewDecoder(strings.ToLower(encoding))
	if decoder == nil {
		return s
	}
	return decoder.ConvertString(s)
}

// technID prefers a source object id attribute, falling back to the record
// index.
func technID(quelle string, n int, attrs map[string]interface{}) string {
	for _, key := range []string{"objectid", "fid", "id"} {
		if v, ok := attrs[key]; ok {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("%s-%d", quelle, n)
}
