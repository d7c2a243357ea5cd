package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WPS/radvis-sub019/models"
	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FeatureSource yields the raw features of one feed configuration. A fetch
// failure is fatal to the surrounding import session.
type FeatureSource interface {
	Name() string
	Fetch(ctx context.Context) ([]models.ImportedFeature, error)
}

// WFSSource pulls a GetFeature URL that returns GeoJSON.
type WFSSource struct {
	name   string
	url    string
	client *http.Client
}

func NewWFSSource(name string, url string) *WFSSource {
	return &WFSSource{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (s *WFSSource) Name() string { return s.name }

func (s *WFSSource) Fetch(ctx context.Context) ([]models.ImportedFeature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid WFS url %s: %w", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("WFS request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("WFS request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read WFS response: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("malformed WFS feed: %w", err)
	}
	return FeaturesFromCollection(s.name, fc)
}

// FeaturesFromCollection converts a GeoJSON feature collection into raw
// import records. The source feature id is kept as technical identifier.
func FeaturesFromCollection(quelle string, fc *geojson.FeatureCollection) ([]models.ImportedFeature, error) {
	now := time.Now().UTC()
	features := make([]models.ImportedFeature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		technID := fmt.Sprintf("%v", f.ID)
		if f.ID == nil {
			technID = fmt.Sprintf("%s-%d", quelle, i)
		}
		attrs, err := json.Marshal(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %s: unencodable attributes: %w", technID, err)
		}
		features = append(features, models.ImportedFeature{
			Quelle:      quelle,
			TechnID:     technID,
			Geom:        models.EncodeGeom(f.Geometry),
			Attribute:   datatypes.JSON(attrs),
			AbgerufenAm: now,
		})
	}
	return features, nil
}

// StaticSource serves an already-parsed feature batch, e.g. from an uploaded
// file.
type StaticSource struct {
	name     string
	features []models.ImportedFeature
}

func NewStaticSource(name string, features []models.ImportedFeature) *StaticSource {
	return &StaticSource{name: name, features: features}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Fetch(ctx context.Context) ([]models.ImportedFeature, error) {
	return s.features, nil
}

// PersistFetched stores a fetched batch and flags the previous pull of the
// same source as superseded, in one transaction.
func PersistFetched(db *gorm.DB, quelle string, features []models.ImportedFeature) error {
	return db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.ImportedFeature{}).
			Where("quelle = ? AND veraltet = ?", quelle, false).
			Update("veraltet", true).Error
		if err != nil {
			return fmt.Errorf("failed to supersede previous pull: %w", err)
		}
		for i := range features {
			if err := tx.Create(&features[i]).Error; err != nil {
				return fmt.Errorf("failed to store feature %s: %w", features[i].TechnID, err)
			}
		}
		return nil
	})
}
