package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WPS/radvis-sub019/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWFSSourceFetch(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{9.1, 48.7})
	f.ID = "radweg.42"
	f.Properties["bezeichnung"] = "Radweg West"
	fc.Append(f)
	payload, err := fc.MarshalJSON()
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))
	defer server.Close()

	source := NewWFSSource("radwege", server.URL)
	features, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "radwege", features[0].Quelle)
	assert.Equal(t, "radweg.42", features[0].TechnID)
	assert.Contains(t, string(features[0].Attribute), "Radweg West")
	assert.False(t, features[0].Veraltet)
}

func TestWFSSourceFetchErrors(t *testing.T) {
	t.Run("http error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()
		_, err := NewWFSSource("radwege", server.URL).Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("malformed feed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not geojson</html>"))
		}))
		defer server.Close()
		_, err := NewWFSSource("radwege", server.URL).Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		_, err := NewWFSSource("radwege", "http://127.0.0.1:1/wfs").Fetch(context.Background())
		assert.Error(t, err)
	})
}

func TestPersistFetchedSupersedesPreviousPull(t *testing.T) {
	db, err := models.InitTestDatabase()
	require.NoError(t, err)

	erste := []models.ImportedFeature{
		{Quelle: "radwege", TechnID: "a", Geom: models.EncodeGeom(orb.Point{0, 0})},
	}
	require.NoError(t, PersistFetched(db, "radwege", erste))

	zweite := []models.ImportedFeature{
		{Quelle: "radwege", TechnID: "a", Geom: models.EncodeGeom(orb.Point{0, 0})},
		{Quelle: "radwege", TechnID: "b", Geom: models.EncodeGeom(orb.Point{1, 1})},
	}
	require.NoError(t, PersistFetched(db, "radwege", zweite))

	var aktuelle []models.ImportedFeature
	require.NoError(t, db.Where("veraltet = ?", false).Find(&aktuelle).Error)
	assert.Len(t, aktuelle, 2)

	var veraltete []models.ImportedFeature
	require.NoError(t, db.Where("veraltet = ?", true).Find(&veraltete).Error)
	require.Len(t, veraltete, 1, "previous pull is kept for audit, flagged as superseded")
	assert.Equal(t, "a", veraltete[0].TechnID)
}
