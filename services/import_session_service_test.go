package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/WPS/radvis-sub019/methods"
	"github.com/WPS/radvis-sub019/models"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failSource struct{}

func (failSource) Name() string { return "broken" }

func (failSource) Fetch(ctx context.Context) ([]models.ImportedFeature, error) {
	return nil, fmt.Errorf("endpoint unreachable")
}

func newSessionFixture(t *testing.T) *ImportSessionService {
	t.Helper()
	db, err := models.InitTestDatabase()
	require.NoError(t, err)

	knoten := []models.Knoten{
		{ID: 1, Geom: models.EncodeGeom(orb.Point{0, 0})},
		{ID: 2, Geom: models.EncodeGeom(orb.Point{10, 0})},
		{ID: 3, Geom: models.EncodeGeom(orb.Point{20, 0})},
	}
	for i := range knoten {
		require.NoError(t, db.Create(&knoten[i]).Error)
	}

	service := NewImportSessionService(db, NewJobService(db), 1.0, 0.8, 5)
	return service
}

func pointFeature(technID string, p orb.Point) models.ImportedFeature {
	return models.ImportedFeature{
		Quelle:  "test",
		TechnID: technID,
		Geom:    models.EncodeGeom(p),
	}
}

// three point features: two near existing Knoten, one far off
func dreiPunkte() []models.ImportedFeature {
	return []models.ImportedFeature{
		pointFeature("p1", orb.Point{0.5, 0}),
		pointFeature("p2", orb.Point{10.2, 0}),
		pointFeature("p3", orb.Point{50, 50}),
	}
}

func TestSessionEndsAbgeschlossenWithUnmatchedCount(t *testing.T) {
	service := newSessionFixture(t)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       NewStaticSource("test", dreiPunkte()),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbgeschlossen, session.Status)
	assert.Equal(t, 1, session.AnzahlFeaturesOhneMatch)

	log, err := service.Log(session.ID)
	require.NoError(t, err)
	var warnungen []models.ImportLogEintrag
	for _, e := range log {
		if e.Severity == models.SeverityWarning {
			warnungen = append(warnungen, e)
		}
	}
	require.Len(t, warnungen, 1)
	assert.True(t, strings.Contains(warnungen[0].Message, "p3"), "warning must name the unmatched feature")
}

func TestCommitRejectedWhileFeaturesUnresolved(t *testing.T) {
	service := newSessionFixture(t)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       NewStaticSource("test", dreiPunkte()),
	})
	require.NoError(t, err)

	err = service.Commit(context.Background(), session.ID, "alice")
	var nichtMoeglich *ManuellerImportNichtMoeglichError
	require.True(t, errors.As(err, &nichtMoeglich))

	session, err = service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbgeschlossen, session.Status, "failed commit must leave status unchanged")
}

func TestCommitAfterManualNetzbezug(t *testing.T) {
	service := newSessionFixture(t)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       NewStaticSource("test", dreiPunkte()),
	})
	require.NoError(t, err)

	zuordnungen, err := service.Zuordnungen(session.ID)
	require.NoError(t, err)
	require.Len(t, zuordnungen, 3)

	var pending *models.FeatureZuordnung
	for i := range zuordnungen {
		var bezug methods.Netzbezug
		require.NoError(t, json.Unmarshal(zuordnungen[i].Netzbezug, &bezug))
		if bezug.IsEmpty() {
			pending = &zuordnungen[i]
		}
	}
	require.NotNil(t, pending, "one feature must be pending manual correction")

	knotenC := int64(3)
	err = service.ManuellerNetzbezug(session.ID, "alice", pending.ID, &methods.Netzbezug{KnotenID: &knotenC})
	require.NoError(t, err)

	require.NoError(t, service.Commit(context.Background(), session.ID, "alice"))

	session, err = service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCommitted, session.Status)

	// graph gains no new node
	var anzahlKnoten int64
	require.NoError(t, service.db.Model(&models.Knoten{}).Count(&anzahlKnoten).Error)
	assert.Equal(t, int64(3), anzahlKnoten)

	// the manually corrected feature ends up referencing Knoten C
	zuordnungen, err = service.Zuordnungen(session.ID)
	require.NoError(t, err)
	var bezug methods.Netzbezug
	require.NoError(t, json.Unmarshal(zuordnungen[2].Netzbezug, &bezug))
	require.NotNil(t, bezug.KnotenID)
	assert.Equal(t, knotenC, *bezug.KnotenID)

	var massnahmen []models.Massnahme
	require.NoError(t, service.db.Find(&massnahmen).Error)
	assert.Len(t, massnahmen, 3)
}

func TestCommitBlockedByErrorLog(t *testing.T) {
	service := newSessionFixture(t)

	features := []models.ImportedFeature{
		pointFeature("p1", orb.Point{0.5, 0}),
		{Quelle: "test", TechnID: "defekt", Geom: models.EncodeGeom(orb.LineString{{5, 5}, {5, 5}})},
	}
	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       NewStaticSource("test", features),
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionAbgeschlossen, session.Status)

	// the degenerate feature leaves an error entry behind
	log, err := service.Log(session.ID)
	require.NoError(t, err)
	var fehler []models.ImportLogEintrag
	for _, e := range log {
		if e.Severity == models.SeverityError {
			fehler = append(fehler, e)
		}
	}
	require.Len(t, fehler, 1)

	// resolving every assignment by hand does not make the session committable
	knotenA := int64(1)
	zuordnungen, err := service.Zuordnungen(session.ID)
	require.NoError(t, err)
	for i := range zuordnungen {
		var bezug methods.Netzbezug
		require.NoError(t, json.Unmarshal(zuordnungen[i].Netzbezug, &bezug))
		if bezug.IsEmpty() {
			err = service.ManuellerNetzbezug(session.ID, "alice", zuordnungen[i].ID, &methods.Netzbezug{KnotenID: &knotenA})
			require.NoError(t, err)
		}
	}

	err = service.Commit(context.Background(), session.ID, "alice")
	var nichtMoeglich *ManuellerImportNichtMoeglichError
	require.True(t, errors.As(err, &nichtMoeglich))

	session, err = service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbgeschlossen, session.Status)

	var massnahmen int64
	require.NoError(t, service.db.Model(&models.Massnahme{}).Count(&massnahmen).Error)
	assert.Zero(t, massnahmen, "blocked commit must not create measures")
}

func TestCommitRequiresOwningOperator(t *testing.T) {
	service := newSessionFixture(t)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source: NewStaticSource("test", []models.ImportedFeature{
			pointFeature("p1", orb.Point{0.5, 0}),
		}),
	})
	require.NoError(t, err)

	err = service.Commit(context.Background(), session.ID, "mallory")
	assert.ErrorIs(t, err, ErrNichtBerechtigt)
}

func TestSecondActiveSessionRejected(t *testing.T) {
	service := newSessionFixture(t)

	_, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       NewStaticSource("test", dreiPunkte()),
	})
	require.NoError(t, err)

	_, err = service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "bob",
		Source:       NewStaticSource("test", dreiPunkte()),
	})
	assert.ErrorIs(t, err, ErrSessionConflict)

	// a different scope is fine
	_, err = service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis B",
		Benutzer:     "bob",
		Source:       NewStaticSource("test", dreiPunkte()),
	})
	assert.NoError(t, err)
}

func TestFetchFailureAbortsSession(t *testing.T) {
	service := newSessionFixture(t)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       failSource{},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbgebrochen, session.Status)
	assert.NotEmpty(t, session.Grund)
	assert.Equal(t, "IMPORT", session.Schritt, "abort must not overwrite the step")

	log, err := service.Log(session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, log)
	assert.Equal(t, models.SeverityError, log[0].Severity)
}

func TestCancelLeavesGraphUntouched(t *testing.T) {
	service := newSessionFixture(t)
	kante := models.Kante{
		ID: 1, VonKnotenID: 1, BisKnotenID: 2,
		Geom: models.EncodeGeom(orb.LineString{{0, 0}, {10, 0}}),
	}
	require.NoError(t, service.db.Create(&kante).Error)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypNetzklasse,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Netzklasse:   "RADNETZ",
		Source: NewStaticSource("test", []models.ImportedFeature{
			{Quelle: "test", TechnID: "l1", Geom: models.EncodeGeom(orb.LineString{{1, 0}, {9, 0}})},
		}),
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionAbgeschlossen, session.Status)

	require.NoError(t, service.Cancel(session.ID, "alice"))

	session, err = service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbgebrochen, session.Status)

	var nachher models.Kante
	require.NoError(t, service.db.First(&nachher, kante.ID).Error)
	assert.Empty(t, nachher.Netzklasse, "cancel must not mutate the graph")

	// terminal sessions cannot be cancelled again
	assert.ErrorIs(t, service.Cancel(session.ID, "alice"), ErrUngueltigerUebergang)
}

func TestCancelStopsRunningSession(t *testing.T) {
	service := newSessionFixture(t)
	kante := models.Kante{
		ID: 1, VonKnotenID: 1, BisKnotenID: 2,
		Geom: models.EncodeGeom(orb.LineString{{0, 0}, {10, 0}}),
	}
	require.NoError(t, service.db.Create(&kante).Error)

	var features []models.ImportedFeature
	for i := 0; i < 20; i++ {
		features = append(features, models.ImportedFeature{
			Quelle: "test", TechnID: fmt.Sprintf("l%d", i),
			Geom: models.EncodeGeom(orb.LineString{{1, 0}, {9, 0}}),
		})
	}

	// pause the run at the first progress step so the cancel lands mid-batch
	service.Parallelitaet = 1
	service.ProgressSchritt = 10
	angehalten := make(chan struct{})
	fortsetzen := make(chan struct{})
	var once sync.Once
	service.Progress = func(sessionID string, prozent int) {
		once.Do(func() {
			close(angehalten)
			<-fortsetzen
		})
	}

	session, err := service.Start(context.Background(), StartOptions{
		Typ:          models.ImportTypNetzklasse,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Netzklasse:   "RADNETZ",
		Source:       NewStaticSource("test", features),
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionRunning, session.Status)

	<-angehalten
	require.NoError(t, service.Cancel(session.ID, "alice"))
	close(fortsetzen)

	session, err = service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbgebrochen, session.Status)
	assert.NotEmpty(t, session.Grund)

	// no per-feature outcome is persisted and the graph stays untouched
	zuordnungen, err := service.Zuordnungen(session.ID)
	require.NoError(t, err)
	assert.Empty(t, zuordnungen)

	var nachher models.Kante
	require.NoError(t, service.db.First(&nachher, kante.ID).Error)
	assert.Empty(t, nachher.Netzklasse)
}

func TestNetzklassenCommitAssignsClass(t *testing.T) {
	service := newSessionFixture(t)
	kante := models.Kante{
		ID: 1, VonKnotenID: 1, BisKnotenID: 2,
		Geom: models.EncodeGeom(orb.LineString{{0, 0}, {10, 0}}),
	}
	require.NoError(t, service.db.Create(&kante).Error)

	session, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypNetzklasse,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Netzklasse:   "RADNETZ",
		Source: NewStaticSource("test", []models.ImportedFeature{
			{Quelle: "test", TechnID: "l1", Geom: models.EncodeGeom(orb.LineString{{1, 0}, {9, 0}})},
		}),
	})
	require.NoError(t, err)
	require.NoError(t, service.Commit(context.Background(), session.ID, "alice"))

	var nachher models.Kante
	require.NoError(t, service.db.First(&nachher, kante.ID).Error)
	assert.Equal(t, "RADNETZ", nachher.Netzklasse)
}

func TestProgressReporting(t *testing.T) {
	service := newSessionFixture(t)
	service.ProgressSchritt = 25

	var prozente []int
	service.Progress = func(sessionID string, prozent int) {
		prozente = append(prozente, prozent)
	}

	var features []models.ImportedFeature
	for i := 0; i < 8; i++ {
		features = append(features, pointFeature(fmt.Sprintf("p%d", i), orb.Point{0.5, 0}))
	}
	service.Parallelitaet = 1

	_, err := service.StartSynchron(context.Background(), StartOptions{
		Typ:          models.ImportTypMassnahme,
		Organisation: "Kreis A",
		Benutzer:     "alice",
		Source:       NewStaticSource("test", features),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 75, 100}, prozente)
}
