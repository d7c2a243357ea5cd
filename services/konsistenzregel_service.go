package services

import (
	"context"
	"fmt"
	"time"

	"github.com/WPS/radvis-sub019/models"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// VerletzungsKandidat is one violation produced by a rule scan. Identitaet
// must be a deterministic function of the violating entities so that the same
// real-world problem keeps the same identity across runs.
type VerletzungsKandidat struct {
	Identitaet   string
	Titel        string
	Beschreibung string
	Punkt1       orb.Point
	Punkt2       *orb.Point
}

// Konsistenzregel is one independent rule evaluator over a graph snapshot.
// The rule set is closed and registered in NewKonsistenzregelService.
type Konsistenzregel interface {
	Typ() string
	Pruefe(index *NetzIndex) ([]VerletzungsKandidat, error)
}

type konsistenzStatistik struct {
	GepruefteRegeln       int `json:"gepruefte_regeln"`
	FehlgeschlageneRegeln int `json:"fehlgeschlagene_regeln"`
	Neu                   int `json:"neu"`
	Bestehend             int `json:"bestehend"`
	Geloest               int `json:"geloest"`
}

// KonsistenzregelService runs all registered rules over the committed graph
// and keeps the violation records diffable: new identities are inserted,
// persisting ones updated in place, vanished ones deleted.
type KonsistenzregelService struct {
	db       *gorm.DB
	jobs     *JobService
	regeln   []Konsistenzregel
	Toleranz float64
}

func NewKonsistenzregelService(db *gorm.DB, jobs *JobService, toleranz float64) *KonsistenzregelService {
	return &KonsistenzregelService{
		db:       db,
		jobs:     jobs,
		Toleranz: toleranz,
		regeln: []Konsistenzregel{
			&KurzeKanteRegel{MinLaenge: toleranz},
			&KnotenNetzLueckeRegel{MaxAbstand: toleranz},
			&KanteOhneKnotenbezugRegel{MaxAbstand: toleranz},
		},
	}
}

type regelKey struct {
	typ        string
	identitaet string
}

// RunAll evaluates every rule, isolating per-rule failures, and applies the
// three-way diff against the stored violations in one transaction. The full
// current candidate set is computed before any mutation, so a crash mid-run
// cannot drop still-valid records.
func (s *KonsistenzregelService) RunAll(ctx context.Context) (*models.JobExecutionDescription, error) {
	job, err := s.jobs.Begin("KONSISTENZREGELN")
	if err != nil {
		return nil, err
	}
	statistik := konsistenzStatistik{}
	defer func() {
		if err := s.jobs.Complete(job, statistik); err != nil {
			logrus.WithError(err).Error("failed to complete rule check job")
		}
	}()

	index, err := NewNetzIndex(s.db.WithContext(ctx), s.Toleranz)
	if err != nil {
		return job, fmt.Errorf("failed to build network snapshot: %w", err)
	}

	aktuell := make(map[regelKey]VerletzungsKandidat)
	for _, regel := range s.regeln {
		statistik.GepruefteRegeln++
		kandidaten, err := pruefeIsoliert(regel, index)
		if err != nil {
			statistik.FehlgeschlageneRegeln++
			logrus.WithError(err).WithField("regel", regel.Typ()).Error("rule evaluation failed")
			continue
		}
		for _, k := range kandidaten {
			aktuell[regelKey{typ: regel.Typ(), identitaet: k.Identitaet}] = k
		}
	}

	var bestehend []models.KonsistenzregelVerletzung
	if err := s.db.WithContext(ctx).Find(&bestehend).Error; err != nil {
		return job, fmt.Errorf("failed to load existing violations: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gesehen := make(map[regelKey]bool)
		for i := range bestehend {
			v := &bestehend[i]
			key := regelKey{typ: v.RegelTyp, identitaet: v.Identitaet}
			kandidat, nochDa := aktuell[key]
			if !nochDa {
				if err := tx.Delete(&models.KonsistenzregelVerletzung{}, v.ID).Error; err != nil {
					return err
				}
				statistik.Geloest++
				continue
			}
			gesehen[key] = true
			statistik.Bestehend++
			err := tx.Model(&models.KonsistenzregelVerletzung{}).
				Where("id = ?", v.ID).
				Updates(map[string]interface{}{
					"beschreibung": kandidat.Beschreibung,
					"geprueft_am":  now,
				}).Error
			if err != nil {
				return err
			}
		}
		for key, kandidat := range aktuell {
			if gesehen[key] {
				continue
			}
			neu := models.KonsistenzregelVerletzung{
				RegelTyp:     key.typ,
				Identitaet:   key.identitaet,
				Titel:        kandidat.Titel,
				Beschreibung: kandidat.Beschreibung,
				Punkt1:       models.EncodeGeom(kandidat.Punkt1),
				ErkanntAm:    now,
				GeprueftAm:   now,
			}
			if kandidat.Punkt2 != nil {
				neu.Punkt2 = models.EncodeGeom(*kandidat.Punkt2)
			}
			if err := tx.Create(&neu).Error; err != nil {
				return err
			}
			statistik.Neu++
		}
		return nil
	})
	if err != nil {
		return job, fmt.Errorf("failed to apply violation diff: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"neu": statistik.Neu, "bestehend": statistik.Bestehend, "geloest": statistik.Geloest,
	}).Info("rule check finished")
	return job, nil
}

// pruefeIsoliert shields the engine from a panicking rule.
func pruefeIsoliert(regel Konsistenzregel, index *NetzIndex) (kandidaten []VerletzungsKandidat, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", regel.Typ(), r)
		}
	}()
	return regel.Pruefe(index)
}

// Verletzungen returns the current violations, optionally filtered by rule
// type.
func (s *KonsistenzregelService) Verletzungen(regelTyp string) ([]models.KonsistenzregelVerletzung, error) {
	query := s.db.Order("regel_typ, identitaet")
	if regelTyp != "" {
		query = query.Where("regel_typ = ?", regelTyp)
	}
	var verletzungen []models.KonsistenzregelVerletzung
	if err := query.Find(&verletzungen).Error; err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}
	return verletzungen, nil
}
