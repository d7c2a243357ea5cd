package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/WPS/radvis-sub019/methods"
	"github.com/WPS/radvis-sub019/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrSessionConflict rejects a second active session per scope.
	ErrSessionConflict = errors.New("an active import session already exists for this organisation and type")
	// ErrNichtBerechtigt rejects operations by anyone but the owning operator.
	ErrNichtBerechtigt = errors.New("session belongs to another operator")
	// ErrUngueltigerUebergang rejects transitions from the wrong state.
	ErrUngueltigerUebergang = errors.New("transition not allowed in current session status")
)

// ManuellerImportNichtMoeglichError rejects a commit while features are still
// unresolved or the session log carries errors.
type ManuellerImportNichtMoeglichError struct {
	SessionID string
	Grund     string
}

func (e *ManuellerImportNichtMoeglichError) Error() string {
	return fmt.Sprintf("session %s cannot be committed: %s", e.SessionID, e.Grund)
}

// ProgressFunc is invoked at configured percent steps while a session
// iterates its feature batch.
type ProgressFunc func(sessionID string, prozent int)

// StartOptions describe one import run.
type StartOptions struct {
	Typ          string
	Organisation string
	Benutzer     string
	Netzklasse   string // NETZKLASSE imports
	Source       FeatureSource
}

// ImportSessionService drives the session state machine:
// RUNNING -> ABGESCHLOSSEN -> COMMITTED, with ABGEBROCHEN on cancel or fetch
// failure. Every transition persists the whole session snapshot.
type ImportSessionService struct {
	db   *gorm.DB
	jobs *JobService

	Toleranz           float64
	MindestMatchAnteil float64
	ProgressSchritt    int
	Parallelitaet      int
	Progress           ProgressFunc

	mu     sync.Mutex
	aktive map[string]context.CancelFunc // org|typ -> cancel of the running phase
}

func NewImportSessionService(db *gorm.DB, jobs *JobService, toleranz float64, mindestMatchAnteil float64, progressSchritt int) *ImportSessionService {
	return &ImportSessionService{
		db:                 db,
		jobs:               jobs,
		Toleranz:           toleranz,
		MindestMatchAnteil: mindestMatchAnteil,
		ProgressSchritt:    progressSchritt,
		Parallelitaet:      4,
		aktive:             make(map[string]context.CancelFunc),
	}
}

func scopeKey(organisation string, typ string) string {
	return organisation + "|" + typ
}

// Start creates a session and processes the source in the background. The
// returned session is already persisted with status RUNNING.
func (s *ImportSessionService) Start(ctx context.Context, opts StartOptions) (*models.ImportSession, error) {
	session, runCtx, err := s.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	go s.run(runCtx, session, opts.Source)
	return session, nil
}

// StartSynchron runs the whole processing phase before returning, used by
// upload-backed imports and tests.
func (s *ImportSessionService) StartSynchron(ctx context.Context, opts StartOptions) (*models.ImportSession, error) {
	session, runCtx, err := s.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.run(runCtx, session, opts.Source)
	return s.Get(session.ID)
}

func (s *ImportSessionService) begin(ctx context.Context, opts StartOptions) (*models.ImportSession, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(opts.Organisation, opts.Typ)
	if _, busy := s.aktive[key]; busy {
		return nil, nil, ErrSessionConflict
	}
	var offene int64
	err := s.db.Model(&models.ImportSession{}).
		Where("organisation = ? AND typ = ? AND status IN ?", opts.Organisation, opts.Typ,
			[]string{models.SessionRunning, models.SessionAbgeschlossen}).
		Count(&offene).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check for active sessions: %w", err)
	}
	if offene > 0 {
		return nil, nil, ErrSessionConflict
	}

	session := &models.ImportSession{
		ID:           uuid.NewString(),
		Typ:          opts.Typ,
		Organisation: opts.Organisation,
		Benutzer:     opts.Benutzer,
		Status:       models.SessionRunning,
		Schritt:      "IMPORT",
		Netzklasse:   opts.Netzklasse,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.Create(session).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.aktive[key] = cancel
	return session, runCtx, nil
}

func (s *ImportSessionService) release(session *models.ImportSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(session.Organisation, session.Typ)
	if cancel, ok := s.aktive[key]; ok {
		cancel()
		delete(s.aktive, key)
	}
}

// logAccumulator funnels parallel per-feature results into one ordered log
// and a consistent unmatched count.
type logAccumulator struct {
	mu          sync.Mutex
	eintraege   []models.ImportLogEintrag
	ohneMatch   int
	fehler      int
	verarbeitet int
	lastProzent int
}

func (a *logAccumulator) append(sessionID string, severity string, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eintraege = append(a.eintraege, models.ImportLogEintrag{
		SessionID: sessionID,
		Severity:  severity,
		Message:   message,
		Zeitpunkt: time.Now().UTC(),
	})
}

// step advances the processed counter and reports whether a progress step
// boundary was crossed.
func (a *logAccumulator) step(total int, schritt int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verarbeitet++
	if total == 0 || schritt <= 0 {
		return 0, false
	}
	prozent := a.verarbeitet * 100 / total
	if prozent >= a.lastProzent+schritt {
		a.lastProzent = prozent - prozent%schritt
		return a.lastProzent, true
	}
	return prozent, false
}

type importStatistik struct {
	Features       int `json:"features"`
	OhneMatch      int `json:"ohne_match"`
	MatchingFehler int `json:"matching_fehler"`
	KantenImIndex  int `json:"kanten_im_index"`
	KnotenImIndex  int `json:"knoten_im_index"`
}

// run executes the RUNNING phase: fetch, match every feature, accumulate the
// log and the unmatched count, then transition to ABGESCHLOSSEN (or
// ABGEBROCHEN on fetch failure / cancellation). Matching itself never touches
// the graph, so aborting at any point leaves no mutation behind.
func (s *ImportSessionService) run(ctx context.Context, session *models.ImportSession, source FeatureSource) {
	defer s.release(session)
	log := logrus.WithFields(logrus.Fields{"session_id": session.ID, "typ": session.Typ})

	job, err := s.jobs.Begin("IMPORT_" + session.Typ)
	if err != nil {
		log.WithError(err).Error("failed to start job tracking")
		s.abort(session, "interner Fehler: "+err.Error())
		return
	}
	statistik := importStatistik{}
	defer func() {
		if err := s.jobs.Complete(job, statistik); err != nil {
			log.WithError(err).Error("failed to complete job tracking")
		}
	}()

	features, err := source.Fetch(ctx)
	if err != nil {
		log.WithError(err).Error("fetch failed")
		s.appendLog(session.ID, models.SeverityError, "Abruf der Quelle fehlgeschlagen: "+err.Error())
		s.abort(session, "fetch failed")
		return
	}
	if err := PersistFetched(s.db, source.Name(), features); err != nil {
		log.WithError(err).Error("failed to persist fetched features")
		s.abort(session, "persist failed")
		return
	}
	statistik.Features = len(features)

	index, err := NewNetzIndex(s.db, s.Toleranz)
	if err != nil {
		log.WithError(err).Error("failed to build network snapshot")
		s.abort(session, "snapshot failed")
		return
	}
	statistik.KantenImIndex = index.AnzahlKanten()
	statistik.KnotenImIndex = index.AnzahlKnoten()
	matcher := NewMatchingService(index, s.Toleranz, s.MindestMatchAnteil)

	acc := &logAccumulator{}
	zuordnungen := make([]models.FeatureZuordnung, len(features))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Parallelitaet)
	for i := range features {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			feature := &features[i]
			bezug, err := matcher.Match(feature)
			if err != nil {
				var matchErr *MatchingError
				if errors.As(err, &matchErr) {
					acc.mu.Lock()
					acc.fehler++
					acc.ohneMatch++
					acc.mu.Unlock()
					acc.append(session.ID, models.SeverityError,
						fmt.Sprintf("Feature %s: %s", feature.TechnID, matchErr.Grund))
					bezug = &methods.Netzbezug{}
				} else {
					return err
				}
			} else if bezug.IsEmpty() {
				acc.mu.Lock()
				acc.ohneMatch++
				acc.mu.Unlock()
				acc.append(session.ID, models.SeverityWarning,
					fmt.Sprintf("Feature %s: kein Netzbezug innerhalb der Toleranz", feature.TechnID))
			}
			payload, _ := json.Marshal(bezug)
			zuordnungen[i] = models.FeatureZuordnung{
				SessionID: session.ID,
				FeatureID: feature.ID,
				Netzbezug: datatypes.JSON(payload),
			}
			if prozent, report := acc.step(len(features), s.ProgressSchritt); report && s.Progress != nil {
				s.Progress(session.ID, prozent)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("session cancelled during matching")
			s.abort(session, "cancelled")
			return
		}
		log.WithError(err).Error("matching aborted")
		s.abort(session, "matching failed")
		return
	}

	statistik.OhneMatch = acc.ohneMatch
	statistik.MatchingFehler = acc.fehler

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for i := range zuordnungen {
			if err := tx.Create(&zuordnungen[i]).Error; err != nil {
				return err
			}
		}
		for i := range acc.eintraege {
			if err := tx.Create(&acc.eintraege[i]).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.ImportSession{}).
			Where("id = ? AND status = ?", session.ID, models.SessionRunning).
			Updates(map[string]interface{}{
				"status":                     models.SessionAbgeschlossen,
				"schritt":                    "REVIEW",
				"anzahl_features_ohne_match": acc.ohneMatch,
			}).Error
	})
	if err != nil {
		log.WithError(err).Error("failed to persist session results")
		s.abort(session, "persist failed")
		return
	}
	log.WithField("ohne_match", acc.ohneMatch).Info("session finished, awaiting review")
}

func (s *ImportSessionService) appendLog(sessionID string, severity string, message string) {
	eintrag := models.ImportLogEintrag{
		SessionID: sessionID,
		Severity:  severity,
		Message:   message,
		Zeitpunkt: time.Now().UTC(),
	}
	if err := s.db.Create(&eintrag).Error; err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("failed to append session log")
	}
}

func (s *ImportSessionService) abort(session *models.ImportSession, grund string) {
	err := s.db.Model(&models.ImportSession{}).
		Where("id = ? AND status IN ?", session.ID,
			[]string{models.SessionRunning, models.SessionAbgeschlossen}).
		Updates(map[string]interface{}{"status": models.SessionAbgebrochen, "grund": grund}).Error
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("failed to abort session")
	}
}

// Get loads one session snapshot.
func (s *ImportSessionService) Get(id string) (*models.ImportSession, error) {
	var session models.ImportSession
	if err := s.db.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// Log returns the session log in emission order.
func (s *ImportSessionService) Log(id string) ([]models.ImportLogEintrag, error) {
	var eintraege []models.ImportLogEintrag
	err := s.db.Where("session_id = ?", id).Order("id asc").Find(&eintraege).Error
	return eintraege, err
}

// Zuordnungen returns the per-feature outcomes in insertion order.
func (s *ImportSessionService) Zuordnungen(id string) ([]models.FeatureZuordnung, error) {
	var zuordnungen []models.FeatureZuordnung
	err := s.db.Where("session_id = ?", id).Order("id asc").Find(&zuordnungen).Error
	return zuordnungen, err
}

func (s *ImportSessionService) authorized(session *models.ImportSession, benutzer string) error {
	if session.Benutzer != benutzer {
		return ErrNichtBerechtigt
	}
	return nil
}

// Cancel aborts a non-terminal session. Matching has no graph side effects,
// so cancelling never leaves partial mutation.
func (s *ImportSessionService) Cancel(id string, benutzer string) error {
	session, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.authorized(session, benutzer); err != nil {
		return err
	}
	if session.IsTerminal() {
		return ErrUngueltigerUebergang
	}
	s.release(session)
	s.abort(session, "cancelled by operator")
	return nil
}

// ManuellerNetzbezug supplies or corrects the Netzbezug of one pending
// feature assignment during review.
func (s *ImportSessionService) ManuellerNetzbezug(id string, benutzer string, zuordnungID int64, bezug *methods.Netzbezug) error {
	session, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.authorized(session, benutzer); err != nil {
		return err
	}
	if session.Status != models.SessionAbgeschlossen {
		return ErrUngueltigerUebergang
	}
	if bezug.IsEmpty() {
		return fmt.Errorf("manual Netzbezug must not be empty")
	}
	payload, err := json.Marshal(bezug)
	if err != nil {
		return fmt.Errorf("unencodable Netzbezug: %w", err)
	}
	result := s.db.Model(&models.FeatureZuordnung{}).
		Where("id = ? AND session_id = ?", zuordnungID, id).
		Updates(map[string]interface{}{"netzbezug": datatypes.JSON(payload), "manuell": true})
	if result.Error != nil {
		return fmt.Errorf("failed to store manual Netzbezug: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	s.appendLog(id, models.SeverityInfo, fmt.Sprintf("Netzbezug der Zuordnung %d manuell gesetzt", zuordnungID))
	return nil
}

// Commit applies all resolved Netzbezuege to the graph in one transaction.
// Preconditions (no unresolved feature, no error entry in the log) are
// re-checked inside the transaction; on violation the session stays
// ABGESCHLOSSEN and nothing is written.
func (s *ImportSessionService) Commit(ctx context.Context, id string, benutzer string) error {
	session, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.authorized(session, benutzer); err != nil {
		return err
	}
	if session.Status != models.SessionAbgeschlossen {
		return ErrUngueltigerUebergang
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fehlerEintraege int64
		err := tx.Model(&models.ImportLogEintrag{}).
			Where("session_id = ? AND severity = ?", id, models.SeverityError).
			Count(&fehlerEintraege).Error
		if err != nil {
			return err
		}
		if fehlerEintraege > 0 {
			return &ManuellerImportNichtMoeglichError{SessionID: id, Grund: "session log contains errors"}
		}

		var zuordnungen []models.FeatureZuordnung
		if err := tx.Where("session_id = ?", id).Order("id asc").Find(&zuordnungen).Error; err != nil {
			return err
		}
		var offen int
		for i := range zuordnungen {
			var bezug methods.Netzbezug
			if err := json.Unmarshal(zuordnungen[i].Netzbezug, &bezug); err != nil || bezug.IsEmpty() {
				offen++
			}
		}
		if offen > 0 {
			return &ManuellerImportNichtMoeglichError{
				SessionID: id,
				Grund:     fmt.Sprintf("%d features without resolved Netzbezug", offen),
			}
		}

		if err := s.applyToGraph(tx, session, zuordnungen); err != nil {
			return err
		}

		result := tx.Model(&models.ImportSession{}).
			Where("id = ? AND status = ?", id, models.SessionAbgeschlossen).
			Updates(map[string]interface{}{"status": models.SessionCommitted, "schritt": "DONE"})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// lost a race against a concurrent transition
			return ErrUngueltigerUebergang
		}
		return nil
	})
}

// applyToGraph performs the type-specific graph mutation of a commit.
func (s *ImportSessionService) applyToGraph(tx *gorm.DB, session *models.ImportSession, zuordnungen []models.FeatureZuordnung) error {
	switch session.Typ {
	case models.ImportTypNetzklasse:
		for i := range zuordnungen {
			var bezug methods.Netzbezug
			if err := json.Unmarshal(zuordnungen[i].Netzbezug, &bezug); err != nil {
				return err
			}
			for _, abschnitt := range bezug.KantenBezuege {
				err := tx.Model(&models.Kante{}).
					Where("id = ?", abschnitt.KanteID).
					Update("netzklasse", session.Netzklasse).Error
				if err != nil {
					return fmt.Errorf("failed to assign netzklasse to kante %d: %w", abschnitt.KanteID, err)
				}
			}
		}
	case models.ImportTypMassnahme:
		for i := range zuordnungen {
			var feature models.ImportedFeature
			if err := tx.First(&feature, zuordnungen[i].FeatureID).Error; err != nil {
				return err
			}
			bezeichnung := feature.TechnID
			var attrs map[string]interface{}
			if json.Unmarshal(feature.Attribute, &attrs) == nil {
				if v, ok := attrs["bezeichnung"].(string); ok && v != "" {
					bezeichnung = v
				}
			}
			massnahme := models.Massnahme{
				Bezeichnung:  bezeichnung,
				Organisation: session.Organisation,
				SessionID:    session.ID,
				Netzbezug:    zuordnungen[i].Netzbezug,
				CreatedAt:    time.Now().UTC(),
			}
			if err := tx.Create(&massnahme).Error; err != nil {
				return fmt.Errorf("failed to create massnahme for feature %d: %w", feature.ID, err)
			}
		}
	default:
		return fmt.Errorf("unknown import type %s", session.Typ)
	}
	return nil
}
