package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/WPS/radvis-sub019/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// JobService tracks start/end timestamps and statistics for every run of a
// batch job. The statistics payload is opaque to the tracker.
type JobService struct {
	db *gorm.DB
}

func NewJobService(db *gorm.DB) *JobService {
	return &JobService{db: db}
}

// Begin persists a new execution record with the start time set and no end
// time.
func (s *JobService) Begin(jobTyp string) (*models.JobExecutionDescription, error) {
	desc := &models.JobExecutionDescription{
		JobTyp:    jobTyp,
		StartZeit: time.Now().UTC(),
	}
	if err := s.db.Create(desc).Error; err != nil {
		return nil, fmt.Errorf("failed to create job execution: %w", err)
	}
	logrus.WithFields(logrus.Fields{"job_typ": jobTyp, "execution_id": desc.ID}).Info("job started")
	return desc, nil
}

// Complete sets the end time and statistics in a single write. Calling it on
// an already-completed execution is a no-op, so a supervisor retrying after a
// crash cannot corrupt the record.
func (s *JobService) Complete(desc *models.JobExecutionDescription, statistik interface{}) error {
	if desc.EndZeit != nil {
		return nil
	}
	payload, err := json.Marshal(statistik)
	if err != nil {
		return fmt.Errorf("failed to encode job statistics: %w", err)
	}
	now := time.Now().UTC()
	result := s.db.Model(&models.JobExecutionDescription{}).
		Where("id = ? AND end_zeit IS NULL", desc.ID).
		Updates(map[string]interface{}{"end_zeit": now, "statistik": payload})
	if result.Error != nil {
		return fmt.Errorf("failed to complete job execution: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		desc.EndZeit = &now
		desc.Statistik = payload
	}
	logrus.WithFields(logrus.Fields{"job_typ": desc.JobTyp, "execution_id": desc.ID}).Info("job completed")
	return nil
}

// History returns the executions of one job type, newest first.
func (s *JobService) History(jobTyp string, limit int) ([]models.JobExecutionDescription, error) {
	if limit <= 0 {
		limit = 50
	}
	var descs []models.JobExecutionDescription
	err := s.db.Where("job_typ = ?", jobTyp).Order("start_zeit desc").Limit(limit).Find(&descs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load job history: %w", err)
	}
	return descs, nil
}
