package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobExecutionDescription records one run of any batch job (import or rule
// check). EndTime stays nil while the job is running. Statistik is an opaque,
// job-type-specific counter set.
type JobExecutionDescription struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	JobTyp    string         `gorm:"type:varchar(100);index" json:"job_typ"`
	StartZeit time.Time      `json:"start_zeit"`
	EndZeit   *time.Time     `json:"end_zeit"`
	Statistik datatypes.JSON `json:"statistik"`
}
