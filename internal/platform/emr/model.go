package emr

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the engine's read-only view of a person in the host EMR.
type Patient struct {
	ID        uuid.UUID  `json:"id"`
	Gender    string     `json:"gender"`
	Birthdate time.Time  `json:"birthdate"`
	Dead      bool       `json:"dead"`
	DeathDate *time.Time `json:"death_date,omitempty"`
}

// ProgramEnrollment is one patient-program record. A nil DateCompleted means
// the enrollment is still active.
type ProgramEnrollment struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ProgramID     uuid.UUID  `json:"program_id"`
	DateEnrolled  time.Time  `json:"date_enrolled"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
}

// Active reports whether the enrollment has no completion date.
func (e ProgramEnrollment) Active() bool {
	return e.DateCompleted == nil
}

// Observation is a coded or numeric clinical observation. Voided observations
// never leave the store layer.
type Observation struct {
	ID           uuid.UUID  `json:"id"`
	PersonID     uuid.UUID  `json:"person_id"`
	ConceptID    uuid.UUID  `json:"concept_id"`
	ValueCoded   *uuid.UUID `json:"value_coded,omitempty"`
	ValueNumeric *float64   `json:"value_numeric,omitempty"`
	ValueText    *string    `json:"value_text,omitempty"`
	ObsDatetime  time.Time  `json:"obs_datetime"`
}

// Visit is one clinic visit. A nil StopDatetime means the visit is still open.
type Visit struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	StartDatetime time.Time  `json:"start_datetime"`
	StopDatetime  *time.Time `json:"stop_datetime,omitempty"`
}
