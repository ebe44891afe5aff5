package emr

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the read contract against the host EMR's clinical schema.
// All date-range filters are inclusive of [start 00:00:00, end 23:59:59] and
// all queries exclude voided records. Data-access failures propagate to the
// caller unchanged; the engine never retries.
type Store interface {
	// ProgramEnrollments returns enrollments with dateEnrolled in the period.
	ProgramEnrollments(ctx context.Context, programID uuid.UUID, p Period) ([]ProgramEnrollment, error)
	// ProgramEnrollmentsCompleted returns enrollments with a non-null
	// dateCompleted in the period.
	ProgramEnrollmentsCompleted(ctx context.Context, programID uuid.UUID, p Period) ([]ProgramEnrollment, error)
	// ActiveEnrollmentsForPatients returns still-open enrollments in the
	// program for the given patients.
	ActiveEnrollmentsForPatients(ctx context.Context, programID uuid.UUID, patients []uuid.UUID) ([]ProgramEnrollment, error)

	// ObservationsByConcepts returns observations whose coded value is one of
	// the given concepts, within the period.
	ObservationsByConcepts(ctx context.Context, valueCoded []uuid.UUID, p Period) ([]Observation, error)
	// ObservationsByConceptsForPerson is the per-person variant over an
	// arbitrary datetime window.
	ObservationsByConceptsForPerson(ctx context.Context, personID uuid.UUID, valueCoded []uuid.UUID, from, to time.Time) ([]Observation, error)
	// ObservationsByConceptAndMinValue returns observations of a concept with
	// valueNumeric >= min, within the period.
	ObservationsByConceptAndMinValue(ctx context.Context, conceptID uuid.UUID, min float64, p Period) ([]Observation, error)
	// LastOutcomeObservation returns the most recent died/LTFU/transferred-out
	// coded observation for the patient in the period, or nil when none exists.
	LastOutcomeObservation(ctx context.Context, patientID uuid.UUID, p Period) (*Observation, error)

	// VisitsByPatient returns all visits for the patient ascending by start time.
	VisitsByPatient(ctx context.Context, patientID uuid.UUID) ([]Visit, error)
	// PatientsVisitedIn returns ids of patients with a visit starting in the period.
	PatientsVisitedIn(ctx context.Context, p Period) ([]uuid.UUID, error)

	// DiedPatients returns patients marked dead with deathDate in the period.
	DiedPatients(ctx context.Context, p Period) ([]Patient, error)
	// PatientsByGender returns ids of patients of the given gender ("M"/"F").
	PatientsByGender(ctx context.Context, gender string) ([]uuid.UUID, error)
	// PatientsByAge returns ids of patients whose completed age at the
	// reference date satisfies the filter.
	PatientsByAge(ctx context.Context, f AgeFilter, at time.Time) ([]uuid.UUID, error)
}
