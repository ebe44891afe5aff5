package emr

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// storePG reads the host EMR's clinical schema through pgx. Every statement is
// parameterized; no request-derived value is ever spliced into SQL text.
type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const enrollmentCols = `id, patient_id, program_id, date_enrolled, date_completed`

func scanEnrollments(rows pgx.Rows) ([]ProgramEnrollment, error) {
	defer rows.Close()
	var out []ProgramEnrollment
	for rows.Next() {
		var e ProgramEnrollment
		if err := rows.Scan(&e.ID, &e.PatientID, &e.ProgramID, &e.DateEnrolled, &e.DateCompleted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *storePG) ProgramEnrollments(ctx context.Context, programID uuid.UUID, p Period) ([]ProgramEnrollment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+enrollmentCols+`
		FROM patient_program
		WHERE program_id = $1
		  AND date_enrolled BETWEEN $2 AND $3
		  AND voided = FALSE`,
		programID, p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	return scanEnrollments(rows)
}

func (s *storePG) ProgramEnrollmentsCompleted(ctx context.Context, programID uuid.UUID, p Period) ([]ProgramEnrollment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+enrollmentCols+`
		FROM patient_program
		WHERE program_id = $1
		  AND date_completed IS NOT NULL
		  AND date_completed BETWEEN $2 AND $3
		  AND voided = FALSE`,
		programID, p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	return scanEnrollments(rows)
}

func (s *storePG) ActiveEnrollmentsForPatients(ctx context.Context, programID uuid.UUID, patients []uuid.UUID) ([]ProgramEnrollment, error) {
	if len(patients) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+enrollmentCols+`
		FROM patient_program
		WHERE program_id = $1
		  AND date_completed IS NULL
		  AND patient_id = ANY($2)
		  AND voided = FALSE`,
		programID, patients,
	)
	if err != nil {
		return nil, err
	}
	return scanEnrollments(rows)
}

const obsCols = `id, person_id, concept_id, value_coded, value_numeric, value_text, obs_datetime`

func scanObservations(rows pgx.Rows) ([]Observation, error) {
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PersonID, &o.ConceptID, &o.ValueCoded, &o.ValueNumeric, &o.ValueText, &o.ObsDatetime); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *storePG) ObservationsByConcepts(ctx context.Context, valueCoded []uuid.UUID, p Period) ([]Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+obsCols+`
		FROM obs
		WHERE value_coded = ANY($1)
		  AND obs_datetime BETWEEN $2 AND $3
		  AND voided = FALSE`,
		valueCoded, p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	return scanObservations(rows)
}

func (s *storePG) ObservationsByConceptsForPerson(ctx context.Context, personID uuid.UUID, valueCoded []uuid.UUID, from, to time.Time) ([]Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+obsCols+`
		FROM obs
		WHERE person_id = $1
		  AND value_coded = ANY($2)
		  AND obs_datetime BETWEEN $3 AND $4
		  AND voided = FALSE`,
		personID, valueCoded, from, to,
	)
	if err != nil {
		return nil, err
	}
	return scanObservations(rows)
}

func (s *storePG) ObservationsByConceptAndMinValue(ctx context.Context, conceptID uuid.UUID, min float64, p Period) ([]Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+obsCols+`
		FROM obs
		WHERE concept_id = $1
		  AND value_numeric >= $2
		  AND obs_datetime BETWEEN $3 AND $4
		  AND voided = FALSE`,
		conceptID, min, p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	return scanObservations(rows)
}

func (s *storePG) LastOutcomeObservation(ctx context.Context, patientID uuid.UUID, p Period) (*Observation, error) {
	var o Observation
	err := s.pool.QueryRow(ctx, `
		SELECT `+obsCols+`
		FROM obs
		WHERE person_id = $1
		  AND value_coded = ANY($2)
		  AND obs_datetime BETWEEN $3 AND $4
		  AND voided = FALSE
		ORDER BY obs_datetime DESC
		LIMIT 1`,
		patientID, OutcomeConcepts(), p.Start, p.End,
	).Scan(&o.ID, &o.PersonID, &o.ConceptID, &o.ValueCoded, &o.ValueNumeric, &o.ValueText, &o.ObsDatetime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *storePG) VisitsByPatient(ctx context.Context, patientID uuid.UUID) ([]Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, start_datetime, stop_datetime
		FROM visit
		WHERE patient_id = $1
		  AND voided = FALSE
		ORDER BY start_datetime ASC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.PatientID, &v.StartDatetime, &v.StopDatetime); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *storePG) PatientsVisitedIn(ctx context.Context, p Period) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT patient_id
		FROM visit
		WHERE start_datetime BETWEEN $1 AND $2
		  AND voided = FALSE`,
		p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *storePG) DiedPatients(ctx context.Context, p Period) ([]Patient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, gender, birthdate, dead, death_date
		FROM person
		WHERE dead = TRUE
		  AND death_date BETWEEN $1 AND $2
		  AND voided = FALSE`,
		p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Patient
	for rows.Next() {
		var pt Patient
		if err := rows.Scan(&pt.ID, &pt.Gender, &pt.Birthdate, &pt.Dead, &pt.DeathDate); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *storePG) PatientsByGender(ctx context.Context, gender string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id
		FROM person
		WHERE gender = $1
		  AND voided = FALSE`,
		gender,
	)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *storePG) PatientsByAge(ctx context.Context, f AgeFilter, at time.Time) ([]uuid.UUID, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	// The operator is whitelist-validated above; the value still binds as a
	// parameter.
	rows, err := s.pool.Query(ctx, `
		SELECT id
		FROM person
		WHERE birthdate IS NOT NULL
		  AND voided = FALSE
		  AND EXTRACT(YEAR FROM age($2::timestamptz, birthdate)) `+f.Op+` $1`,
		f.Years, at,
	)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
