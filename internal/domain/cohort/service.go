package cohort

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artcohort/artcohort/internal/platform/emr"
	"github.com/artcohort/artcohort/pkg/patientset"
)

// Service builds named patient sets from the clinical store. It holds no
// state between calls; per-request memoization lives on Report.
type Service struct {
	store emr.Store
	log   zerolog.Logger
}

func NewService(store emr.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Report is one report invocation over a fixed period. The five-way exit
// union recurs across most derived cohorts, so it is computed once per
// Report and reused. Reports are not safe for concurrent use; build one
// per request.
type Report struct {
	svc    *Service
	period emr.Period

	exited      patientset.Set
	ambiguities int
}

func (s *Service) Report(p emr.Period) *Report {
	return &Report{svc: s, period: p}
}

// Ambiguities returns the number of patients skipped because their records
// could not be classified cleanly (for example two concurrently active
// enrollments in the same program).
func (r *Report) Ambiguities() int {
	return r.ambiguities
}

func (r *Report) EnrolledInProgram(ctx context.Context, programID uuid.UUID) (patientset.Set, error) {
	enrollments, err := r.svc.store.ProgramEnrollments(ctx, programID, r.period)
	if err != nil {
		return nil, fmt.Errorf("program enrollments: %w", err)
	}
	set := patientset.New()
	for _, e := range enrollments {
		set.Add(e.PatientID)
	}
	return set, nil
}

func (r *Report) TransferredIn(ctx context.Context) (patientset.Set, error) {
	return r.observedWith(ctx, emr.TransferInConcepts())
}

func (r *Report) TransferredOut(ctx context.Context) (patientset.Set, error) {
	return r.observedWith(ctx, []uuid.UUID{emr.ConceptTransferredOut})
}

func (r *Report) LostToFollowUp(ctx context.Context) (patientset.Set, error) {
	return r.observedWith(ctx, []uuid.UUID{emr.ConceptLostToFollowUp})
}

func (r *Report) observedWith(ctx context.Context, concepts []uuid.UUID) (patientset.Set, error) {
	obs, err := r.svc.store.ObservationsByConcepts(ctx, concepts, r.period)
	if err != nil {
		return nil, fmt.Errorf("observations by concepts: %w", err)
	}
	set := patientset.New()
	for _, o := range obs {
		set.Add(o.PersonID)
	}
	return set, nil
}

// Stopped returns patients whose enrollment in the program was completed in
// the period and whose completion is not preceded by a qualifying outcome
// observation. A died/LTFU/transferred-out observation dated before the
// completion already accounts for the exit, so those patients are excluded
// here and counted under the respective outcome set instead.
func (r *Report) Stopped(ctx context.Context, programID uuid.UUID) (patientset.Set, error) {
	enrollments, err := r.svc.store.ProgramEnrollmentsCompleted(ctx, programID, r.period)
	if err != nil {
		return nil, fmt.Errorf("completed enrollments: %w", err)
	}
	set := patientset.New()
	for _, e := range enrollments {
		if e.DateCompleted == nil {
			continue
		}
		outcome, err := r.svc.store.LastOutcomeObservation(ctx, e.PatientID, r.period)
		if err != nil {
			return nil, fmt.Errorf("last outcome observation: %w", err)
		}
		if outcome == nil || !outcome.ObsDatetime.Before(*e.DateCompleted) {
			set.Add(e.PatientID)
		}
	}
	return set, nil
}

// Died returns patients who died in the period while still formally active
// in the program. Patients with more than one active enrollment in the same
// program cannot be attributed cleanly and are skipped and counted as
// ambiguities.
func (r *Report) Died(ctx context.Context, programID uuid.UUID) (patientset.Set, error) {
	dead, err := r.svc.store.DiedPatients(ctx, r.period)
	if err != nil {
		return nil, fmt.Errorf("died patients: %w", err)
	}
	if len(dead) == 0 {
		return patientset.New(), nil
	}
	ids := make([]uuid.UUID, 0, len(dead))
	for _, p := range dead {
		ids = append(ids, p.ID)
	}
	active, err := r.svc.store.ActiveEnrollmentsForPatients(ctx, programID, ids)
	if err != nil {
		return nil, fmt.Errorf("active enrollments: %w", err)
	}
	perPatient := make(map[uuid.UUID]int)
	for _, e := range active {
		perPatient[e.PatientID]++
	}
	set := patientset.New()
	for id, n := range perPatient {
		if n > 1 {
			r.ambiguities++
			r.svc.log.Warn().
				Str("patient_id", id.String()).
				Int("active_enrollments", n).
				Msg("skipping patient with concurrent active enrollments")
			continue
		}
		set.Add(id)
	}
	return set, nil
}

// TotalCohort is the ART enrollment set for the period minus patients
// transferred out.
func (r *Report) TotalCohort(ctx context.Context) (patientset.Set, error) {
	enrolled, err := r.EnrolledInProgram(ctx, emr.ProgramART)
	if err != nil {
		return nil, err
	}
	out, err := r.TransferredOut(ctx)
	if err != nil {
		return nil, err
	}
	return enrolled.Diff(out), nil
}

// ExitedPatients is the union of the five exit categories: ART stopped, ART
// died, lost to follow-up, transferred out, and HIV program stopped. It is
// computed once per Report.
func (r *Report) ExitedPatients(ctx context.Context) (patientset.Set, error) {
	if r.exited != nil {
		return r.exited, nil
	}
	artStopped, err := r.Stopped(ctx, emr.ProgramART)
	if err != nil {
		return nil, err
	}
	artDied, err := r.Died(ctx, emr.ProgramART)
	if err != nil {
		return nil, err
	}
	ltfu, err := r.LostToFollowUp(ctx)
	if err != nil {
		return nil, err
	}
	out, err := r.TransferredOut(ctx)
	if err != nil {
		return nil, err
	}
	hivStopped, err := r.Stopped(ctx, emr.ProgramHIV)
	if err != nil {
		return nil, err
	}
	r.exited = artStopped.Union(artDied, ltfu, out, hivStopped)
	return r.exited, nil
}

// Cd4AtLeast returns patients with a CD4 count of at least min cells/mm3
// recorded in the period.
func (r *Report) Cd4AtLeast(ctx context.Context, min float64) (patientset.Set, error) {
	obs, err := r.svc.store.ObservationsByConceptAndMinValue(ctx, emr.ConceptCD4Count, min, r.period)
	if err != nil {
		return nil, fmt.Errorf("cd4 observations: %w", err)
	}
	set := patientset.New()
	for _, o := range obs {
		set.Add(o.PersonID)
	}
	return set, nil
}

func (r *Report) AliveAndOnArt(ctx context.Context) (patientset.Set, error) {
	total, err := r.TotalCohort(ctx)
	if err != nil {
		return nil, err
	}
	exited, err := r.ExitedPatients(ctx)
	if err != nil {
		return nil, err
	}
	return total.Diff(exited), nil
}

// ByGender intersects the alive-and-on-ART cohort with patients of the
// given gender ("M" or "F").
func (r *Report) ByGender(ctx context.Context, gender string) (patientset.Set, error) {
	if gender != "M" && gender != "F" {
		return nil, fmt.Errorf("invalid gender %q", gender)
	}
	alive, err := r.AliveAndOnArt(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := r.svc.store.PatientsByGender(ctx, gender)
	if err != nil {
		return nil, fmt.Errorf("patients by gender: %w", err)
	}
	return alive.Intersect(patientset.New(ids...)), nil
}

// ByAge intersects the alive-and-on-ART cohort with patients matching the
// age filter, evaluated against age at the period's end boundary.
func (r *Report) ByAge(ctx context.Context, f emr.AgeFilter) (patientset.Set, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	alive, err := r.AliveAndOnArt(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := r.svc.store.PatientsByAge(ctx, f, r.period.End)
	if err != nil {
		return nil, fmt.Errorf("patients by age: %w", err)
	}
	return alive.Intersect(patientset.New(ids...)), nil
}
