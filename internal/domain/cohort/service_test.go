package cohort

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artcohort/artcohort/internal/platform/emr"
	"github.com/artcohort/artcohort/pkg/patientset"
)

// -- Mock Store --

type mockStore struct {
	enrollments []emr.ProgramEnrollment
	obs         []emr.Observation
	visits      []emr.Visit
	patients    []emr.Patient

	outcomeLookups int
}

func (m *mockStore) ProgramEnrollments(_ context.Context, programID uuid.UUID, p emr.Period) ([]emr.ProgramEnrollment, error) {
	var out []emr.ProgramEnrollment
	for _, e := range m.enrollments {
		if e.ProgramID == programID && p.Contains(e.DateEnrolled) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) ProgramEnrollmentsCompleted(_ context.Context, programID uuid.UUID, p emr.Period) ([]emr.ProgramEnrollment, error) {
	var out []emr.ProgramEnrollment
	for _, e := range m.enrollments {
		if e.ProgramID == programID && e.DateCompleted != nil && p.Contains(*e.DateCompleted) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) ActiveEnrollmentsForPatients(_ context.Context, programID uuid.UUID, patients []uuid.UUID) ([]emr.ProgramEnrollment, error) {
	want := make(map[uuid.UUID]bool)
	for _, id := range patients {
		want[id] = true
	}
	var out []emr.ProgramEnrollment
	for _, e := range m.enrollments {
		if e.ProgramID == programID && e.DateCompleted == nil && want[e.PatientID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) ObservationsByConcepts(_ context.Context, valueCoded []uuid.UUID, p emr.Period) ([]emr.Observation, error) {
	var out []emr.Observation
	for _, o := range m.obs {
		if o.ValueCoded == nil || !p.Contains(o.ObsDatetime) {
			continue
		}
		for _, c := range valueCoded {
			if *o.ValueCoded == c {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) ObservationsByConceptsForPerson(_ context.Context, personID uuid.UUID, valueCoded []uuid.UUID, from, to time.Time) ([]emr.Observation, error) {
	var out []emr.Observation
	for _, o := range m.obs {
		if o.PersonID != personID || o.ValueCoded == nil {
			continue
		}
		if o.ObsDatetime.Before(from) || o.ObsDatetime.After(to) {
			continue
		}
		for _, c := range valueCoded {
			if *o.ValueCoded == c {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) ObservationsByConceptAndMinValue(_ context.Context, conceptID uuid.UUID, min float64, p emr.Period) ([]emr.Observation, error) {
	var out []emr.Observation
	for _, o := range m.obs {
		if o.ConceptID == conceptID && o.ValueNumeric != nil && *o.ValueNumeric >= min && p.Contains(o.ObsDatetime) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockStore) LastOutcomeObservation(_ context.Context, patientID uuid.UUID, p emr.Period) (*emr.Observation, error) {
	m.outcomeLookups++
	var last *emr.Observation
	for i, o := range m.obs {
		if o.PersonID != patientID || o.ValueCoded == nil || !p.Contains(o.ObsDatetime) {
			continue
		}
		outcome := false
		for _, c := range emr.OutcomeConcepts() {
			if *o.ValueCoded == c {
				outcome = true
				break
			}
		}
		if !outcome {
			continue
		}
		if last == nil || o.ObsDatetime.After(last.ObsDatetime) {
			last = &m.obs[i]
		}
	}
	return last, nil
}

func (m *mockStore) VisitsByPatient(_ context.Context, patientID uuid.UUID) ([]emr.Visit, error) {
	var out []emr.Visit
	for _, v := range m.visits {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDatetime.Before(out[j].StartDatetime) })
	return out, nil
}

func (m *mockStore) PatientsVisitedIn(_ context.Context, p emr.Period) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, v := range m.visits {
		if p.Contains(v.StartDatetime) && !seen[v.PatientID] {
			seen[v.PatientID] = true
			out = append(out, v.PatientID)
		}
	}
	return out, nil
}

func (m *mockStore) DiedPatients(_ context.Context, p emr.Period) ([]emr.Patient, error) {
	var out []emr.Patient
	for _, pt := range m.patients {
		if pt.Dead && pt.DeathDate != nil && p.Contains(*pt.DeathDate) {
			out = append(out, pt)
		}
	}
	return out, nil
}

func (m *mockStore) PatientsByGender(_ context.Context, gender string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, pt := range m.patients {
		if pt.Gender == gender {
			out = append(out, pt.ID)
		}
	}
	return out, nil
}

func (m *mockStore) PatientsByAge(_ context.Context, f emr.AgeFilter, at time.Time) ([]uuid.UUID, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, pt := range m.patients {
		if f.Matches(emr.AgeAt(pt.Birthdate, at)) {
			out = append(out, pt.ID)
		}
	}
	return out, nil
}

// -- Helpers --

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func codedObs(person, value uuid.UUID, at time.Time) emr.Observation {
	return emr.Observation{ID: uuid.New(), PersonID: person, ValueCoded: &value, ObsDatetime: at}
}

func mustParse(t *testing.T, start, end string) emr.Period {
	t.Helper()
	p, err := emr.ParsePeriod(start, end)
	if err != nil {
		t.Fatalf("ParsePeriod: %v", err)
	}
	return p
}

func newService(store emr.Store) *Service {
	return NewService(store, zerolog.Nop())
}

func sameSet(a, b patientset.Set) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, id := range a.IDs() {
		if !b.Contains(id) {
			return false
		}
	}
	return true
}

// -- Tests --

func TestActivePatientInTotalAndAlive(t *testing.T) {
	patientP := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patientP, ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 1)},
		},
		patients: []emr.Patient{
			{ID: patientP, Gender: "M", Birthdate: date(1990, 1, 1)},
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	ctx := context.Background()

	total, err := r.TotalCohort(ctx)
	if err != nil {
		t.Fatalf("TotalCohort: %v", err)
	}
	if !total.Contains(patientP) {
		t.Error("enrolled patient missing from total cohort")
	}
	alive, err := r.AliveAndOnArt(ctx)
	if err != nil {
		t.Fatalf("AliveAndOnArt: %v", err)
	}
	if !alive.Contains(patientP) {
		t.Error("patient with no exit events missing from alive-and-on-ART")
	}
}

func TestCompletionPrecededByTransferOutNotStopped(t *testing.T) {
	patientQ := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patientQ, ProgramID: emr.ProgramART,
				DateEnrolled: date(2020, 1, 1), DateCompleted: datePtr(2020, 1, 15)},
		},
		obs: []emr.Observation{
			codedObs(patientQ, emr.ConceptTransferredOut, date(2020, 1, 10)),
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	ctx := context.Background()

	stopped, err := r.Stopped(ctx, emr.ProgramART)
	if err != nil {
		t.Fatalf("Stopped: %v", err)
	}
	if stopped.Contains(patientQ) {
		t.Error("completion preceded by transfer-out should not count as stopped")
	}
	out, err := r.TransferredOut(ctx)
	if err != nil {
		t.Fatalf("TransferredOut: %v", err)
	}
	if !out.Contains(patientQ) {
		t.Error("patient missing from transferred-out set")
	}
}

func TestCompletionWithoutOutcomeIsStopped(t *testing.T) {
	patient := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patient, ProgramID: emr.ProgramART,
				DateEnrolled: date(2019, 6, 1), DateCompleted: datePtr(2020, 1, 20)},
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	stopped, err := r.Stopped(context.Background(), emr.ProgramART)
	if err != nil {
		t.Fatalf("Stopped: %v", err)
	}
	if !stopped.Contains(patient) {
		t.Error("unexplained completion should count as stopped")
	}
}

func TestDiedRequiresActiveEnrollment(t *testing.T) {
	active := uuid.New()
	completed := uuid.New()
	dd := date(2020, 1, 12)
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: active, ProgramID: emr.ProgramART, DateEnrolled: date(2019, 1, 1)},
			{ID: uuid.New(), PatientID: completed, ProgramID: emr.ProgramART,
				DateEnrolled: date(2019, 1, 1), DateCompleted: datePtr(2019, 12, 1)},
		},
		patients: []emr.Patient{
			{ID: active, Gender: "F", Birthdate: date(1985, 3, 1), Dead: true, DeathDate: &dd},
			{ID: completed, Gender: "M", Birthdate: date(1980, 7, 1), Dead: true, DeathDate: &dd},
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	died, err := r.Died(context.Background(), emr.ProgramART)
	if err != nil {
		t.Fatalf("Died: %v", err)
	}
	if !died.Contains(active) {
		t.Error("death during active enrollment should be counted")
	}
	if died.Contains(completed) {
		t.Error("death after completed enrollment should not be counted")
	}
}

func TestDiedSkipsConcurrentEnrollments(t *testing.T) {
	patient := uuid.New()
	dd := date(2020, 1, 12)
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patient, ProgramID: emr.ProgramART, DateEnrolled: date(2019, 1, 1)},
			{ID: uuid.New(), PatientID: patient, ProgramID: emr.ProgramART, DateEnrolled: date(2019, 6, 1)},
		},
		patients: []emr.Patient{
			{ID: patient, Gender: "M", Birthdate: date(1985, 3, 1), Dead: true, DeathDate: &dd},
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	died, err := r.Died(context.Background(), emr.ProgramART)
	if err != nil {
		t.Fatalf("Died: %v", err)
	}
	if died.Contains(patient) {
		t.Error("patient with concurrent active enrollments should be skipped")
	}
	if r.Ambiguities() != 1 {
		t.Errorf("ambiguities = %d, want 1", r.Ambiguities())
	}
}

func TestAliveSubsetOfTotal(t *testing.T) {
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
	}
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: ids[0], ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 2)},
			{ID: uuid.New(), PatientID: ids[1], ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 5)},
			{ID: uuid.New(), PatientID: ids[2], ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 7),
				DateCompleted: datePtr(2020, 1, 25)},
			{ID: uuid.New(), PatientID: ids[3], ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 9)},
		},
		obs: []emr.Observation{
			codedObs(ids[1], emr.ConceptLostToFollowUp, date(2020, 1, 20)),
			codedObs(ids[4], emr.ConceptTransferredOut, date(2020, 1, 21)),
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	ctx := context.Background()

	total, err := r.TotalCohort(ctx)
	if err != nil {
		t.Fatalf("TotalCohort: %v", err)
	}
	alive, err := r.AliveAndOnArt(ctx)
	if err != nil {
		t.Fatalf("AliveAndOnArt: %v", err)
	}
	for _, id := range alive.IDs() {
		if !total.Contains(id) {
			t.Errorf("alive cohort contains %s not in total cohort", id)
		}
	}
	// ids[4] transferred out with no enrollment in range: absent everywhere.
	if total.Contains(ids[4]) || alive.Contains(ids[4]) {
		t.Error("exit-only patient should never enter the cohort")
	}
}

func TestIdempotence(t *testing.T) {
	patient := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patient, ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 2)},
		},
		obs: []emr.Observation{
			codedObs(patient, emr.ConceptLostToFollowUp, date(2020, 2, 10)),
		},
	}
	svc := newService(store)
	p := mustParse(t, "2020-01-01", "2020-01-31")
	ctx := context.Background()

	first, err := svc.Report(p).AliveAndOnArt(ctx)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := svc.Report(p).AliveAndOnArt(ctx)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !sameSet(first, second) {
		t.Error("identical arguments over unchanged data should yield identical sets")
	}
}

func TestExitUnionMonotonicity(t *testing.T) {
	p1 := uuid.New()
	p2 := uuid.New()
	store := &mockStore{
		obs: []emr.Observation{
			codedObs(p1, emr.ConceptLostToFollowUp, date(2020, 1, 10)),
			codedObs(p2, emr.ConceptTransferredOut, date(2020, 2, 10)),
		},
	}
	svc := newService(store)
	ctx := context.Background()

	narrow, err := svc.Report(mustParse(t, "2020-01-01", "2020-01-31")).ExitedPatients(ctx)
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}
	wide, err := svc.Report(mustParse(t, "2020-01-01", "2020-02-29")).ExitedPatients(ctx)
	if err != nil {
		t.Fatalf("wide: %v", err)
	}
	for _, id := range narrow.IDs() {
		if !wide.Contains(id) {
			t.Errorf("widening the period dropped %s from the exit union", id)
		}
	}
	if wide.Len() < narrow.Len() {
		t.Error("exit union shrank as the period grew")
	}
}

func TestEndBoundaryInclusive(t *testing.T) {
	patient := uuid.New()
	store := &mockStore{
		obs: []emr.Observation{
			codedObs(patient, emr.ConceptTransferredOut,
				time.Date(2020, 1, 31, 23, 59, 59, 0, time.UTC)),
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	out, err := r.TransferredOut(context.Background())
	if err != nil {
		t.Fatalf("TransferredOut: %v", err)
	}
	if !out.Contains(patient) {
		t.Error("event at end-date 23:59:59 should be inside the period")
	}
}

func TestExitUnionMemoizedPerReport(t *testing.T) {
	patient := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patient, ProgramID: emr.ProgramART,
				DateEnrolled: date(2019, 6, 1), DateCompleted: datePtr(2020, 1, 20)},
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	ctx := context.Background()

	if _, err := r.ExitedPatients(ctx); err != nil {
		t.Fatalf("first ExitedPatients: %v", err)
	}
	lookups := store.outcomeLookups
	if _, err := r.ExitedPatients(ctx); err != nil {
		t.Fatalf("second ExitedPatients: %v", err)
	}
	if store.outcomeLookups != lookups {
		t.Error("second ExitedPatients call on the same report hit the store again")
	}
}

func numericObs(person uuid.UUID, concept uuid.UUID, value float64, at time.Time) emr.Observation {
	return emr.Observation{ID: uuid.New(), PersonID: person, ConceptID: concept, ValueNumeric: &value, ObsDatetime: at}
}

func TestCd4AtLeastFiltersByValueAndPeriod(t *testing.T) {
	high := uuid.New()
	low := uuid.New()
	late := uuid.New()
	store := &mockStore{
		obs: []emr.Observation{
			numericObs(high, emr.ConceptCD4Count, 350, date(2020, 1, 10)),
			numericObs(low, emr.ConceptCD4Count, 120, date(2020, 1, 12)),
			numericObs(late, emr.ConceptCD4Count, 500, date(2020, 3, 1)),
		},
	}
	r := newService(store).Report(mustParse(t, "2020-01-01", "2020-01-31"))
	set, err := r.Cd4AtLeast(context.Background(), 200)
	if err != nil {
		t.Fatalf("Cd4AtLeast: %v", err)
	}
	if !set.Contains(high) {
		t.Error("patient with CD4 350 in period missing")
	}
	if set.Contains(low) {
		t.Error("patient below the threshold should be excluded")
	}
	if set.Contains(late) {
		t.Error("out-of-period result should be excluded")
	}
}

func TestByGenderAndByAge(t *testing.T) {
	male := uuid.New()
	female := uuid.New()
	child := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: male, ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 2)},
			{ID: uuid.New(), PatientID: female, ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 3)},
			{ID: uuid.New(), PatientID: child, ProgramID: emr.ProgramART, DateEnrolled: date(2020, 1, 4)},
		},
		patients: []emr.Patient{
			{ID: male, Gender: "M", Birthdate: date(1990, 1, 1)},
			{ID: female, Gender: "F", Birthdate: date(1988, 1, 1)},
			{ID: child, Gender: "M", Birthdate: date(2016, 1, 1)},
		},
	}
	svc := newService(store)
	p := mustParse(t, "2020-01-01", "2020-01-31")
	ctx := context.Background()

	men, err := svc.Report(p).ByGender(ctx, "M")
	if err != nil {
		t.Fatalf("ByGender: %v", err)
	}
	if !men.Contains(male) || men.Contains(female) {
		t.Error("gender filter misapplied")
	}

	adults, err := svc.Report(p).ByAge(ctx, emr.AgeFilter{Op: ">=", Years: 15})
	if err != nil {
		t.Fatalf("ByAge: %v", err)
	}
	if !adults.Contains(male) || adults.Contains(child) {
		t.Error("age filter misapplied")
	}

	if _, err := svc.Report(p).ByAge(ctx, emr.AgeFilter{Op: "<>", Years: 15}); err == nil {
		t.Error("non-whitelisted operator should be rejected")
	}
}
