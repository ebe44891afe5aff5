package regimen

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artcohort/artcohort/internal/domain/cohort"
	"github.com/artcohort/artcohort/internal/platform/emr"
	"github.com/artcohort/artcohort/pkg/patientset"
)

// Service classifies patients into mutually-adjusted regimen lineage tiers
// and owns the two processed-fact write-backs.
type Service struct {
	repo    Repository
	cohorts *cohort.Service
	log     zerolog.Logger
}

func NewService(repo Repository, cohorts *cohort.Service, log zerolog.Logger) *Service {
	return &Service{repo: repo, cohorts: cohorts, log: log}
}

// Lineage is one classification run over a period. Each set already excludes
// patients reclassified by a later tier and the five-way exit union.
// Ambiguities counts patients skipped because an exclusion lookup returned
// no current regimen state.
type Lineage struct {
	OriginalFirstLine  patientset.Set
	AlternateFirstLine patientset.Set
	SecondLine         patientset.Set
	ThirdLine          patientset.Set
	Ambiguities        int
}

// Classify builds all four lineage tiers for the period.
//
// The substitution and switch tiers exclude patients by their current regimen
// state, looked up globally rather than scoped to the period. A later
// out-of-period event therefore removes a patient from an in-period tier.
// That matches the counting behavior these reports have always had, so it is
// kept and pinned by tests rather than corrected.
func (s *Service) Classify(ctx context.Context, p emr.Period) (*Lineage, error) {
	l := &Lineage{}

	started, err := s.patientsWith(ctx, ChangeStart,
		[]RegimenType{RegimenFirstLine, RegimenFDC, RegimenChildARV}, p)
	if err != nil {
		return nil, err
	}

	substituted, err := s.patientsWith(ctx, ChangeSubstitute,
		[]RegimenType{RegimenFirstLine, RegimenFDC}, p)
	if err != nil {
		return nil, err
	}
	alternate, err := s.excludeByCurrentState(ctx, substituted, l, ChangeSwitch)
	if err != nil {
		return nil, err
	}

	switched, err := s.patientsWith(ctx, ChangeSwitch,
		[]RegimenType{RegimenSecondLine, RegimenFDC}, p)
	if err != nil {
		return nil, err
	}
	second, err := s.excludeByCurrentState(ctx, switched, l, ChangeSubstitute)
	if err != nil {
		return nil, err
	}

	third, err := s.patientsWith(ctx, ChangeSwitch, []RegimenType{RegimenThirdLine}, p)
	if err != nil {
		return nil, err
	}

	stillOriginal, err := s.excludeByCurrentState(ctx, started, l, ChangeSubstitute, ChangeSwitch)
	if err != nil {
		return nil, err
	}
	original := stillOriginal.Diff(alternate, second)

	report := s.cohorts.Report(p)
	exited, err := report.ExitedPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("exit union: %w", err)
	}
	l.Ambiguities += report.Ambiguities()

	l.OriginalFirstLine = original.Diff(exited)
	l.AlternateFirstLine = alternate.Diff(exited)
	l.SecondLine = second.Diff(exited)
	l.ThirdLine = third.Diff(exited)
	return l, nil
}

func (s *Service) patientsWith(ctx context.Context, change ChangeType, tiers []RegimenType, p emr.Period) (patientset.Set, error) {
	recs, err := s.repo.ByChangeTypeAndRegimenTypes(ctx, change, tiers, p)
	if err != nil {
		return nil, fmt.Errorf("records %s: %w", change, err)
	}
	set := patientset.New()
	for _, rec := range recs {
		set.Add(rec.PatientID)
	}
	return set, nil
}

// excludeByCurrentState keeps patients whose globally most recent record does
// not carry one of the excluding change types. Patients with no current state
// at all are skipped and counted as ambiguities; the legacy code dereferenced
// the missing record and crashed.
func (s *Service) excludeByCurrentState(ctx context.Context, candidates patientset.Set, l *Lineage, excluding ...ChangeType) (patientset.Set, error) {
	kept := patientset.New()
	for _, id := range candidates.IDs() {
		last, err := s.repo.LastByPatient(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("last record for %s: %w", id, err)
		}
		if last == nil {
			l.Ambiguities++
			s.log.Warn().
				Str("patient_id", id.String()).
				Msg("skipping patient with no current regimen state")
			continue
		}
		excluded := false
		for _, t := range excluding {
			if last.ChangeType == t {
				excluded = true
				break
			}
		}
		if !excluded {
			kept.Add(id)
		}
	}
	return kept, nil
}

func validateOrder(rec *DrugOrderProcessed) error {
	if rec.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if rec.DrugOrderID == uuid.Nil {
		return fmt.Errorf("drug_order_id is required")
	}
	if !rec.ChangeType.Valid() {
		return fmt.Errorf("invalid regimen_change_type: %s", rec.ChangeType)
	}
	if !rec.TypeOfRegimen.Valid() {
		return fmt.Errorf("invalid type_of_regimen: %s", rec.TypeOfRegimen)
	}
	if rec.StartDate.IsZero() {
		return fmt.Errorf("start_date is required")
	}
	if rec.CreatedDate.IsZero() {
		rec.CreatedDate = rec.StartDate
	}
	return nil
}

func validateObs(rec *DrugObsProcessed) error {
	if rec.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if rec.ObsID == uuid.Nil {
		return fmt.Errorf("obs_id is required")
	}
	if !rec.ChangeType.Valid() {
		return fmt.Errorf("invalid regimen_change_type: %s", rec.ChangeType)
	}
	if !rec.TypeOfRegimen.Valid() {
		return fmt.Errorf("invalid type_of_regimen: %s", rec.TypeOfRegimen)
	}
	return nil
}

// SaveDrugOrderProcessed validates and upserts one processed drug order.
func (s *Service) SaveDrugOrderProcessed(ctx context.Context, rec *DrugOrderProcessed) error {
	if err := validateOrder(rec); err != nil {
		return err
	}
	return s.repo.SaveDrugOrderProcessed(ctx, rec)
}

// SaveDrugObsProcessed validates and upserts one processed drug observation.
func (s *Service) SaveDrugObsProcessed(ctx context.Context, rec *DrugObsProcessed) error {
	if err := validateObs(rec); err != nil {
		return err
	}
	return s.repo.SaveDrugObsProcessed(ctx, rec)
}

// SaveVisitRecords upserts a processed drug order and its paired observation
// in one transaction. Reconciliation emits both facts for a visit together;
// committing them together keeps a crash from leaving the visit half-written.
func (s *Service) SaveVisitRecords(ctx context.Context, order *DrugOrderProcessed, obs *DrugObsProcessed) error {
	if err := validateOrder(order); err != nil {
		return fmt.Errorf("drug_order: %w", err)
	}
	if err := validateObs(obs); err != nil {
		return fmt.Errorf("drug_obs: %w", err)
	}
	return s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveDrugOrderProcessed(ctx, order); err != nil {
			return err
		}
		return s.repo.SaveDrugObsProcessed(ctx, obs)
	})
}

// RecordsForPatient returns the patient's full processed-order lineage.
func (s *Service) RecordsForPatient(ctx context.Context, patientID uuid.UUID) ([]DrugOrderProcessed, error) {
	return s.repo.ByPatient(ctx, patientID)
}
