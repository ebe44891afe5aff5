package regimen

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType is the kind of regimen-change event a processed drug order
// represents.
type ChangeType string

const (
	ChangeStart      ChangeType = "Start"
	ChangeRestart    ChangeType = "Restart"
	ChangeSubstitute ChangeType = "Substitute"
	ChangeSwitch     ChangeType = "Switch"
)

func (t ChangeType) Valid() bool {
	switch t {
	case ChangeStart, ChangeRestart, ChangeSubstitute, ChangeSwitch:
		return true
	}
	return false
}

// RegimenType is the lineage tier of the regimen named by a processed order.
type RegimenType string

const (
	RegimenFirstLine  RegimenType = "FirstLine"
	RegimenFDC        RegimenType = "FDC"
	RegimenSecondLine RegimenType = "SecondLine"
	RegimenThirdLine  RegimenType = "ThirdLine"
	RegimenChildARV   RegimenType = "ChildARV"
)

func (t RegimenType) Valid() bool {
	switch t {
	case RegimenFirstLine, RegimenFDC, RegimenSecondLine, RegimenThirdLine, RegimenChildARV:
		return true
	}
	return false
}

// DrugOrderProcessed is one step in a patient's regimen lineage, written back
// by reconciliation as a materialized fact. Records are never deleted; a
// superseded record gets its DiscontinuedDate set. The most recent record per
// patient by CreatedDate is the patient's current regimen state.
type DrugOrderProcessed struct {
	ID               uuid.UUID   `json:"id"`
	PatientID        uuid.UUID   `json:"patient_id"`
	DrugOrderID      uuid.UUID   `json:"drug_order_id"`
	VisitID          *uuid.UUID  `json:"visit_id,omitempty"`
	StartDate        time.Time   `json:"start_date"`
	DiscontinuedDate *time.Time  `json:"discontinued_date,omitempty"`
	ChangeType       ChangeType  `json:"regimen_change_type"`
	TypeOfRegimen    RegimenType `json:"type_of_regimen"`
	DrugRegimen      string      `json:"drug_regimen"`
	DoseRegimen      string      `json:"dose_regimen"`
	CreatedDate      time.Time   `json:"created_date"`
}

// DrugObsProcessed is the observation-side counterpart of DrugOrderProcessed,
// produced when regimen facts are reconciled from coded observations instead
// of drug orders.
type DrugObsProcessed struct {
	ID            uuid.UUID   `json:"id"`
	PatientID     uuid.UUID   `json:"patient_id"`
	ObsID         uuid.UUID   `json:"obs_id"`
	VisitID       *uuid.UUID  `json:"visit_id,omitempty"`
	ChangeType    ChangeType  `json:"regimen_change_type"`
	TypeOfRegimen RegimenType `json:"type_of_regimen"`
	DrugRegimen   string      `json:"drug_regimen"`
	DoseRegimen   string      `json:"dose_regimen"`
	CreatedDate   time.Time   `json:"created_date"`
}
