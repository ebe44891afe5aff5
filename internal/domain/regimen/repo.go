package regimen

import (
	"context"

	"github.com/google/uuid"

	"github.com/artcohort/artcohort/internal/platform/emr"
)

// Repository is the store for processed regimen facts. Reads exclude nothing;
// processed records carry no voided flag. Both Save operations are upserts
// scoped to one record, keyed on the source order/observation id.
type Repository interface {
	ByPatient(ctx context.Context, patientID uuid.UUID) ([]DrugOrderProcessed, error)
	ByVisit(ctx context.Context, visitID uuid.UUID) ([]DrugOrderProcessed, error)

	// LastByPatient returns the patient's most recent record by CreatedDate,
	// or nil when the patient has none.
	LastByPatient(ctx context.Context, patientID uuid.UUID) (*DrugOrderProcessed, error)

	// ByChangeTypeAndRegimenTypes returns records with the given change type
	// and one of the given regimen tiers whose StartDate falls in the period.
	ByChangeTypeAndRegimenTypes(ctx context.Context, change ChangeType, tiers []RegimenType, p emr.Period) ([]DrugOrderProcessed, error)

	SaveDrugOrderProcessed(ctx context.Context, rec *DrugOrderProcessed) error
	SaveDrugObsProcessed(ctx context.Context, rec *DrugObsProcessed) error

	// InTx runs fn with every repository call in it routed through one
	// transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
