package regimen

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artcohort/artcohort/internal/platform/db"
	"github.com/artcohort/artcohort/internal/platform/emr"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

const orderCols = `id, patient_id, drug_order_id, visit_id, start_date, discontinued_date,
	regimen_change_type, type_of_regimen, drug_regimen, dose_regimen, created_date`

func scanOrders(rows pgx.Rows) ([]DrugOrderProcessed, error) {
	defer rows.Close()
	var out []DrugOrderProcessed
	for rows.Next() {
		var rec DrugOrderProcessed
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.DrugOrderID, &rec.VisitID,
			&rec.StartDate, &rec.DiscontinuedDate, &rec.ChangeType, &rec.TypeOfRegimen,
			&rec.DrugRegimen, &rec.DoseRegimen, &rec.CreatedDate); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repoPG) ByPatient(ctx context.Context, patientID uuid.UUID) ([]DrugOrderProcessed, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+`
		FROM drug_order_processed
		WHERE patient_id = $1
		ORDER BY created_date ASC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *repoPG) ByVisit(ctx context.Context, visitID uuid.UUID) ([]DrugOrderProcessed, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+`
		FROM drug_order_processed
		WHERE visit_id = $1
		ORDER BY created_date ASC`,
		visitID,
	)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *repoPG) LastByPatient(ctx context.Context, patientID uuid.UUID) (*DrugOrderProcessed, error) {
	var rec DrugOrderProcessed
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+orderCols+`
		FROM drug_order_processed
		WHERE patient_id = $1
		ORDER BY created_date DESC
		LIMIT 1`,
		patientID,
	).Scan(&rec.ID, &rec.PatientID, &rec.DrugOrderID, &rec.VisitID,
		&rec.StartDate, &rec.DiscontinuedDate, &rec.ChangeType, &rec.TypeOfRegimen,
		&rec.DrugRegimen, &rec.DoseRegimen, &rec.CreatedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) ByChangeTypeAndRegimenTypes(ctx context.Context, change ChangeType, tiers []RegimenType, p emr.Period) ([]DrugOrderProcessed, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+`
		FROM drug_order_processed
		WHERE regimen_change_type = $1
		  AND type_of_regimen = ANY($2)
		  AND start_date BETWEEN $3 AND $4
		ORDER BY start_date ASC`,
		change, tiers, p.Start, p.End,
	)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *repoPG) SaveDrugOrderProcessed(ctx context.Context, rec *DrugOrderProcessed) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug_order_processed (
			id, patient_id, drug_order_id, visit_id, start_date, discontinued_date,
			regimen_change_type, type_of_regimen, drug_regimen, dose_regimen, created_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (drug_order_id) DO UPDATE SET
			visit_id=EXCLUDED.visit_id,
			start_date=EXCLUDED.start_date,
			discontinued_date=EXCLUDED.discontinued_date,
			regimen_change_type=EXCLUDED.regimen_change_type,
			type_of_regimen=EXCLUDED.type_of_regimen,
			drug_regimen=EXCLUDED.drug_regimen,
			dose_regimen=EXCLUDED.dose_regimen`,
		rec.ID, rec.PatientID, rec.DrugOrderID, rec.VisitID, rec.StartDate, rec.DiscontinuedDate,
		rec.ChangeType, rec.TypeOfRegimen, rec.DrugRegimen, rec.DoseRegimen, rec.CreatedDate,
	)
	return err
}

func (r *repoPG) SaveDrugObsProcessed(ctx context.Context, rec *DrugObsProcessed) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug_obs_processed (
			id, patient_id, obs_id, visit_id,
			regimen_change_type, type_of_regimen, drug_regimen, dose_regimen, created_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (obs_id) DO UPDATE SET
			visit_id=EXCLUDED.visit_id,
			regimen_change_type=EXCLUDED.regimen_change_type,
			type_of_regimen=EXCLUDED.type_of_regimen,
			drug_regimen=EXCLUDED.drug_regimen,
			dose_regimen=EXCLUDED.dose_regimen`,
		rec.ID, rec.PatientID, rec.ObsID, rec.VisitID,
		rec.ChangeType, rec.TypeOfRegimen, rec.DrugRegimen, rec.DoseRegimen, rec.CreatedDate,
	)
	return err
}
