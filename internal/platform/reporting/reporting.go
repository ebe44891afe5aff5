package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/artcohort/artcohort/internal/platform/auth"
	"github.com/artcohort/artcohort/internal/platform/emr"
)

// IndicatorDefinition is one named count metric. SQL uses @name placeholders
// bound through pgx named arguments; the only text ever spliced in is the
// whitelist-validated age operator at the {age_op} token.
type IndicatorDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// IndicatorReport is the result of one evaluation.
type IndicatorReport struct {
	IndicatorID string            `json:"indicator_id"`
	Name        string            `json:"name"`
	GeneratedAt time.Time         `json:"generated_at"`
	Count       int64             `json:"count"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

const (
	demographicJoin = ` INNER JOIN person p ON p.id = sub.person_id
		AND p.voided = FALSE
		AND p.gender = @gender
		AND EXTRACT(YEAR FROM age(sub.at, p.birthdate)) {age_op} @age_years`
)

// demographic selects the standard gender/age/period parameter set.
var demographic = []string{"gender", "age_op", "age_years", "start", "end"}

// Indicators is the catalogue of exposed count metrics. Each entry counts
// distinct patients; a report row is never a raw event count.
var Indicators = []IndicatorDefinition{
	{
		ID:          "patient-count",
		Name:        "Registered Patients",
		Description: "All non-voided persons known to the facility",
		SQL:         `SELECT COUNT(*) FROM person WHERE voided = FALSE`,
		Parameters:  []string{},
	},
	{
		ID:          "new-hiv-enrollments",
		Name:        "New Patients Enrolled in HIV Care",
		Description: "Patients first enrolled in the HIV program during the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT pp.patient_id AS person_id, pp.date_enrolled AS at
			FROM patient_program pp
			WHERE pp.program_id = @program_hiv
			  AND pp.date_enrolled BETWEEN @start AND @end
			  AND pp.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "new-art-starts",
		Name:        "New Patients Started on ART",
		Description: "Patients enrolled in the ART program during the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT pp.patient_id AS person_id, pp.date_enrolled AS at
			FROM patient_program pp
			WHERE pp.program_id = @program_art
			  AND pp.date_enrolled BETWEEN @start AND @end
			  AND pp.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "art-transfer-ins",
		Name:        "Patients on ART Transferred In",
		Description: "Patients with a transfer-in observation during the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT o.person_id, o.obs_datetime AS at
			FROM obs o
			WHERE o.value_coded IN (@transfer_in_a, @transfer_in_b)
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "deaths-reported",
		Name:        "Deaths Reported",
		Description: "Patients whose death fell in the period",
		SQL: `SELECT COUNT(DISTINCT p.id)
			FROM person p
			WHERE p.dead = TRUE
			  AND p.death_date BETWEEN @start AND @end
			  AND p.voided = FALSE
			  AND p.gender = @gender
			  AND EXTRACT(YEAR FROM age(p.death_date, p.birthdate)) {age_op} @age_years`,
		Parameters: demographic,
	},
	{
		ID:          "transferred-out-under-arv",
		Name:        "Patients Transferred Out Under ARV",
		Description: "Patients with a transferred-out observation during the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT o.person_id, o.obs_datetime AS at
			FROM obs o
			WHERE o.value_coded = @transferred_out
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "lost-to-follow-up",
		Name:        "Patients Lost to Follow-Up",
		Description: "Patients with a lost-to-follow-up observation during the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT o.person_id, o.obs_datetime AS at
			FROM obs o
			WHERE o.value_coded = @lost_to_follow_up
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "art-stopped",
		Name:        "Patients Stopped ART",
		Description: "ART enrollments completed during the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT pp.patient_id AS person_id, pp.date_completed AS at
			FROM patient_program pp
			WHERE pp.program_id = @program_art
			  AND pp.date_completed BETWEEN @start AND @end
			  AND pp.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "patients-on-art",
		Name:        "Patients on ART",
		Description: "ART enrollments active at the end of the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT pp.patient_id AS person_id, pp.date_enrolled AS at
			FROM patient_program pp
			WHERE pp.program_id = @program_art
			  AND pp.date_enrolled <= @end
			  AND (pp.date_completed IS NULL OR pp.date_completed > @end)
			  AND pp.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "patients-visited",
		Name:        "Patients Visited",
		Description: "Patients with a visit starting in the period",
		SQL: `SELECT COUNT(DISTINCT v.patient_id)
			FROM visit v
			WHERE v.start_datetime BETWEEN @start AND @end
			  AND v.voided = FALSE`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "on-original-first-line",
		Name:        "Patients on Original First Line Regimen",
		Description: "First-line starts recorded during the period",
		SQL: `SELECT COUNT(DISTINCT d.patient_id)
			FROM drug_order_processed d
			WHERE d.regimen_change_type = 'Start'
			  AND d.type_of_regimen IN ('FirstLine', 'FDC', 'ChildARV')
			  AND d.start_date BETWEEN @start AND @end`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "substituted-first-line",
		Name:        "Patients Substituted Within First Line",
		Description: "First-line substitutions recorded during the period",
		SQL: `SELECT COUNT(DISTINCT d.patient_id)
			FROM drug_order_processed d
			WHERE d.regimen_change_type = 'Substitute'
			  AND d.type_of_regimen IN ('FirstLine', 'FDC')
			  AND d.start_date BETWEEN @start AND @end`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "switched-second-line",
		Name:        "Patients Switched to Second Line",
		Description: "Second-line switches recorded during the period",
		SQL: `SELECT COUNT(DISTINCT d.patient_id)
			FROM drug_order_processed d
			WHERE d.regimen_change_type = 'Switch'
			  AND d.type_of_regimen IN ('SecondLine', 'FDC')
			  AND d.start_date BETWEEN @start AND @end`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "switched-third-line",
		Name:        "Patients Switched to Third Line",
		Description: "Third-line switches recorded during the period",
		SQL: `SELECT COUNT(DISTINCT d.patient_id)
			FROM drug_order_processed d
			WHERE d.regimen_change_type = 'Switch'
			  AND d.type_of_regimen = 'ThirdLine'
			  AND d.start_date BETWEEN @start AND @end`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "cd4-tested",
		Name:        "Patients Tested for CD4 Count",
		Description: "Patients with a CD4 result in the period",
		SQL: `SELECT COUNT(DISTINCT sub.person_id) FROM (
			SELECT o.person_id, o.obs_datetime AS at
			FROM obs o
			WHERE o.concept_id = @cd4_count
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE
		) sub` + demographicJoin,
		Parameters: demographic,
	},
	{
		ID:          "cd4-above-200",
		Name:        "Patients With CD4 of 200 or More",
		Description: "Patients whose CD4 result in the period was at least 200 cells/mm3",
		SQL: `SELECT COUNT(DISTINCT o.person_id)
			FROM obs o
			WHERE o.concept_id = @cd4_count
			  AND o.value_numeric >= 200
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "performance-scale-a",
		Name:        "Patients on Performance Scale A",
		Description: "Patients whose latest performance-scale observation in the period is scale A",
		SQL: `SELECT COUNT(DISTINCT o.person_id)
			FROM obs o
			WHERE o.value_coded = @performance_a
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "performance-scale-b",
		Name:        "Patients on Performance Scale B",
		Description: "Patients whose latest performance-scale observation in the period is scale B",
		SQL: `SELECT COUNT(DISTINCT o.person_id)
			FROM obs o
			WHERE o.value_coded = @performance_b
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "performance-scale-c",
		Name:        "Patients on Performance Scale C",
		Description: "Patients whose latest performance-scale observation in the period is scale C",
		SQL: `SELECT COUNT(DISTINCT o.person_id)
			FROM obs o
			WHERE o.value_coded = @performance_c
			  AND o.obs_datetime BETWEEN @start AND @end
			  AND o.voided = FALSE`,
		Parameters: []string{"start", "end"},
	},
	{
		ID:          "on-drug-regimen",
		Name:        "Patients on a Named Drug Regimen",
		Description: "Patients whose processed orders in the period carry the exact drug regimen",
		SQL: `SELECT COUNT(DISTINCT d.patient_id)
			FROM drug_order_processed d
			WHERE d.drug_regimen = @drug_regimen
			  AND d.start_date BETWEEN @start AND @end`,
		Parameters: []string{"drug_regimen", "start", "end"},
	},
	{
		ID:          "stock-dispensed",
		Name:        "Drug Stock Dispensed",
		Description: "Processed orders in the period matching the exact drug and dose regimen",
		SQL: `SELECT COUNT(*)
			FROM drug_order_processed d
			WHERE d.drug_regimen = @drug_regimen
			  AND d.dose_regimen = @dose_regimen
			  AND d.start_date BETWEEN @start AND @end`,
		Parameters: []string{"drug_regimen", "dose_regimen", "start", "end"},
	},
}

// FindIndicator looks up a catalogue entry by id.
func FindIndicator(id string) *IndicatorDefinition {
	for i := range Indicators {
		if Indicators[i].ID == id {
			return &Indicators[i]
		}
	}
	return nil
}

// Handler serves the indicator catalogue.
type Handler struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewHandler(pool *pgxpool.Pool, log zerolog.Logger) *Handler {
	return &Handler{pool: pool, log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole("admin", "physician", "data-clerk"))
	g.GET("/indicators", h.ListIndicators)
	g.GET("/indicators/:id", h.EvaluateIndicator)
}

func (h *Handler) ListIndicators(c echo.Context) error {
	return c.JSON(http.StatusOK, Indicators)
}

// EvaluateIndicator executes one indicator with bound parameters. A failed
// evaluation reports the indicator as unavailable instead of returning a
// silent wrong number.
func (h *Handler) EvaluateIndicator(c echo.Context) error {
	def := FindIndicator(c.Param("id"))
	if def == nil {
		return echo.NewHTTPError(http.StatusNotFound, "indicator not found")
	}

	sql, args, supplied, err := bindParameters(def, c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	count, err := h.executeCount(c.Request().Context(), sql, args)
	if err != nil {
		h.log.Error().Err(err).Str("indicator", def.ID).Msg("indicator evaluation failed")
		return echo.NewHTTPError(http.StatusInternalServerError,
			fmt.Sprintf("indicator %s unavailable", def.ID))
	}

	return c.JSON(http.StatusOK, IndicatorReport{
		IndicatorID: def.ID,
		Name:        def.Name,
		GeneratedAt: time.Now().UTC(),
		Count:       count,
		Parameters:  supplied,
	})
}

// bindParameters validates the request's query parameters against the
// indicator's declared parameter list and produces the final SQL and named
// arguments. Concept and program identifiers are constants, never request
// input.
func bindParameters(def *IndicatorDefinition, c echo.Context) (string, pgx.NamedArgs, map[string]string, error) {
	args := pgx.NamedArgs{
		"program_art":       emr.ProgramART,
		"program_hiv":       emr.ProgramHIV,
		"transfer_in_a":     emr.ConceptTransferInA,
		"transfer_in_b":     emr.ConceptTransferInB,
		"transferred_out":   emr.ConceptTransferredOut,
		"lost_to_follow_up": emr.ConceptLostToFollowUp,
		"cd4_count":         emr.ConceptCD4Count,
		"performance_a":     emr.ConceptPerformanceScaleA,
		"performance_b":     emr.ConceptPerformanceScaleB,
		"performance_c":     emr.ConceptPerformanceScaleC,
	}
	supplied := make(map[string]string)
	sql := def.SQL

	needsPeriod := false
	var ageOp string
	for _, name := range def.Parameters {
		value := c.QueryParam(name)
		switch name {
		case "start", "end":
			needsPeriod = true
			continue
		case "gender":
			if value != "M" && value != "F" {
				return "", nil, nil, fmt.Errorf("gender must be M or F")
			}
			args["gender"] = value
		case "age_op":
			ageOp = value
			continue
		case "age_years":
			years, err := strconv.Atoi(value)
			if err != nil {
				return "", nil, nil, fmt.Errorf("invalid age_years %q", value)
			}
			f := emr.AgeFilter{Op: ageOp, Years: years}
			if err := f.Validate(); err != nil {
				return "", nil, nil, err
			}
			sql = strings.ReplaceAll(sql, "{age_op}", f.Op)
			args["age_years"] = f.Years
			supplied["age_op"] = f.Op
		case "drug_regimen", "dose_regimen":
			if value == "" {
				return "", nil, nil, fmt.Errorf("%s is required", name)
			}
			args[name] = value
		default:
			return "", nil, nil, fmt.Errorf("unknown parameter %s", name)
		}
		supplied[name] = value
	}

	if needsPeriod {
		p, err := emr.ParsePeriod(c.QueryParam("start"), c.QueryParam("end"))
		if err != nil {
			return "", nil, nil, err
		}
		args["start"] = p.Start
		args["end"] = p.End
		supplied["start"] = c.QueryParam("start")
		supplied["end"] = c.QueryParam("end")
	}
	return sql, args, supplied, nil
}

func (h *Handler) executeCount(ctx context.Context, sql string, args pgx.NamedArgs) (int64, error) {
	var count int64
	if err := h.pool.QueryRow(ctx, sql, args).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
