package experiments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/promptlab/backend/internal/database"
	"github.com/promptlab/backend/internal/models"
)

// ErrNotFound is returned when no experiment has the requested id.
var ErrNotFound = errors.New("experiment not found")

const DefaultListLimit = 10

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DefaultName labels an unnamed experiment with its creation time.
func DefaultName(t time.Time) string {
	return "New Experiment " + t.Format("2006-01-02 15:04:05")
}

// ── Writes ──────────────────────────────────────────────

// Save writes the experiment row and all of its responses in one
// transaction. A blank name is replaced with DefaultName.
func (s *Store) Save(ctx context.Context, exp *models.Experiment, responses []models.ScoredResponse) error {
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now()
	}
	exp.CreatedAt = normalizeTime(exp.CreatedAt)
	if exp.Name == "" {
		exp.Name = DefaultName(exp.CreatedAt)
	}

	params, err := json.Marshal(exp.ParameterSets)
	if err != nil {
		return fmt.Errorf("encode parameter sets: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO experiments (id, name, prompt, model, parameters, variations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		exp.ID, exp.Name, exp.Prompt, exp.Model, string(params), exp.Variations, exp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	insertResponse := s.db.Rebind(
		`INSERT INTO responses (id, experiment_id, position, temperature, top_p, variation, content, metrics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i := range responses {
		r := &responses[i]
		r.ExperimentID = exp.ID
		r.CreatedAt = normalizeTime(r.CreatedAt)

		metrics, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		_, err = tx.ExecContext(ctx, insertResponse,
			r.ID, exp.ID, i, r.ParameterSet.Temperature, r.ParameterSet.TopP,
			r.VariationIndex, r.Text, string(metrics), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert response %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit experiment: %w", err)
	}
	return nil
}

// Rename changes only the experiment's name and returns the refreshed
// summary.
func (s *Store) Rename(ctx context.Context, id, name string) (*models.Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE experiments SET name = ? WHERE id = ?`), name, id)
	if err != nil {
		return nil, fmt.Errorf("rename experiment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	row := tx.QueryRowContext(ctx, s.db.Rebind(selectExperiment+` WHERE id = ?`), id)
	exp, err := scanExperiment(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rename: %w", err)
	}
	return exp, nil
}

// Delete removes the experiment; its responses go with it through the
// foreign key cascade. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM experiments WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	return nil
}

// ── Reads ───────────────────────────────────────────────

const selectExperiment = `SELECT id, name, prompt, model, parameters, variations, created_at FROM experiments`

// List returns experiment summaries, newest first, without responses.
func (s *Store) List(ctx context.Context, limit int) ([]models.Experiment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(selectExperiment+` ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	experiments := []models.Experiment{}
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, *exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return experiments, nil
}

// Get returns the experiment with its responses in creation order.
func (s *Store) Get(ctx context.Context, id string) (*models.Experiment, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(selectExperiment+` WHERE id = ?`), id)
	exp, err := scanExperiment(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, experiment_id, temperature, top_p, variation, content, metrics, created_at
		 FROM responses WHERE experiment_id = ?
		 ORDER BY created_at ASC, position ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("get responses: %w", err)
	}
	defer rows.Close()

	exp.Responses = []models.ScoredResponse{}
	for rows.Next() {
		var r responseRow
		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.Temperature, &r.TopP,
			&r.Variation, &r.Content, &r.Metrics, dbTime{&r.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		resp, err := r.toModel(exp.Variations)
		if err != nil {
			return nil, err
		}
		exp.Responses = append(exp.Responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get responses: %w", err)
	}
	return exp, nil
}

// ── Row Mapping ─────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

type experimentRow struct {
	ID         string
	Name       sql.NullString
	Prompt     string
	Model      string
	Parameters string
	Variations int
	CreatedAt  time.Time
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var r experimentRow
	err := row.Scan(&r.ID, &r.Name, &r.Prompt, &r.Model, &r.Parameters, &r.Variations, dbTime{&r.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan experiment: %w", err)
	}
	return r.toModel()
}

func (r experimentRow) toModel() (*models.Experiment, error) {
	var sets []models.ParameterSet
	if err := json.Unmarshal([]byte(r.Parameters), &sets); err != nil {
		return nil, fmt.Errorf("decode parameter sets for %s: %w", r.ID, err)
	}
	if sets == nil {
		sets = []models.ParameterSet{}
	}
	return &models.Experiment{
		ID:            r.ID,
		Name:          r.Name.String,
		Prompt:        r.Prompt,
		Model:         r.Model,
		ParameterSets: sets,
		Variations:    r.Variations,
		CreatedAt:     r.CreatedAt,
	}, nil
}

type responseRow struct {
	ID           string
	ExperimentID string
	Temperature  float64
	TopP         float64
	Variation    int
	Content      string
	Metrics      string
	CreatedAt    time.Time
}

func (r responseRow) toModel(variations int) (models.ScoredResponse, error) {
	var m models.QualityMetrics
	if err := json.Unmarshal([]byte(r.Metrics), &m); err != nil {
		return models.ScoredResponse{}, fmt.Errorf("decode metrics for %s: %w", r.ID, err)
	}
	return models.ScoredResponse{
		ID:           r.ID,
		ExperimentID: r.ExperimentID,
		ParameterSet: models.ParameterSet{
			Temperature: r.Temperature,
			TopP:        r.TopP,
			Variations:  variations,
		},
		VariationIndex: r.Variation,
		Text:           r.Content,
		Metrics:        m,
		CreatedAt:      r.CreatedAt,
	}, nil
}

// normalizeTime drops precision neither database keeps.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// dbTime scans timestamps whether the driver hands back a time.Time or the
// text SQLite stored.
type dbTime struct {
	t *time.Time
}

func (d dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d.t = v.UTC()
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		*d.t = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (d dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
