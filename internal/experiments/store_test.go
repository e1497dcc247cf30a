package experiments

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlab/backend/internal/database"
	"github.com/promptlab/backend/internal/generator"
	"github.com/promptlab/backend/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "promptlab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

var baseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// sampleExperiment builds an experiment over a 2x2 grid with one response
// per cell, all created at the given time.
func sampleExperiment(id string, created time.Time) (models.Experiment, []models.ScoredResponse) {
	grid := generator.BuildParameterGrid([]float64{0.2, 0.9}, []float64{0.5, 1}, 1)
	exp := models.Experiment{
		ID:            id,
		Prompt:        "Summarise TDD",
		Model:         models.DefaultModel,
		ParameterSets: grid,
		Variations:    1,
		CreatedAt:     created,
	}
	responses := make([]models.ScoredResponse, 0, len(grid))
	for i, ps := range grid {
		text := fmt.Sprintf("Response %d. Tests come first. Then the code follows.", i)
		responses = append(responses, models.ScoredResponse{
			ID:           fmt.Sprintf("%s-r%d", id, i),
			ParameterSet: ps,
			Text:         text,
			Metrics:      generator.Score(text, exp.Prompt),
			CreatedAt:    created,
		})
	}
	return exp, responses
}

func TestStore_SaveAndGet(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	exp, responses := sampleExperiment("exp-1", baseTime)
	exp.Name = "Baseline"
	require.NoError(t, store.Save(ctx, &exp, responses))

	got, err := store.Get(ctx, "exp-1")
	require.NoError(t, err)

	assert.Equal(t, "Baseline", got.Name)
	assert.Equal(t, exp.Prompt, got.Prompt)
	assert.Equal(t, exp.Model, got.Model)
	assert.Equal(t, exp.ParameterSets, got.ParameterSets)
	assert.Equal(t, 1, got.Variations)
	assert.True(t, baseTime.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)

	require.Len(t, got.Responses, len(responses))
	for i, r := range got.Responses {
		assert.Equal(t, responses[i].ID, r.ID)
		assert.Equal(t, "exp-1", r.ExperimentID)
		assert.Equal(t, responses[i].ParameterSet, r.ParameterSet)
		assert.Equal(t, responses[i].Text, r.Text)
		assert.Equal(t, responses[i].Metrics, r.Metrics)
		assert.Contains(t, got.ParameterSets, r.ParameterSet)
	}
}

func TestStore_DefaultName(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	exp, responses := sampleExperiment("exp-unnamed", baseTime)
	require.NoError(t, store.Save(ctx, &exp, responses))
	assert.Equal(t, "New Experiment 2026-03-14 09:30:00", exp.Name)

	got, err := store.Get(ctx, "exp-unnamed")
	require.NoError(t, err)
	assert.Equal(t, exp.Name, got.Name)
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"old", "middle", "new"} {
		exp, responses := sampleExperiment(id, baseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Save(ctx, &exp, responses))
	}

	all, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "middle", all[1].ID)
	assert.Equal(t, "old", all[2].ID)
	for _, e := range all {
		assert.Empty(t, e.Responses, "summaries carry no responses")
		assert.Len(t, e.ParameterSets, 4)
	}

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_ListEmpty(t *testing.T) {
	store := NewStore(newTestDB(t))

	got, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_ResponseOrdering(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	exp, responses := sampleExperiment("exp-order", baseTime)
	// The last response was produced first; ties keep insertion order.
	responses[3].CreatedAt = baseTime.Add(-time.Second)
	require.NoError(t, store.Save(ctx, &exp, responses))

	got, err := store.Get(ctx, "exp-order")
	require.NoError(t, err)

	ids := make([]string, len(got.Responses))
	for i, r := range got.Responses {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"exp-order-r3", "exp-order-r0", "exp-order-r1", "exp-order-r2"}, ids)
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore(newTestDB(t))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Rename(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	exp, responses := sampleExperiment("exp-rename", baseTime)
	require.NoError(t, store.Save(ctx, &exp, responses))

	renamed, err := store.Rename(ctx, "exp-rename", "Low temperature sweep")
	require.NoError(t, err)
	assert.Equal(t, "Low temperature sweep", renamed.Name)
	assert.Equal(t, exp.Prompt, renamed.Prompt)
	assert.Empty(t, renamed.Responses)

	got, err := store.Get(ctx, "exp-rename")
	require.NoError(t, err)
	assert.Equal(t, "Low temperature sweep", got.Name)
	assert.Len(t, got.Responses, 4, "rename leaves responses untouched")

	_, err = store.Rename(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	exp, responses := sampleExperiment("exp-delete", baseTime)
	require.NoError(t, store.Save(ctx, &exp, responses))

	require.NoError(t, store.Delete(ctx, "exp-delete"))

	_, err := store.Get(ctx, "exp-delete")
	assert.ErrorIs(t, err, ErrNotFound)

	var remaining int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM responses WHERE experiment_id = ?`, "exp-delete").Scan(&remaining))
	assert.Zero(t, remaining)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "exp-delete"))
}

func TestStore_SaveIsAllOrNothing(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	exp, responses := sampleExperiment("exp-partial", baseTime)
	responses[2].ID = responses[1].ID

	err := store.Save(ctx, &exp, responses)
	require.Error(t, err)

	_, err = store.Get(ctx, "exp-partial")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func setupMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &database.DB{DB: db, Dialect: database.Postgres}, mock
}

func TestStore_SaveRollsBackOnResponseFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	exp, responses := sampleExperiment("exp-mock", baseTime)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO experiments .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO responses`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO responses`).
		WillReturnError(errors.New("could not extend file"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), &exp, responses)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert response 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RenameMissingRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE experiments SET name = \$1 WHERE id = \$2`).
		WithArgs("renamed", "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Rename(context.Background(), "nope", "renamed")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBTime_Scan(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 600000000, time.UTC)
	for _, src := range []any{
		want,
		want.In(time.FixedZone("CET", 3600)),
		"2026-01-02 03:04:05.6+00:00",
		[]byte("2026-01-02T03:04:05.6Z"),
		"2026-01-02 03:04:05.6",
	} {
		var got time.Time
		require.NoError(t, dbTime{&got}.Scan(src), "src %v", src)
		assert.True(t, want.Equal(got), "src %v: got %v", src, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	var got time.Time
	assert.Error(t, dbTime{&got}.Scan("yesterday"))
	assert.Error(t, dbTime{&got}.Scan(42))
}
