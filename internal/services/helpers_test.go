package services

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/glycopilot/glycopilot-backend/internal/explain"
	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/model"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
	"github.com/glycopilot/glycopilot-backend/internal/sse"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

var testSchema = []string{
	`CREATE TABLE cgm_reading (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		glucose_value REAL NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX idx_cgm_patient_ts ON cgm_reading(patient_id, timestamp)`,
	`CREATE TABLE meal_event (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		carbs_grams REAL NOT NULL DEFAULT 0,
		insulin_units REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX idx_meal_patient_ts ON meal_event(patient_id, timestamp)`,
	`CREATE TABLE finetune_run (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		metrics TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		locked_at DATETIME,
		heartbeat_at DATETIME,
		last_error_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, q := range testSchema {
		if err := db.Exec(q).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// testBaseModel builds an 8-feature model whose dense biases sit around the
// given levels. With seeded small weights the predictions land near the
// biases no matter the input.
func testBaseModel(bias30, bias60, bias90 float64, zeroDense bool) *model.SequenceModel {
	rng := rand.New(rand.NewSource(11))
	randMatrix := func(rows, cols int, scale float64) [][]float64 {
		m := make([][]float64, rows)
		for i := range m {
			m[i] = make([]float64, cols)
			for j := range m[i] {
				m[i][j] = rng.NormFloat64() * scale
			}
		}
		return m
	}
	const hidden = 4
	denseScale := 0.2
	if zeroDense {
		denseScale = 0
	}
	return &model.SequenceModel{
		InputSize:  8,
		HiddenSize: hidden,
		OutputSize: 3,
		WIh:        randMatrix(4*hidden, 8, 0.1),
		WHh:        randMatrix(4*hidden, hidden, 0.1),
		BIh:        make([]float64, 4*hidden),
		BHh:        make([]float64, 4*hidden),
		DenseW:     randMatrix(3, hidden, denseScale),
		DenseB:     []float64{bias30, bias60, bias90},
	}
}

// writeTestArtifacts lays out a model directory with the base model, an
// identity scaler and the standard meta, then returns its Store.
func writeTestArtifacts(t *testing.T, dir string, base *model.SequenceModel) *model.Store {
	t.Helper()
	write := func(name string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("base_model.json", base)
	write("scaler.json", &model.Scaler{
		Mean:  make([]float64, 8),
		Scale: []float64{1, 1, 1, 1, 1, 1, 1, 1},
	})
	write("meta.json", &model.Meta{
		FeatureCols: []string{"glucose", "insulin", "carbs", "IOB", "COB", "hour_sin", "hour_cos", "glucose_roc"},
		InputLen:    12,
		Horizons:    []int{6, 12, 18},
	})
	return model.NewStore(dir, testLogger(t))
}

func newTestForecastService(t *testing.T, db *gorm.DB, store *model.Store) ForecastService {
	t.Helper()
	log := testLogger(t)
	fs, err := NewForecastService(
		log,
		repos.NewCgmReadingRepo(db, log),
		repos.NewMealEventRepo(db, log),
		store,
		explain.NewExplainer(log),
	)
	if err != nil {
		t.Fatalf("NewForecastService: %v", err)
	}
	return fs
}

func seedReadings(t *testing.T, db *gorm.DB, patientID uuid.UUID, start time.Time, values []float64) {
	t.Helper()
	log := testLogger(t)
	repo := repos.NewCgmReadingRepo(db, log)
	readings := make([]*types.CgmReading, len(values))
	for i, v := range values {
		readings[i] = &types.CgmReading{
			ID:           uuid.New(),
			PatientID:    patientID,
			Timestamp:    start.Add(time.Duration(i) * 5 * time.Minute),
			GlucoseValue: v,
			CreatedAt:    time.Now(),
		}
	}
	if _, err := repo.Create(context.Background(), nil, readings); err != nil {
		t.Fatalf("seed readings: %v", err)
	}
}

func seedMeal(t *testing.T, db *gorm.DB, patientID uuid.UUID, ts time.Time, carbs, insulin float64) {
	t.Helper()
	log := testLogger(t)
	repo := repos.NewMealEventRepo(db, log)
	event := &types.MealEvent{
		ID:           uuid.New(),
		PatientID:    patientID,
		Timestamp:    ts,
		CarbsGrams:   carbs,
		InsulinUnits: insulin,
		CreatedAt:    time.Now(),
	}
	if _, err := repo.Create(context.Background(), nil, []*types.MealEvent{event}); err != nil {
		t.Fatalf("seed meal: %v", err)
	}
}

func newTestHub(t *testing.T) *sse.SSEHub {
	t.Helper()
	return sse.NewSSEHub(testLogger(t))
}
