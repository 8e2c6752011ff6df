package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/glycopilot/glycopilot-backend/internal/explain"
	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/model"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
	"github.com/glycopilot/glycopilot-backend/internal/timegrid"
)

var (
	// ErrInsufficientData means the caller supplied fewer readings than the
	// model's input window.
	ErrInsufficientData = errors.New("insufficient readings for forecast")
	// ErrModelUnavailable means the base model artifacts could not be loaded.
	ErrModelUnavailable = errors.New("forecast model is not loaded")
)

// ForecastRow is one aligned 5-minute reading as the forecast endpoint
// accepts it. Timestamp is optional; without it the time-of-day features
// assume midday.
type ForecastRow struct {
	Glucose   float64    `json:"glucose"`
	Insulin   float64    `json:"insulin"`
	Carbs     float64    `json:"carbs"`
	IOB       float64    `json:"IOB"`
	COB       float64    `json:"COB"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type ForecastResult struct {
	Pred30       float64              `json:"pred_30min"`
	Pred60       float64              `json:"pred_60min"`
	Pred90       float64              `json:"pred_90min"`
	Explanations *explain.Explanation `json:"explanations,omitempty"`
}

type ForecastService interface {
	// Forecast predicts glucose 30/60/90 minutes ahead from the most recent
	// input_len rows. A Nil patient id always uses the base model.
	Forecast(ctx context.Context, patientID uuid.UUID, rows []ForecastRow, withExplanation bool) (*ForecastResult, error)

	// BuildRecentWindow assembles forecast rows for a patient's latest
	// readings, warming IOB/COB decay with meals up to 4 hours back.
	BuildRecentWindow(ctx context.Context, patientID uuid.UUID) ([]ForecastRow, error)

	// Invalidate evicts a patient's cached model so the next forecast
	// reloads from disk.
	Invalidate(patientID uuid.UUID)

	Meta() *model.Meta
}

type forecastService struct {
	log *logger.Logger

	cgmRepo  repos.CgmReadingRepo
	mealRepo repos.MealEventRepo

	store     *model.Store
	base      *model.SequenceModel
	scaler    *model.Scaler
	meta      *model.Meta
	explainer *explain.Explainer

	cache   map[uuid.UUID]*model.SequenceModel
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func NewForecastService(
	baseLog *logger.Logger,
	cgmRepo repos.CgmReadingRepo,
	mealRepo repos.MealEventRepo,
	store *model.Store,
	explainer *explain.Explainer,
) (ForecastService, error) {
	log := baseLog.With("service", "ForecastService")

	base, err := store.LoadBase()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	scaler, err := store.LoadScaler()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	meta, err := store.LoadMeta()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(meta.FeatureCols) != base.InputSize {
		return nil, fmt.Errorf("%w: meta has %d feature cols, model expects %d",
			ErrModelUnavailable, len(meta.FeatureCols), base.InputSize)
	}

	log.Info("Forecast model loaded",
		"hidden_size", base.HiddenSize,
		"input_len", meta.InputLen,
		"horizons", meta.Horizons)

	return &forecastService{
		log:       log,
		cgmRepo:   cgmRepo,
		mealRepo:  mealRepo,
		store:     store,
		base:      base,
		scaler:    scaler,
		meta:      meta,
		explainer: explainer,
		cache:     make(map[uuid.UUID]*model.SequenceModel),
	}, nil
}

func (fs *forecastService) Meta() *model.Meta { return fs.meta }

func (fs *forecastService) Forecast(ctx context.Context, patientID uuid.UUID, rows []ForecastRow, withExplanation bool) (*ForecastResult, error) {
	if len(rows) < fs.meta.InputLen {
		return nil, fmt.Errorf("%w: need at least %d readings, got %d",
			ErrInsufficientData, fs.meta.InputLen, len(rows))
	}

	m := fs.modelFor(patientID)

	window := rows[len(rows)-fs.meta.InputLen:]
	raw := featureMatrix(window)
	scaled, err := fs.scaler.TransformRows(raw)
	if err != nil {
		return nil, fmt.Errorf("scale forecast window: %w", err)
	}

	preds, err := m.Forward(scaled)
	if err != nil {
		return nil, fmt.Errorf("model forward: %w", err)
	}
	if len(preds) < 3 {
		return nil, fmt.Errorf("model returned %d outputs, want 3", len(preds))
	}

	result := &ForecastResult{
		Pred30: round1(preds[0]),
		Pred60: round1(preds[1]),
		Pred90: round1(preds[2]),
	}

	if withExplanation {
		currentBG := window[len(window)-1].Glucose
		exp, err := fs.explainer.Explain(m, fs.meta, scaled, &currentBG, &result.Pred60)
		if err != nil {
			fs.log.Warn("Explanation failed; returning forecast without it",
				"patient_id", patientID.String(), "error", err)
		} else {
			result.Explanations = exp
		}
	}

	return result, nil
}

func (fs *forecastService) BuildRecentWindow(ctx context.Context, patientID uuid.UUID) ([]ForecastRow, error) {
	latest, err := fs.cgmRepo.LatestByPatient(ctx, nil, patientID)
	if err != nil {
		return nil, fmt.Errorf("load latest reading: %w", err)
	}
	if latest == nil {
		return nil, ErrNoGlucoseData
	}

	// Pull the last day of readings, then keep the most recent input_len.
	from := latest.Timestamp.Add(-24 * time.Hour)
	readings, err := fs.cgmRepo.ListByPatientBetween(ctx, nil, patientID, from, latest.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("load recent readings: %w", err)
	}
	if len(readings) > fs.meta.InputLen {
		readings = readings[len(readings)-fs.meta.InputLen:]
	}
	if len(readings) == 0 {
		return nil, ErrNoGlucoseData
	}

	// Meals up to 4 hours before the window so decay state is warmed up.
	lookback := readings[0].Timestamp.Add(-4 * time.Hour)
	meals, err := fs.mealRepo.ListByPatientSince(ctx, nil, patientID, lookback)
	if err != nil {
		return nil, fmt.Errorf("load meal events: %w", err)
	}

	points := timegrid.BuildFrom(lookback, readings, meals)
	rows := make([]ForecastRow, 0, len(points))
	for _, p := range points {
		ts := p.Timestamp
		rows = append(rows, ForecastRow{
			Glucose:   p.Glucose,
			Insulin:   p.Insulin,
			Carbs:     p.Carbs,
			IOB:       p.IOB,
			COB:       p.COB,
			Timestamp: &ts,
		})
	}
	return rows, nil
}

func (fs *forecastService) Invalidate(patientID uuid.UUID) {
	fs.cacheMu.Lock()
	delete(fs.cache, patientID)
	fs.cacheMu.Unlock()
	fs.log.Debug("Evicted cached model", "patient_id", patientID.String())
}

// modelFor resolves patient model -> cache -> disk artifact -> base model.
// Concurrent first loads for the same patient are collapsed via singleflight.
func (fs *forecastService) modelFor(patientID uuid.UUID) *model.SequenceModel {
	if patientID == uuid.Nil {
		return fs.base
	}

	fs.cacheMu.RLock()
	if m, ok := fs.cache[patientID]; ok {
		fs.cacheMu.RUnlock()
		return m
	}
	fs.cacheMu.RUnlock()

	v, _, _ := fs.group.Do(patientID.String(), func() (interface{}, error) {
		resolved := fs.base
		if fs.store.HasPatient(patientID) {
			m, err := fs.store.LoadPatient(patientID)
			if err != nil {
				fs.log.Warn("Failed to load patient model; falling back to base",
					"patient_id", patientID.String(), "error", err)
			} else {
				fs.log.Info("Loaded fine-tuned model", "patient_id", patientID.String())
				resolved = m
			}
		}
		fs.cacheMu.Lock()
		fs.cache[patientID] = resolved
		fs.cacheMu.Unlock()
		return resolved, nil
	})
	return v.(*model.SequenceModel)
}

// featureMatrix expands forecast rows into the canonical 8-feature layout.
// Rate of change is a backward difference within the window; rows without a
// timestamp use a midday time-of-day encoding.
func featureMatrix(rows []ForecastRow) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		hourFrac := 12.0
		if r.Timestamp != nil {
			hourFrac = float64(r.Timestamp.Hour()) + float64(r.Timestamp.Minute())/60.0
		}
		roc := 0.0
		if i > 0 {
			roc = r.Glucose - rows[i-1].Glucose
		}
		out[i] = []float64{
			r.Glucose, r.Insulin, r.Carbs, r.IOB, r.COB,
			math.Sin(2 * math.Pi * hourFrac / 24),
			math.Cos(2 * math.Pi * hourFrac / 24),
			roc,
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
