package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/model"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
	"github.com/glycopilot/glycopilot-backend/internal/sse"
	"github.com/glycopilot/glycopilot-backend/internal/timegrid"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

// MinFinetuneReadings is 24 hours of CGM coverage at 5-minute intervals.
const MinFinetuneReadings = 288

// FinetuneResult is the outcome of one fine-tuning attempt. Data-sufficiency
// failures are non-success results, not errors: the run itself completed.
type FinetuneResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Metrics *model.Metrics `json:"metrics"`
}

type FinetuneService interface {
	// Enqueue records a queued fine-tune run for the background worker.
	Enqueue(ctx context.Context, patientID uuid.UUID) (*types.FinetuneRun, error)

	// Status returns the most recent run for a patient, nil when none exist.
	Status(ctx context.Context, patientID uuid.UUID) (*types.FinetuneRun, error)

	// RunForPatient performs fine-tuning synchronously. The worker calls
	// this; it is exported so tests can drive it directly.
	RunForPatient(ctx context.Context, patientID uuid.UUID) (*FinetuneResult, error)

	StartWorker(ctx context.Context)
}

type finetuneService struct {
	db  *gorm.DB
	log *logger.Logger

	sseHub *sse.SSEHub

	cgmRepo  repos.CgmReadingRepo
	mealRepo repos.MealEventRepo
	runRepo  repos.FinetuneRunRepo

	store    *model.Store
	forecast ForecastService
}

func NewFinetuneService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sseHub *sse.SSEHub,
	cgmRepo repos.CgmReadingRepo,
	mealRepo repos.MealEventRepo,
	runRepo repos.FinetuneRunRepo,
	store *model.Store,
	forecast ForecastService,
) FinetuneService {
	return &finetuneService{
		db:       db,
		log:      baseLog.With("service", "FinetuneService"),
		sseHub:   sseHub,
		cgmRepo:  cgmRepo,
		mealRepo: mealRepo,
		runRepo:  runRepo,
		store:    store,
		forecast: forecast,
	}
}

func (fts *finetuneService) Enqueue(ctx context.Context, patientID uuid.UUID) (*types.FinetuneRun, error) {
	now := time.Now()
	run := &types.FinetuneRun{
		ID:        uuid.New(),
		PatientID: patientID,
		Status:    types.FinetuneStatusQueued,
		Metrics:   datatypes.JSON([]byte(`null`)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := fts.runRepo.Create(ctx, nil, []*types.FinetuneRun{run}); err != nil {
		return nil, fmt.Errorf("create finetune run: %w", err)
	}

	fts.broadcast(patientID, sse.SSEEventFinetuneQueued, map[string]any{
		"run_id": run.ID,
	})
	fts.log.Info("Fine-tune run queued", "patient_id", patientID.String(), "run_id", run.ID)
	return run, nil
}

func (fts *finetuneService) Status(ctx context.Context, patientID uuid.UUID) (*types.FinetuneRun, error) {
	return fts.runRepo.GetLatestByPatientID(ctx, nil, patientID)
}

func (fts *finetuneService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		// Worker policy
		const maxAttempts = 3
		retryDelay := 30 * time.Second
		staleRunning := 5 * time.Minute

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run, err := fts.runRepo.ClaimNextRunnable(ctx, fts.db, maxAttempts, retryDelay, staleRunning)
				if err != nil {
					fts.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if run == nil {
					continue
				}
				fts.processRun(ctx, run)
			}
		}
	}()
}

func (fts *finetuneService) processRun(ctx context.Context, run *types.FinetuneRun) {
	patientID := run.PatientID
	runID := run.ID

	fail := func(err error) {
		now := time.Now()
		_ = fts.runRepo.UpdateFields(ctx, nil, runID, map[string]interface{}{
			"status":        types.FinetuneStatusFailed,
			"error":         err.Error(),
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		fts.broadcast(patientID, sse.SSEEventFinetuneFailed, map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
	}

	progress := func(msg string) {
		_ = fts.runRepo.Heartbeat(ctx, nil, runID)
		fts.broadcast(patientID, sse.SSEEventFinetuneProgress, map[string]any{
			"run_id":  runID,
			"message": msg,
		})
	}

	progress("Loading patient history")
	result, err := fts.RunForPatient(ctx, patientID)
	if err != nil {
		fail(err)
		return
	}

	metricsJSON := []byte(`null`)
	if result.Metrics != nil {
		if data, mErr := json.Marshal(result.Metrics); mErr == nil {
			metricsJSON = data
		}
	}

	now := time.Now()
	_ = fts.runRepo.UpdateFields(ctx, nil, runID, map[string]interface{}{
		"status":     types.FinetuneStatusSucceeded,
		"message":    result.Message,
		"metrics":    datatypes.JSON(metricsJSON),
		"locked_at":  nil,
		"updated_at": now,
	})

	// The cache eviction is deliberately the caller's side of the contract:
	// training writes the artifact, then the stale cached model is dropped.
	if result.Success {
		fts.forecast.Invalidate(patientID)
	}

	fts.broadcast(patientID, sse.SSEEventFinetuneCompleted, map[string]any{
		"run_id":  runID,
		"success": result.Success,
		"message": result.Message,
		"metrics": result.Metrics,
	})
	fts.log.Info("Fine-tune run finished",
		"patient_id", patientID.String(),
		"run_id", runID,
		"success", result.Success)
}

func (fts *finetuneService) RunForPatient(ctx context.Context, patientID uuid.UUID) (*FinetuneResult, error) {
	base, err := fts.store.LoadBase()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	scaler, err := fts.store.LoadScaler()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	meta, err := fts.store.LoadMeta()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	readings, err := fts.cgmRepo.ListByPatient(ctx, nil, patientID)
	if err != nil {
		return nil, fmt.Errorf("load CGM history: %w", err)
	}
	if len(readings) < MinFinetuneReadings {
		return &FinetuneResult{
			Success: false,
			Message: fmt.Sprintf(
				"Not enough data: %d readings (need at least %d = 24 h). Keep logging and try again later.",
				len(readings), MinFinetuneReadings),
		}, nil
	}

	meals, err := fts.mealRepo.ListByPatient(ctx, nil, patientID)
	if err != nil {
		return nil, fmt.Errorf("load meal history: %w", err)
	}

	points := timegrid.Build(readings, meals)
	maxHorizon := 0
	for _, h := range meta.Horizons {
		if h > maxHorizon {
			maxHorizon = h
		}
	}
	if len(points) < meta.InputLen+maxHorizon {
		return &FinetuneResult{
			Success: false,
			Message: "Not enough aligned data points after grid alignment.",
		}, nil
	}

	rows := timegrid.FeatureRows(points)
	scaled, err := scaler.TransformRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scale training rows: %w", err)
	}

	// Inputs are scaled; targets stay in raw mg/dL since the dense head
	// predicts glucose directly.
	glucose := make([]float64, len(points))
	for i, p := range points {
		glucose[i] = p.Glucose
	}
	seqs := model.BuildSequences(scaled, glucose, meta.InputLen, meta.Horizons)
	if len(seqs) == 0 {
		return &FinetuneResult{
			Success: false,
			Message: "Could not create any training sequences.",
		}, nil
	}

	fts.log.Info("Fine-tuning",
		"patient_id", patientID.String(),
		"sequences", len(seqs),
		"readings", len(readings),
		"meal_events", len(meals))

	tuned, metrics, err := model.FinetuneDense(base, seqs, model.DefaultTrainConfig())
	if err != nil {
		return nil, fmt.Errorf("train dense head: %w", err)
	}

	if err := fts.store.SavePatient(patientID, tuned); err != nil {
		return nil, fmt.Errorf("save patient model: %w", err)
	}

	metrics.Loss = round4f(metrics.Loss)
	metrics.MAE = round2(metrics.MAE)
	metrics.ValLoss = round4f(metrics.ValLoss)
	metrics.ValMAE = round2(metrics.ValMAE)

	return &FinetuneResult{
		Success: true,
		Message: fmt.Sprintf("Fine-tuning complete for patient %s.", patientID),
		Metrics: metrics,
	}, nil
}

func (fts *finetuneService) broadcast(patientID uuid.UUID, event sse.SSEEvent, data any) {
	fts.sseHub.Broadcast(sse.SSEMessage{
		Channel: patientID.String(),
		Event:   event,
		Data:    data,
	})
}

func round4f(v float64) float64 {
	return math.Round(v*10000) / 10000
}
