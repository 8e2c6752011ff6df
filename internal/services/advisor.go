package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
)

// ErrNoGlucoseData means the patient has no CGM readings on record.
var ErrNoGlucoseData = errors.New("no CGM data available")

const (
	defaultISF = 50.0
	defaultICR = 10.0

	// Dosing heuristics: the 1800 rule for sensitivity, the 500 rule for
	// carb ratio, both derived from total daily insulin dose.
	isfRule = 1800.0
	icrRule = 500.0

	insulinHalfLifeMin = 75.0
	iobLookback        = 5 * time.Hour
	tddLookbackDays    = 7
)

// ISFICRProfile is a patient's dosing profile. TDD is nil when it could not
// be derived and the defaults were used.
type ISFICRProfile struct {
	ISF    float64  `json:"isf"`
	ICR    float64  `json:"icr"`
	TDD    *float64 `json:"tdd"`
	Source string   `json:"source"`
}

// DoseAdvice is the full breakdown of a recommended bolus.
type DoseAdvice struct {
	CorrectionDose float64 `json:"correction_dose"`
	MealDose       float64 `json:"meal_dose"`
	IOBAdjustment  float64 `json:"iob_adjustment"`
	TotalDose      float64 `json:"total_dose"`
	CurrentBG      float64 `json:"current_bg"`
	TargetBG       float64 `json:"target_bg"`
	ISFUsed        float64 `json:"isf_used"`
	ICRUsed        float64 `json:"icr_used"`
}

type AdvisorService interface {
	AutoISFICR(ctx context.Context, patientID uuid.UUID) (*ISFICRProfile, error)
	ComputeIOB(ctx context.Context, patientID uuid.UUID, now time.Time) (float64, error)
	AdviseDose(currentBG, targetBG, plannedCarbs, iob, isf, icr float64) *DoseAdvice

	// GetAdvice resolves current BG, IOB and the dosing profile, then runs
	// AdviseDose. isf/icr override the auto profile when supplied; a partial
	// override fills the missing value from the auto profile.
	GetAdvice(ctx context.Context, patientID uuid.UUID, plannedCarbs, targetBG float64, isf, icr *float64) (*DoseAdvice, error)
}

type advisorService struct {
	log      *logger.Logger
	cgmRepo  repos.CgmReadingRepo
	mealRepo repos.MealEventRepo
}

func NewAdvisorService(baseLog *logger.Logger, cgmRepo repos.CgmReadingRepo, mealRepo repos.MealEventRepo) AdvisorService {
	return &advisorService{
		log:      baseLog.With("service", "AdvisorService"),
		cgmRepo:  cgmRepo,
		mealRepo: mealRepo,
	}
}

// calculateTDD averages daily insulin totals across the trailing week,
// counting only days that actually have insulin logged. Returns nil when no
// day qualifies.
func (as *advisorService) calculateTDD(ctx context.Context, patientID uuid.UUID) (*float64, error) {
	since := time.Now().AddDate(0, 0, -tddLookbackDays)
	events, err := as.mealRepo.ListByPatientSince(ctx, nil, patientID, since)
	if err != nil {
		return nil, fmt.Errorf("load meal events: %w", err)
	}

	dailyTotals := make(map[string]float64)
	for _, e := range events {
		if e.InsulinUnits <= 0 {
			continue
		}
		day := e.Timestamp.Format("2006-01-02")
		dailyTotals[day] += e.InsulinUnits
	}
	if len(dailyTotals) == 0 {
		return nil, nil
	}

	var sum float64
	for _, v := range dailyTotals {
		sum += v
	}
	tdd := sum / float64(len(dailyTotals))
	return &tdd, nil
}

func (as *advisorService) AutoISFICR(ctx context.Context, patientID uuid.UUID) (*ISFICRProfile, error) {
	tdd, err := as.calculateTDD(ctx, patientID)
	if err != nil {
		return nil, err
	}

	if tdd == nil || *tdd <= 0 {
		return &ISFICRProfile{ISF: defaultISF, ICR: defaultICR, TDD: nil, Source: "default"}, nil
	}

	isf := clamp(round1(isfRule / *tdd), 10, 200)
	icr := clamp(round1(icrRule / *tdd), 3, 50)
	rounded := round1(*tdd)

	return &ISFICRProfile{ISF: isf, ICR: icr, TDD: &rounded, Source: "calculated"}, nil
}

// ComputeIOB sums insulin remaining from doses in the last 5 hours, decayed
// continuously with a 75-minute half-life from each dose's exact timestamp.
func (as *advisorService) ComputeIOB(ctx context.Context, patientID uuid.UUID, now time.Time) (float64, error) {
	events, err := as.mealRepo.ListByPatientSince(ctx, nil, patientID, now.Add(-iobLookback))
	if err != nil {
		return 0, fmt.Errorf("load insulin events: %w", err)
	}

	var iob float64
	for _, e := range events {
		if e.InsulinUnits <= 0 {
			continue
		}
		elapsedMin := now.Sub(e.Timestamp).Minutes()
		iob += e.InsulinUnits * math.Pow(0.5, elapsedMin/insulinHalfLifeMin)
	}
	return round2(iob), nil
}

func (as *advisorService) AdviseDose(currentBG, targetBG, plannedCarbs, iob, isf, icr float64) *DoseAdvice {
	// Correction only when BG is above target; never dose down a low.
	correction := math.Max(0, (currentBG-targetBG)/isf)
	mealDose := plannedCarbs / icr

	total := math.Max(0, correction+mealDose-iob)
	total = math.Round(total*2) / 2

	return &DoseAdvice{
		CorrectionDose: round2(correction),
		MealDose:       round2(mealDose),
		IOBAdjustment:  round2(iob),
		TotalDose:      total,
		CurrentBG:      currentBG,
		TargetBG:       targetBG,
		ISFUsed:        isf,
		ICRUsed:        icr,
	}
}

func (as *advisorService) GetAdvice(ctx context.Context, patientID uuid.UUID, plannedCarbs, targetBG float64, isf, icr *float64) (*DoseAdvice, error) {
	latest, err := as.cgmRepo.LatestByPatient(ctx, nil, patientID)
	if err != nil {
		return nil, fmt.Errorf("load latest reading: %w", err)
	}
	if latest == nil {
		return nil, ErrNoGlucoseData
	}
	currentBG := latest.GlucoseValue

	iob, err := as.ComputeIOB(ctx, patientID, time.Now())
	if err != nil {
		return nil, err
	}

	var useISF, useICR float64
	if isf != nil && icr != nil {
		useISF, useICR = *isf, *icr
	} else {
		auto, err := as.AutoISFICR(ctx, patientID)
		if err != nil {
			return nil, err
		}
		useISF, useICR = auto.ISF, auto.ICR
		if isf != nil {
			useISF = *isf
		}
		if icr != nil {
			useICR = *icr
		}
	}

	advice := as.AdviseDose(currentBG, targetBG, plannedCarbs, iob, useISF, useICR)
	as.log.Info("Dose advice computed",
		"patient_id", patientID.String(),
		"total_dose", advice.TotalDose,
		"correction", advice.CorrectionDose,
		"meal_dose", advice.MealDose,
		"iob", advice.IOBAdjustment)
	return advice, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
