package timegrid

import (
	"math"
	"time"

	"github.com/glycopilot/glycopilot-backend/internal/types"
)

// Step is the grid resolution. CGM sensors report roughly every 5 minutes,
// so every event timestamp is floored onto this grid before alignment.
const Step = 5 * time.Minute

// Exponential decay per 5-minute step: insulin has a 75-minute half-life,
// carbs a 45-minute half-life.
var (
	DecayInsulin = math.Pow(0.5, 5.0/75.0)
	DecayCarbs   = math.Pow(0.5, 5.0/45.0)
)

// FeatureCols is the canonical column order of a feature row. The scaler and
// the sequence model are both fitted against this exact order.
var FeatureCols = []string{
	"glucose", "insulin", "carbs", "IOB", "COB",
	"hour_sin", "hour_cos", "glucose_roc",
}

// GridPoint is one emitted 5-minute slot. IOB and COB are running decayed
// sums, not instantaneous values:
//
//	IOB[t] = IOB[t-1]*DecayInsulin + insulin[t]
//	COB[t] = COB[t-1]*DecayCarbs   + carbs[t]
//
// Slots without a CGM reading are never emitted; the decay state still
// advances through them.
type GridPoint struct {
	Timestamp  time.Time
	Glucose    float64
	Insulin    float64
	Carbs      float64
	IOB        float64
	COB        float64
	HourSin    float64
	HourCos    float64
	GlucoseROC float64
}

// Floor rounds a timestamp down to its 5-minute bucket.
func Floor(t time.Time) time.Time {
	return t.Truncate(Step)
}

type slotAmounts struct {
	carbs   float64
	insulin float64
}

// Build aligns a patient's CGM readings and meal/insulin events onto the
// 5-minute grid, starting at the bucket of the first reading. Readings and
// events must be ordered by timestamp ascending. Returns an empty slice when
// there are no readings.
func Build(readings []*types.CgmReading, events []*types.MealEvent) []GridPoint {
	if len(readings) == 0 {
		return nil
	}
	return BuildFrom(Floor(readings[0].Timestamp), readings, events)
}

// BuildFrom walks the grid from an explicit start bucket. The forecast path
// uses this with a start several hours before the prediction window so the
// IOB/COB decay state is warmed up by meals logged before the window opens.
func BuildFrom(start time.Time, readings []*types.CgmReading, events []*types.MealEvent) []GridPoint {
	if len(readings) == 0 {
		return nil
	}

	// Multiple meals that floor to the same bucket accumulate.
	meals := make(map[int64]slotAmounts, len(events))
	for _, e := range events {
		key := Floor(e.Timestamp).Unix()
		s := meals[key]
		s.carbs += e.CarbsGrams
		s.insulin += e.InsulinUnits
		meals[key] = s
	}

	// Later readings in the same bucket win, mirroring a map rebuild.
	cgm := make(map[int64]float64, len(readings))
	for _, r := range readings {
		cgm[Floor(r.Timestamp).Unix()] = r.GlucoseValue
	}

	start = Floor(start)
	end := readings[len(readings)-1].Timestamp

	var (
		iob, cob float64
		prev     float64
		hasPrev  bool
		points   []GridPoint
	)
	for t := start; !t.After(end); t = t.Add(Step) {
		key := t.Unix()
		amounts := meals[key]
		iob = iob*DecayInsulin + amounts.insulin
		cob = cob*DecayCarbs + amounts.carbs

		glucose, ok := cgm[key]
		if !ok {
			// Gap in CGM coverage: decay advances, no point is emitted.
			continue
		}

		hourFrac := float64(t.Hour()) + float64(t.Minute())/60.0
		roc := 0.0
		if hasPrev {
			roc = glucose - prev
		}
		points = append(points, GridPoint{
			Timestamp:  t,
			Glucose:    glucose,
			Insulin:    amounts.insulin,
			Carbs:      amounts.carbs,
			IOB:        iob,
			COB:        cob,
			HourSin:    math.Sin(2 * math.Pi * hourFrac / 24),
			HourCos:    math.Cos(2 * math.Pi * hourFrac / 24),
			GlucoseROC: roc,
		})
		prev = glucose
		hasPrev = true
	}
	return points
}

// FeatureRows flattens grid points into feature rows in FeatureCols order.
func FeatureRows(points []GridPoint) [][]float64 {
	rows := make([][]float64, 0, len(points))
	for _, p := range points {
		rows = append(rows, []float64{
			p.Glucose, p.Insulin, p.Carbs, p.IOB, p.COB,
			p.HourSin, p.HourCos, p.GlucoseROC,
		})
	}
	return rows
}
