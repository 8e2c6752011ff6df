package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/explain"
	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

type ChartPoint struct {
	X time.Time `json:"x"`
	Y float64   `json:"y"`
}

// Insight severity is one of "good", "warning", "danger", "info".
type Insight struct {
	Icon     string `json:"icon"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
}

type LatestReading struct {
	Value float64 `json:"value"`
	Time  string  `json:"time"`
}

// GlucoseStats is the dashboard payload: 24 hours of chart data, the latest
// reading, pattern-detection insights, and (when enough readings exist) a
// 30/60/90-minute forecast with explanations.
type GlucoseStats struct {
	ChartData    []ChartPoint         `json:"chart_data"`
	ForecastData []ChartPoint         `json:"forecast_data"`
	Explanations *explain.Explanation `json:"explanations"`
	Latest       *LatestReading       `json:"latest"`
	Insights     []Insight            `json:"insights"`
}

type InsightsService interface {
	GlucoseStats(ctx context.Context, patientID uuid.UUID) (*GlucoseStats, error)
}

type insightsService struct {
	log      *logger.Logger
	cgmRepo  repos.CgmReadingRepo
	forecast ForecastService
}

func NewInsightsService(baseLog *logger.Logger, cgmRepo repos.CgmReadingRepo, forecast ForecastService) InsightsService {
	return &insightsService{
		log:      baseLog.With("service", "InsightsService"),
		cgmRepo:  cgmRepo,
		forecast: forecast,
	}
}

func (is *insightsService) GlucoseStats(ctx context.Context, patientID uuid.UUID) (*GlucoseStats, error) {
	now := time.Now()
	readings, err := is.cgmRepo.ListByPatientBetween(ctx, nil, patientID, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	if len(readings) == 0 {
		return nil, ErrNoGlucoseData
	}

	chart := make([]ChartPoint, len(readings))
	for i, r := range readings {
		chart[i] = ChartPoint{X: r.Timestamp, Y: r.GlucoseValue}
	}
	latest := readings[len(readings)-1]

	stats := &GlucoseStats{
		ChartData: chart,
		Latest: &LatestReading{
			Value: latest.GlucoseValue,
			Time:  latest.Timestamp.Format("15:04"),
		},
		Insights: buildInsights(readings),
	}

	// Forecast is best-effort: the dashboard renders without it.
	if len(readings) >= is.forecast.Meta().InputLen {
		rows, err := is.forecast.BuildRecentWindow(ctx, patientID)
		if err != nil {
			is.log.Warn("Forecast window build failed", "patient_id", patientID.String(), "error", err)
			return stats, nil
		}
		fc, err := is.forecast.Forecast(ctx, patientID, rows, true)
		if err != nil {
			is.log.Warn("Forecast failed", "patient_id", patientID.String(), "error", err)
			return stats, nil
		}
		stats.ForecastData = []ChartPoint{
			{X: latest.Timestamp, Y: latest.GlucoseValue},
			{X: latest.Timestamp.Add(30 * time.Minute), Y: fc.Pred30},
			{X: latest.Timestamp.Add(60 * time.Minute), Y: fc.Pred60},
			{X: latest.Timestamp.Add(90 * time.Minute), Y: fc.Pred90},
		}
		stats.Explanations = fc.Explanations
	}

	return stats, nil
}

// buildInsights runs pattern detection over 24 hours of readings: time in
// range, variability, hypo/hyper episodes, short-term trend, dawn
// phenomenon, post-meal spikes, and estimated A1C.
func buildInsights(readings []*types.CgmReading) []Insight {
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.GlucoseValue
	}
	if len(values) == 0 {
		return []Insight{{Icon: "info", Title: "No Data", Body: "Not enough readings to generate insights.", Severity: "info"}}
	}

	n := len(values)
	var sum float64
	minVal, maxVal := values[0], values[0]
	for _, v := range values {
		sum += v
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	avg := sum / float64(n)

	var variance float64
	if n > 1 {
		for _, v := range values {
			variance += (v - avg) * (v - avg)
		}
		variance /= float64(n)
	}
	std := math.Sqrt(variance)
	cv := 0.0
	if avg > 0 {
		cv = std / avg * 100
	}
	latest := values[n-1]

	var inRange, belowRange, aboveRange int
	for _, v := range values {
		switch {
		case v < 70:
			belowRange++
		case v > 180:
			aboveRange++
		default:
			inRange++
		}
	}
	tirPct := int(math.Round(float64(inRange) / float64(n) * 100))
	belowPct := int(math.Round(float64(belowRange) / float64(n) * 100))
	abovePct := int(math.Round(float64(aboveRange) / float64(n) * 100))

	var insights []Insight

	// 1. Time in Range
	switch {
	case tirPct >= 70:
		insights = append(insights, Insight{
			Icon: "target", Title: "Time in Range", Severity: "good",
			Body: fmt.Sprintf("%d%% of readings are within target (70-180 mg/dL). This meets the recommended >70%% goal — great control today.", tirPct),
		})
	case tirPct >= 50:
		insights = append(insights, Insight{
			Icon: "target", Title: "Time in Range", Severity: "warning",
			Body: fmt.Sprintf("%d%% of readings are within target (70-180 mg/dL). Aim for >70%%. Consider reviewing meal timing and portions.", tirPct),
		})
	default:
		insights = append(insights, Insight{
			Icon: "target", Title: "Time in Range", Severity: "danger",
			Body: fmt.Sprintf("Only %d%% of readings are in range. %d%% above and %d%% below target. This needs attention.", tirPct, abovePct, belowPct),
		})
	}

	// 2. Glucose Variability (CV)
	if cv < 36 {
		insights = append(insights, Insight{
			Icon: "variability", Title: "Glucose Stability", Severity: "good",
			Body: fmt.Sprintf("Your glucose variability (CV %.0f%%) is stable. A CV below 36%% indicates consistent glucose levels.", cv),
		})
	} else {
		insights = append(insights, Insight{
			Icon: "variability", Title: "High Glucose Swings", Severity: "warning",
			Body: fmt.Sprintf("Your glucose variability is elevated (CV %.0f%%). Frequent swings between %.0f and %.0f mg/dL. Consider smaller, more frequent meals with lower GI foods.", cv, minVal, maxVal),
		})
	}

	// 3. Hypo Episodes (< 70 mg/dL)
	if belowRange > 0 {
		episodes := 0
		inHypo := false
		lowest := math.Inf(1)
		for _, v := range values {
			if v < 70 {
				if !inHypo {
					episodes++
					inHypo = true
				}
				lowest = math.Min(lowest, v)
			} else {
				inHypo = false
			}
		}

		severity := "warning"
		body := fmt.Sprintf("Detected %d low glucose episode%s (below 70 mg/dL), reaching as low as %.0f mg/dL.",
			episodes, plural(episodes), lowest)
		if lowest < 54 {
			severity = "danger"
			body += " Readings below 54 mg/dL are clinically significant — review insulin dosing with your care team."
		} else {
			body += " Consider reducing insulin dose before similar activities or having a fast-acting carb on hand."
		}
		insights = append(insights, Insight{Icon: "hypo", Title: "Low Glucose Alert", Body: body, Severity: severity})
	}

	// 4. Hyper Episodes (> 180 mg/dL)
	if aboveRange > 0 {
		episodes := 0
		inHyper := false
		peak := 0.0
		for _, v := range values {
			if v > 180 {
				if !inHyper {
					episodes++
					inHyper = true
				}
				peak = math.Max(peak, v)
			} else {
				inHyper = false
			}
		}

		severity := "warning"
		body := fmt.Sprintf("Detected %d high glucose episode%s (above 180 mg/dL), peaking at %.0f mg/dL.",
			episodes, plural(episodes), peak)
		if peak > 250 {
			severity = "danger"
			body += " Sustained highs above 250 mg/dL increase risk of complications. Review carb intake and insulin timing."
		} else {
			body += " Post-meal spikes can be reduced by pairing carbs with protein or fat, or taking a short walk after eating."
		}
		insights = append(insights, Insight{Icon: "hyper", Title: "High Glucose Alert", Body: body, Severity: severity})
	}

	// 5. Trend over the last 30 minutes (6 readings)
	if n >= 6 {
		recent := values[n-6:]
		trendDiff := recent[5] - recent[0]
		rate := trendDiff / 30 // mg/dL per minute

		switch {
		case rate > 2:
			insights = append(insights, Insight{
				Icon: "trend_up", Title: "Rapidly Rising", Severity: "warning",
				Body: fmt.Sprintf("Glucose has risen %.0f mg/dL in the last 30 minutes (%.1f mg/dL/min). This may indicate a recent high-GI meal. Consider activity or correction.", trendDiff, rate),
			})
		case rate < -2:
			insights = append(insights, Insight{
				Icon: "trend_down", Title: "Rapidly Dropping", Severity: "warning",
				Body: fmt.Sprintf("Glucose has dropped %.0f mg/dL in the last 30 minutes (%.1f mg/dL/min). Monitor closely and have fast-acting carbs ready if needed.", math.Abs(trendDiff), math.Abs(rate)),
			})
		case math.Abs(trendDiff) < 10:
			insights = append(insights, Insight{
				Icon: "trend_stable", Title: "Stable Trend", Severity: "good",
				Body: fmt.Sprintf("Glucose has been steady over the last 30 minutes (currently %.0f mg/dL). Your current management is working well.", latest),
			})
		}
	}

	// 6. Dawn Phenomenon: early-morning readings elevated over overnight ones
	var dawnSum, nightSum float64
	var dawnN, nightN int
	for _, r := range readings {
		h := r.Timestamp.Hour()
		switch {
		case h >= 4 && h < 8:
			dawnSum += r.GlucoseValue
			dawnN++
		case h < 4:
			nightSum += r.GlucoseValue
			nightN++
		}
	}
	if dawnN > 0 && nightN > 0 {
		dawnAvg := dawnSum / float64(dawnN)
		nightAvg := nightSum / float64(nightN)
		if dawnAvg-nightAvg > 20 {
			insights = append(insights, Insight{
				Icon: "dawn", Title: "Dawn Phenomenon", Severity: "info",
				Body: fmt.Sprintf("Your glucose rises an average of %.0f mg/dL between midnight and early morning (%.0f → %.0f mg/dL). This is common and may be managed with basal insulin adjustments.", dawnAvg-nightAvg, nightAvg, dawnAvg),
			})
		}
	}

	// 7. Post-meal spikes: sharp rises above 50 mg/dL inside 2-hour windows
	if n >= 24 {
		spikeCount := 0
		maxSpike := 0.0
		for i := 0; i < n-24; i++ {
			window := values[i : i+24]
			trough := window[0]
			for _, v := range window[:6] {
				trough = math.Min(trough, v)
			}
			peak := window[6]
			for _, v := range window[6:] {
				peak = math.Max(peak, v)
			}
			if spike := peak - trough; spike > 50 {
				spikeCount++
				maxSpike = math.Max(maxSpike, spike)
			}
		}
		// Distinct spikes only; continuous highs trip nearly every window.
		if spikeCount > 0 && spikeCount <= 10 {
			insights = append(insights, Insight{
				Icon: "spike", Title: "Post-Meal Spikes Detected", Severity: "warning",
				Body: fmt.Sprintf("Detected glucose spikes of up to %.0f mg/dL after meals. Pre-bolusing insulin 15-20 minutes before eating, or choosing lower-GI foods, can help flatten these spikes.", maxSpike),
			})
		}
	}

	// 8. Average glucose and estimated A1C
	estimatedA1C := (avg + 46.7) / 28.7
	switch {
	case avg < 140:
		insights = append(insights, Insight{
			Icon: "average", Title: "Daily Average", Severity: "good",
			Body: fmt.Sprintf("Average glucose today is %.0f mg/dL (estimated A1C: %.1f%%). This is within a healthy range — keep it up.", avg, estimatedA1C),
		})
	case avg < 180:
		insights = append(insights, Insight{
			Icon: "average", Title: "Daily Average", Severity: "warning",
			Body: fmt.Sprintf("Average glucose today is %.0f mg/dL (estimated A1C: %.1f%%). Slightly elevated — consider increasing activity or reviewing carb portions.", avg, estimatedA1C),
		})
	default:
		insights = append(insights, Insight{
			Icon: "average", Title: "Daily Average", Severity: "danger",
			Body: fmt.Sprintf("Average glucose today is %.0f mg/dL (estimated A1C: %.1f%%). This is above target and warrants attention to diet and insulin dosing.", avg, estimatedA1C),
		})
	}

	return insights
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
