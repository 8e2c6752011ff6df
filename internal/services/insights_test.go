package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/repos"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

func readingsAt(start time.Time, values []float64) []*types.CgmReading {
	out := make([]*types.CgmReading, len(values))
	for i, v := range values {
		out[i] = &types.CgmReading{
			ID:           uuid.New(),
			PatientID:    uuid.Nil,
			Timestamp:    start.Add(time.Duration(i) * 5 * time.Minute),
			GlucoseValue: v,
		}
	}
	return out
}

func findInsight(t *testing.T, insights []Insight, title string) Insight {
	t.Helper()
	for _, in := range insights {
		if in.Title == title {
			return in
		}
	}
	t.Fatalf("no insight titled %q in %+v", title, insights)
	return Insight{}
}

func hasInsight(insights []Insight, title string) bool {
	for _, in := range insights {
		if in.Title == title {
			return true
		}
	}
	return false
}

func TestBuildInsightsSteadyInRange(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	values := make([]float64, 24)
	for i := range values {
		values[i] = 100
	}
	insights := buildInsights(readingsAt(start, values))

	tir := findInsight(t, insights, "Time in Range")
	if tir.Severity != "good" || !strings.Contains(tir.Body, "100% of readings") {
		t.Fatalf("time in range = %+v", tir)
	}
	stability := findInsight(t, insights, "Glucose Stability")
	if stability.Severity != "good" {
		t.Fatalf("stability = %+v", stability)
	}
	trend := findInsight(t, insights, "Stable Trend")
	if trend.Severity != "good" {
		t.Fatalf("trend = %+v", trend)
	}
	avg := findInsight(t, insights, "Daily Average")
	if avg.Severity != "good" || !strings.Contains(avg.Body, "estimated A1C: 5.1%") {
		t.Fatalf("daily average = %+v", avg)
	}
	for _, title := range []string{"Low Glucose Alert", "High Glucose Alert", "Dawn Phenomenon", "Post-Meal Spikes Detected"} {
		if hasInsight(insights, title) {
			t.Fatalf("unexpected insight %q for a flat in-range day", title)
		}
	}
}

func TestBuildInsightsHypoEpisodes(t *testing.T) {
	start := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	// Two distinct dips below 70, the second reaching 48.
	values := []float64{100, 60, 50, 65, 100, 48, 100, 100, 100, 100, 100, 100}
	insights := buildInsights(readingsAt(start, values))

	hypo := findInsight(t, insights, "Low Glucose Alert")
	if hypo.Severity != "danger" {
		t.Fatalf("severity = %q, want danger below 54 mg/dL", hypo.Severity)
	}
	if !strings.Contains(hypo.Body, "2 low glucose episodes") {
		t.Fatalf("body = %q, want two episodes", hypo.Body)
	}
	if !strings.Contains(hypo.Body, "as low as 48 mg/dL") {
		t.Fatalf("body = %q, want lowest 48", hypo.Body)
	}
	if !strings.Contains(hypo.Body, "clinically significant") {
		t.Fatalf("body = %q, want clinical warning", hypo.Body)
	}
}

func TestBuildInsightsHyperDanger(t *testing.T) {
	start := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	values := []float64{120, 150, 200, 260, 220, 170, 150, 140, 140, 140, 140, 140}
	insights := buildInsights(readingsAt(start, values))

	hyper := findInsight(t, insights, "High Glucose Alert")
	if hyper.Severity != "danger" {
		t.Fatalf("severity = %q, want danger above 250 mg/dL", hyper.Severity)
	}
	if !strings.Contains(hyper.Body, "peaking at 260 mg/dL") {
		t.Fatalf("body = %q", hyper.Body)
	}
}

func TestBuildInsightsRapidRise(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	// Last six readings climb 75 mg/dL: 2.5 mg/dL per minute.
	values := []float64{100, 100, 100, 115, 130, 145, 160, 175}
	insights := buildInsights(readingsAt(start, values))

	rise := findInsight(t, insights, "Rapidly Rising")
	if rise.Severity != "warning" || !strings.Contains(rise.Body, "risen 75 mg/dL") {
		t.Fatalf("rising trend = %+v", rise)
	}
	if hasInsight(insights, "Stable Trend") {
		t.Fatal("stable trend must not fire alongside a rapid rise")
	}
}

func TestBuildInsightsDawnPhenomenon(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var readings []*types.CgmReading
	add := func(hour int, v float64) {
		readings = append(readings, &types.CgmReading{
			ID:           uuid.New(),
			Timestamp:    day.Add(time.Duration(hour) * time.Hour),
			GlucoseValue: v,
		})
	}
	add(1, 100)
	add(2, 100)
	add(3, 100)
	add(5, 140)
	add(6, 140)
	add(7, 140)

	insights := buildInsights(readings)
	dawn := findInsight(t, insights, "Dawn Phenomenon")
	if dawn.Severity != "info" {
		t.Fatalf("severity = %q, want info", dawn.Severity)
	}
	if !strings.Contains(dawn.Body, "rises an average of 40 mg/dL") {
		t.Fatalf("body = %q", dawn.Body)
	}
	if !strings.Contains(dawn.Body, "100 → 140 mg/dL") {
		t.Fatalf("body = %q, want night and dawn averages", dawn.Body)
	}
}

func TestBuildInsightsPostMealSpike(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	values := make([]float64, 36)
	for i := range values {
		values[i] = 100
	}
	// One meal-shaped bump peaking 70 mg/dL above baseline.
	for i, v := range []float64{120, 140, 160, 170, 160, 140, 120} {
		values[10+i] = v
	}
	insights := buildInsights(readingsAt(start, values))

	spike := findInsight(t, insights, "Post-Meal Spikes Detected")
	if spike.Severity != "warning" || !strings.Contains(spike.Body, "up to 70 mg/dL") {
		t.Fatalf("spike insight = %+v", spike)
	}
	// The bump stays under 180, so it is a spike, not a hyper episode.
	if hasInsight(insights, "High Glucose Alert") {
		t.Fatal("unexpected hyper alert")
	}
}

func TestGlucoseStatsNoData(t *testing.T) {
	db := newTestDB(t)
	store := writeTestArtifacts(t, t.TempDir(), testBaseModel(150, 160, 170, true))
	forecast := newTestForecastService(t, db, store)
	is := NewInsightsService(testLogger(t), repos.NewCgmReadingRepo(db, testLogger(t)), forecast)

	_, err := is.GlucoseStats(context.Background(), uuid.New())
	if !errors.Is(err, ErrNoGlucoseData) {
		t.Fatalf("err = %v, want ErrNoGlucoseData", err)
	}
}

func TestGlucoseStatsWithForecast(t *testing.T) {
	db := newTestDB(t)
	store := writeTestArtifacts(t, t.TempDir(), testBaseModel(150, 160, 170, true))
	forecast := newTestForecastService(t, db, store)
	log := testLogger(t)
	is := NewInsightsService(log, repos.NewCgmReadingRepo(db, log), forecast)

	patientID := uuid.New()
	start := time.Now().UTC().Add(-60 * time.Minute)
	values := make([]float64, 12)
	for i := range values {
		values[i] = 110 + float64(i)
	}
	seedReadings(t, db, patientID, start, values)

	stats, err := is.GlucoseStats(context.Background(), patientID)
	if err != nil {
		t.Fatalf("GlucoseStats: %v", err)
	}
	if len(stats.ChartData) != 12 {
		t.Fatalf("chart data len = %d, want 12", len(stats.ChartData))
	}
	if stats.Latest == nil || stats.Latest.Value != 121 {
		t.Fatalf("latest = %+v, want value 121", stats.Latest)
	}
	wantTime := start.Add(11 * 5 * time.Minute).Format("15:04")
	if stats.Latest.Time != wantTime {
		t.Fatalf("latest time = %q, want %q", stats.Latest.Time, wantTime)
	}
	if len(stats.Insights) == 0 {
		t.Fatal("insights missing")
	}

	if len(stats.ForecastData) != 4 {
		t.Fatalf("forecast data len = %d, want 4", len(stats.ForecastData))
	}
	if stats.ForecastData[0].Y != 121 {
		t.Fatalf("forecast anchor = %v, want latest reading 121", stats.ForecastData[0].Y)
	}
	// Zero dense weights: predictions are exactly the dense biases.
	if stats.ForecastData[1].Y != 150 || stats.ForecastData[2].Y != 160 || stats.ForecastData[3].Y != 170 {
		t.Fatalf("forecast points = %+v", stats.ForecastData[1:])
	}
}

func TestGlucoseStatsForecastFailureIsSoft(t *testing.T) {
	db := newTestDB(t)
	store := writeTestArtifacts(t, t.TempDir(), testBaseModel(150, 160, 170, true))
	forecast := newTestForecastService(t, db, store)
	log := testLogger(t)
	is := NewInsightsService(log, repos.NewCgmReadingRepo(db, log), forecast)

	// Only 5 readings: stats render, the forecast block is skipped.
	patientID := uuid.New()
	seedReadings(t, db, patientID, time.Now().Add(-30*time.Minute), []float64{100, 101, 102, 103, 104})

	stats, err := is.GlucoseStats(context.Background(), patientID)
	if err != nil {
		t.Fatalf("GlucoseStats: %v", err)
	}
	if stats.ForecastData != nil {
		t.Fatalf("forecast data = %+v, want none below the window length", stats.ForecastData)
	}
	if stats.Latest == nil || len(stats.Insights) == 0 {
		t.Fatal("stats body incomplete")
	}
}
