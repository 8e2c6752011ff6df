package explain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/model"
)

// ErrExplanationUnavailable wraps any internal attribution failure. Callers
// treat an explanation as optional and drop it on this error.
var ErrExplanationUnavailable = errors.New("explanation unavailable")

// Human-readable labels for the frontend. hour_sin and hour_cos are merged
// into a single "Time of Day" contribution before display.
var displayNames = map[string]string{
	"glucose":     "Glucose Level",
	"insulin":     "Insulin Dose",
	"carbs":       "Carbs Intake",
	"IOB":         "Insulin on Board",
	"COB":         "Carbs on Board",
	"time_of_day": "Time of Day",
	"glucose_roc": "Glucose Trend",
}

// Attributor computes a per-timestep, per-feature attribution matrix for one
// model output. Swappable so tests can drive the summary logic directly.
type Attributor interface {
	Attribute(m *model.SequenceModel, window [][]float64, output int) ([][]float64, error)
}

// GradientInput attributes against a zero baseline: the model's input
// gradient at the window, multiplied elementwise by the window itself.
type GradientInput struct{}

func (GradientInput) Attribute(m *model.SequenceModel, window [][]float64, output int) ([][]float64, error) {
	grads, err := m.InputGradients(window, output)
	if err != nil {
		return nil, err
	}
	for t := range grads {
		for f := range grads[t] {
			grads[t][f] *= window[t][f]
		}
	}
	return grads, nil
}

// Explanation maps each horizon label ("30min", "60min", "90min") to signed
// per-feature contributions, plus a one-line natural language summary built
// from the 60-minute horizon.
type Explanation struct {
	Contributions map[string]map[string]float64 `json:"contributions"`
	Summary       string                        `json:"summary"`
}

type Explainer struct {
	attr Attributor
	log  *logger.Logger
}

func NewExplainer(baseLog *logger.Logger) *Explainer {
	return NewExplainerWith(GradientInput{}, baseLog)
}

func NewExplainerWith(attr Attributor, baseLog *logger.Logger) *Explainer {
	return &Explainer{attr: attr, log: baseLog.With("component", "Explainer")}
}

// Explain attributes each horizon's prediction to the input features.
// currentBG and pred60 steer the summary direction when both are present;
// otherwise direction falls back to the sign of the summed contributions.
func (e *Explainer) Explain(m *model.SequenceModel, meta *model.Meta, window [][]float64, currentBG, pred60 *float64) (*Explanation, error) {
	if len(window) != meta.InputLen {
		return nil, fmt.Errorf("%w: window has %d rows, meta expects %d", ErrExplanationUnavailable, len(window), meta.InputLen)
	}

	sinIdx, cosIdx := -1, -1
	for i, col := range meta.FeatureCols {
		switch col {
		case "hour_sin":
			sinIdx = i
		case "hour_cos":
			cosIdx = i
		}
	}

	horizonMinutes := meta.HorizonMinutes()
	out := &Explanation{Contributions: make(map[string]map[string]float64, len(horizonMinutes))}

	var summarySource map[string]float64
	for i, minutes := range horizonMinutes {
		attr, err := e.attr.Attribute(m, window, i)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute horizon %dmin: %v", ErrExplanationUnavailable, minutes, err)
		}

		// Signed mean across timesteps collapses (input_len, features) into
		// one contribution per feature.
		signed := make([]float64, len(meta.FeatureCols))
		for _, row := range attr {
			for f, v := range row {
				signed[f] += v
			}
		}
		for f := range signed {
			signed[f] /= float64(len(attr))
		}

		contrib := make(map[string]float64, len(displayNames))
		for f, col := range meta.FeatureCols {
			if f == sinIdx || f == cosIdx {
				continue
			}
			name, ok := displayNames[col]
			if !ok {
				name = col
			}
			contrib[name] = round4(signed[f])
		}
		if sinIdx >= 0 && cosIdx >= 0 {
			contrib[displayNames["time_of_day"]] = round4(signed[sinIdx] + signed[cosIdx])
		}

		label := fmt.Sprintf("%dmin", minutes)
		out.Contributions[label] = contrib
		if minutes == 60 {
			summarySource = contrib
		}
	}

	var direction string
	if currentBG != nil && pred60 != nil {
		diff := *pred60 - *currentBG
		switch {
		case diff > 5:
			direction = "rise"
		case diff < -5:
			direction = "drop"
		default:
			direction = "stable reading"
		}
	}
	out.Summary = summarize(summarySource, direction)
	return out, nil
}

// summarize builds the one-line explanation from the 60-minute contributions:
// top contributors by absolute value, each carrying at least 5% of the total.
func summarize(contrib map[string]float64, direction string) string {
	if len(contrib) == 0 {
		return "Unable to generate explanation."
	}

	type feat struct {
		name string
		val  float64
	}
	sorted := make([]feat, 0, len(contrib))
	for name, val := range contrib {
		sorted = append(sorted, feat{name, val})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].val) > math.Abs(sorted[j].val)
	})

	if direction == "" {
		var total float64
		for _, f := range sorted {
			total += f.val
		}
		switch {
		case total > 0.01:
			direction = "rise"
		case total < -0.01:
			direction = "drop"
		default:
			direction = "stable reading"
		}
	}

	var totalAbs float64
	for _, f := range sorted {
		totalAbs += math.Abs(f.val)
	}
	if totalAbs == 0 {
		return "No significant drivers identified for this prediction."
	}

	var drivers []string
	for _, f := range sorted[:min(3, len(sorted))] {
		pct := int(math.Round(math.Abs(f.val) / totalAbs * 100))
		if pct < 5 {
			continue
		}
		sign := "-"
		if f.val > 0 {
			sign = "+"
		}
		drivers = append(drivers, fmt.Sprintf("%s (%s%d%%)", f.name, sign, pct))
	}
	if len(drivers) == 0 {
		return "Prediction is driven by a balanced mix of factors."
	}
	return fmt.Sprintf("Predicted %s mainly driven by: %s.", direction, strings.Join(drivers, ", "))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
