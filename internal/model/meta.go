package model

import "fmt"

// Meta describes the artifact contract shared by the base model, the scaler
// and every patient head: which columns feed the model, how long the input
// window is, and which horizons (in grid steps) the dense head predicts.
type Meta struct {
	FeatureCols []string `json:"feature_cols"`
	InputLen    int      `json:"input_len"`
	Horizons    []int    `json:"horizons"`
}

func (m *Meta) Validate() error {
	if len(m.FeatureCols) == 0 {
		return fmt.Errorf("meta has no feature columns")
	}
	if m.InputLen <= 0 {
		return fmt.Errorf("meta input_len must be positive, got %d", m.InputLen)
	}
	if len(m.Horizons) == 0 {
		return fmt.Errorf("meta has no horizons")
	}
	for i, h := range m.Horizons {
		if h <= 0 {
			return fmt.Errorf("meta horizon %d must be positive, got %d", i, h)
		}
	}
	return nil
}

// HorizonMinutes converts grid-step horizons to minutes on the 5-minute grid.
func (m *Meta) HorizonMinutes() []int {
	out := make([]int, len(m.Horizons))
	for i, h := range m.Horizons {
		out[i] = h * 5
	}
	return out
}
